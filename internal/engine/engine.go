// Package engine wires the simulation core for one experiment session:
// the step gate validates input, the vessel model records it, the color
// model derives targets, the animators interpolate, the phase detector
// watches the driving quantity, and the reporter publishes progress.
//
// An Engine is not safe for concurrent use. Runner, the terminal player
// and tests each own one from a single goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chemlab/internal/animator"
	"chemlab/internal/color"
	"chemlab/internal/experiment"
	"chemlab/internal/gate"
	"chemlab/internal/logging"
	"chemlab/internal/phase"
	"chemlab/internal/progress"
	"chemlab/internal/vessel"
)

var (
	// ErrInconsistentAmount is returned for negative or NaN amounts. It
	// produces no notice and no mutation.
	ErrInconsistentAmount = errors.New("inconsistent amount")
	// ErrNotPlaced means an action targets equipment that is not on the
	// bench.
	ErrNotPlaced = errors.New("equipment not placed")
	// ErrUnknownEvent is returned for event types the engine does not
	// handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// amountEpsilon absorbs float error when comparing summed amounts.
const amountEpsilon = 1e-9

// Option configures an Engine.
type Option func(*options)

type options struct {
	sink      progress.Sink
	sessionID string
	clock     func() time.Time
	interval  time.Duration
	duration  time.Duration
	ttl       time.Duration
	loggers   *logging.Registry
}

// WithSink sets where progress records go. Use progress.AsyncSink for
// anything that can block.
func WithSink(s progress.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithClock sets the time source for notices and progress records.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithTickInterval sets the animation tick resolution.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithTransitionDuration sets the default transition length.
func WithTransitionDuration(d time.Duration) Option {
	return func(o *options) { o.duration = d }
}

// WithNoticeTTL sets how long notices stay live.
func WithNoticeTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithLogging sets the category logger registry.
func WithLogging(r *logging.Registry) Option {
	return func(o *options) { o.loggers = r }
}

// stepEffects is what one step did to the bench, so undo can revert it.
type stepEffects struct {
	additions []experiment.Effect
	dials     []experiment.DialEffect
	placed    []string
}

// settlement runs fn once every animation started by one action invocation
// has completed.
type settlement struct {
	remaining int
	fn        func()
}

func (s *settlement) done() {
	s.remaining--
	if s.remaining == 0 {
		s.fn()
	}
}

// Engine is one running experiment session.
type Engine struct {
	def      *experiment.Definition
	mixer    color.Mixer
	bench    *vessel.Workbench
	gate     *gate.Gate
	detector *phase.Detector
	colors   *animator.Animator[color.RGB]
	dials    *animator.Animator[float64]
	reporter *progress.Reporter

	ledger      map[string]*stepEffects
	stepAmounts map[string]float64
	notices     notices

	clock    func() time.Time
	duration time.Duration
	logger   *zap.Logger
}

// New builds an engine for def.
func New(def *experiment.Definition, opts ...Option) (*Engine, error) {
	o := options{
		clock:    time.Now,
		interval: animator.DefaultInterval,
		duration: time.Second,
		ttl:      3 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loggers == nil {
		o.loggers = logging.NewRegistry(nil, nil)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	mixer, err := def.Mixer()
	if err != nil {
		return nil, fmt.Errorf("failed to build mixer: %w", err)
	}
	g, err := gate.New(def.GateSteps(), o.loggers.Get(logging.CategoryGate))
	if err != nil {
		return nil, err
	}
	var detector *phase.Detector
	if bands := def.PhaseBands(); bands != nil {
		detector, err = phase.New(bands, o.loggers.Get(logging.CategoryPhase))
		if err != nil {
			return nil, err
		}
	}

	animLog := animator.WithLogger(o.loggers.Get(logging.CategoryAnimator))
	e := &Engine{
		def:      def,
		mixer:    mixer,
		bench:    vessel.NewWorkbench(),
		gate:     g,
		detector: detector,
		colors:   animator.New(color.Lerp, animator.WithInterval(o.interval), animLog),
		dials:    animator.New(animator.LerpFloat, animator.WithInterval(o.interval), animLog),
		reporter: progress.NewReporter(o.sink, def.ID, o.sessionID,
			progress.WithClock(o.clock),
			progress.WithLogger(o.loggers.Get(logging.CategoryProgress))),
		ledger:      make(map[string]*stepEffects),
		stepAmounts: make(map[string]float64),
		notices:     notices{ttl: o.ttl},
		clock:       o.clock,
		duration:    o.duration,
		logger:      o.loggers.Get(logging.CategoryEngine),
	}
	e.reporter.Prime(e.progressSnapshot())
	e.logger.Info("session started",
		zap.String("experiment", def.ID),
		zap.String("session", o.sessionID),
		zap.Int("steps", g.Len()))
	return e, nil
}

// Definition returns the experiment being run.
func (e *Engine) Definition() *experiment.Definition { return e.def }

// SessionID identifies this run.
func (e *Engine) SessionID() string { return e.reporter.SessionID() }

// Interval is the tick resolution Tick should be driven at.
func (e *Engine) Interval() time.Duration { return e.colors.Interval() }

// Animating reports whether any transition is in flight.
func (e *Engine) Animating() bool {
	return e.colors.Animating() || e.dials.Animating()
}

// Done reports whether every step is complete.
func (e *Engine) Done() bool { return e.gate.Done() }

// Handle processes one event to completion. Returned errors are the
// non-fatal simulation errors (gate.ErrInvalidAction, ErrNotPlaced,
// ErrInconsistentAmount, gate.ErrUnknownStep); state is unchanged when one
// is returned.
func (e *Engine) Handle(ev Event) error {
	var err error
	switch ev := ev.(type) {
	case EquipmentPlaced:
		err = e.place(ev.ID)
	case EquipmentRemoved:
		e.remove(ev.ID)
	case ReagentActionInvoked:
		err = e.invoke(ev.Action, ev.Amount)
	case SkipAnimationRequested:
		e.skip(ev.Target)
	case ResetRequested:
		e.reset()
	case StepUndoRequested:
		e.undo()
	case StepCompleteRequested:
		err = e.complete(ev.Step)
	default:
		return fmt.Errorf("%T: %w", ev, ErrUnknownEvent)
	}
	e.publish()
	return err
}

// Tick advances every animation by one tick and expires notices.
func (e *Engine) Tick() {
	e.colors.Tick()
	e.dials.Tick()
	e.notices.prune(e.clock())
	e.publish()
}

func (e *Engine) place(id string) error {
	if err := e.gate.Propose(id); err != nil {
		if !e.restorable(id) {
			e.reject(id, err)
			return err
		}
		eq, _ := e.def.Equip(id)
		e.bench.Place(id, eq.Kind, e.def.NeutralColor(id))
		e.logger.Debug("equipment restored", zap.String("id", id))
		return nil
	}
	eq, _ := e.def.Equip(id)
	if e.bench.Place(id, eq.Kind, e.def.NeutralColor(id)) {
		led := e.ledgerFor(e.gate.ActiveStep().ID)
		led.placed = append(led.placed, id)
		e.logger.Debug("equipment placed", zap.String("id", id), zap.String("kind", string(eq.Kind)))
	}
	e.autoComplete()
	return nil
}

// restorable reports whether id is off the bench but still needed: a
// completed step set it up, or the active step's action works on it.
func (e *Engine) restorable(id string) bool {
	if e.bench.Placed(id) {
		return false
	}
	for _, st := range e.def.Steps {
		if !e.gate.IsCompleted(st.ID) {
			continue
		}
		for _, eq := range st.Equipment {
			if eq == id {
				return true
			}
		}
	}
	step, ok := e.def.Step(e.gate.ActiveStep().ID)
	if !ok || e.gate.IsCompleted(step.ID) {
		return false
	}
	act, ok := e.def.Action(step.Action)
	if !ok {
		return false
	}
	if act.Dial != nil && act.Dial.ID == id {
		return true
	}
	for _, eff := range act.Effects {
		if eff.Vessel == id {
			return true
		}
	}
	return false
}

// remove finishes any transition on id before taking it off, so the
// action that started it still settles.
func (e *Engine) remove(id string) {
	if !e.bench.Placed(id) {
		return
	}
	e.colors.Skip(id)
	e.dials.Skip(id)
	e.takeOff(id)
}

// takeOff clears id from the bench without finishing its transitions.
func (e *Engine) takeOff(id string) {
	if !e.bench.Placed(id) {
		return
	}
	e.colors.Cancel(id)
	e.dials.Cancel(id)
	e.bench.Remove(id)
	e.forget(id)
	e.logger.Debug("equipment removed", zap.String("id", id))
}

// forget drops ledger entries for equipment that left the bench. Its
// contents and reading went with it, so undo has nothing to revert there.
func (e *Engine) forget(id string) {
	for _, led := range e.ledger {
		adds := led.additions[:0]
		for _, add := range led.additions {
			if add.Vessel != id {
				adds = append(adds, add)
			}
		}
		led.additions = adds
		moves := led.dials[:0]
		for _, mv := range led.dials {
			if mv.ID != id {
				moves = append(moves, mv)
			}
		}
		led.dials = moves
	}
}

func (e *Engine) invoke(actionID string, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%s: %w", actionID, ErrInconsistentAmount)
	}
	if err := e.gate.Propose(actionID); err != nil {
		e.reject(actionID, err)
		return err
	}
	act, _ := e.def.Action(actionID)

	for _, eff := range act.Effects {
		if e.bench.Vessel(eff.Vessel) == nil {
			return e.notPlaced(eff.Vessel)
		}
	}
	if act.Dial != nil && e.bench.Dial(act.Dial.ID) == nil {
		return e.notPlaced(act.Dial.ID)
	}

	stepID := e.gate.ActiveStep().ID
	led := e.ledgerFor(stepID)
	duration := e.duration
	if act.Duration != "" {
		if d, err := time.ParseDuration(act.Duration); err == nil {
			duration = d
		}
	}

	var added float64
	var touched []*vessel.Vessel
	seen := make(map[string]bool)
	for _, eff := range act.Effects {
		amt := eff.Amount
		if amount > 0 {
			amt = amount
		}
		v := e.bench.Vessel(eff.Vessel)
		if !v.AddReagent(eff.Reagent, amt) {
			continue
		}
		led.additions = append(led.additions, experiment.Effect{Vessel: eff.Vessel, Reagent: eff.Reagent, Amount: amt})
		added += amt
		if !seen[v.ID] {
			seen[v.ID] = true
			touched = append(touched, v)
		}
	}

	var dial *vessel.Dial
	if act.Dial != nil {
		delta := act.Dial.Delta
		if amount > 0 {
			delta = amount
		}
		dial = e.bench.Dial(act.Dial.ID)
		before := dial.Reading()
		moved := dial.Adjust(delta) - before
		led.dials = append(led.dials, experiment.DialEffect{ID: dial.ID, Delta: moved})
		if len(act.Effects) == 0 {
			added += math.Abs(moved)
		}
	}
	e.stepAmounts[stepID] += added

	e.logger.Debug("action applied",
		zap.String("action", actionID),
		zap.String("step", stepID),
		zap.Float64("amount", added))

	// Count every transition before starting any: a zero duration
	// completes synchronously inside Start.
	s := &settlement{fn: func() { e.settle(stepID, actionID) }}
	s.remaining = len(touched)
	if dial != nil {
		s.remaining++
	}
	if s.remaining == 0 {
		e.settle(stepID, actionID)
		return nil
	}
	for _, v := range touched {
		e.colors.Start(animator.Transition[color.RGB]{
			Target:   v.ID,
			From:     v.DisplayedColor(),
			To:       e.targetColor(v),
			Duration: duration,
			Apply:    v.SetDisplayedColor,
			Done:     s.done,
		})
	}
	if dial != nil {
		e.dials.Start(animator.Transition[float64]{
			Target:   dial.ID,
			From:     dial.Displayed(),
			To:       dial.Reading(),
			Duration: duration,
			Apply:    dial.SetDisplayed,
			Done:     s.done,
		})
	}
	return nil
}

// settle runs once the animations of one action invocation finish: the
// detector sees the settled driving quantity, then the step may complete.
func (e *Engine) settle(stepID, actionID string) {
	visited := e.observe()

	step, ok := e.def.Step(stepID)
	if !ok {
		return
	}
	switch step.Policy() {
	case experiment.CompleteOnAction:
		if step.Action == actionID {
			_ = e.complete(stepID)
		}
	case experiment.CompleteOnAmount:
		if e.stepAmounts[stepID]+amountEpsilon >= step.TargetAmount {
			_ = e.complete(stepID)
		}
	}
	e.completePhaseSteps(visited, stepID, e.gate.ActiveStep().ID)
}

// observe feeds the driving quantity to the detector and returns every
// phase visited, in order.
func (e *Engine) observe() []string {
	if e.detector == nil {
		return nil
	}
	transitions := e.detector.Observe(e.driverValue())
	var visited []string
	for _, tr := range transitions {
		visited = append(visited, tr.To)
		e.notices.add(e.clock(), NoticePhase, phaseMessage(tr.To))
		e.logger.Info("phase changed",
			zap.String("from", tr.From),
			zap.String("to", tr.To),
			zap.Float64("value", tr.Value),
			zap.Bool("latched", e.detector.Latched()))
	}
	return visited
}

func (e *Engine) completePhaseSteps(visited []string, stepIDs ...string) {
	if e.detector == nil {
		return
	}
	current := e.detector.Phase()
	for _, id := range stepIDs {
		step, ok := e.def.Step(id)
		if !ok || step.Policy() != experiment.CompleteOnPhase || e.gate.IsCompleted(id) {
			continue
		}
		reached := current == step.Phase
		for _, p := range visited {
			if p == step.Phase {
				reached = true
			}
		}
		if reached {
			_ = e.complete(id)
		}
	}
}

func (e *Engine) driverValue() float64 {
	drv := e.def.Driver
	if drv == nil {
		return 0
	}
	switch drv.Kind {
	case experiment.DriverDial:
		if d := e.bench.Dial(drv.Dial); d != nil {
			return d.Reading()
		}
	case experiment.DriverRatio:
		if v := e.bench.Vessel(drv.Vessel); v != nil && v.TotalVolume() > 0 {
			return v.Amount(drv.Reagent) / v.TotalVolume()
		}
	case experiment.DriverVolume:
		if v := e.bench.Vessel(drv.Vessel); v != nil {
			return v.TotalVolume()
		}
	}
	return 0
}

// complete marks a step complete and cascades into steps whose equipment
// is already on the bench.
func (e *Engine) complete(stepID string) error {
	if stepID == "" {
		stepID = e.gate.ActiveStep().ID
	}
	changed, err := e.gate.Complete(stepID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if step, ok := e.def.Step(stepID); ok {
		e.notices.add(e.clock(), NoticeStep, "Step complete: "+titleOf(step))
	}
	if e.gate.Done() {
		e.notices.add(e.clock(), NoticeInfo, "Experiment complete")
	}
	e.autoComplete()
	return nil
}

func (e *Engine) autoComplete() {
	step, ok := e.def.Step(e.gate.ActiveStep().ID)
	if !ok || e.gate.IsCompleted(step.ID) || step.Policy() != experiment.CompleteOnEquipment {
		return
	}
	for _, id := range step.Equipment {
		if !e.bench.Placed(id) {
			return
		}
	}
	_ = e.complete(step.ID)
}

func (e *Engine) skip(target string) {
	if target == "" {
		n := e.colors.SkipAll() + e.dials.SkipAll()
		if n > 0 {
			e.logger.Debug("animations skipped", zap.Int("count", n))
		}
		return
	}
	e.colors.Skip(target)
	e.dials.Skip(target)
}

// undo reverts the most recently completed step and whatever it did to
// the bench. Latched phases stay latched.
func (e *Engine) undo() {
	id, ok := e.gate.Undo()
	if !ok {
		return
	}
	led := e.ledger[id]
	delete(e.ledger, id)
	delete(e.stepAmounts, id)

	if led != nil {
		for _, add := range led.additions {
			if v := e.bench.Vessel(add.Vessel); v != nil {
				e.colors.Cancel(v.ID)
				v.RemoveReagent(add.Reagent, add.Amount)
				v.SetDisplayedColor(e.targetColor(v))
			}
		}
		for _, mv := range led.dials {
			if d := e.bench.Dial(mv.ID); d != nil {
				e.dials.Cancel(d.ID)
				d.Adjust(-mv.Delta)
				d.SetDisplayed(d.Reading())
			}
		}
		for _, eq := range led.placed {
			e.takeOff(eq)
		}
	}
	e.observe()

	if step, ok := e.def.Step(id); ok {
		e.notices.add(e.clock(), NoticeInfo, "Step undone: "+titleOf(step))
	}
}

func (e *Engine) reset() {
	e.colors.CancelAll()
	e.dials.CancelAll()
	e.bench.ClearAll()
	e.bench.Reset()
	e.gate.Reset()
	if e.detector != nil {
		e.detector.Reset()
	}
	e.ledger = make(map[string]*stepEffects)
	e.stepAmounts = make(map[string]float64)
	e.notices.clear()
	e.notices.add(e.clock(), NoticeInfo, "Experiment reset")
	e.logger.Info("session reset", zap.String("session", e.SessionID()))
}

func (e *Engine) targetColor(v *vessel.Vessel) color.RGB {
	if v.Empty() {
		return v.Neutral()
	}
	c := e.mixer.Mix(v.Contents())
	if !c.Valid {
		return v.Neutral()
	}
	return c
}

func (e *Engine) ledgerFor(stepID string) *stepEffects {
	led, ok := e.ledger[stepID]
	if !ok {
		led = &stepEffects{}
		e.ledger[stepID] = led
	}
	return led
}

func (e *Engine) reject(id string, err error) {
	name := id
	if eq, ok := e.def.Equip(id); ok && eq.Name != "" {
		name = eq.Name
	} else if act, ok := e.def.Action(id); ok && act.Name != "" {
		name = act.Name
	}
	e.notices.add(e.clock(), NoticeRejected, name+" is not needed for this step")
	e.logger.Debug("input rejected", zap.String("id", id), zap.Error(err))
}

func (e *Engine) notPlaced(id string) error {
	name := id
	if eq, ok := e.def.Equip(id); ok && eq.Name != "" {
		name = eq.Name
	}
	e.notices.add(e.clock(), NoticeRejected, "Place the "+name+" first")
	return fmt.Errorf("%s: %w", id, ErrNotPlaced)
}

func (e *Engine) progressSnapshot() progress.Snapshot {
	return progress.Snapshot{
		CompletedIDs: e.gate.CompletedIDs(),
		TotalSteps:   e.gate.Len(),
		ActiveIndex:  e.gate.ActiveIndex(),
	}
}

func (e *Engine) publish() {
	e.reporter.Update(context.Background(), e.progressSnapshot())
}

func titleOf(s experiment.Step) string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

func phaseMessage(p string) string {
	switch p {
	case experiment.PhaseApproaching:
		return "Approaching the endpoint, slow down"
	case experiment.PhaseEndpoint:
		return "Endpoint reached"
	case experiment.PhaseOvershoot:
		return "Overshoot: the endpoint has been passed"
	default:
		return "Phase: " + p
	}
}
