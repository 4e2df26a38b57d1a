// Package animator moves a displayed value from its current value to a new
// target over a fixed number of ticks. Jobs are keyed by target id and at
// most one job per target is in flight; that rule stands in for a mutex on
// the displayed field.
//
// The animator does not own a timer. Whoever owns the single thread of
// control (engine.Runner, the terminal player, a test) calls Tick at
// Interval().
package animator

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the tick resolution: 1s transitions take 20 ticks.
const DefaultInterval = 50 * time.Millisecond

// LerpFunc interpolates between from and to at t in [0,1].
type LerpFunc[T any] func(from, to T, t float64) T

// Transition describes one requested animation.
type Transition[T any] struct {
	Target   string
	From     T
	To       T
	Duration time.Duration
	// Apply receives every intermediate value and the final one.
	Apply func(T)
	// Done fires exactly once, after the final value has been applied,
	// whether the job ran to the end or was skipped.
	Done func()
}

// Job is the record of an in-flight animation.
type Job[T any] struct {
	Target       string
	From         T
	To           T
	ElapsedTicks int
	TotalTicks   int
	Cancelled    bool

	apply    func(T)
	deferred []func()
}

// Progress is ElapsedTicks/TotalTicks.
func (j *Job[T]) Progress() float64 {
	if j.TotalTicks == 0 {
		return 1
	}
	return float64(j.ElapsedTicks) / float64(j.TotalTicks)
}

// Option configures an Animator.
type Option func(*settings)

type settings struct {
	interval time.Duration
	logger   *zap.Logger
}

// WithInterval sets the tick resolution.
func WithInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used for job lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// Animator drives jobs for one kind of value. It is not safe for
// concurrent use.
type Animator[T any] struct {
	lerp     LerpFunc[T]
	interval time.Duration
	logger   *zap.Logger

	jobs  map[string]*Job[T]
	order []string
}

// New creates an animator that interpolates with lerp.
func New[T any](lerp LerpFunc[T], opts ...Option) *Animator[T] {
	s := settings{interval: DefaultInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Animator[T]{
		lerp:     lerp,
		interval: s.interval,
		logger:   s.logger,
		jobs:     make(map[string]*Job[T]),
	}
}

// Interval is the tick resolution the caller should drive Tick at.
func (a *Animator[T]) Interval() time.Duration {
	return a.interval
}

// TicksFor converts a duration into a tick count, minimum 1.
func (a *Animator[T]) TicksFor(d time.Duration) int {
	n := int(math.Round(float64(d) / float64(a.interval)))
	if n < 1 {
		return 1
	}
	return n
}

// Start begins a transition. A job already targeting the same id is
// cancelled and its partial interpolation discarded; its deferred effects
// move to the new job so they still fire exactly once, after the newest
// value has settled.
//
// A non-positive duration applies the final value immediately.
func (a *Animator[T]) Start(tr Transition[T]) {
	var carried []func()
	if old, ok := a.jobs[tr.Target]; ok {
		old.Cancelled = true
		carried = old.deferred
		a.remove(tr.Target)
		a.logger.Debug("transition replaced",
			zap.String("target", tr.Target),
			zap.Int("elapsed_ticks", old.ElapsedTicks),
			zap.Int("total_ticks", old.TotalTicks))
	}

	job := &Job[T]{
		Target:     tr.Target,
		From:       tr.From,
		To:         tr.To,
		TotalTicks: a.TicksFor(tr.Duration),
		apply:      tr.Apply,
		deferred:   carried,
	}
	if tr.Done != nil {
		job.deferred = append(job.deferred, tr.Done)
	}

	if tr.Duration <= 0 {
		a.finish(job)
		return
	}

	a.jobs[tr.Target] = job
	a.order = append(a.order, tr.Target)
	a.logger.Debug("transition started",
		zap.String("target", tr.Target),
		zap.Int("total_ticks", job.TotalTicks))
}

// After queues fn to run when the job on target completes. With no job in
// flight fn runs immediately. It reports whether fn was deferred.
func (a *Animator[T]) After(target string, fn func()) bool {
	job, ok := a.jobs[target]
	if !ok {
		fn()
		return false
	}
	job.deferred = append(job.deferred, fn)
	return true
}

// Tick advances every in-flight job by one tick.
func (a *Animator[T]) Tick() {
	targets := append([]string(nil), a.order...)
	for _, target := range targets {
		job, ok := a.jobs[target]
		if !ok || job.Cancelled {
			continue
		}
		job.ElapsedTicks++
		if job.ElapsedTicks >= job.TotalTicks {
			a.remove(target)
			a.finish(job)
			continue
		}
		if job.apply != nil {
			job.apply(a.lerp(job.From, job.To, job.Progress()))
		}
	}
}

// Skip jumps the job on target to its final value and fires its deferred
// effects, exactly as natural completion would. Unknown or finished
// targets are a no-op.
func (a *Animator[T]) Skip(target string) bool {
	job, ok := a.jobs[target]
	if !ok {
		return false
	}
	a.remove(target)
	job.Cancelled = true
	a.logger.Debug("transition skipped", zap.String("target", target))
	a.finish(job)
	return true
}

// SkipAll skips every in-flight job in start order and returns how many
// were skipped.
func (a *Animator[T]) SkipAll() int {
	n := 0
	for _, target := range append([]string(nil), a.order...) {
		if a.Skip(target) {
			n++
		}
	}
	return n
}

// Cancel drops the job on target without applying its final value or
// firing its deferred effects.
func (a *Animator[T]) Cancel(target string) bool {
	job, ok := a.jobs[target]
	if !ok {
		return false
	}
	job.Cancelled = true
	a.remove(target)
	return true
}

// CancelAll drops every job. Used by reset.
func (a *Animator[T]) CancelAll() {
	for _, job := range a.jobs {
		job.Cancelled = true
	}
	a.jobs = make(map[string]*Job[T])
	a.order = nil
}

// Active reports whether target has a job in flight.
func (a *Animator[T]) Active(target string) bool {
	_, ok := a.jobs[target]
	return ok
}

// Animating reports whether any job is in flight.
func (a *Animator[T]) Animating() bool {
	return len(a.jobs) > 0
}

// Job returns a copy of the in-flight job on target.
func (a *Animator[T]) Job(target string) (Job[T], bool) {
	job, ok := a.jobs[target]
	if !ok {
		return Job[T]{}, false
	}
	return *job, true
}

// Targets lists the in-flight targets in start order.
func (a *Animator[T]) Targets() []string {
	return append([]string(nil), a.order...)
}

func (a *Animator[T]) finish(job *Job[T]) {
	job.ElapsedTicks = job.TotalTicks
	if job.apply != nil {
		job.apply(job.To)
	}
	deferred := job.deferred
	job.deferred = nil
	for _, fn := range deferred {
		fn()
	}
}

func (a *Animator[T]) remove(target string) {
	delete(a.jobs, target)
	for i, t := range a.order {
		if t == target {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// LerpFloat interpolates numeric readings.
func LerpFloat(from, to, t float64) float64 {
	if t <= 0 {
		return from
	}
	if t >= 1 {
		return to
	}
	return from + (to-from)*t
}
