package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemlab/internal/color"
	"chemlab/internal/experiment"
	"chemlab/internal/gate"
	"chemlab/internal/progress"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func definition(t *testing.T, id string) *experiment.Definition {
	t.Helper()
	defs, err := experiment.Builtin()
	require.NoError(t, err)
	for _, d := range defs {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("no builtin %q", id)
	return nil
}

func newEngine(t *testing.T, id string, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithSessionID("test-session"),
		WithClock(func() time.Time { return t0 }),
	}
	e, err := New(definition(t, id), append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func handle(t *testing.T, e *Engine, events ...Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, e.Handle(ev), ev.String())
	}
}

// settle ticks until nothing is animating.
func settle(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; e.Animating(); i++ {
		require.Less(t, i, 1000, "animations never settled")
		e.Tick()
	}
}

func drop(t *testing.T, e *Engine, amount float64) {
	t.Helper()
	handle(t, e, ReagentActionInvoked{Action: "add-titrant", Amount: amount})
	settle(t, e)
}

func setUpTitration(t *testing.T, e *Engine) {
	t.Helper()
	handle(t, e,
		EquipmentPlaced{ID: "stand"},
		EquipmentPlaced{ID: "burette"},
		EquipmentPlaced{ID: "flask"},
		ReagentActionInvoked{Action: "add-hcl"},
	)
	settle(t, e)
	handle(t, e, ReagentActionInvoked{Action: "add-phenolphthalein"})
	settle(t, e)
}

func TestEngine_GuidedTitration(t *testing.T) {
	var records []progress.Record
	sink := progress.SinkFunc(func(_ context.Context, rec progress.Record) error {
		records = append(records, rec)
		return nil
	})
	e := newEngine(t, "acid-base-titration", WithSink(sink))
	setUpTitration(t, e)

	snap := e.Snapshot()
	assert.Equal(t, "titrate", snap.ActiveStepID)
	assert.Equal(t, experiment.PhaseTitration, snap.PhaseName())

	for i := 0; i < 6; i++ {
		drop(t, e, 0)
	}
	snap = e.Snapshot()
	assert.InDelta(t, 3.0, snap.DriverValue, 1e-9)
	assert.Equal(t, experiment.PhaseTitration, snap.PhaseName())
	assert.False(t, snap.Done)

	drop(t, e, 21.6)
	assert.Equal(t, experiment.PhaseApproaching, e.Snapshot().PhaseName())

	drop(t, e, 0.5)
	snap = e.Snapshot()
	assert.Equal(t, experiment.PhaseEndpoint, snap.PhaseName())
	assert.True(t, snap.Phase.Latched)
	assert.True(t, snap.Done)
	assert.Equal(t, 100, snap.Progress.ProgressPercentage)
	flask, ok := snap.Vessel("flask")
	require.True(t, ok)
	assert.Equal(t, color.MustParse("#FFB6C1"), flask.Color)

	drop(t, e, 0.5)
	assert.Equal(t, experiment.PhaseOvershoot, e.Snapshot().PhaseName())

	// Removing titrant through undo never brings a latched phase back.
	handle(t, e, StepUndoRequested{})
	assert.Equal(t, experiment.PhaseOvershoot, e.Snapshot().PhaseName())

	var pcts []int
	for _, r := range records {
		pcts = append(pcts, r.ProgressPercentage)
	}
	assert.Equal(t, []int{25, 50, 75, 100, 75}, pcts)
	for _, r := range records {
		assert.Equal(t, "acid-base-titration", r.ExperimentID)
		assert.Equal(t, "test-session", r.SessionID)
	}
}

func TestEngine_TitrationIndicatorRuleWins(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)

	flask, ok := e.Snapshot().Vessel("flask")
	require.True(t, ok)
	assert.NotEqual(t, color.MustParse("#FFB6C1"), flask.Color, "no base yet")

	drop(t, e, 0.5)
	flask, _ = e.Snapshot().Vessel("flask")
	assert.Equal(t, map[string]float64{"hcl": 25, "naoh": 0.5, "phenol": 0.1}, flask.Contents)
	assert.Equal(t, color.MustParse("#FFB6C1"), flask.Color)
	assert.NotEqual(t, color.MustParse("#E8F5E8"), flask.Color)
	assert.Equal(t, flask.Target, flask.Color)
}

func TestEngine_DialAnimates(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)

	handle(t, e, ReagentActionInvoked{Action: "add-titrant"})
	require.True(t, e.Animating())
	e.Tick()
	d, ok := e.Snapshot().Dial("burette")
	require.True(t, ok)
	assert.InDelta(t, 0.5, d.Reading, 1e-9)
	assert.Greater(t, d.Displayed, 0.0)
	assert.Less(t, d.Displayed, 0.5)

	// The phase is only evaluated once the transition settles.
	settle(t, e)
	d, _ = e.Snapshot().Dial("burette")
	assert.InDelta(t, 0.5, d.Displayed, 1e-9)
}

func TestEngine_SkipEquivalence(t *testing.T) {
	ticked := newEngine(t, "acid-base-titration")
	skipped := newEngine(t, "acid-base-titration")

	for _, e := range []*Engine{ticked, skipped} {
		handle(t, e,
			EquipmentPlaced{ID: "stand"},
			EquipmentPlaced{ID: "burette"},
			EquipmentPlaced{ID: "flask"},
		)
	}

	script := []Event{
		ReagentActionInvoked{Action: "add-hcl"},
		ReagentActionInvoked{Action: "add-phenolphthalein"},
		ReagentActionInvoked{Action: "add-titrant", Amount: 24.6},
		ReagentActionInvoked{Action: "add-titrant"},
	}
	for _, ev := range script {
		handle(t, ticked, ev)
		settle(t, ticked)

		handle(t, skipped, ev, SkipAnimationRequested{})
		assert.False(t, skipped.Animating())
	}

	if diff := cmp.Diff(ticked.Snapshot(), skipped.Snapshot()); diff != "" {
		t.Errorf("skip diverged from natural completion (-ticked +skipped):\n%s", diff)
	}
	assert.Equal(t, experiment.PhaseEndpoint, skipped.Snapshot().PhaseName())
}

func TestEngine_SkipTarget(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)
	handle(t, e, ReagentActionInvoked{Action: "add-titrant"})

	handle(t, e, SkipAnimationRequested{Target: "flask"})
	assert.True(t, e.Animating(), "burette still animating")
	handle(t, e, SkipAnimationRequested{Target: "burette"})
	assert.False(t, e.Animating())

	// Skipping with nothing in flight is a no-op.
	handle(t, e, SkipAnimationRequested{})
}

func TestEngine_RejectsOutOfStepInput(t *testing.T) {
	now := t0
	e := newEngine(t, "acid-base-titration",
		WithClock(func() time.Time { return now }),
		WithNoticeTTL(time.Second))

	err := e.Handle(ReagentActionInvoked{Action: "add-titrant"})
	assert.ErrorIs(t, err, gate.ErrInvalidAction)

	snap := e.Snapshot()
	assert.Empty(t, snap.Placed)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, NoticeRejected, snap.Notices[0].Kind)
	assert.Contains(t, snap.Notices[0].Text, "not needed")

	now = now.Add(2 * time.Second)
	e.Tick()
	assert.Empty(t, e.Snapshot().Notices)
}

func TestEngine_InconsistentAmount(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)
	before := e.Snapshot()

	err := e.Handle(ReagentActionInvoked{Action: "add-titrant", Amount: -1})
	assert.ErrorIs(t, err, ErrInconsistentAmount)
	if diff := cmp.Diff(before, e.Snapshot()); diff != "" {
		t.Errorf("negative amount mutated state:\n%s", diff)
	}
}

func TestEngine_NotPlaced(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	handle(t, e,
		EquipmentPlaced{ID: "stand"},
		EquipmentPlaced{ID: "burette"},
		EquipmentPlaced{ID: "flask"},
		EquipmentRemoved{ID: "flask"},
	)
	err := e.Handle(ReagentActionInvoked{Action: "add-hcl"})
	assert.ErrorIs(t, err, ErrNotPlaced)
	assert.Equal(t, "fill-flask", e.Snapshot().ActiveStepID)
}

func TestEngine_EquipmentRemoved(t *testing.T) {
	placeSetup := func(t *testing.T, e *Engine) {
		t.Helper()
		handle(t, e, EquipmentPlaced{ID: "stand"}, EquipmentPlaced{ID: "burette"}, EquipmentPlaced{ID: "flask"})
	}
	tests := []struct {
		name string
		run  func(t *testing.T, e *Engine)
	}{
		{
			name: "mid transition settles the step",
			run: func(t *testing.T, e *Engine) {
				placeSetup(t, e)
				handle(t, e, ReagentActionInvoked{Action: "add-hcl"})
				e.Tick()
				require.True(t, e.Animating())

				handle(t, e, EquipmentRemoved{ID: "flask"})
				snap := e.Snapshot()
				assert.False(t, snap.Animating)
				assert.Equal(t, "add-indicator", snap.ActiveStepID)
				assert.True(t, snap.Steps[1].Completed)
				assert.NotContains(t, snap.Placed, "flask")

				// The contents left with the flask; undo has nothing to revert there.
				handle(t, e, StepUndoRequested{})
				assert.Equal(t, "fill-flask", e.Snapshot().ActiveStepID)
				_, ok := e.Snapshot().Vessel("flask")
				assert.False(t, ok)
			},
		},
		{
			name: "after its step can be placed again",
			run: func(t *testing.T, e *Engine) {
				placeSetup(t, e)
				handle(t, e, EquipmentRemoved{ID: "flask"})
				assert.ErrorIs(t, e.Handle(ReagentActionInvoked{Action: "add-hcl"}), ErrNotPlaced)

				handle(t, e, EquipmentPlaced{ID: "flask"})
				assert.Contains(t, e.Snapshot().Placed, "flask")
				handle(t, e, ReagentActionInvoked{Action: "add-hcl"})
				settle(t, e)
				handle(t, e, ReagentActionInvoked{Action: "add-phenolphthalein"})
				settle(t, e)
				assert.Equal(t, "titrate", e.Snapshot().ActiveStepID)
			},
		},
		{
			name: "dial needed by the active action can be placed again",
			run: func(t *testing.T, e *Engine) {
				setUpTitration(t, e)
				handle(t, e, EquipmentRemoved{ID: "burette"})
				assert.ErrorIs(t, e.Handle(ReagentActionInvoked{Action: "add-titrant"}), ErrNotPlaced)

				handle(t, e, EquipmentPlaced{ID: "burette"})
				drop(t, e, 25.1)
				assert.Equal(t, experiment.PhaseEndpoint, e.Snapshot().PhaseName())
				assert.True(t, e.Done())
			},
		},
		{
			name: "already on the bench is still rejected",
			run: func(t *testing.T, e *Engine) {
				placeSetup(t, e)
				assert.ErrorIs(t, e.Handle(EquipmentPlaced{ID: "flask"}), gate.ErrInvalidAction)
			},
		},
		{
			name: "unknown or absent equipment is a no-op",
			run: func(t *testing.T, e *Engine) {
				before := e.Snapshot()
				handle(t, e, EquipmentRemoved{ID: "flask"}, EquipmentRemoved{ID: "nope"})
				if diff := cmp.Diff(before, e.Snapshot()); diff != "" {
					t.Errorf("removal of absent equipment changed state:\n%s", diff)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, newEngine(t, "acid-base-titration"))
		})
	}
}

func TestEngine_EquipmentAutoCompletes(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	handle(t, e, EquipmentPlaced{ID: "stand"}, EquipmentPlaced{ID: "burette"})
	assert.Equal(t, 0, e.Snapshot().ActiveStep)

	handle(t, e, EquipmentPlaced{ID: "flask"})
	snap := e.Snapshot()
	assert.Equal(t, 1, snap.ActiveStep)
	assert.True(t, snap.Steps[0].Completed)
	assert.True(t, snap.Steps[1].Active)
	assert.Equal(t, []string{"burette", "flask", "stand"}, snap.Placed)
}

func TestEngine_UndoBound(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)
	require.Equal(t, 3, e.Snapshot().ActiveStep)

	for i := 0; i < 6; i++ {
		handle(t, e, StepUndoRequested{})
	}
	snap := e.Snapshot()
	assert.Equal(t, 0, snap.ActiveStep)
	assert.Empty(t, snap.Placed)
	for _, st := range snap.Steps {
		assert.False(t, st.Completed, st.ID)
	}
	assert.Equal(t, 0, snap.Progress.ProgressPercentage)
}

func TestEngine_UndoRevertsContents(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)

	handle(t, e, StepUndoRequested{})
	snap := e.Snapshot()
	assert.Equal(t, "add-indicator", snap.ActiveStepID)
	flask, _ := snap.Vessel("flask")
	assert.Equal(t, map[string]float64{"hcl": 25}, flask.Contents)
	assert.Equal(t, flask.Target, flask.Color)
}

func TestEngine_Reset(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)
	drop(t, e, 25)
	require.True(t, e.Done())

	handle(t, e, ResetRequested{})
	snap := e.Snapshot()
	assert.Equal(t, 0, snap.ActiveStep)
	assert.Empty(t, snap.Placed)
	assert.False(t, snap.Done)
	assert.Equal(t, experiment.PhaseTitration, snap.PhaseName())
	assert.False(t, snap.Phase.Latched)
	require.Len(t, snap.Notices, 1)
	assert.Equal(t, NoticeInfo, snap.Notices[0].Kind)
}

func TestEngine_ResetCancelsAnimations(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	setUpTitration(t, e)
	handle(t, e, ReagentActionInvoked{Action: "add-titrant", Amount: 25})
	require.True(t, e.Animating())

	handle(t, e, ResetRequested{})
	assert.False(t, e.Animating())
	e.Tick()
	assert.False(t, e.Done(), "cancelled transition must not complete a step")
}

func TestEngine_ManualComplete(t *testing.T) {
	e := newEngine(t, "acid-base-titration")
	handle(t, e, StepCompleteRequested{})
	assert.Equal(t, "fill-flask", e.Snapshot().ActiveStepID)

	// Completing a completed step is a no-op.
	handle(t, e, StepCompleteRequested{Step: "setup"})
	assert.Equal(t, 1, e.Snapshot().ActiveStep)

	assert.ErrorIs(t, e.Handle(StepCompleteRequested{Step: "nope"}), gate.ErrUnknownStep)
}

func TestEngine_LeChatelierIsReversible(t *testing.T) {
	e := newEngine(t, "le-chatelier", WithTransitionDuration(0))
	handle(t, e,
		EquipmentPlaced{ID: "tube"},
		EquipmentPlaced{ID: "dropper"},
		ReagentActionInvoked{Action: "add-cobalt"},
	)
	tube, _ := e.Snapshot().Vessel("tube")
	assert.Equal(t, color.MustParse("#FFB6C1"), tube.Color)
	assert.Equal(t, "hydrated", e.Snapshot().PhaseName())

	handle(t, e, ReagentActionInvoked{Action: "add-hcl"})
	assert.Equal(t, "add-hcl", e.Snapshot().ActiveStepID)
	handle(t, e, ReagentActionInvoked{Action: "add-hcl"})

	snap := e.Snapshot()
	assert.Equal(t, "chloride", snap.PhaseName())
	assert.Equal(t, "add-water", snap.ActiveStepID)
	tube, _ = snap.Vessel("tube")
	assert.Equal(t, color.MustParse("#4169E1"), tube.Color)

	handle(t, e, ReagentActionInvoked{Action: "add-water"})
	assert.Equal(t, "transition", e.Snapshot().PhaseName())
	handle(t, e, ReagentActionInvoked{Action: "add-water"})

	snap = e.Snapshot()
	assert.Equal(t, "hydrated", snap.PhaseName())
	assert.True(t, snap.Done)
	tube, _ = snap.Vessel("tube")
	assert.Equal(t, color.MustParse("#FFB6C1"), tube.Color)
}

func TestEngine_IronThiocyanateAmounts(t *testing.T) {
	e := newEngine(t, "iron-thiocyanate", WithTransitionDuration(0))
	handle(t, e,
		EquipmentPlaced{ID: "rack"},
		EquipmentPlaced{ID: "tube-a"},
		EquipmentPlaced{ID: "tube-b"},
		ReagentActionInvoked{Action: "add-fe-a"},
		ReagentActionInvoked{Action: "add-scn-a"},
	)
	snap := e.Snapshot()
	assert.Nil(t, snap.Phase)
	tubeA, _ := snap.Vessel("tube-a")
	assert.Equal(t, color.MustParse("#FFCC80"), tubeA.Color)

	for i := 0; i < 2; i++ {
		handle(t, e, ReagentActionInvoked{Action: "add-scn-a"})
	}
	assert.Equal(t, "part-a-scn", e.Snapshot().ActiveStepID)
	handle(t, e, ReagentActionInvoked{Action: "add-scn-a"})

	snap = e.Snapshot()
	assert.Equal(t, "part-b-scn", snap.ActiveStepID)
	tubeA, _ = snap.Vessel("tube-a")
	assert.Equal(t, color.MustParse("#BF360C"), tubeA.Color)

	handle(t, e, ReagentActionInvoked{Action: "add-scn-b"})
	for i := 0; i < 10; i++ {
		handle(t, e, ReagentActionInvoked{Action: "add-fe-b"})
	}
	assert.True(t, e.Done())
}

func TestEngine_InvalidDefinition(t *testing.T) {
	def := definition(t, "acid-base-titration")
	bad := *def
	bad.Steps = nil
	_, err := New(&bad)
	assert.Error(t, err)
}

func TestEngine_GeneratesSessionID(t *testing.T) {
	a, err := New(definition(t, "le-chatelier"))
	require.NoError(t, err)
	b, err := New(definition(t, "le-chatelier"))
	require.NoError(t, err)
	assert.NotEmpty(t, a.SessionID())
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}
