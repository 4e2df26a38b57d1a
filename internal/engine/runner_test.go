package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chemlab/internal/experiment"
	"chemlab/internal/gate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startRunner(t *testing.T, id string) *Runner {
	t.Helper()
	e := newEngine(t, id, WithTickInterval(time.Millisecond), WithTransitionDuration(20*time.Millisecond))
	r := NewRunner(e, 0)
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r
}

func TestRunner_SendAndWaitIdle(t *testing.T) {
	r := startRunner(t, "acid-base-titration")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ev := range []Event{
		EquipmentPlaced{ID: "stand"},
		EquipmentPlaced{ID: "burette"},
		EquipmentPlaced{ID: "flask"},
		ReagentActionInvoked{Action: "add-hcl"},
	} {
		require.NoError(t, r.Send(ctx, ev))
	}
	snap, err := r.WaitIdle(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Animating)
	assert.Equal(t, "add-indicator", snap.ActiveStepID)

	err = r.Send(ctx, ReagentActionInvoked{Action: "add-titrant"})
	assert.ErrorIs(t, err, gate.ErrInvalidAction)
}

func TestRunner_ConcurrentSenders(t *testing.T) {
	r := startRunner(t, "acid-base-titration")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range []string{"stand", "burette", "flask"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, r.Send(ctx, EquipmentPlaced{ID: id}))
		}(id)
	}
	wg.Wait()

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ActiveStep)
	assert.Equal(t, experiment.PhaseTitration, snap.PhaseName())
}

func TestRunner_Stopped(t *testing.T) {
	e := newEngine(t, "le-chatelier")
	r := NewRunner(e, time.Millisecond)

	assert.ErrorIs(t, r.Send(context.Background(), ResetRequested{}), ErrStopped)

	r.Start(context.Background())
	r.Start(context.Background())
	r.Stop()
	r.Stop()
	_, err := r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunner_ContextCancelStopsLoop(t *testing.T) {
	e := newEngine(t, "le-chatelier")
	r := NewRunner(e, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		return r.Send(context.Background(), ResetRequested{}) == ErrStopped
	}, time.Second, time.Millisecond)
	r.Stop()
}
