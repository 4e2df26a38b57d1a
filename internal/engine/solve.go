package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrStuck means Solve could not make the active step progress.
var ErrStuck = errors.New("step did not complete")

// Solve walks the experiment the way a careful student would: place each
// step's equipment, then repeat its action one portion at a time until the
// step completes. Animations are skipped after every event. maxRepeats
// bounds the invocations per step.
func (r *Runner) Solve(ctx context.Context, maxRepeats int, observe func(Result)) error {
	def := r.engine.Definition()
	send := func(ev Event) error {
		simErr := r.Send(ctx, ev)
		if errors.Is(simErr, ErrStopped) || ctx.Err() != nil {
			return simErr
		}
		if err := r.Send(ctx, SkipAnimationRequested{}); err != nil {
			return err
		}
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return err
		}
		if observe != nil {
			observe(Result{Event: ev, Err: simErr, Snapshot: snap})
		}
		return nil
	}

	for {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Done {
			return nil
		}
		step, ok := def.Step(snap.ActiveStepID)
		if !ok {
			return fmt.Errorf("%s: %w", snap.ActiveStepID, ErrStuck)
		}
		placed := make(map[string]bool, len(snap.Placed))
		for _, id := range snap.Placed {
			placed[id] = true
		}
		for _, id := range step.Equipment {
			if placed[id] {
				continue
			}
			if err := send(EquipmentPlaced{ID: id}); err != nil {
				return err
			}
		}

		for n := 0; ; n++ {
			snap, err = r.Snapshot(ctx)
			if err != nil {
				return err
			}
			if snap.ActiveStepID != step.ID || snap.Done {
				break
			}
			if step.Action == "" || n >= maxRepeats {
				return fmt.Errorf("%s after %d actions: %w", step.ID, n, ErrStuck)
			}
			if err := send(ReagentActionInvoked{Action: step.Action}); err != nil {
				return err
			}
		}
	}
}
