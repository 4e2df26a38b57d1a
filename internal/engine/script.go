package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Expect is a check run against the snapshot after a script item.
type Expect struct {
	Phase      string `yaml:"phase,omitempty"`
	ActiveStep *int   `yaml:"active_step,omitempty"`
	Completed  *bool  `yaml:"completed,omitempty"`
	Progress   *int   `yaml:"progress,omitempty"`
}

// Item is one line of a script. Exactly one of the event fields is set;
// Expect may accompany any of them or stand alone.
type Item struct {
	Place    string  `yaml:"place,omitempty"`
	Remove   string  `yaml:"remove,omitempty"`
	Invoke   string  `yaml:"invoke,omitempty"`
	Amount   float64 `yaml:"amount,omitempty"`
	Repeat   int     `yaml:"repeat,omitempty"`
	Skip     bool    `yaml:"skip,omitempty"`
	Undo     bool    `yaml:"undo,omitempty"`
	Reset    bool    `yaml:"reset,omitempty"`
	Wait     bool    `yaml:"wait,omitempty"`
	Complete *string `yaml:"complete,omitempty"`
	Expect   *Expect `yaml:"expect,omitempty"`
}

// Event converts the item to an engine event, or nil for wait and
// expect-only items.
func (it Item) Event() Event {
	switch {
	case it.Place != "":
		return EquipmentPlaced{ID: it.Place}
	case it.Remove != "":
		return EquipmentRemoved{ID: it.Remove}
	case it.Invoke != "":
		return ReagentActionInvoked{Action: it.Invoke, Amount: it.Amount}
	case it.Skip:
		return SkipAnimationRequested{}
	case it.Undo:
		return StepUndoRequested{}
	case it.Reset:
		return ResetRequested{}
	case it.Complete != nil:
		return StepCompleteRequested{Step: *it.Complete}
	}
	return nil
}

func (it Item) count() int {
	if it.Repeat > 1 {
		return it.Repeat
	}
	return 1
}

// Script is an ordered list of items.
type Script []Item

// ParseScript decodes a YAML list of items.
func ParseScript(data []byte) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	for i, it := range s {
		if it.Event() == nil && !it.Wait && it.Expect == nil {
			return nil, fmt.Errorf("script item %d: no event", i+1)
		}
	}
	return s, nil
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}

// Result reports one executed event.
type Result struct {
	Index    int
	Event    Event
	Err      error
	Snapshot Snapshot
}

// ErrExpectation is wrapped by Run when an expect block fails.
var ErrExpectation = errors.New("expectation failed")

// Run plays the script through r. Simulation errors are reported through
// observe and do not stop the run; failed expectations and runner errors
// do. In instant mode every event is followed by a skip, so animations
// settle before the next item.
func (s Script) Run(ctx context.Context, r *Runner, instant bool, observe func(Result)) error {
	for i, it := range s {
		if ev := it.Event(); ev != nil {
			for n := 0; n < it.count(); n++ {
				simErr := r.Send(ctx, ev)
				if errors.Is(simErr, ErrStopped) || errors.Is(simErr, context.Canceled) || errors.Is(simErr, context.DeadlineExceeded) {
					return simErr
				}
				if instant {
					if err := r.Send(ctx, SkipAnimationRequested{}); err != nil {
						return err
					}
				}
				if observe != nil {
					snap, err := r.Snapshot(ctx)
					if err != nil {
						return err
					}
					observe(Result{Index: i, Event: ev, Err: simErr, Snapshot: snap})
				}
			}
		}
		if it.Wait {
			if _, err := r.WaitIdle(ctx); err != nil {
				return err
			}
		}
		if it.Expect != nil {
			snap, err := r.Snapshot(ctx)
			if err != nil {
				return err
			}
			if err := it.Expect.check(snap); err != nil {
				return fmt.Errorf("script item %d: %w", i+1, err)
			}
		}
	}
	return nil
}

func (x *Expect) check(s Snapshot) error {
	if x.Phase != "" && s.PhaseName() != x.Phase {
		return fmt.Errorf("%w: phase %q, want %q", ErrExpectation, s.PhaseName(), x.Phase)
	}
	if x.ActiveStep != nil && s.ActiveStep != *x.ActiveStep {
		return fmt.Errorf("%w: active step %d, want %d", ErrExpectation, s.ActiveStep, *x.ActiveStep)
	}
	if x.Completed != nil && s.Done != *x.Completed {
		return fmt.Errorf("%w: completed %t, want %t", ErrExpectation, s.Done, *x.Completed)
	}
	if x.Progress != nil && s.Progress.ProgressPercentage != *x.Progress {
		return fmt.Errorf("%w: progress %d%%, want %d%%", ErrExpectation, s.Progress.ProgressPercentage, *x.Progress)
	}
	return nil
}
