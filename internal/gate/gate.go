// Package gate implements guided progression: which equipment or action is
// legal at the current step, which steps are complete, and where the
// active step pointer sits.
package gate

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalidAction means the proposed equipment or action does not
	// belong to the active step. State is unchanged.
	ErrInvalidAction = errors.New("not needed for this step")
	// ErrUnknownStep is returned for step ids the experiment does not have.
	ErrUnknownStep = errors.New("unknown step")
	// ErrNoSteps is returned when a gate is built without steps.
	ErrNoSteps = errors.New("gate: no steps")
)

// Step is the part of a step definition the gate needs.
type Step struct {
	ID          string
	Equipment   []string
	Action      string
	Description string
}

// Requires reports whether id is required equipment or the required action.
func (s Step) Requires(id string) bool {
	if id == "" {
		return false
	}
	if s.Action == id {
		return true
	}
	for _, eq := range s.Equipment {
		if eq == id {
			return true
		}
	}
	return false
}

// Gate is the progression state machine. It is not safe for concurrent use.
type Gate struct {
	steps  []Step
	index  map[string]int
	active int

	completed map[string]bool
	// history holds completed ids in completion order; undo pops from it.
	history []string

	logger *zap.Logger
}

// New builds a gate over steps. Step ids must be unique and non-empty.
func New(steps []Step, logger *zap.Logger) (*Gate, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("gate: step %d has no id", i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("gate: duplicate step id %q", s.ID)
		}
		index[s.ID] = i
	}
	return &Gate{
		steps:     append([]Step(nil), steps...),
		index:     index,
		completed: make(map[string]bool),
		logger:    logger,
	}, nil
}

// Propose validates equipment or an action against the active step. It
// returns ErrInvalidAction when the id is not needed.
func (g *Gate) Propose(id string) error {
	step := g.steps[g.active]
	if !step.Requires(id) {
		g.logger.Debug("action rejected",
			zap.String("id", id),
			zap.String("step", step.ID))
		return fmt.Errorf("%s: %w", id, ErrInvalidAction)
	}
	return nil
}

// Complete marks stepID complete; an empty id means the active step.
// Completing an already completed step is a no-op and reports false.
// When the active step completes the pointer moves to the next pending
// step, if one remains.
func (g *Gate) Complete(stepID string) (bool, error) {
	if stepID == "" {
		stepID = g.steps[g.active].ID
	}
	i, ok := g.index[stepID]
	if !ok {
		return false, fmt.Errorf("%s: %w", stepID, ErrUnknownStep)
	}
	if g.completed[stepID] {
		return false, nil
	}
	g.completed[stepID] = true
	g.history = append(g.history, stepID)

	if i == g.active {
		g.advance()
	}
	g.logger.Info("step completed",
		zap.String("step", stepID),
		zap.Int("active_index", g.active),
		zap.Int("completed", len(g.history)))
	return true, nil
}

// advance moves the pointer forward past completed steps without leaving
// the range.
func (g *Gate) advance() {
	for next := g.active + 1; next < len(g.steps); next++ {
		g.active = next
		if !g.completed[g.steps[next].ID] {
			return
		}
	}
}

// Undo reverts the most recently completed step and makes it active
// again. It returns the undone step id, or false when nothing is complete.
//
// The active index jumps to the undone step rather than stepping back by
// one. The two differ only after out-of-order completion, where stepping
// back would land on a step that is still complete. With nothing complete
// the index stays where it is, so it never drops below 0.
func (g *Gate) Undo() (string, bool) {
	if len(g.history) == 0 {
		return "", false
	}
	last := g.history[len(g.history)-1]
	g.history = g.history[:len(g.history)-1]
	delete(g.completed, last)
	g.active = g.index[last]
	g.logger.Info("step undone",
		zap.String("step", last),
		zap.Int("active_index", g.active))
	return last, true
}

// Reset clears completion and returns to the first step.
func (g *Gate) Reset() {
	g.active = 0
	g.completed = make(map[string]bool)
	g.history = nil
}

// ActiveIndex is the 0-based active step pointer.
func (g *Gate) ActiveIndex() int { return g.active }

// ActiveStep returns the step the pointer is on.
func (g *Gate) ActiveStep() Step { return g.steps[g.active] }

// Step returns the step with id.
func (g *Gate) Step(id string) (Step, bool) {
	i, ok := g.index[id]
	if !ok {
		return Step{}, false
	}
	return g.steps[i], true
}

// Steps returns the steps in order.
func (g *Gate) Steps() []Step { return append([]Step(nil), g.steps...) }

// Len is the number of steps.
func (g *Gate) Len() int { return len(g.steps) }

// IsCompleted reports whether stepID is complete.
func (g *Gate) IsCompleted(stepID string) bool { return g.completed[stepID] }

// CompletedIDs returns completed step ids in completion order.
func (g *Gate) CompletedIDs() []string { return append([]string(nil), g.history...) }

// CompletedCount is |completedStepIds|.
func (g *Gate) CompletedCount() int { return len(g.history) }

// Done reports whether every step is complete.
func (g *Gate) Done() bool { return len(g.history) >= len(g.steps) }
