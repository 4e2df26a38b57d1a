package engine

import "fmt"

// Event is an input to the engine. Events are processed one at a time, in
// arrival order, each to completion.
type Event interface {
	fmt.Stringer
	event()
}

// EquipmentPlaced asks to put equipment on the bench.
type EquipmentPlaced struct {
	ID string `json:"id"`
}

// EquipmentRemoved takes equipment off the bench.
type EquipmentRemoved struct {
	ID string `json:"id"`
}

// ReagentActionInvoked runs an action. A positive Amount replaces every
// effect amount and the dial delta.
type ReagentActionInvoked struct {
	Action string  `json:"action"`
	Amount float64 `json:"amount,omitempty"`
}

// SkipAnimationRequested jumps in-flight animations to their end. An empty
// Target skips all of them.
type SkipAnimationRequested struct {
	Target string `json:"target,omitempty"`
}

// ResetRequested returns the experiment to its initial state.
type ResetRequested struct{}

// StepUndoRequested reverts the most recently completed step.
type StepUndoRequested struct{}

// StepCompleteRequested marks a step complete. An empty Step means the
// active one.
type StepCompleteRequested struct {
	Step string `json:"step,omitempty"`
}

func (EquipmentPlaced) event()        {}
func (EquipmentRemoved) event()       {}
func (ReagentActionInvoked) event()   {}
func (SkipAnimationRequested) event() {}
func (ResetRequested) event()         {}
func (StepUndoRequested) event()      {}
func (StepCompleteRequested) event()  {}

func (e EquipmentPlaced) String() string  { return "place " + e.ID }
func (e EquipmentRemoved) String() string { return "remove " + e.ID }

func (e ReagentActionInvoked) String() string {
	if e.Amount > 0 {
		return fmt.Sprintf("invoke %s (%g)", e.Action, e.Amount)
	}
	return "invoke " + e.Action
}

func (e SkipAnimationRequested) String() string {
	if e.Target == "" {
		return "skip"
	}
	return "skip " + e.Target
}

func (ResetRequested) String() string    { return "reset" }
func (StepUndoRequested) String() string { return "undo" }

func (e StepCompleteRequested) String() string {
	if e.Step == "" {
		return "complete"
	}
	return "complete " + e.Step
}
