package engine

import (
	"chemlab/internal/color"
	"chemlab/internal/phase"
	"chemlab/internal/progress"
)

// StepView is one row of the step list.
type StepView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	Active      bool   `json:"active"`
}

// VesselView is a vessel as a renderer sees it.
type VesselView struct {
	ID          string             `json:"id"`
	Contents    map[string]float64 `json:"contents"`
	TotalVolume float64            `json:"total_volume"`
	Color       color.RGB          `json:"color"`
	Target      color.RGB          `json:"target"`
}

// DialView is a dial as a renderer sees it.
type DialView struct {
	ID        string  `json:"id"`
	Reading   float64 `json:"reading"`
	Displayed float64 `json:"displayed"`
}

// Snapshot is a read-only copy of everything a renderer needs.
type Snapshot struct {
	ExperimentID string          `json:"experiment_id"`
	SessionID    string          `json:"session_id"`
	ActiveStep   int             `json:"active_step"`
	ActiveStepID string          `json:"active_step_id"`
	Steps        []StepView      `json:"steps"`
	Placed       []string        `json:"placed"`
	Vessels      []VesselView    `json:"vessels"`
	Dials        []DialView      `json:"dials"`
	Phase        *phase.State    `json:"phase,omitempty"`
	DriverValue  float64         `json:"driver_value"`
	Animating    bool            `json:"animating"`
	Notices      []Notice        `json:"notices,omitempty"`
	Progress     progress.Record `json:"progress"`
	Done         bool            `json:"done"`
}

// Vessel returns the view of vessel id.
func (s Snapshot) Vessel(id string) (VesselView, bool) {
	for _, v := range s.Vessels {
		if v.ID == id {
			return v, true
		}
	}
	return VesselView{}, false
}

// Dial returns the view of dial id.
func (s Snapshot) Dial(id string) (DialView, bool) {
	for _, d := range s.Dials {
		if d.ID == id {
			return d, true
		}
	}
	return DialView{}, false
}

// PhaseName is the current phase, or "" when the experiment has no bands.
func (s Snapshot) PhaseName() string {
	if s.Phase == nil {
		return ""
	}
	return s.Phase.Current
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	active := e.gate.ActiveIndex()
	snap := Snapshot{
		ExperimentID: e.def.ID,
		SessionID:    e.SessionID(),
		ActiveStep:   active,
		ActiveStepID: e.gate.ActiveStep().ID,
		Placed:       e.bench.PlacedIDs(),
		DriverValue:  e.driverValue(),
		Animating:    e.Animating(),
		Notices:      e.notices.live(e.clock()),
		Progress:     e.reporter.Last(),
		Done:         e.gate.Done(),
	}
	for i, st := range e.def.Steps {
		snap.Steps = append(snap.Steps, StepView{
			ID:          st.ID,
			Title:       titleOf(st),
			Description: st.Description,
			Completed:   e.gate.IsCompleted(st.ID),
			Active:      i == active,
		})
	}
	for _, v := range e.bench.Vessels() {
		snap.Vessels = append(snap.Vessels, VesselView{
			ID:          v.ID,
			Contents:    v.Contents(),
			TotalVolume: v.TotalVolume(),
			Color:       v.DisplayedColor(),
			Target:      e.targetColor(v),
		})
	}
	for _, d := range e.bench.Dials() {
		snap.Dials = append(snap.Dials, DialView{ID: d.ID, Reading: d.Reading(), Displayed: d.Displayed()})
	}
	if e.detector != nil {
		st := e.detector.State()
		snap.Phase = &st
	}
	return snap
}
