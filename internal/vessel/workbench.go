package vessel

import (
	"sort"

	"chemlab/internal/color"
)

// Kind classifies a piece of equipment.
type Kind string

const (
	// KindVessel holds reagents and has a displayed color.
	KindVessel Kind = "vessel"
	// KindDial has a numeric reading (burette, thermometer).
	KindDial Kind = "dial"
	// KindTool only matters for set membership (stand, dropper).
	KindTool Kind = "tool"
)

// Dial is a numeric reading such as a burette volume.
type Dial struct {
	ID string

	reading   float64
	displayed float64
}

// Reading is the settled (target) value.
func (d *Dial) Reading() float64 { return d.reading }

// Displayed is the value currently rendered.
func (d *Dial) Displayed() float64 { return d.displayed }

// SetDisplayed is called by the animator on every tick.
func (d *Dial) SetDisplayed(v float64) { d.displayed = v }

// Adjust moves the settled reading by delta, floored at zero, and returns
// the new reading.
func (d *Dial) Adjust(delta float64) float64 {
	d.reading += delta
	if d.reading < 0 {
		d.reading = 0
	}
	return d.reading
}

func (d *Dial) reset() {
	d.reading = 0
	d.displayed = 0
}

// Workbench tracks which equipment is placed. The core only cares about set
// membership; coordinates belong to the renderer.
type Workbench struct {
	placed  map[string]Kind
	vessels map[string]*Vessel
	dials   map[string]*Dial
}

// NewWorkbench returns an empty bench.
func NewWorkbench() *Workbench {
	return &Workbench{
		placed:  make(map[string]Kind),
		vessels: make(map[string]*Vessel),
		dials:   make(map[string]*Dial),
	}
}

// Place puts equipment on the bench. Vessels and dials are created on first
// placement; placing an already placed id is a no-op that reports false.
func (w *Workbench) Place(id string, kind Kind, neutral color.RGB) bool {
	if _, ok := w.placed[id]; ok {
		return false
	}
	w.placed[id] = kind
	switch kind {
	case KindVessel:
		w.vessels[id] = New(id, neutral)
	case KindDial:
		w.dials[id] = &Dial{ID: id}
	}
	return true
}

// Remove takes equipment off the bench and destroys its state.
func (w *Workbench) Remove(id string) bool {
	if _, ok := w.placed[id]; !ok {
		return false
	}
	delete(w.placed, id)
	delete(w.vessels, id)
	delete(w.dials, id)
	return true
}

// Placed reports whether id is on the bench.
func (w *Workbench) Placed(id string) bool {
	_, ok := w.placed[id]
	return ok
}

// PlacedIDs returns the placed equipment ids, sorted.
func (w *Workbench) PlacedIDs() []string {
	ids := make([]string, 0, len(w.placed))
	for id := range w.placed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Vessel returns the placed vessel with id, or nil.
func (w *Workbench) Vessel(id string) *Vessel {
	return w.vessels[id]
}

// Dial returns the placed dial with id, or nil.
func (w *Workbench) Dial(id string) *Dial {
	return w.dials[id]
}

// Vessels returns every placed vessel ordered by id.
func (w *Workbench) Vessels() []*Vessel {
	out := make([]*Vessel, 0, len(w.vessels))
	for _, id := range w.PlacedIDs() {
		if v, ok := w.vessels[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Dials returns every placed dial ordered by id.
func (w *Workbench) Dials() []*Dial {
	out := make([]*Dial, 0, len(w.dials))
	for _, id := range w.PlacedIDs() {
		if d, ok := w.dials[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// ClearAll empties every vessel and zeroes every dial, keeping equipment
// in place.
func (w *Workbench) ClearAll() {
	for _, v := range w.vessels {
		v.Clear()
	}
	for _, d := range w.dials {
		d.reset()
	}
}

// Reset removes everything from the bench.
func (w *Workbench) Reset() {
	w.placed = make(map[string]Kind)
	w.vessels = make(map[string]*Vessel)
	w.dials = make(map[string]*Dial)
}
