// Package vessel holds the per-vessel reagent ledger and the set of
// equipment placed on the workbench.
//
// Nothing here is safe for concurrent use; the engine owns a workbench on a
// single thread of control.
package vessel

import (
	"sort"

	"chemlab/internal/color"
)

// Vessel is a stateful container of reagents (flask, tube, burette
// reservoir).
type Vessel struct {
	ID string

	contents  map[string]float64
	neutral   color.RGB
	displayed color.RGB
}

// New creates an empty vessel whose cleared color is neutral.
func New(id string, neutral color.RGB) *Vessel {
	return &Vessel{
		ID:        id,
		contents:  make(map[string]float64),
		neutral:   neutral,
		displayed: neutral,
	}
}

// AddReagent merges amount of reagent into the vessel. Non-positive amounts
// are rejected without mutation and AddReagent reports false.
func (v *Vessel) AddReagent(reagent string, amount float64) bool {
	if amount <= 0 || reagent == "" {
		return false
	}
	v.contents[reagent] += amount
	return true
}

// RemoveReagent takes up to amount of reagent out of the vessel. The entry
// disappears once it reaches zero. It reports whether anything changed.
func (v *Vessel) RemoveReagent(reagent string, amount float64) bool {
	have, ok := v.contents[reagent]
	if !ok || amount <= 0 {
		return false
	}
	if amount >= have {
		delete(v.contents, reagent)
		return true
	}
	v.contents[reagent] = have - amount
	return true
}

// Clear empties the vessel and resets its displayed color.
func (v *Vessel) Clear() {
	v.contents = make(map[string]float64)
	v.displayed = v.neutral
}

// Amount returns how much of reagent is present.
func (v *Vessel) Amount(reagent string) float64 {
	return v.contents[reagent]
}

// TotalVolume is always recomputed from the contents.
func (v *Vessel) TotalVolume() float64 {
	var total float64
	for _, id := range v.Reagents() {
		total += v.contents[id]
	}
	return total
}

// Contents returns a copy of the ledger.
func (v *Vessel) Contents() map[string]float64 {
	out := make(map[string]float64, len(v.contents))
	for id, amount := range v.contents {
		out[id] = amount
	}
	return out
}

// Reagents returns the reagent ids present, sorted.
func (v *Vessel) Reagents() []string {
	ids := make([]string, 0, len(v.contents))
	for id := range v.contents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Empty reports whether the vessel holds nothing.
func (v *Vessel) Empty() bool {
	return len(v.contents) == 0
}

// DisplayedColor is the color currently rendered. It lags the target color
// while an animation is in flight.
func (v *Vessel) DisplayedColor() color.RGB {
	return v.displayed
}

// SetDisplayedColor is called by the animator on every tick.
func (v *Vessel) SetDisplayedColor(c color.RGB) {
	v.displayed = c
}

// Neutral is the solvent color the vessel shows when cleared.
func (v *Vessel) Neutral() color.RGB {
	return v.neutral
}
