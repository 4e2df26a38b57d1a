// Package phase maps a changing driving quantity (titrant volume, reagent
// ratio) onto an ordered set of named phases, latching irreversible ones.
package phase

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Band covers driving-quantity values in [Lower, Upper).
type Band struct {
	Lower float64
	Upper float64
	Phase string
	// Latch makes the phase irreversible: once reached, the detector only
	// moves forward to later latching bands.
	Latch bool
	// After names the phase that must be current to enter this band
	// moving forward (e.g. overshoot after endpoint).
	After string
}

// State is the detector's externally visible state.
type State struct {
	Current string `json:"current_phase"`
	Latched bool   `json:"latched"`
}

// Transition records one phase change.
type Transition struct {
	From  string
	To    string
	Value float64
}

// ErrNoBands is returned when a detector is built without bands.
var ErrNoBands = errors.New("phase: no bands")

// Detector owns PhaseState. It is not safe for concurrent use.
type Detector struct {
	bands   []Band
	current int
	latched bool
	last    float64
	logger  *zap.Logger
}

// New validates bands and returns a detector in the first band's phase.
func New(bands []Band, logger *zap.Logger) (*Detector, error) {
	if err := Validate(bands); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		bands:  append([]Band(nil), bands...),
		logger: logger,
	}
	d.Reset()
	return d, nil
}

// Validate checks that bands are ordered, non-empty and non-overlapping and
// that every After names an earlier band.
func Validate(bands []Band) error {
	if len(bands) == 0 {
		return ErrNoBands
	}
	seen := make(map[string]bool, len(bands))
	for i, b := range bands {
		if b.Phase == "" {
			return fmt.Errorf("phase: band %d has no phase name", i)
		}
		if !(b.Lower < b.Upper) {
			return fmt.Errorf("phase: band %q has lower %v not below upper %v", b.Phase, b.Lower, b.Upper)
		}
		if i > 0 && b.Lower < bands[i-1].Upper {
			return fmt.Errorf("phase: band %q overlaps %q", b.Phase, bands[i-1].Phase)
		}
		if b.After != "" && !seen[b.After] {
			return fmt.Errorf("phase: band %q must follow unknown or later phase %q", b.Phase, b.After)
		}
		seen[b.Phase] = true
	}
	return nil
}

// Reset returns to the first band's phase and clears the latch.
func (d *Detector) Reset() {
	d.current = 0
	d.latched = d.bands[0].Latch
	d.last = d.bands[0].Lower
}

// State returns a copy of the current phase state.
func (d *Detector) State() State {
	return State{Current: d.bands[d.current].Phase, Latched: d.latched}
}

// Phase returns the current phase name.
func (d *Detector) Phase() string {
	return d.bands[d.current].Phase
}

// Latched reports whether an irreversible phase has been reached.
func (d *Detector) Latched() bool {
	return d.latched
}

// Bands returns a copy of the configured bands.
func (d *Detector) Bands() []Band {
	return append([]Band(nil), d.bands...)
}

// Observe feeds a new driving-quantity value and returns the phase changes
// it caused, in order. A jump across several bands walks through each of
// them, so one large step ends where many small ones would.
func (d *Detector) Observe(v float64) []Transition {
	d.last = v
	target, ok := d.index(v)
	if !ok {
		return nil
	}

	var out []Transition
	for d.current != target {
		dir := 1
		if target < d.current {
			dir = -1
		}
		if d.latched && dir < 0 {
			break
		}
		next := d.bands[d.current+dir]
		from := d.bands[d.current].Phase
		if d.latched && !next.Latch {
			break
		}
		if dir > 0 && next.After != "" && next.After != from {
			break
		}
		d.current += dir
		if next.Latch {
			d.latched = true
		}
		if next.Phase != from {
			out = append(out, Transition{From: from, To: next.Phase, Value: v})
			d.logger.Debug("phase transition",
				zap.String("from", from),
				zap.String("to", next.Phase),
				zap.Float64("value", v),
				zap.Bool("latched", d.latched))
		}
	}
	return out
}

// LastValue is the most recently observed driving quantity.
func (d *Detector) LastValue() float64 {
	return d.last
}

// index finds the band containing v. Values below the first band map to
// it, values at or past the last upper bound map to the last band, and
// values in a gap between bands match nothing.
func (d *Detector) index(v float64) (int, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	if v < d.bands[0].Lower {
		return 0, true
	}
	for i, b := range d.bands {
		if v >= b.Lower && v < b.Upper {
			return i, true
		}
	}
	last := len(d.bands) - 1
	if v >= d.bands[last].Upper {
		return last, true
	}
	return 0, false
}
