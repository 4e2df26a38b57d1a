package experiment

import (
	"errors"
	"fmt"
	"time"

	"chemlab/internal/color"
	"chemlab/internal/phase"
	"chemlab/internal/vessel"
)

// Validate reports every problem with the definition, joined.
func (d *Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if d.ID == "" {
		fail("definition has no id")
	}
	if len(d.Steps) == 0 {
		fail("definition has no steps")
	}

	reagents := make(map[string]bool, len(d.Reagents))
	for _, r := range d.Reagents {
		if r.ID == "" {
			fail("reagent with no id")
			continue
		}
		if reagents[r.ID] {
			fail("duplicate reagent %q", r.ID)
		}
		reagents[r.ID] = true
		if _, err := color.Parse(r.Color); err != nil {
			fail("reagent %q: %v", r.ID, err)
		}
	}

	// Equipment and actions share the namespace the step gate proposes from.
	ids := make(map[string]string)
	kinds := make(map[string]vessel.Kind, len(d.Equipment))
	for _, e := range d.Equipment {
		if e.ID == "" {
			fail("equipment with no id")
			continue
		}
		if _, dup := ids[e.ID]; dup {
			fail("duplicate id %q", e.ID)
		}
		ids[e.ID] = "equipment"
		switch e.Kind {
		case vessel.KindVessel, vessel.KindDial, vessel.KindTool:
		default:
			fail("equipment %q: unknown kind %q", e.ID, e.Kind)
		}
		kinds[e.ID] = e.Kind
		if e.Solvent != "" && !reagents[e.Solvent] {
			fail("equipment %q: unknown solvent %q", e.ID, e.Solvent)
		}
	}

	for _, a := range d.Actions {
		if a.ID == "" {
			fail("action with no id")
			continue
		}
		if kind, dup := ids[a.ID]; dup {
			fail("action %q collides with %s id", a.ID, kind)
		}
		ids[a.ID] = "action"
		if len(a.Effects) == 0 && a.Dial == nil {
			fail("action %q has no effects", a.ID)
		}
		for _, eff := range a.Effects {
			if kinds[eff.Vessel] != vessel.KindVessel {
				fail("action %q: %q is not a vessel", a.ID, eff.Vessel)
			}
			if !reagents[eff.Reagent] {
				fail("action %q: unknown reagent %q", a.ID, eff.Reagent)
			}
			if eff.Amount <= 0 {
				fail("action %q: amount must be positive", a.ID)
			}
		}
		if a.Dial != nil && kinds[a.Dial.ID] != vessel.KindDial {
			fail("action %q: %q is not a dial", a.ID, a.Dial.ID)
		}
		if a.Duration != "" {
			if _, err := time.ParseDuration(a.Duration); err != nil {
				fail("action %q: invalid duration %q", a.ID, a.Duration)
			}
		}
	}

	bands := d.PhaseBands()
	phases := make(map[string]bool, len(bands))
	if bands != nil {
		if err := phase.Validate(bands); err != nil {
			errs = append(errs, err)
		}
		latching := make(map[string]bool)
		for _, b := range bands {
			if b.After != "" && !latching[b.After] {
				fail("band %q must follow a latching phase, %q does not latch", b.Phase, b.After)
			}
			if b.Latch {
				latching[b.Phase] = true
			}
			phases[b.Phase] = true
		}
		if d.Driver == nil {
			fail("thresholds without a driver")
		}
	}
	if d.Driver != nil {
		d.validateDriver(kinds, reagents, fail)
		if bands == nil {
			fail("driver without thresholds")
		}
	}

	steps := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			fail("step with no id")
			continue
		}
		if steps[s.ID] {
			fail("duplicate step %q", s.ID)
		}
		steps[s.ID] = true
		for _, eq := range s.Equipment {
			if ids[eq] != "equipment" {
				fail("step %q: unknown equipment %q", s.ID, eq)
			}
		}
		if s.Action != "" && ids[s.Action] != "action" {
			fail("step %q: unknown action %q", s.ID, s.Action)
		}
		switch s.Policy() {
		case CompleteOnAction:
			if s.Action == "" {
				fail("step %q completes on an action but has none", s.ID)
			}
		case CompleteOnEquipment:
			if len(s.Equipment) == 0 {
				fail("step %q completes on equipment but requires none", s.ID)
			}
		case CompleteOnPhase:
			if !phases[s.Phase] {
				fail("step %q: unknown phase %q", s.ID, s.Phase)
			}
		case CompleteOnAmount:
			if s.Action == "" || s.TargetAmount <= 0 {
				fail("step %q completes on an amount but has no action or target_amount", s.ID)
			}
		default:
			fail("step %q: unknown complete_on %q", s.ID, s.CompleteOn)
		}
	}

	if _, err := d.Mixer(); err != nil {
		errs = append(errs, err)
	}
	d.validateMixing(reagents, fail)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("experiment %q: %w", d.ID, errors.Join(errs...))
}

func (d *Definition) validateDriver(kinds map[string]vessel.Kind, reagents map[string]bool, fail func(string, ...any)) {
	switch d.Driver.Kind {
	case DriverDial:
		if kinds[d.Driver.Dial] != vessel.KindDial {
			fail("driver: %q is not a dial", d.Driver.Dial)
		}
	case DriverRatio:
		if !reagents[d.Driver.Reagent] {
			fail("driver: unknown reagent %q", d.Driver.Reagent)
		}
		fallthrough
	case DriverVolume:
		if kinds[d.Driver.Vessel] != vessel.KindVessel {
			fail("driver: %q is not a vessel", d.Driver.Vessel)
		}
	default:
		fail("driver: unknown kind %q", d.Driver.Kind)
	}
}

func (d *Definition) validateMixing(reagents map[string]bool, fail func(string, ...any)) {
	for _, r := range d.Mixing.Rules {
		if len(r.Reagents) == 0 {
			fail("rule %q has no reagents", r.Name)
		}
		for _, id := range r.Reagents {
			if !reagents[id] {
				fail("rule %q: unknown reagent %q", r.Name, id)
			}
		}
		switch r.Match {
		case "", color.MatchExact, color.MatchSuperset:
		default:
			fail("rule %q: unknown match %q", r.Name, r.Match)
		}
		if r.Dominant != nil && (!reagents[r.Dominant.Reagent] || !reagents[r.Dominant.Over]) {
			fail("rule %q: dominance names an unknown reagent", r.Name)
		}
	}
	if spec := d.Mixing.Intensity; spec != nil {
		if !reagents[spec.ReagentA] || !reagents[spec.ReagentB] {
			fail("intensity: unknown reagent")
		}
		if spec.Volume <= 0 {
			fail("intensity: volume must be positive")
		}
		if len(spec.Palette) == 0 {
			fail("intensity: empty palette")
		}
		for i := 1; i < len(spec.Palette); i++ {
			if spec.Palette[i].Min <= spec.Palette[i-1].Min {
				fail("intensity: palette not ascending at %v", spec.Palette[i].Min)
			}
		}
	}
}
