// Package experiment holds experiment definitions: the data that makes one
// generalized engine run a titration, an equilibrium shift or a
// qualitative test. Definitions are YAML and immutable after load.
package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"chemlab/internal/color"
	"chemlab/internal/gate"
	"chemlab/internal/phase"
	"chemlab/internal/vessel"
)

// ErrUnknownExperiment is returned for ids the catalog does not hold.
var ErrUnknownExperiment = errors.New("unknown experiment")

// Definition is one experiment.
type Definition struct {
	ID          string      `yaml:"id"`
	Title       string      `yaml:"title"`
	Description string      `yaml:"description,omitempty"`
	Equipment   []Equipment `yaml:"equipment"`
	Reagents    []Reagent   `yaml:"reagents"`
	Actions     []Action    `yaml:"actions"`
	Steps       []Step      `yaml:"steps"`
	Mixing      Mixing      `yaml:"mixing"`
	Driver      *Driver     `yaml:"driver,omitempty"`
	Thresholds  []Band      `yaml:"thresholds,omitempty"`
	Titration   *Titration  `yaml:"titration,omitempty"`
}

// Equipment is a placeable item.
type Equipment struct {
	ID   string      `yaml:"id"`
	Name string      `yaml:"name"`
	Kind vessel.Kind `yaml:"kind"`
	// Solvent is the reagent whose color an empty vessel shows.
	Solvent string `yaml:"solvent,omitempty"`
}

// Reagent is a substance with a display color.
type Reagent struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// Effect adds Amount of Reagent to Vessel.
type Effect struct {
	Vessel  string  `yaml:"vessel"`
	Reagent string  `yaml:"reagent"`
	Amount  float64 `yaml:"amount"`
}

// DialEffect moves a dial reading by Delta.
type DialEffect struct {
	ID    string  `yaml:"id"`
	Delta float64 `yaml:"delta"`
}

// Action is what a learner invokes: some reagent additions and at most
// one dial movement.
type Action struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Effects []Effect    `yaml:"effects"`
	Dial    *DialEffect `yaml:"dial,omitempty"`
	// Duration overrides the default transition length ("500ms").
	Duration string `yaml:"duration,omitempty"`
}

// CompletionPolicy says what completes a step.
type CompletionPolicy string

const (
	CompleteOnAction    CompletionPolicy = "action"
	CompleteOnEquipment CompletionPolicy = "equipment"
	CompleteOnPhase     CompletionPolicy = "phase"
	CompleteOnAmount    CompletionPolicy = "amount"
)

// Step is one guided step.
type Step struct {
	ID          string           `yaml:"id"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description,omitempty"`
	Equipment   []string         `yaml:"equipment,omitempty"`
	Action      string           `yaml:"action,omitempty"`
	CompleteOn  CompletionPolicy `yaml:"complete_on,omitempty"`
	// Phase completes a phase-policy step once reached.
	Phase string `yaml:"phase,omitempty"`
	// TargetAmount completes an amount-policy step once the step's action
	// has added at least this much in total.
	TargetAmount float64 `yaml:"target_amount,omitempty"`
}

// Policy returns the effective completion policy.
func (s Step) Policy() CompletionPolicy {
	if s.CompleteOn != "" {
		return s.CompleteOn
	}
	if s.Action == "" {
		return CompleteOnEquipment
	}
	return CompleteOnAction
}

// Mixing strategies.
const (
	StrategyWeighted  = "weighted"
	StrategyRules     = "rules"
	StrategyIntensity = "intensity"
)

// Mixing selects and parameterizes the color model.
type Mixing struct {
	Strategy  string         `yaml:"strategy"`
	Rules     []Rule         `yaml:"rules,omitempty"`
	Intensity *IntensitySpec `yaml:"intensity,omitempty"`
}

// Rule is a color override keyed on the reagents present.
type Rule struct {
	Name     string           `yaml:"name"`
	Reagents []string         `yaml:"reagents"`
	Match    color.MatchMode  `yaml:"match,omitempty"`
	Dominant *color.Dominance `yaml:"dominant,omitempty"`
	Color    string           `yaml:"color"`
}

// IntensitySpec parameterizes color.IntensityModel.
type IntensitySpec struct {
	ReagentA string        `yaml:"reagent_a"`
	ReagentB string        `yaml:"reagent_b"`
	K        float64       `yaml:"k"`
	Volume   float64       `yaml:"volume"`
	Scale    float64       `yaml:"scale"`
	Palette  []PaletteStop `yaml:"palette"`
}

// PaletteStop is one intensity bucket.
type PaletteStop struct {
	Min   float64 `yaml:"min"`
	Color string  `yaml:"color"`
}

// Driver kinds.
const (
	DriverDial   = "dial"
	DriverRatio  = "ratio"
	DriverVolume = "volume"
)

// Driver names the quantity the phase detector watches.
type Driver struct {
	Kind string `yaml:"kind"`
	// Dial is the dial id for dial drivers.
	Dial string `yaml:"dial,omitempty"`
	// Vessel and Reagent select the ratio Reagent/total in Vessel, or the
	// total volume of Vessel.
	Vessel  string `yaml:"vessel,omitempty"`
	Reagent string `yaml:"reagent,omitempty"`
}

// Band is a YAML threshold band. A missing upper bound is unbounded.
type Band struct {
	Lower float64  `yaml:"lower"`
	Upper *float64 `yaml:"upper,omitempty"`
	Phase string   `yaml:"phase"`
	Latch bool     `yaml:"latch,omitempty"`
	After string   `yaml:"after,omitempty"`
}

// Parse decodes one definition. Unknown fields are rejected so a typo
// does not silently drop a step.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	return &def, nil
}

// Marshal encodes the definition as YAML.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Equip returns the equipment with id.
func (d *Definition) Equip(id string) (Equipment, bool) {
	for _, e := range d.Equipment {
		if e.ID == id {
			return e, true
		}
	}
	return Equipment{}, false
}

// Reagent returns the reagent with id.
func (d *Definition) Reagent(id string) (Reagent, bool) {
	for _, r := range d.Reagents {
		if r.ID == id {
			return r, true
		}
	}
	return Reagent{}, false
}

// Action returns the action with id.
func (d *Definition) Action(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Step returns the step with id.
func (d *Definition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Palette maps reagent ids to parsed colors. Unparseable colors are
// skipped; Validate reports them.
func (d *Definition) Palette() map[string]color.RGB {
	p := make(map[string]color.RGB, len(d.Reagents))
	for _, r := range d.Reagents {
		if c, err := color.Parse(r.Color); err == nil {
			p[r.ID] = c
		}
	}
	return p
}

// NeutralColor is the color an empty vessel shows: its solvent, or
// transparent.
func (d *Definition) NeutralColor(equipmentID string) color.RGB {
	eq, ok := d.Equip(equipmentID)
	if !ok || eq.Solvent == "" {
		return color.Transparent
	}
	return d.Palette()[eq.Solvent]
}

// Mixer builds the color model.
func (d *Definition) Mixer() (color.Mixer, error) {
	weighted := color.WeightedMixer{Palette: d.Palette()}
	switch d.Mixing.Strategy {
	case "", StrategyWeighted:
		return weighted, nil
	case StrategyRules:
		rules := make([]color.Rule, 0, len(d.Mixing.Rules))
		for _, r := range d.Mixing.Rules {
			c, err := color.Parse(r.Color)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			match := r.Match
			if match == "" {
				match = color.MatchSuperset
			}
			rules = append(rules, color.Rule{
				Name:     r.Name,
				Reagents: append([]string(nil), r.Reagents...),
				Match:    match,
				Dominant: r.Dominant,
				Color:    c,
			})
		}
		return color.RuleMixer{Rules: rules, Fallback: weighted}, nil
	case StrategyIntensity:
		spec := d.Mixing.Intensity
		if spec == nil {
			return nil, fmt.Errorf("intensity strategy without intensity parameters")
		}
		palette := make([]color.Bucket, 0, len(spec.Palette))
		for _, stop := range spec.Palette {
			c, err := color.Parse(stop.Color)
			if err != nil {
				return nil, fmt.Errorf("palette stop %v: %w", stop.Min, err)
			}
			palette = append(palette, color.Bucket{Min: stop.Min, Color: c})
		}
		return color.IntensityModel{
			ReagentA: spec.ReagentA,
			ReagentB: spec.ReagentB,
			K:        spec.K,
			Divisor:  spec.Volume,
			Scale:    spec.Scale,
			Palette:  palette,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mixing strategy %q", d.Mixing.Strategy)
	}
}

// PhaseBands returns the detector bands: the literal thresholds when
// given, otherwise bands derived from the titration parameters. Nil means
// the experiment has no phases.
func (d *Definition) PhaseBands() []phase.Band {
	if len(d.Thresholds) > 0 {
		bands := make([]phase.Band, 0, len(d.Thresholds))
		for _, b := range d.Thresholds {
			upper := math.Inf(1)
			if b.Upper != nil {
				upper = *b.Upper
			}
			bands = append(bands, phase.Band{
				Lower: b.Lower,
				Upper: upper,
				Phase: b.Phase,
				Latch: b.Latch,
				After: b.After,
			})
		}
		return bands
	}
	if d.Titration != nil {
		return d.Titration.Bands()
	}
	return nil
}

// GateSteps projects the steps onto what the step gate needs.
func (d *Definition) GateSteps() []gate.Step {
	out := make([]gate.Step, 0, len(d.Steps))
	for _, s := range d.Steps {
		out = append(out, gate.Step{
			ID:          s.ID,
			Equipment:   append([]string(nil), s.Equipment...),
			Action:      s.Action,
			Description: s.Description,
		})
	}
	return out
}
