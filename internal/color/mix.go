package color

import (
	"math"
	"sort"
)

// Mixer derives a vessel's target color from its contents.
type Mixer interface {
	Mix(contents map[string]float64) RGB
}

// MatchMode controls how a rule's reagent set is compared with the
// reagents present in a vessel.
type MatchMode string

const (
	// MatchExact requires the present set to equal the rule set.
	MatchExact MatchMode = "exact"
	// MatchSuperset requires the present set to contain the rule set.
	MatchSuperset MatchMode = "superset"
)

// Dominance is an optional amount condition on a rule: Reagent must be
// present in at least the amount of Over.
type Dominance struct {
	Reagent string `yaml:"reagent" json:"reagent"`
	Over    string `yaml:"over" json:"over"`
}

// Rule is a named reaction whose fixed color overrides averaging.
type Rule struct {
	Name     string
	Reagents []string
	Match    MatchMode
	Dominant *Dominance
	Color    RGB
}

// Matches reports whether the rule applies to contents.
func (r Rule) Matches(contents map[string]float64) bool {
	present := presentSet(contents)
	if len(r.Reagents) == 0 {
		return false
	}
	for _, id := range r.Reagents {
		if !present[id] {
			return false
		}
	}
	if r.Match == MatchExact && len(present) != len(r.Reagents) {
		return false
	}
	if r.Dominant != nil && contents[r.Dominant.Reagent] < contents[r.Dominant.Over] {
		return false
	}
	return true
}

// WeightedMixer averages reagent colors weighted by amount. Reagents
// without a palette entry are colorless and do not take part.
type WeightedMixer struct {
	Palette map[string]RGB
}

// Mix implements Mixer.
func (m WeightedMixer) Mix(contents map[string]float64) RGB {
	var r, g, b, total float64
	// Sorted so float summation order never depends on map iteration.
	for _, id := range sortedIDs(contents) {
		amount := contents[id]
		c, ok := m.Palette[id]
		if !ok || !c.Valid || amount <= 0 {
			continue
		}
		r += float64(c.R) * amount
		g += float64(c.G) * amount
		b += float64(c.B) * amount
		total += amount
	}
	if total == 0 {
		return Transparent
	}
	return New(clampChannel(r/total), clampChannel(g/total), clampChannel(b/total))
}

// RuleMixer checks Rules in priority order and falls back to averaging.
type RuleMixer struct {
	Rules    []Rule
	Fallback Mixer
}

// Mix implements Mixer.
func (m RuleMixer) Mix(contents map[string]float64) RGB {
	if rule, ok := m.Match(contents); ok {
		return rule.Color
	}
	if m.Fallback == nil {
		return Transparent
	}
	return m.Fallback.Mix(contents)
}

// Match returns the first rule that applies.
func (m RuleMixer) Match(contents map[string]float64) (Rule, bool) {
	for _, rule := range m.Rules {
		if rule.Matches(contents) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Bucket is one palette entry of an intensity scale. A bucket covers
// intensities from Min up to the next bucket's Min.
type Bucket struct {
	Min   float64
	Color RGB
}

// IntensityModel is the limiting-reagent heuristic used for complex
// formation (e.g. Fe3+ + SCN-).
type IntensityModel struct {
	ReagentA string
	ReagentB string
	// K converts a volume into moles per unit volume.
	K float64
	// Divisor is the fixed total volume V.
	Divisor float64
	Scale   float64
	// Palette is ordered by ascending Min.
	Palette []Bucket
}

// Intensity returns min(100, min(a*k/V, b*k/V) * scale).
func (m IntensityModel) Intensity(a, b float64) float64 {
	if m.Divisor <= 0 {
		return 0
	}
	concA := a * m.K / m.Divisor
	concB := b * m.K / m.Divisor
	v := math.Min(concA, concB) * m.Scale
	if v < 0 {
		return 0
	}
	return math.Min(100, v)
}

const bucketEpsilon = 1e-9

// Bucket maps an intensity onto the palette.
func (m IntensityModel) Bucket(intensity float64) RGB {
	if len(m.Palette) == 0 {
		return Transparent
	}
	c := m.Palette[0].Color
	for _, b := range m.Palette {
		// Tolerate float error so 5*0.002/10*50000 lands in the 10 bucket.
		if intensity+bucketEpsilon < b.Min {
			break
		}
		c = b.Color
	}
	return c
}

// Mix implements Mixer.
func (m IntensityModel) Mix(contents map[string]float64) RGB {
	if totalAmount(contents) == 0 {
		return Transparent
	}
	return m.Bucket(m.Intensity(contents[m.ReagentA], contents[m.ReagentB]))
}

func presentSet(contents map[string]float64) map[string]bool {
	set := make(map[string]bool, len(contents))
	for id, amount := range contents {
		if amount > 0 {
			set[id] = true
		}
	}
	return set
}

func sortedIDs(contents map[string]float64) []string {
	ids := make([]string, 0, len(contents))
	for id := range contents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func totalAmount(contents map[string]float64) float64 {
	var total float64
	for _, id := range sortedIDs(contents) {
		if contents[id] > 0 {
			total += contents[id]
		}
	}
	return total
}
