package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var titrationPalette = map[string]RGB{
	"hcl":    MustParse("#F5F5F5"),
	"naoh":   MustParse("#F0F8FF"),
	"phenol": MustParse("#FFFFFF"),
}

func titrationRules() RuleMixer {
	return RuleMixer{
		Rules: []Rule{
			{Name: "phenolphthalein in base", Reagents: []string{"naoh", "phenol"}, Match: MatchSuperset, Color: MustParse("#FFB6C1")},
			{Name: "neutralization", Reagents: []string{"hcl", "naoh"}, Match: MatchExact, Color: MustParse("#E8F5E8")},
		},
		Fallback: WeightedMixer{Palette: titrationPalette},
	}
}

func TestWeightedMixer(t *testing.T) {
	m := WeightedMixer{Palette: map[string]RGB{
		"red":  New(255, 0, 0),
		"blue": New(0, 0, 255),
	}}

	t.Run("weights by amount and rounds", func(t *testing.T) {
		got := m.Mix(map[string]float64{"red": 1, "blue": 3})
		assert.Equal(t, New(64, 0, 191), got)
	})

	t.Run("single reagent keeps its color", func(t *testing.T) {
		assert.Equal(t, New(255, 0, 0), m.Mix(map[string]float64{"red": 2.5}))
	})

	t.Run("empty is transparent", func(t *testing.T) {
		assert.Equal(t, Transparent, m.Mix(nil))
		assert.Equal(t, Transparent, m.Mix(map[string]float64{"red": 0}))
	})

	t.Run("unknown reagents are colorless", func(t *testing.T) {
		assert.Equal(t, New(0, 0, 255), m.Mix(map[string]float64{"blue": 1, "water": 10}))
		assert.Equal(t, Transparent, m.Mix(map[string]float64{"water": 10}))
	})
}

func TestMixDeterminism(t *testing.T) {
	m := titrationRules()
	contents := map[string]float64{"hcl": 25, "phenol": 0.3, "water": 10.1}

	first := m.Mix(contents)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, m.Mix(contents))
	}
}

func TestRuleMixer_Priority(t *testing.T) {
	m := titrationRules()

	got := m.Mix(map[string]float64{"hcl": 25, "naoh": 10, "phenol": 2})

	assert.Equal(t, "#FFB6C1", got.Hex())
	assert.NotEqual(t, "#E8F5E8", got.Hex())
	average := m.Fallback.Mix(map[string]float64{"hcl": 25, "naoh": 10, "phenol": 2})
	assert.NotEqual(t, average, got)
}

func TestRuleMixer_Matching(t *testing.T) {
	m := titrationRules()

	tests := []struct {
		name     string
		contents map[string]float64
		want     string
	}{
		{"exact neutralization", map[string]float64{"hcl": 1, "naoh": 1}, "#E8F5E8"},
		{"superset order independent", map[string]float64{"phenol": 1, "naoh": 1}, "#FFB6C1"},
		{"exact rule rejects extra reagent", map[string]float64{"hcl": 1, "naoh": 1, "water": 1}, "#F3F7FA"},
		{"no rule falls back to average", map[string]float64{"hcl": 1}, "#F5F5F5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Mix(tt.contents).Hex())
		})
	}
}

func TestRule_Dominance(t *testing.T) {
	r := Rule{
		Name:     "pink in excess base",
		Reagents: []string{"naoh", "phenol"},
		Match:    MatchSuperset,
		Dominant: &Dominance{Reagent: "naoh", Over: "hcl"},
		Color:    MustParse("#FFB6C1"),
	}

	assert.False(t, r.Matches(map[string]float64{"hcl": 25, "naoh": 24.5, "phenol": 2}))
	assert.True(t, r.Matches(map[string]float64{"hcl": 25, "naoh": 25, "phenol": 2}))
}

func ironThiocyanate() IntensityModel {
	return IntensityModel{
		ReagentA: "fe",
		ReagentB: "scn",
		K:        0.002,
		Divisor:  10,
		Scale:    50000,
		Palette: []Bucket{
			{Min: 0, Color: MustParse("#FFF8DC")},
			{Min: 5, Color: MustParse("#FFDAB9")},
			{Min: 15, Color: MustParse("#FFA07A")},
			{Min: 30, Color: MustParse("#E9967A")},
			{Min: 50, Color: MustParse("#CD5C5C")},
			{Min: 75, Color: MustParse("#8B0000")},
		},
	}
}

func TestIntensityModel_WorkedExample(t *testing.T) {
	m := ironThiocyanate()

	low := m.Intensity(5.00, 1.00)
	high := m.Intensity(5.00, 4.00)

	assert.InDelta(t, 10, low, 1e-9)
	assert.InDelta(t, 40, high, 1e-9)
	assert.LessOrEqual(t, low, high)
}

func TestIntensityModel_Monotonic(t *testing.T) {
	m := ironThiocyanate()
	feVolumes := []float64{0.5, 1.0, 2.0, 3.0, 4.0, 5.0}

	prev := -1.0
	for _, fe := range feVolumes {
		got := m.Intensity(fe, 1.00)
		assert.GreaterOrEqual(t, got, prev, "fe=%v", fe)
		prev = got
	}
}

func TestIntensityModel_CapsAt100(t *testing.T) {
	m := ironThiocyanate()
	assert.Equal(t, 100.0, m.Intensity(500, 500))
	assert.Equal(t, 0.0, IntensityModel{}.Intensity(1, 1))
}

func TestIntensityModel_Bucket(t *testing.T) {
	m := ironThiocyanate()

	assert.Equal(t, "#FFF8DC", m.Bucket(0).Hex())
	assert.Equal(t, "#FFDAB9", m.Bucket(10).Hex())
	assert.Equal(t, "#E9967A", m.Bucket(40).Hex())
	assert.Equal(t, "#8B0000", m.Bucket(100).Hex())

	assert.Equal(t, Transparent, m.Mix(map[string]float64{}))
	assert.Equal(t, "#E9967A", m.Mix(map[string]float64{"fe": 5, "scn": 4, "water": 1}).Hex())
}
