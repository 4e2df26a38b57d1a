package phase

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titrationBands() []Band {
	return []Band{
		{Lower: 0, Upper: 24.0, Phase: "titration"},
		{Lower: 24.0, Upper: 25.0, Phase: "approaching"},
		{Lower: 25.0, Upper: 25.5, Phase: "endpoint", Latch: true},
		{Lower: 25.5, Upper: math.Inf(1), Phase: "overshoot", Latch: true, After: "endpoint"},
	}
}

func newTitration(t *testing.T) *Detector {
	t.Helper()
	d, err := New(titrationBands(), nil)
	require.NoError(t, err)
	return d
}

func TestDetector_InitialState(t *testing.T) {
	d := newTitration(t)
	assert.Equal(t, State{Current: "titration", Latched: false}, d.State())
}

func TestDetector_GuidedTitrationScenario(t *testing.T) {
	d := newTitration(t)
	reading := 0.0

	for i := 0; i < 6; i++ {
		reading += 0.5
		d.Observe(reading)
	}
	assert.Equal(t, 3.0, reading)
	assert.Equal(t, "titration", d.Phase())

	for reading < 24.5 {
		reading += 0.5
		d.Observe(reading)
	}
	reading += 0.1
	d.Observe(reading)
	assert.InDelta(t, 24.6, reading, 1e-9)
	assert.Equal(t, "approaching", d.Phase())

	reading += 0.5
	d.Observe(reading)
	assert.Equal(t, "endpoint", d.Phase())
	assert.True(t, d.Latched())

	reading += 0.5
	got := d.Observe(reading)
	assert.Equal(t, "overshoot", d.Phase())
	assert.Equal(t, []Transition{{From: "endpoint", To: "overshoot", Value: reading}}, got)
}

func TestDetector_EndpointLatches(t *testing.T) {
	d := newTitration(t)

	d.Observe(25.1)
	require.Equal(t, "endpoint", d.Phase())

	assert.Empty(t, d.Observe(24.8), "latched phases ignore decreases")
	assert.Equal(t, "endpoint", d.Phase())

	d.Observe(30.0)
	assert.Equal(t, "overshoot", d.Phase())

	for _, v := range []float64{24.6, 10, 0, 25.1} {
		d.Observe(v)
		assert.Equal(t, "overshoot", d.Phase(), "value %v", v)
	}
}

func TestDetector_JumpWalksIntermediateBands(t *testing.T) {
	d := newTitration(t)

	got := d.Observe(30.0)

	want := []Transition{
		{From: "titration", To: "approaching", Value: 30},
		{From: "approaching", To: "endpoint", Value: 30},
		{From: "endpoint", To: "overshoot", Value: 30},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Observe(30) mismatch (-want +got):\n%s", diff)
	}
}

func TestDetector_JumpMatchesSmallSteps(t *testing.T) {
	stepped := newTitration(t)
	for v := 0.0; v <= 25.2; v += 0.1 {
		stepped.Observe(v)
	}

	jumped := newTitration(t)
	jumped.Observe(25.2)

	assert.Equal(t, stepped.State(), jumped.State())
}

func TestDetector_OvershootRequiresEndpoint(t *testing.T) {
	d, err := New([]Band{
		{Lower: 0, Upper: 10, Phase: "titration"},
		{Lower: 10, Upper: 20, Phase: "endpoint", Latch: true},
		{Lower: 20, Upper: math.Inf(1), Phase: "overshoot", Latch: true, After: "endpoint"},
	}, nil)
	require.NoError(t, err)

	d.Observe(25)
	assert.Equal(t, "overshoot", d.Phase(), "walks through endpoint first")
}

func TestDetector_ReversibleBands(t *testing.T) {
	d, err := New([]Band{
		{Lower: 0, Upper: 0.4, Phase: "hydrated"},
		{Lower: 0.4, Upper: 0.6, Phase: "transition"},
		{Lower: 0.6, Upper: 1.01, Phase: "chloride"},
	}, nil)
	require.NoError(t, err)

	d.Observe(0.8)
	assert.Equal(t, "chloride", d.Phase())
	d.Observe(0.5)
	assert.Equal(t, "transition", d.Phase())
	d.Observe(0.1)
	assert.Equal(t, "hydrated", d.Phase())
	assert.False(t, d.Latched())

	d.Observe(5)
	assert.Equal(t, "chloride", d.Phase(), "past the last band maps to it")
}

func TestDetector_Reset(t *testing.T) {
	d := newTitration(t)
	d.Observe(30)
	require.True(t, d.Latched())

	d.Reset()

	assert.Equal(t, State{Current: "titration"}, d.State())
	d.Observe(24.2)
	assert.Equal(t, "approaching", d.Phase())
}

func TestDetector_GapsAndNaN(t *testing.T) {
	d, err := New([]Band{
		{Lower: 0, Upper: 1, Phase: "low"},
		{Lower: 2, Upper: 3, Phase: "high"},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, d.Observe(1.5))
	assert.Equal(t, "low", d.Phase())
	assert.Empty(t, d.Observe(math.NaN()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		bands []Band
	}{
		{"empty", nil},
		{"unnamed", []Band{{Lower: 0, Upper: 1}}},
		{"inverted", []Band{{Lower: 2, Upper: 1, Phase: "a"}}},
		{"overlap", []Band{{Lower: 0, Upper: 2, Phase: "a"}, {Lower: 1, Upper: 3, Phase: "b"}}},
		{"after unknown", []Band{{Lower: 0, Upper: 1, Phase: "a", After: "z"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate(tt.bands))
		})
	}

	assert.ErrorIs(t, Validate(nil), ErrNoBands)
	assert.NoError(t, Validate(titrationBands()))
}
