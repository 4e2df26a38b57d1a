package experiment

import (
	"math"

	"chemlab/internal/phase"
)

// Titration phase names.
const (
	PhaseTitration   = "titration"
	PhaseApproaching = "approaching"
	PhaseEndpoint    = "endpoint"
	PhaseOvershoot   = "overshoot"
)

const (
	defaultApproachWindow = 1.0
	defaultEndpointWindow = 0.5
	// acceptance is the ± tolerance around the theoretical endpoint within
	// which a recorded volume counts as accurate.
	acceptance = 0.5
)

// Titration holds the normality parameters phase bands are derived from
// when a definition gives no literal thresholds.
type Titration struct {
	AnalyteNormality float64 `yaml:"analyte_normality"`
	AnalyteVolume    float64 `yaml:"analyte_volume"`
	TitrantNormality float64 `yaml:"titrant_normality"`
	// ApproachWindow is how far before the endpoint "approaching" starts.
	ApproachWindow float64 `yaml:"approach_window,omitempty"`
	// EndpointWindow is how far past the endpoint it still counts.
	EndpointWindow float64 `yaml:"endpoint_window,omitempty"`
}

// EndpointVolume is N_a·V_a/N_t, rounded to a micro-litre so parameter
// products like 0.1·25 land on the value a chemist would write.
func (t Titration) EndpointVolume() float64 {
	if t.TitrantNormality <= 0 {
		return 0
	}
	return roundMicro(t.AnalyteNormality * t.AnalyteVolume / t.TitrantNormality)
}

// Bands derives titration → approaching → endpoint → overshoot. Endpoint
// and overshoot latch; overshoot can only follow endpoint.
func (t Titration) Bands() []phase.Band {
	v := t.EndpointVolume()
	approach := t.ApproachWindow
	if approach <= 0 {
		approach = defaultApproachWindow
	}
	window := t.EndpointWindow
	if window <= 0 {
		window = defaultEndpointWindow
	}
	start := math.Max(0, roundMicro(v-approach))
	end := roundMicro(v + window)
	return []phase.Band{
		{Lower: 0, Upper: start, Phase: PhaseTitration},
		{Lower: start, Upper: v, Phase: PhaseApproaching},
		{Lower: v, Upper: end, Phase: PhaseEndpoint, Latch: true},
		{Lower: end, Upper: math.Inf(1), Phase: PhaseOvershoot, Latch: true, After: PhaseEndpoint},
	}
}

// Within reports whether a recorded titrant volume is within the
// acceptance window of the theoretical endpoint.
func (t Titration) Within(volume float64) bool {
	return math.Abs(volume-t.EndpointVolume()) <= acceptance
}

// TitrantNormalityFrom computes the titrant normality a recorded endpoint
// volume implies, as in a standardization.
func (t Titration) TitrantNormalityFrom(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return roundMicro(t.AnalyteNormality * t.AnalyteVolume / volume)
}

func roundMicro(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
