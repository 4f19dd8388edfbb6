// Package stats implements the two-proportion z-test used to judge A/B
// tests of ads and landing pages.
//
// Confidence is two-tailed: c = 2*Phi(z) - 1, where Phi is the standard
// normal CDF. A confidence of 95 (percent) means the observed difference in
// rates would occur by chance 5% of the time if both groups shared one rate.
package stats

import (
	"errors"
	"math"
)

var (
	// ErrZeroDenominator is returned when a sample has no trials.
	ErrZeroDenominator = errors.New("stats: zero denominator")

	// ErrInvalidProportion is returned when a sample has negative
	// successes or more successes than trials, e.g. conversions counted
	// several times per click.
	ErrInvalidProportion = errors.New("stats: successes outside [0, trials]")
)

// Erf is the Gauss error function.
func Erf(x float64) float64 {
	return math.Erf(x)
}

// NormCDF is the cumulative distribution function of the standard normal
// distribution.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + Erf(x/math.Sqrt2))
}

// Sample is a (successes, trials) pair, e.g. clicks out of impressions.
type Sample struct {
	Successes float64
	Trials    float64
}

// Rate returns Successes/Trials, or 0 when there are no trials.
func (s Sample) Rate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return s.Successes / s.Trials
}

func (s Sample) valid() bool {
	return s.Successes >= 0 && s.Successes <= s.Trials
}

// Test is the outcome of TwoProportion.
type Test struct {
	R1         float64 `json:"r1"`
	R2         float64 `json:"r2"`
	Pooled     float64 `json:"pooled"`
	SE         float64 `json:"se"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"` // percent, 0-100
}

// TwoProportion compares the rates of control and experiment.
//
//	r1 = b1/a1, r2 = b2/a2
//	p  = (b1+b2)/(a1+a2)
//	se = sqrt(p(1-p)(1/a1 + 1/a2))
//	z  = |r1-r2| / se
//
// A sample with zero trials returns ErrZeroDenominator and one whose
// successes fall outside [0, trials] returns ErrInvalidProportion. When se
// is 0 the pooled rate is 0 or 1, so both rates are equal and z and
// confidence are 0.
func TwoProportion(control, experiment Sample) (Test, error) {
	if control.Trials <= 0 || experiment.Trials <= 0 {
		return Test{}, ErrZeroDenominator
	}
	if !control.valid() || !experiment.valid() {
		return Test{}, ErrInvalidProportion
	}
	t := Test{
		R1:     control.Rate(),
		R2:     experiment.Rate(),
		Pooled: (control.Successes + experiment.Successes) / (control.Trials + experiment.Trials),
	}
	t.SE = math.Sqrt(t.Pooled * (1 - t.Pooled) * (1/control.Trials + 1/experiment.Trials))
	if t.SE == 0 {
		return t, nil
	}
	t.Z = math.Abs(t.R1-t.R2) / t.SE
	t.Confidence = (2*NormCDF(t.Z) - 1) * 100
	return t, nil
}
