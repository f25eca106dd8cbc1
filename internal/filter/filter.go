// Package filter implements the 12dB/octave topology-preserving-transform
// state-variable filter used by each Strip (spec.md §4.8 step 12): a
// single zero-delay-feedback one-pole pair whose LP/BP/HP taps are all
// available from one integrator state per sample.
package filter

import (
	"math"

	"github.com/schollz/mlrengine/internal/types"
)

// SVF is one channel of topology-preserving-transform state-variable
// filter. Stereo strips run two independent instances.
type SVF struct {
	sampleRate float64

	g  float64
	k  float64
	a1 float64
	a2 float64
	a3 float64

	ic1eq float64
	ic2eq float64

	Type    types.FilterType
	Enabled bool
}

// New returns a disabled filter at the given sample rate. SetParams must
// be called at least once before Process produces a meaningful output.
func New(sampleRate float64) *SVF {
	return &SVF{sampleRate: sampleRate}
}

// SetParams recomputes the filter coefficients for the given cutoff (Hz)
// and resonance Q, following Andrew Simper's TPT SVF derivation.
func (f *SVF) SetParams(cutoffHz, q float64) {
	cutoffHz = types.Clamp(cutoffHz, 20, f.sampleRate*0.49)
	if q < 0.5 {
		q = 0.5
	}

	f.g = math.Tan(math.Pi * cutoffHz / f.sampleRate)
	f.k = 1.0 / q
	f.a1 = 1.0 / (1.0 + f.g*(f.g+f.k))
	f.a2 = f.g * f.a1
	f.a3 = f.g * f.a2
}

// Reset clears the integrator state, used when a strip retriggers to
// avoid carrying stale filter energy across hard cuts.
func (f *SVF) Reset() {
	f.ic1eq = 0
	f.ic2eq = 0
}

// Process filters one sample and returns the tap selected by f.Type.
func (f *SVF) Process(in float64) float64 {
	if !f.Enabled {
		return in
	}

	v3 := in - f.ic2eq
	v1 := f.a1*f.ic1eq + f.a2*v3
	v2 := f.ic2eq + f.a2*f.ic1eq + f.a3*v3

	f.ic1eq = 2*v1 - f.ic1eq
	f.ic2eq = 2*v2 - f.ic2eq

	switch f.Type {
	case types.FilterBP:
		return v1
	case types.FilterHP:
		return in - f.k*v1 - v2
	default: // FilterLP
		return v2
	}
}
