package filter

import (
	"math"
	"testing"

	"github.com/schollz/mlrengine/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestDisabledFilterIsPassthrough(t *testing.T) {
	f := New(48000)
	f.SetParams(1000, 1)
	assert.InDelta(t, 0.5, f.Process(0.5), 1e-9)
}

func TestLowpassAttenuatesHighFrequencyMoreThanLow(t *testing.T) {
	sr := 48000.0
	f := New(sr)
	f.Enabled = true
	f.Type = types.FilterLP
	f.SetParams(500, 0.707)

	lowRMS := rmsResponse(f, sr, 100)
	f.Reset()
	highRMS := rmsResponse(f, sr, 8000)

	assert.Greater(t, lowRMS, highRMS)
}

func TestHighpassAttenuatesLowFrequencyMoreThanHigh(t *testing.T) {
	sr := 48000.0
	f := New(sr)
	f.Enabled = true
	f.Type = types.FilterHP
	f.SetParams(2000, 0.707)

	lowRMS := rmsResponse(f, sr, 100)
	f.Reset()
	highRMS := rmsResponse(f, sr, 8000)

	assert.Greater(t, highRMS, lowRMS)
}

func TestResetClearsIntegratorState(t *testing.T) {
	f := New(48000)
	f.Enabled = true
	f.Type = types.FilterLP
	f.SetParams(500, 1)
	f.Process(1)
	f.Process(1)
	assert.NotZero(t, f.ic1eq)

	f.Reset()
	assert.Zero(t, f.ic1eq)
	assert.Zero(t, f.ic2eq)
}

func rmsResponse(f *SVF, sampleRate, freq float64) float64 {
	n := 2048
	var sumSq float64
	for i := 0; i < n; i++ {
		in := math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
		out := f.Process(in)
		if i > n/2 { // skip settling transient
			sumSq += out * out
		}
	}
	return math.Sqrt(sumSq / float64(n/2))
}
