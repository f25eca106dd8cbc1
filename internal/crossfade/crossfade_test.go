package crossfade

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInactiveFaderReturnsUnityGain(t *testing.T) {
	var f Fader
	assert.Equal(t, 1.0, f.Next())
	assert.False(t, f.Active())
}

func TestFadeInRampsZeroToOne(t *testing.T) {
	var f Fader
	f.Start(true, 4, true)
	first := f.Next()
	assert.InDelta(t, 0.0, first, 1e-6)
	for i := 0; i < 2; i++ {
		f.Next()
	}
	last := f.Next()
	assert.InDelta(t, math.Sin(0.75*math.Pi/2), last, 1e-6)
	assert.False(t, f.Active())
}

func TestFadeOutRampsOneToZero(t *testing.T) {
	var f Fader
	f.Start(false, 4, true)
	first := f.Next()
	assert.InDelta(t, 1.0, first, 1e-6)
}

func TestReFadeStartsFromCurrentGain(t *testing.T) {
	var f Fader
	f.Start(true, 100, true)
	for i := 0; i < 50; i++ {
		f.Next()
	}
	midGain := f.CurrentGain()

	// re-fade to fade-out without forcing the edge: must not jump to 1.0
	f.Start(false, 10, false)
	assert.InDelta(t, midGain, f.CurrentGain(), 1e-9)
}

func TestForceRestartFromEdge(t *testing.T) {
	var f Fader
	f.Start(true, 100, true)
	for i := 0; i < 50; i++ {
		f.Next()
	}
	f.Start(false, 10, true)
	assert.InDelta(t, 1.0, f.CurrentGain(), 1e-9)
}

func TestEqualPowerCurvesSumToOneSquared(t *testing.T) {
	for _, ratio := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		in := EqualPowerIn(ratio)
		out := EqualPowerOut(ratio)
		assert.InDelta(t, 1.0, in*in+out*out, 1e-9)
	}
}

func TestEqualPowerClampsOutOfRange(t *testing.T) {
	assert.InDelta(t, math.Sin(0), EqualPowerIn(-1), 1e-9)
	assert.InDelta(t, math.Sin(math.Pi/2), EqualPowerIn(2), 1e-9)
}
