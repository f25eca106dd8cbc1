package resampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeBuffer struct {
	channels int
	data     [][]float32
}

func (f fakeBuffer) Channels() int { return f.channels }
func (f fakeBuffer) Frames() int {
	if len(f.data) == 0 {
		return 0
	}
	return len(f.data[0])
}
func (f fakeBuffer) At(channel, frame int) float32 { return f.data[channel][frame] }

func rampBuffer(n int) fakeBuffer {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	return fakeBuffer{channels: 1, data: [][]float32{data}}
}

func TestReadEmptyBuffer(t *testing.T) {
	buf := fakeBuffer{channels: 1, data: [][]float32{{}}}
	assert.Equal(t, float32(0), Read(buf, 0, 0, Linear))
}

func TestReadOutOfRangeChannel(t *testing.T) {
	buf := rampBuffer(8)
	assert.Equal(t, float32(0), Read(buf, 5, 0, Linear))
	assert.Equal(t, float32(0), Read(buf, -1, 0, Linear))
}

func TestReadLinearExactIndex(t *testing.T) {
	buf := rampBuffer(8)
	assert.InDelta(t, 3.0, Read(buf, 0, 3, Linear), 1e-6)
}

func TestReadLinearInterpolates(t *testing.T) {
	buf := rampBuffer(8)
	assert.InDelta(t, 3.5, Read(buf, 0, 3.5, Linear), 1e-6)
	assert.InDelta(t, 3.25, Read(buf, 0, 3.25, Linear), 1e-6)
}

func TestReadCubicExactIndex(t *testing.T) {
	buf := rampBuffer(8)
	// at an exact integer position, cubic interpolation returns the sample
	assert.InDelta(t, 4.0, Read(buf, 0, 4, Cubic), 1e-6)
}

func TestReadSincExactIndex(t *testing.T) {
	buf := rampBuffer(32)
	// a windowed-sinc kernel should reconstruct the exact sample at t=0
	got := Read(buf, 0, 10, Sinc8)
	assert.InDelta(t, 10.0, float64(got), 0.05)
}

func TestReadWrapsAtBufferEnd(t *testing.T) {
	buf := rampBuffer(4)
	// reading just past the end should wrap to the start rather than panic
	got := Read(buf, 0, 3.5, Linear)
	assert.InDelta(t, (3.0+0.0)/2.0, got, 1e-6)
}
