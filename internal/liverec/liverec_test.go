package liverec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecorderSizeIsClamped(t *testing.T) {
	// very high minimum tempo -> tiny computed size, clamped up to the floor
	r := NewRecorder(48000, 10000, 2)
	assert.Equal(t, minRingFrames, r.Frames())

	// very low minimum tempo -> huge computed size, clamped down to the ceiling
	r2 := NewRecorder(48000, 1, 2)
	assert.Equal(t, maxRingFrames, r2.Frames())
}

func TestWriteAdvancesWriteHeadAndWraps(t *testing.T) {
	r := NewRecorder(48000, 120, 1)
	block := make([]float32, r.Frames()-1)
	for i := range block {
		block[i] = 1
	}
	r.Write([][]float32{block})
	assert.Equal(t, r.Frames()-1, r.writeHead)

	// writing 2 more frames should wrap the head back near the start
	r.Write([][]float32{{2, 3}})
	assert.Equal(t, 1, r.writeHead)
}

func TestCaptureLoopProducesRequestedLength(t *testing.T) {
	r := NewRecorder(48000, 120, 2)
	bars := 1
	tempo := 120.0
	expectedFrames := int((60.0 / tempo) * 48000 * 4 * float64(bars))

	// fill the ring with a recognizable ramp so the capture isn't all zeros
	chunk := make([]float32, 4096)
	for i := range chunk {
		chunk[i] = float32(i % 100)
	}
	for i := 0; i < 50; i++ {
		r.Write([][]float32{chunk, chunk})
	}

	loop := r.CaptureLoop(tempo, bars, 10)
	assert.Len(t, loop, 2)
	assert.Len(t, loop[0], expectedFrames)
}

func TestCaptureLoopCrossfadeBlendsPreRollAndTail(t *testing.T) {
	r := NewRecorder(48000, 120, 1)

	// write a silent pre-roll, then one full bar (96000 frames at 120 BPM)
	// of loud audio, so the crossfade region at the start of the loop
	// should be a blend, not a hard cut
	silence := make([]float32, 24000)
	loud := make([]float32, 96000)
	for i := range loud {
		loud[i] = 1
	}
	r.Write([][]float32{silence})
	r.Write([][]float32{loud})

	loop := r.CaptureLoop(120, 1, 10)
	crossfadeFrames := int(10 * 0.001 * 48000)

	// the sample halfway through the crossfaded region should be strictly
	// between the pure-loud tail value and the pure-silent pre-roll value
	assert.Greater(t, loop[0][crossfadeFrames/2], float32(0))
	assert.Less(t, loop[0][crossfadeFrames/2], float32(1))
	assert.Greater(t, crossfadeFrames, 0)
}

func TestCaptureLoopCrossfadeNeverExceedsLoopLength(t *testing.T) {
	r := NewRecorder(48000, 120, 1)
	block := make([]float32, 1000)
	for i := 0; i < 10; i++ {
		r.Write([][]float32{block})
	}

	// request a crossfade far larger than the loop itself; it must clamp
	// rather than index out of range
	loop := r.CaptureLoop(300, 1, 5000)
	assert.NotEmpty(t, loop[0])
}
