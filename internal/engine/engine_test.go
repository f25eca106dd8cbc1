package engine

import (
	"math"
	"testing"

	"github.com/schollz/mlrengine/internal/sample"
	"github.com/stretchr/testify/assert"
)

func loadTestBuffer(e *Engine, idx int, frames int) {
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := range left {
		left[i] = float32(math.Sin(2 * math.Pi * float64(i) / 64))
		right[i] = left[i]
	}
	buf := sample.NewBuffer(int(e.SampleRate), left, right)
	var transients [16]int
	for i := range transients {
		transients[i] = i * frames / 16
	}
	e.Strips[idx].LoadBuffer(buf, transients, false)
}

func TestNewEngineAllocatesStripsAndSupportPackages(t *testing.T) {
	e := New(48000, 4)
	assert.Len(t, e.Strips, 4)
	assert.Len(t, e.Patterns, 4)
	assert.Len(t, e.Mods, 4)
	assert.NotNil(t, e.Clock)
	assert.NotNil(t, e.Live)
}

func TestGetStripOutOfRangeReturnsNil(t *testing.T) {
	e := New(48000, 2)
	assert.Nil(t, e.GetStrip(5))
	assert.Nil(t, e.GetStrip(-1))
	assert.NotNil(t, e.GetStrip(0))
}

func TestEnforceGroupExclusivityStopsOtherMembers(t *testing.T) {
	e := New(48000, 3)
	for i := range e.Strips {
		loadTestBuffer(e, i, 4800)
		e.Strips[i].Trigger(0)
	}
	e.Groups = []Group{{Strips: []int{0, 1, 2}}}

	e.EnforceGroupExclusivity(0, false)

	assert.True(t, e.Strips[0].Playing())
	assert.True(t, e.Strips[1].Playing(), "faded stop keeps producing audio until the fade completes")
	assert.True(t, e.Strips[2].Playing())

	out := [][]float32{make([]float32, 512), make([]float32, 512)}
	for i := 0; i < 20; i++ {
		e.Strips[1].Process(512, out, PosInfo{}, 0)
		e.Strips[2].Process(512, out, PosInfo{}, 0)
	}
	assert.False(t, e.Strips[1].Playing())
	assert.False(t, e.Strips[2].Playing())
}

func TestEnforceGroupExclusivityImmediateStopsRightAway(t *testing.T) {
	e := New(48000, 3)
	for i := range e.Strips {
		loadTestBuffer(e, i, 4800)
		e.Strips[i].Trigger(0)
	}
	e.Groups = []Group{{Strips: []int{0, 1, 2}}}

	e.EnforceGroupExclusivity(0, true)

	assert.True(t, e.Strips[0].Playing())
	assert.False(t, e.Strips[1].Playing())
	assert.False(t, e.Strips[2].Playing())
}

func TestProcessProducesFiniteOutput(t *testing.T) {
	e := New(48000, 2)
	loadTestBuffer(e, 0, 48000)
	loadTestBuffer(e, 1, 48000)
	e.Strips[0].Trigger(0)
	e.Strips[1].Trigger(4)

	out := [][]float32{make([]float32, 512), make([]float32, 512)}
	e.Process(out, nil, PosInfo{IsPlaying: true, PPQ: 0, BPM: 120, HasTempo: true})

	for _, ch := range out {
		for _, v := range ch {
			assert.False(t, math.IsNaN(float64(v)))
			assert.False(t, math.IsInf(float64(v), 0))
		}
	}
}

func TestProcessAdvancesGlobalSampleCountAndClock(t *testing.T) {
	e := New(48000, 1)
	loadTestBuffer(e, 0, 4800)

	out := [][]float32{make([]float32, 256), make([]float32, 256)}
	e.Process(out, nil, PosInfo{IsPlaying: true, PPQ: 0, BPM: 120, HasTempo: true})

	assert.Equal(t, int64(256), e.globalSampleCount)
	assert.Equal(t, int64(256), e.Clock.CurrentSamp)
}

func TestScheduleQuantizedTriggerInsertsIntoClock(t *testing.T) {
	e := New(48000, 1)
	e.ScheduleQuantizedTrigger(0, 3, 0.1)
	assert.Len(t, e.Clock.Pending(), 1)
}

func TestCaptureLoopToStripReturnsStereoFrames(t *testing.T) {
	e := New(48000, 1)
	block := make([]float32, 4096)
	for i := 0; i < 20; i++ {
		e.Live.Write([][]float32{block, block})
	}
	loop := e.CaptureLoopToStrip(0, 120, 1)
	assert.Len(t, loop, 2)
	assert.NotEmpty(t, loop[0])
}
