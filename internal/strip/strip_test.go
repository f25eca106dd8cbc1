package strip

import (
	"math"
	"testing"

	"github.com/schollz/mlrengine/internal/sample"
	"github.com/schollz/mlrengine/internal/types"
	"github.com/stretchr/testify/assert"
)

func makeTestStrip(sr float64, frames int) *Strip {
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := range left {
		left[i] = float32(math.Sin(2 * math.Pi * float64(i) / 100))
		right[i] = left[i]
	}
	buf := sample.NewBuffer(int(sr), left, right)

	s := New(0, sr)
	var transients [16]int
	for i := range transients {
		transients[i] = i * frames / 16
	}
	s.LoadBuffer(buf, transients, false)
	return s
}

func TestMapDirectionNormalWraps(t *testing.T) {
	s := makeTestStrip(48000, 16000)
	got := s.mapDirection(16000+500, 16000)
	assert.InDelta(t, 500, got, 1e-6)
}

func TestMapDirectionReverseMirrors(t *testing.T) {
	s := makeTestStrip(48000, 16000)
	s.Direction = types.DirReverse
	got := s.mapDirection(500, 16000)
	assert.InDelta(t, 16000-500, got, 1e-6)
}

func TestMapDirectionPingPongFollowsSpecScenario(t *testing.T) {
	// spec.md §8 scenario 2: loop [0,16000], elapsed_frames=24000, speed=1
	// expected position = 16000 - (24000 mod 32000 - 16000) = 8000
	s := makeTestStrip(48000, 16000)
	s.Direction = types.DirPingPong
	got := s.mapDirection(24000, 16000)
	assert.InDelta(t, 8000, got, 1e-6)
}

func TestOneShotStopsAtBoundary(t *testing.T) {
	s := makeTestStrip(48000, 1600)
	s.PlayMode = types.PlayOneShot
	s.LoopEndCol = types.Columns
	s.TriggerAtSample(15, 120, 0, PosInfo{})

	out := [][]float32{make([]float32, 20000), make([]float32, 20000)}
	s.Process(20000, out, PosInfo{IsPlaying: true, BPM: 120, HasTempo: false}, 0)

	assert.False(t, s.Playing())
}

func TestProcessOutputIsAlwaysFinite(t *testing.T) {
	s := makeTestStrip(48000, 4800)
	s.PlayMode = types.PlayLoop
	s.Filt.Enabled = true
	s.Filt.SetParams(500, 2)
	s.GateAmount = 0.5
	s.PitchShiftSemis = 3

	s.TriggerAtSample(0, 120, 0, PosInfo{PPQ: 0, BPM: 120})

	out := [][]float32{make([]float32, 2048), make([]float32, 2048)}
	s.Process(2048, out, PosInfo{IsPlaying: true, PPQ: 0, BPM: 120, HasTempo: true}, 200)

	for _, ch := range out {
		for _, v := range ch {
			assert.False(t, math.IsNaN(float64(v)))
			assert.False(t, math.IsInf(float64(v), 0))
		}
	}
}

func TestTriggerSnapsToZeroCrossingWithinWindow(t *testing.T) {
	s := makeTestStrip(48000, 4800)
	target := s.columnStart(4)
	snapped := s.snapToZeroCrossing(target)

	windowFrames := zeroCrossMsWin * 0.001 * 48000
	assert.LessOrEqual(t, math.Abs(snapped-target), windowFrames+1)
}

func TestReleaseColumnEngagesReverseScratchWhenAmountSet(t *testing.T) {
	// spec.md §8 scenario 4: releasing a held column with a scratch amount
	// dialed in returns the needle toward the PPQ timeline instead of
	// continuing to read from wherever the button-down left it.
	s := makeTestStrip(48000, 48000)
	s.ScratchAmountPct = 10
	s.PlayMode = types.PlayLoop

	s.TriggerAtSample(0, 120, 0, PosInfo{PPQ: 0, BPM: 120, HasTempo: true})
	out := [][]float32{make([]float32, 4000), make([]float32, 4000)}
	s.Process(4000, out, PosInfo{IsPlaying: true, PPQ: 0, BPM: 120, HasTempo: true}, 0)

	s.ReleaseColumn(PosInfo{PPQ: 2, BPM: 120, HasTempo: true})
	assert.Equal(t, StateScratchReverse, s.State())

	for i := 0; i < 30; i++ {
		s.Process(4000, out, PosInfo{IsPlaying: true, PPQ: 2, BPM: 120, HasTempo: true}, 0)
	}
	assert.NotEqual(t, StateScratchReverse, s.State(), "reverse scratch must eventually hand back to normal playback")
	for _, ch := range out {
		for _, v := range ch {
			assert.False(t, math.IsNaN(float64(v)))
			assert.False(t, math.IsInf(float64(v), 0))
		}
	}
}

func TestPressColumnWithButtonHeldEntersTapeStop(t *testing.T) {
	s := makeTestStrip(48000, 48000)
	s.ScratchAmountPct = 20
	s.PlayMode = types.PlayLoop
	s.TriggerAtSample(0, 120, 0, PosInfo{PPQ: 0, BPM: 120, HasTempo: true})

	s.PressColumn(0)
	s.ReleaseColumn(PosInfo{PPQ: 1, BPM: 120, HasTempo: true})
	s.buttonHeld = true // simulate the button still held through the return

	out := [][]float32{make([]float32, 4000), make([]float32, 4000)}
	for i := 0; i < 20; i++ {
		s.Process(4000, out, PosInfo{IsPlaying: true, PPQ: 1, BPM: 120, HasTempo: true}, 0)
	}
	assert.Equal(t, StateTapeStop, s.State())

	frozen := s.playbackPositionFrames
	s.Process(256, out, PosInfo{IsPlaying: true, PPQ: 1, BPM: 120, HasTempo: true}, 0)
	assert.InDelta(t, frozen, s.playbackPositionFrames, 1e-6)
}

func TestStepPatternMutesInactiveSteps(t *testing.T) {
	s := makeTestStrip(48000, 48000)
	s.PlayMode = types.PlayStep
	s.SetStepBars(1)
	for i := range s.Step.Steps {
		s.SetStep(i, false)
	}
	s.TriggerAtSample(0, 120, 0, PosInfo{PPQ: 0, BPM: 120, HasTempo: true})

	out := [][]float32{make([]float32, 512), make([]float32, 512)}
	s.Process(512, out, PosInfo{IsPlaying: true, PPQ: 0, BPM: 120, HasTempo: true}, 0)

	for _, ch := range out {
		for _, v := range ch {
			assert.Equal(t, float32(0), v)
		}
	}
}

func TestSetGrainHeldColumnsForwardsToPool(t *testing.T) {
	s := makeTestStrip(48000, 48000)
	base := s.GrainParams.Density
	s.SetGrainHeldColumns([]int{2, 10})
	assert.Greater(t, s.GrainParams.Density, base) // two-held grip reshapes density

	s.SetGrainHeldColumns(nil)
}

func TestGateEnvelopeStaysWithinUnitRange(t *testing.T) {
	s := makeTestStrip(48000, 4800)
	s.GateAmount = 1
	s.GateShape = types.GateSine
	for i := 0; i < 100; i++ {
		s.gateEnvPhase = float64(i) / 100
		g := s.gateEnvelope()
		assert.GreaterOrEqual(t, g, -0.01)
		assert.LessOrEqual(t, g, 1.01)
	}
}
