// Package strip implements the per-strip playback kernel of spec.md §4.8:
// read-position math driven by host PPQ, play/direction modes, inner-loop
// crossfades, the filter, gate modulation, and the grain-mode handoff.
// One Strip exclusively owns one sample buffer, crossfader, filter, and
// grain pool, created once at engine construction and never shared.
package strip

import (
	"math"
	"math/rand"
	"time"

	"github.com/schollz/mlrengine/internal/crossfade"
	"github.com/schollz/mlrengine/internal/filter"
	"github.com/schollz/mlrengine/internal/grain"
	"github.com/schollz/mlrengine/internal/quantize"
	"github.com/schollz/mlrengine/internal/resampler"
	"github.com/schollz/mlrengine/internal/sample"
	"github.com/schollz/mlrengine/internal/types"
)

const (
	smoothTimeMs  = 50.0
	zeroCrossMsWin = 0.7
	defaultTriggerFadeMs = 5.0
	rampFadeSamples      = 64

	// scratchK shapes the forward-scratch needle-drag envelope
	// E_fwd(p) = k*exp(-k*p)/(1-exp(-k)); its integral is the closed-form
	// position curve scratchReadPos uses, per spec.md §4.8's scratch-rates
	// section.
	scratchK = 7.0
	// scratchMaxRate caps the average scratch speed (in sample-rate-
	// relative multiples) a feasible-duration clamp will allow.
	scratchMaxRate = 2.5
)

// State is the playback state machine of spec.md §4.8's scratch-rates
// section.
type State int

const (
	StateIdle State = iota
	StatePlayingFree
	StatePlayingPpqAnchored
	StateScratchForward
	StateScratchReverse
	StateTapeStop
	StateStopping
)

// PosInfo is the host transport snapshot passed to triggerAtSample, per
// spec.md §6's per-block callback contract.
type PosInfo struct {
	IsPlaying     bool
	PPQ           float64
	BPM           float64
	HasTempo      bool
}

// Strip is the per-voice playback kernel of spec.md §3/§4.8.
type Strip struct {
	Index int

	buf        *sample.Buffer
	sampleRate float64

	PlayMode      types.PlayMode
	Direction     types.DirectionMode
	LoopStartCol  int
	LoopEndCol    int
	BeatsPerLoop  float64 // -1 == auto (4 beats)
	TransientMode bool
	transients    [16]int

	Volume           float64
	Pan              float64
	PlaybackSpeed    float64
	PitchShiftSemis  float64
	ScratchAmountPct float64
	SwingAmount      float64
	SwingDivision    float64
	GateAmount       float64
	GateSpeed        float64
	GateShape        types.GateShape

	TriggerFadeMs float64
	PitchSmoothMs float64

	FilterType      types.FilterType
	FilterCutoffHz  float64
	FilterResonance float64

	GrainParams grain.Params

	Filt *filter.SVF

	Step StepPattern

	playing                bool
	playbackPositionFrames float64

	state        State
	buttonHeld   bool
	heldButton   int

	scratchStartPos float64
	scratchEndPos   float64
	scratchElapsed  float64
	scratchDuration float64

	chokeFade crossfade.Fader

	triggerSampleGlobal int64
	triggerPPQ          float64
	triggerOffsetRatio  float64

	ppqTimelineAnchored bool
	ppqTimelineOffset   float64

	samplesElapsedSinceTrigger int64
	lastHostPPQ                float64
	lastHostBPM                float64

	smoothedVolume     float64
	smoothedPan        float64
	smoothedSpeed      float64
	smoothedPitchSemis float64

	preTriggerOutL, preTriggerOutR float64
	triggerBlendRemaining          int
	triggerBlendTotal              int

	oldReadPos   float64
	newReadPos   float64
	blendActive  bool
	blendRemain  int
	blendTotal   int

	rng  *rand.Rand
	seed int64

	randomBucketCol int
	randomWalkCol   int

	Grains        *grain.Pool
	grainHeldCols []int

	gateEnvPhase float64

	pitchWriteHead int
	pitchDelay     []float32

	quality resampler.Quality
}

// StepPattern is the 64-step/4-bar step sequencer grid of spec.md §3:
// steps are edited as individual booleans, paged into four 16-step
// pages for display, and PlayStep mode mutes a strip's output on any
// step currently marked off.
type StepPattern struct {
	Steps       [64]bool
	Bars        int
	ViewPage    int
	CurrentStep int
}

func (sp *StepPattern) active(idx int) bool {
	idx = ((idx % len(sp.Steps)) + len(sp.Steps)) % len(sp.Steps)
	return sp.Steps[idx]
}

// New constructs a Strip with its own RNG (seeded per spec.md §4.8's
// "strip_index+1 * golden ratio hash XOR wall clock" scheme) and its own
// filter and grain pool, all allocated here; Process still allocates a
// small output pair per sample in grain mode.
func New(index int, sampleRate float64) *Strip {
	const golden = 0x9E3779B97F4A7C15
	seed := int64(uint64(index+1)*golden) ^ time.Now().UnixNano()

	step := StepPattern{Bars: 1}
	for i := range step.Steps {
		step.Steps[i] = true
	}

	s := &Strip{
		Index:           index,
		sampleRate:      sampleRate,
		PlayMode:        types.PlayLoop,
		Direction:       types.DirNormal,
		LoopEndCol:      types.Columns,
		BeatsPerLoop:    -1,
		Volume:          1,
		PlaybackSpeed:   1,
		SwingDivision:   16,
		TriggerFadeMs:   defaultTriggerFadeMs,
		PitchSmoothMs:   smoothTimeMs,
		FilterCutoffHz:  20000,
		FilterResonance: 0.707,
		GrainParams:     grain.DefaultParams(),
		Filt:            filter.New(sampleRate),
		Step:            step,
		state:           StateIdle,
		rng:             rand.New(rand.NewSource(seed)),
		seed:            seed,
		Grains:          grain.NewPool(sampleRate, 32, seed),
		pitchDelay:      make([]float32, int(sampleRate*0.5)),
		quality:         resampler.Cubic,
	}
	return s
}

// SetQuality sets the resampler interpolation kernel used for both
// normal and grain-mode reads.
func (s *Strip) SetQuality(q resampler.Quality) { s.quality = q }

// SetGrainPoolSize reallocates the strip's grain voice pool to n voices,
// preserving its RNG seed. Intended for a one-time call from the
// engine's Config at construction — reallocating while the strip is
// rendering would violate spec.md §5's no-allocation-on-the-audio-
// thread rule.
func (s *Strip) SetGrainPoolSize(n int) {
	s.Grains = grain.NewPool(s.sampleRate, n, s.seed)
}

// SetGrainHeldColumns updates which grid columns are currently held for
// this strip's grain gesture state machine, the engine-level entry
// point spec.md §6 calls for so a controller's multi-touch hold state
// reaches internal/grain's 0/1/2/3+-held behaviors.
func (s *Strip) SetGrainHeldColumns(held []int) {
	s.grainHeldCols = append(s.grainHeldCols[:0], held...)
	s.Grains.SetHeldColumns(s.grainHeldCols, s.columnStart, s.ScratchAmountPct, &s.GrainParams)
}

// State reports the strip's current playback/scratch state.
func (s *Strip) State() State { return s.state }

// StopWithFade begins an equal-power fade-out over ms milliseconds
// instead of an immediate cut, used by group-choke so a strip's output
// doesn't click when silenced out from under it (spec.md §8's "Group
// choke" invariant).
func (s *Strip) StopWithFade(ms float64) {
	n := int(ms * 0.001 * s.sampleRate)
	if n < 1 {
		n = 1
	}
	s.chokeFade.Start(false, n, true)
}

// SetStep sets one step's on/off state in the 64-step grid.
func (s *Strip) SetStep(index int, on bool) {
	if index < 0 || index >= len(s.Step.Steps) {
		return
	}
	s.Step.Steps[index] = on
}

// SetStepBars sets how many of the 4 available bars the step sequencer
// cycles through, clamped to [1,4].
func (s *Strip) SetStepBars(bars int) {
	if bars < 1 {
		bars = 1
	}
	if bars > 4 {
		bars = 4
	}
	s.Step.Bars = bars
}

// SetStepViewPage sets which 16-step page of the grid is currently
// displayed; a UI-only value kept in Step.ViewPage that playback does
// not read.
func (s *Strip) SetStepViewPage(page int) {
	if page < 0 {
		page = 0
	}
	if page > 3 {
		page = 3
	}
	s.Step.ViewPage = page
}

// PressColumn records a button-down event for this strip's trigger pad.
// It does not itself re-trigger playback — callers invoke
// Trigger/TriggerAtSample separately for a fresh press. The held state
// it records is what finishScratch consults to choose tape-stop over
// re-anchoring; the scratch-on-hold check in triggerInternal does not
// read it.
func (s *Strip) PressColumn(column int) {
	s.buttonHeld = true
	s.heldButton = column
}

// ReleaseColumn is the button-up event: when a scratch amount is dialed
// in and the strip is playing, releasing engages a reverse-scratch
// return to the position the PPQ timeline would have reached had
// playback continued uninterrupted, per spec.md §4.8's scratch-rates
// section and §8 scenario 4 ("Reverse-scratch return").
func (s *Strip) ReleaseColumn(pos PosInfo) {
	s.buttonHeld = false
	if !s.playing || s.ScratchAmountPct <= 1e-6 {
		return
	}
	s.beginReverseScratch(pos)
}

// scratchRampSeconds maps a 0-100 scratch amount onto a freeze-ramp
// duration in [0.015, 3.0] seconds, the same shape
// internal/grain.secondsFromAmount uses for its own freeze ramp.
func scratchRampSeconds(pct float64) float64 {
	u := types.Clamp(pct/100, 0, 1)
	sec := math.Pow(u, 1.7) * 3.0
	return types.Clamp(sec, 0.015, 3.0)
}

// loopBounds returns the active loop's start offset and length in
// frames, shared by Process and the scratch/tape-stop code below.
func (s *Strip) loopBounds() (float64, float64) {
	length := s.sampleLength()
	loopStart := types.ColumnStartFrac(s.LoopStartCol) * length
	loopEnd := types.ColumnStartFrac(s.LoopEndCol) * length
	if s.LoopEndCol >= types.Columns {
		loopEnd = length
	}
	loopLength := loopEnd - loopStart
	if loopLength <= 0 {
		loopLength = length
	}
	return loopStart, loopLength
}

// wrapPos wraps pos into [0, length), keeping scratch curves that cross
// a loop boundary from reading outside the buffer.
func wrapPos(pos, length float64) float64 {
	if length <= 0 {
		return 0
	}
	m := math.Mod(pos, length)
	if m < 0 {
		m += length
	}
	return m
}

// beginForwardScratch engages the needle-drag travel curve of spec.md
// §4.8's scratch-rates section: the playhead travels from start to end
// along the closed-form integral of E_fwd(p) = k*exp(-k*p)/(1-exp(-k))
// rather than jumping, with the ramp duration clamped so the implied
// average rate never exceeds scratchMaxRate.
func (s *Strip) beginForwardScratch(start, end float64) {
	dist := math.Abs(end - start)
	if dist < 1e-6 {
		return
	}
	wanted := scratchRampSeconds(s.ScratchAmountPct) * s.sampleRate
	feasible := dist * scratchK / (scratchMaxRate * (1 - math.Exp(-scratchK)))
	duration := math.Max(wanted, feasible)
	if duration < 1 {
		return
	}
	s.scratchStartPos = start
	s.scratchEndPos = end
	s.scratchElapsed = 0
	s.scratchDuration = duration
	s.state = StateScratchForward
}

// beginReverseScratch engages a return-to-timeline scratch when the
// trigger button releases: the end position is where the PPQ-anchored
// timeline would be after scratchRampSeconds elapses, so the needle
// lands exactly back on the beat instead of merely near it.
func (s *Strip) beginReverseScratch(pos PosInfo) {
	start := s.playbackPositionFrames
	duration := scratchRampSeconds(s.ScratchAmountPct) * s.sampleRate

	loopStart, loopLength := s.loopBounds()
	end := start
	if s.ppqTimelineAnchored && pos.HasTempo {
		futurePPQ := pos.PPQ + (duration/s.sampleRate)*(pos.BPM/60.0)
		phase := math.Mod(futurePPQ+s.ppqTimelineOffset, s.beatsPerLoop())
		if phase < 0 {
			phase += s.beatsPerLoop()
		}
		end = loopStart + (phase/s.beatsPerLoop())*loopLength
	}

	dist := math.Abs(end - start)
	feasible := dist * scratchK / (scratchMaxRate * (1 - math.Exp(-scratchK)))
	duration = math.Max(math.Max(duration, feasible), 1)

	s.scratchStartPos = start
	s.scratchEndPos = end
	s.scratchElapsed = 0
	s.scratchDuration = duration
	s.state = StateScratchReverse
}

// scratchReverseProgress shapes the reverse-scratch return travel: Grain
// mode uses an asymmetric power curve (fast departure, slow settle), the
// other play modes use a smoothstep so the return feels like a tape
// being let go rather than yanked back.
func (s *Strip) scratchReverseProgress(p float64) float64 {
	if s.PlayMode == types.PlayGrain {
		return math.Pow(p, 1.6)
	}
	return p * p * (3 - 2*p)
}

// finishScratch re-anchors the PPQ timeline at the position a scratch
// gesture ended on and returns the strip to ordinary playback, or to
// tape-stop if the button is still held down.
func (s *Strip) finishScratch(endPos float64, pos PosInfo) {
	s.playbackPositionFrames = endPos
	if s.buttonHeld {
		s.scratchEndPos = endPos
		s.state = StateTapeStop
		return
	}
	if s.PlayMode != types.PlayOneShot {
		loopStart, loopLength := s.loopBounds()
		ratio := 0.0
		if loopLength > 0 {
			ratio = math.Mod((endPos-loopStart)/loopLength, 1.0)
			if ratio < 0 {
				ratio += 1
			}
		}
		beatsPerLoop := s.beatsPerLoop()
		beatInLoop := ratio * beatsPerLoop
		offset := math.Mod(beatInLoop-pos.PPQ, beatsPerLoop)
		if offset < 0 {
			offset += beatsPerLoop
		}
		s.ppqTimelineOffset = offset
		s.ppqTimelineAnchored = true
		s.state = StatePlayingPpqAnchored
	} else {
		s.ppqTimelineAnchored = false
		s.state = StatePlayingFree
	}
}

// scratchReadPos computes the playhead position for states where the
// normal PPQ/direction pipeline in Process is bypassed: tape-stop
// freezing and the forward/reverse scratch travel curves. handled
// reports whether the caller should use the returned position instead
// of the normal pipeline.
func (s *Strip) scratchReadPos(pos PosInfo) (float64, bool) {
	switch s.state {
	case StateTapeStop:
		return s.scratchEndPos, true
	case StateScratchForward:
		s.scratchElapsed++
		p := types.Clamp(s.scratchElapsed/s.scratchDuration, 0, 1)
		curve := (1 - math.Exp(-scratchK*p)) / (1 - math.Exp(-scratchK))
		readPos := s.scratchStartPos + (s.scratchEndPos-s.scratchStartPos)*curve
		if p >= 1 {
			s.finishScratch(readPos, pos)
		}
		return readPos, true
	case StateScratchReverse:
		s.scratchElapsed++
		p := types.Clamp(s.scratchElapsed/s.scratchDuration, 0, 1)
		curve := s.scratchReverseProgress(p)
		readPos := s.scratchStartPos + (s.scratchEndPos-s.scratchStartPos)*curve
		if p >= 1 {
			s.finishScratch(readPos, pos)
		}
		return readPos, true
	default:
		return 0, false
	}
}

func (s *Strip) swingDivision() float64 {
	if s.SwingDivision <= 0 {
		return 16
	}
	return s.SwingDivision
}

// currentStepIndex maps the host PPQ (or, with no tempo available, the
// free-running elapsed time since trigger) onto a 0-63 step index. One
// step is a sixteenth note; Bars (clamped to [1,4]) bounds which prefix
// of the 64-step grid is actually cycled through.
func (s *Strip) currentStepIndex(pos PosInfo, sampleOffset int) int {
	bars := s.Step.Bars
	if bars < 1 {
		bars = 1
	}
	if bars > 4 {
		bars = 4
	}
	steps := bars * 16

	var sixteenths float64
	if pos.HasTempo {
		ppqNow := pos.PPQ + float64(sampleOffset)/s.sampleRate*(pos.BPM/60.0)
		sixteenths = ppqNow * 4
	} else {
		beatsPerSec := maxF(s.PlaybackSpeed, 0.0001) * 2.0
		elapsedSec := (float64(s.samplesElapsedSinceTrigger) + float64(sampleOffset)) / s.sampleRate
		sixteenths = elapsedSec * beatsPerSec * 4
	}
	idx := int(math.Floor(sixteenths)) % steps
	if idx < 0 {
		idx += steps
	}
	return idx
}

// LoadBuffer swaps in a freshly-validated sample buffer. Callers load via
// internal/sample.LoadFromFile first so a failed decode never reaches
// here, per spec.md §7.
func (s *Strip) LoadBuffer(buf *sample.Buffer, transients [16]int, transientMode bool) {
	s.buf = buf
	s.transients = transients
	s.TransientMode = transientMode
	s.playbackPositionFrames = 0
}

func (s *Strip) sampleLength() float64 {
	if s.buf == nil {
		return 0
	}
	return float64(s.buf.Frames())
}

func (s *Strip) beatsPerLoop() float64 {
	if s.BeatsPerLoop <= 0 {
		return 4
	}
	return s.BeatsPerLoop
}

// columnStart returns the target sample position for a column, using the
// transient slice map when transient mode is on, else uniform spacing.
func (s *Strip) columnStart(column int) float64 {
	length := s.sampleLength()
	if length <= 0 {
		return 0
	}
	if s.TransientMode {
		column = int(types.Clamp(float64(column), 0, types.Columns-1))
		return float64(s.transients[column])
	}
	return types.ColumnStartFrac(column) * length
}

// snapToZeroCrossing scans ±window around pos for a sign change in the
// mono-summed signal, falling back to the sample with smallest |value|,
// per spec.md §4.8 step 1.
func (s *Strip) snapToZeroCrossing(pos float64) float64 {
	length := s.sampleLength()
	if s.buf == nil || length <= 0 {
		return pos
	}
	window := int(zeroCrossMsWin * 0.001 * s.sampleRate)
	if window < 1 {
		return pos
	}
	center := int(pos)

	mono := func(i int) float64 {
		idx := ((i % int(length)) + int(length)) % int(length)
		return (float64(s.buf.At(0, idx)) + float64(s.buf.At(1, idx))) / 2
	}

	prevSign := mono(center)
	bestIdx := center
	bestAbs := math.Abs(prevSign)
	prevBack := prevSign

	for d := 1; d <= window; d++ {
		i := center + d
		v := mono(i)
		if v == 0 || (v > 0) != (prevSign > 0) {
			return float64(i)
		}
		if math.Abs(v) < bestAbs {
			bestAbs = math.Abs(v)
			bestIdx = i
		}
		prevSign = v
		if j := center - d; j >= 0 {
			w := mono(j)
			if w == 0 || (w > 0) != (prevBack > 0) {
				return float64(j)
			}
			if math.Abs(w) < bestAbs {
				bestAbs, bestIdx = math.Abs(w), j
			}
			prevBack = w
		}
	}
	return float64(bestIdx)
}

// Trigger is the legacy free trigger of spec.md §4.8 (no global sample
// known); it engages the same crossfade/anchor logic as triggerAtSample
// but without a PPQ-accurate target.
func (s *Strip) Trigger(column int) {
	s.triggerInternal(column, 0, 0, PosInfo{})
}

// TriggerAtSample is the sample-accurate entry point the engine calls
// when a QuantisedTrigger fires.
func (s *Strip) TriggerAtSample(column int, bpm float64, globalSample int64, pos PosInfo) {
	s.triggerInternal(column, bpm, globalSample, pos)
}

func (s *Strip) triggerInternal(column int, bpm float64, globalSample int64, pos PosInfo) {
	length := s.sampleLength()
	if length <= 0 {
		return
	}

	target := s.columnStart(column)
	target = s.snapToZeroCrossing(target)

	wasPlaying := s.playing
	prevPos := s.playbackPositionFrames
	if wasPlaying && s.PlayMode != types.PlayStep && s.PlayMode != types.PlayGrain {
		fadeSamples := int(s.TriggerFadeMs * 0.001 * s.sampleRate)
		s.oldReadPos = s.playbackPositionFrames
		s.newReadPos = target
		s.blendActive = true
		s.blendRemain = fadeSamples
		s.blendTotal = fadeSamples

		s.preTriggerOutL, s.preTriggerOutR = 0, 0
		s.triggerBlendRemaining = fadeSamples
		s.triggerBlendTotal = fadeSamples
	}

	s.triggerSampleGlobal = globalSample
	s.triggerPPQ = pos.PPQ
	if length > 0 {
		s.triggerOffsetRatio = math.Mod(target/length, 1.0)
	}
	s.playbackPositionFrames = target
	s.samplesElapsedSinceTrigger = 0
	s.playing = true
	s.buttonHeld = true
	s.heldButton = column

	if s.PlayMode != types.PlayOneShot {
		beatsPerLoop := s.beatsPerLoop()
		beatInLoop := s.triggerOffsetRatio * beatsPerLoop
		offset := math.Mod(beatInLoop-pos.PPQ, beatsPerLoop)
		if offset < 0 {
			offset += beatsPerLoop
		}
		s.ppqTimelineOffset = offset
		s.ppqTimelineAnchored = true
		s.state = StatePlayingPpqAnchored
	} else {
		s.ppqTimelineAnchored = false
		s.state = StatePlayingFree
	}

	if s.PlayMode == types.PlayGrain {
		s.Grains.SetHeldColumns(s.grainHeldCols, s.columnStart, s.ScratchAmountPct, &s.GrainParams)
	}

	// Scratch-on-hold: a press while a scratch amount is dialed in drags
	// the needle from its previous position into the new target along
	// the forward-scratch envelope instead of cutting straight there.
	if wasPlaying && s.PlayMode != types.PlayGrain && s.ScratchAmountPct > 1e-6 {
		s.beginForwardScratch(prevPos, target)
	}
}

// Stop halts playback without resetting position.
func (s *Strip) Stop() {
	s.playing = false
	s.buttonHeld = false
	s.state = StateIdle
}

// Playing reports whether the strip is currently producing audio.
func (s *Strip) Playing() bool { return s.playing }

// PositionFraction returns the playback position as a fraction of the
// sample's total length, for telemetry display only.
func (s *Strip) PositionFraction() float64 {
	length := s.sampleLength()
	if length <= 0 {
		return 0
	}
	return s.playbackPositionFrames / length
}

// CurrentColumn returns the grid column the playback position currently
// falls within, used to index the ModSequencer's step table.
func (s *Strip) CurrentColumn() int {
	length := s.sampleLength()
	if length <= 0 {
		return 0
	}
	frac := s.playbackPositionFrames / length
	col := int(frac * types.Columns)
	return ((col % types.Columns) + types.Columns) % types.Columns
}

// mapDirection implements spec.md §4.8 step 4's direction modes.
func (s *Strip) mapDirection(raw, loopLength float64) float64 {
	if loopLength <= 0 {
		return 0
	}
	switch s.Direction {
	case types.DirReverse:
		m := math.Mod(raw, loopLength)
		if m < 0 {
			m += loopLength
		}
		return loopLength - m
	case types.DirPingPong:
		period := 2 * loopLength
		m := math.Mod(raw, period)
		if m < 0 {
			m += period
		}
		if m > loopLength {
			return period - m
		}
		return m
	case types.DirRandom:
		return s.directionRandom(loopLength)
	case types.DirRandomWalk:
		return s.directionRandomWalk(loopLength)
	case types.DirRandomSlice:
		return s.directionRandomSlice(raw, loopLength)
	default:
		m := math.Mod(raw, loopLength)
		if m < 0 {
			m += loopLength
		}
		return m
	}
}

// directionRandom implements spec.md §4.8's Random mode: per
// quantization segment, 30% downbeat bias (anchors 0,4,8,12), 45%
// uniform, 25% short step walk.
func (s *Strip) directionRandom(loopLength float64) float64 {
	roll := s.rng.Float64()
	sliceLen := loopLength / 16
	switch {
	case roll < 0.30:
		anchors := []int{0, 4, 8, 12}
		s.randomBucketCol = anchors[s.rng.Intn(len(anchors))]
	case roll < 0.75:
		s.randomBucketCol = s.rng.Intn(16)
	default:
		delta := []int{-2, -1, 1, 2}[s.rng.Intn(4)]
		s.randomBucketCol = ((s.randomBucketCol+delta)%16 + 16) % 16
	}
	return float64(s.randomBucketCol) * sliceLen
}

// directionRandomWalk implements spec.md §4.8's RandomWalk mode.
func (s *Strip) directionRandomWalk(loopLength float64) float64 {
	delta := []int{-2, -1, 1, 2}[s.rng.Intn(4)]
	s.randomWalkCol = ((s.randomWalkCol+delta)%16 + 16) % 16
	return float64(s.randomWalkCol) * (loopLength / 16)
}

// directionRandomSlice implements a stuttering window, per spec.md
// §4.8's RandomSlice description; simplified to a stable per-trigger
// window rather than full speed-pair interpolation.
func (s *Strip) directionRandomSlice(raw, loopLength float64) float64 {
	sliceLen := loopLength / 16
	windowStart := float64(s.randomBucketCol) * sliceLen
	windowLen := sliceLen * float64(1+s.rng.Intn(4))
	m := math.Mod(raw, windowLen)
	if m < 0 {
		m += windowLen
	}
	pos := windowStart + m
	if pos >= loopLength {
		pos = math.Mod(pos, loopLength)
	}
	return pos
}

// updateSmoothed advances the single-pole 50ms ramps of spec.md §4.8 step
// 1 for volume/pan/speed.
func (s *Strip) updateSmoothed() {
	alpha := 1 - math.Exp(-1/(smoothTimeMs*0.001*s.sampleRate))
	s.smoothedVolume += (s.Volume - s.smoothedVolume) * alpha
	s.smoothedPan += (s.Pan - s.smoothedPan) * alpha
	s.smoothedSpeed += (s.PlaybackSpeed - s.smoothedSpeed) * alpha

	pitchAlpha := 1 - math.Exp(-1/(maxF(s.PitchSmoothMs, 1)*0.001*s.sampleRate))
	s.smoothedPitchSemis += (s.PitchShiftSemis - s.smoothedPitchSemis) * pitchAlpha
}

func clampNonFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Process renders n samples into out[0] (left) and out[1] (right),
// starting from the strip's current state, implementing the per-sample
// pipeline of spec.md §4.8.
func (s *Strip) Process(n int, out [][]float32, pos PosInfo, innerLoopCrossfadeSamples int) {
	if len(out) < 2 || n == 0 {
		return
	}
	s.Filt.Type = s.FilterType
	s.Filt.SetParams(s.FilterCutoffHz, s.FilterResonance)
	if s.buf == nil || !s.playing {
		for c := 0; c < 2; c++ {
			for i := 0; i < n; i++ {
				out[c][i] = 0
			}
		}
		return
	}

	length := s.sampleLength()
	loopStart, loopLength := s.loopBounds()

	samplesPerBeat := s.sampleRate * 60.0 / maxF(pos.BPM, 1)
	autoWarp := length / (s.beatsPerLoop() * (60.0 / maxF(pos.BPM, 1)) * s.sampleRate)

	for i := 0; i < n; i++ {
		s.updateSmoothed()

		var readPos, positionInLoop float64
		if sp, handled := s.scratchReadPos(pos); handled {
			readPos = wrapPos(sp, length)
			positionInLoop = readPos - loopStart
		} else {
			var rawPos float64
			if s.ppqTimelineAnchored && pos.HasTempo {
				ppqNow := pos.PPQ + float64(i)/s.sampleRate*(pos.BPM/60.0)
				ppqNow = quantize.ApplySwing(ppqNow, s.SwingAmount, s.swingDivision())
				phase := math.Mod(ppqNow+s.ppqTimelineOffset, s.beatsPerLoop())
				if phase < 0 {
					phase += s.beatsPerLoop()
				}
				rawPos = (phase / s.beatsPerLoop()) * loopLength
			} else {
				elapsedBeats := float64(s.samplesElapsedSinceTrigger) / samplesPerBeat
				rawPos = s.triggerOffsetRatio*loopLength + elapsedBeats*samplesPerBeat*autoWarp
			}
			if s.PlayMode == types.PlayOneShot {
				// OneShot never wraps: the unmapped raw position is checked
				// directly against the loop bounds so playback stops exactly
				// once, per spec.md §4.8 step 5.
				if rawPos <= 0 || rawPos >= loopLength {
					s.playing = false
					for c := 0; c < 2; c++ {
						out[c][i] = 0
					}
					s.samplesElapsedSinceTrigger++
					continue
				}
				positionInLoop = rawPos
			} else {
				positionInLoop = s.mapDirection(rawPos, loopLength)
			}
			readPos = loopStart + positionInLoop
		}
		s.playbackPositionFrames = readPos

		if s.PlayMode == types.PlayStep {
			s.Step.CurrentStep = s.currentStepIndex(pos, i)
			if !s.Step.active(s.Step.CurrentStep) {
				out[0][i] = 0
				out[1][i] = 0
				s.samplesElapsedSinceTrigger++
				continue
			}
		}

		var left, right float64
		if s.PlayMode == types.PlayGrain {
			grainOut := [][]float32{{0}, {0}}
			s.Grains.Process(s.buf, s.quality, readPos, loopLength, maxF(pos.BPM, 1), s.GrainParams, grainOut)
			left = float64(grainOut[0][0])
			right = float64(grainOut[1][0])
		} else {
			left = float64(resampler.Read(s.buf, 0, readPos, s.quality))
			right = float64(resampler.Read(s.buf, 1, readPos, s.quality))

			if innerLoopCrossfadeSamples > 0 && positionInLoop >= loopLength-float64(innerLoopCrossfadeSamples) {
				t := (positionInLoop - (loopLength - float64(innerLoopCrossfadeSamples))) / float64(innerLoopCrossfadeSamples-1)
				t = types.Clamp(t, 0, 1)
				fadeIn := math.Sqrt(math.Sin(t * math.Pi / 2))
				fadeOut := math.Sqrt(1 - fadeIn*fadeIn)

				preRollPos := loopStart - float64(innerLoopCrossfadeSamples) + t*float64(innerLoopCrossfadeSamples)
				preRollPos = math.Mod(preRollPos+length, length)

				preL := float64(resampler.Read(s.buf, 0, preRollPos, s.quality))
				preR := float64(resampler.Read(s.buf, 1, preRollPos, s.quality))
				left = left*fadeIn + preL*fadeOut
				right = right*fadeIn + preR*fadeOut
			}
		}

		if s.blendActive && s.blendRemain > 0 {
			t := 1 - float64(s.blendRemain)/float64(s.blendTotal)
			oldL := float64(resampler.Read(s.buf, 0, s.oldReadPos, s.quality))
			oldR := float64(resampler.Read(s.buf, 1, s.oldReadPos, s.quality))
			fadeIn := crossfade.EqualPowerIn(t)
			fadeOut := crossfade.EqualPowerOut(t)
			left = left*fadeIn + oldL*fadeOut
			right = right*fadeIn + oldR*fadeOut
			s.oldReadPos += s.smoothedSpeed
			s.blendRemain--
			if s.blendRemain <= 0 {
				s.blendActive = false
			}
		}

		if math.Abs(s.smoothedPitchSemis) >= 0.01 {
			left, right = s.pitchShift(left, right)
		}

		if s.Filt.Enabled {
			left = s.Filt.Process(left)
			right = s.Filt.Process(right)
		}

		if s.GateAmount > 0 {
			g := s.gateEnvelope()
			left *= g
			right *= g
		}

		panAngle := (s.smoothedPan + 1) * math.Pi / 4
		left *= math.Cos(panAngle) * s.smoothedVolume
		right *= math.Sin(panAngle) * s.smoothedVolume

		if s.triggerBlendRemaining > 0 {
			t := 1 - float64(s.triggerBlendRemaining)/float64(s.triggerBlendTotal)
			fadeIn := crossfade.EqualPowerIn(t)
			fadeOut := crossfade.EqualPowerOut(t)
			left = left*fadeIn + s.preTriggerOutL*fadeOut
			right = right*fadeIn + s.preTriggerOutR*fadeOut
			s.triggerBlendRemaining--
		}

		if s.chokeFade.Active() {
			g := s.chokeFade.Next()
			left *= g
			right *= g
			if !s.chokeFade.Active() {
				s.playing = false
			}
		}

		out[0][i] = float32(clampNonFinite(left))
		out[1][i] = float32(clampNonFinite(right))

		s.samplesElapsedSinceTrigger++
	}
}

func maxF(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}

// pitchShift implements the two-window overlap-add delay-line pitch
// shifter of spec.md §4.8 step 11: two read windows 180 degrees apart,
// Hann-weighted and summed, bypassed when |semitones| < 0.01 (checked by
// the caller).
func (s *Strip) pitchShift(left, right float64) (float64, float64) {
	n := len(s.pitchDelay)
	if n == 0 {
		return left, right
	}
	s.pitchDelay[s.pitchWriteHead] = float32(left)
	ratio := math.Pow(2, s.smoothedPitchSemis/12)
	windowSamples := float64(n) / 2

	var out float64
	for w := 0; w < 2; w++ {
		phase := math.Mod(s.gateEnvPhase+float64(w)*0.5, 1.0)
		readOffset := phase * windowSamples * (1 - 1/ratio)
		readIdx := math.Mod(float64(s.pitchWriteHead)-readOffset+float64(n), float64(n))
		hann := 0.5 - 0.5*math.Cos(2*math.Pi*phase)
		out += float64(resampler.Read(monoRing{s.pitchDelay}, 0, readIdx, resampler.Linear)) * hann
	}

	s.pitchWriteHead = (s.pitchWriteHead + 1) % n
	s.gateEnvPhase += 1.0 / windowSamples
	if s.gateEnvPhase >= 1 {
		s.gateEnvPhase -= 1
	}
	return out, out
}

// monoRing adapts a single delay-line slice to resampler.Buffer.
type monoRing struct{ data []float32 }

func (m monoRing) Channels() int { return 1 }
func (m monoRing) Frames() int   { return len(m.data) }
func (m monoRing) At(channel, frame int) float32 {
	if frame < 0 || frame >= len(m.data) {
		return 0
	}
	return m.data[frame]
}

// gateEnvelope implements spec.md §4.8 step 13's tempo-locked amplitude
// shaping.
func (s *Strip) gateEnvelope() float64 {
	phase := math.Mod(s.gateEnvPhase*s.GateSpeed, 1.0)
	var env float64
	switch s.GateShape {
	case types.GateTriangle:
		env = 1 - 2*math.Abs(phase-0.5)
	case types.GateSquare:
		soft := 0.01 + s.GateAmount*0.24
		if phase < 0.5-soft {
			env = 1
		} else if phase < 0.5+soft {
			env = 1 - (phase-(0.5-soft))/(2*soft)
		} else {
			env = 0
		}
	default: // GateSine
		env = 0.5 + 0.5*math.Sin(2*math.Pi*phase)
	}
	exponent := mapRange(env, 0, 1, 3.2, 0.8)
	shaped := math.Pow(types.Clamp(env, 0, 1), exponent)
	return 1 - s.GateAmount*(1-shaped)
}

func mapRange(v, inLo, inHi, outLo, outHi float64) float64 {
	t := types.Clamp((v-inLo)/(inHi-inLo), 0, 1)
	return outLo + t*(outHi-outLo)
}
