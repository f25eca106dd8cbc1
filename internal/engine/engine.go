// Package engine orchestrates the strips, quantized-trigger scheduler,
// pattern recorders, live-input capture, and master mix described in
// spec.md §4.9. It is the only component that knows about all the
// others; strips and the clock know nothing about each other directly.
package engine

import (
	"math"
	"sync"

	"github.com/schollz/mlrengine/internal/liverec"
	"github.com/schollz/mlrengine/internal/modseq"
	"github.com/schollz/mlrengine/internal/pattern"
	"github.com/schollz/mlrengine/internal/quantize"
	"github.com/schollz/mlrengine/internal/resampler"
	"github.com/schollz/mlrengine/internal/sample"
	"github.com/schollz/mlrengine/internal/strip"
	"github.com/schollz/mlrengine/internal/types"
)

// groupChokeFadeMs is the fade-out duration EnforceGroupExclusivity applies
// to choked members when immediateStop is false, per spec.md §8's "Group
// choke" invariant.
const groupChokeFadeMs = 5.0

// Group is a choke group: triggering one member stops the others.
type Group struct {
	Strips []int
	Gain   float64
	Mute   bool
}

// PosInfo mirrors strip.PosInfo for the engine's external block callback
// contract (spec.md §6).
type PosInfo = strip.PosInfo

// Engine is the orchestration root of spec.md §4.9.
type Engine struct {
	mu sync.Mutex // guards pending-trigger insertion, per spec.md §5

	Strips   []*strip.Strip
	Groups   []Group
	Clock    *quantize.Clock
	Patterns []*pattern.Recorder
	Mods     []*modseq.Sequencer
	Live     *liverec.Recorder

	SampleRate  float64
	MasterGain  float64
	InputMonitorGain float64

	globalSampleCount int64
	lastBPM           float64
	lastPatternBeat   float64
	havePatternBeat   bool

	InnerLoopCrossfadeSamples int
}

// New constructs an Engine with numStrips strips, each with its own
// grain pool/filter/RNG. Strips, grain pools, delay lines and the live
// ring are allocated here; Process still allocates per-block scratch
// (the event-offset map and renderSegment's segment buffers).
func New(sampleRate float64, numStrips int) *Engine {
	e := &Engine{
		SampleRate:                sampleRate,
		MasterGain:                1,
		Clock:                     quantize.NewClock(sampleRate),
		Live:                      liverec.NewRecorder(sampleRate, 60, 2),
		InnerLoopCrossfadeSamples: int(0.01 * sampleRate),
	}
	for i := 0; i < numStrips; i++ {
		e.Strips = append(e.Strips, strip.New(i, sampleRate))
		e.Patterns = append(e.Patterns, pattern.NewRecorder(4))
		e.Mods = append(e.Mods, modseq.NewSequencer())
	}
	return e
}

// Config bundles the construction-time and post-construction-settable
// knobs spec.md §5 groups under "engine configuration": quantize
// division, fade timings, swing, grain quality/pool size, and the two
// master mix gains. NewWithConfig applies it at construction; the
// Set* methods below apply the same fields to a live Engine.
type Config struct {
	SampleRate       float64
	NumStrips        int
	MasterGain       float64
	QuantizeDivision quantize.Division
	CrossfadeMs      float64
	TriggerFadeMs    float64
	InputMonitorGain float64
	PitchSmoothingMs float64
	SwingDivision    float64
	GrainQuality     resampler.Quality
	GrainPoolSize    int
}

// DefaultConfig returns the configuration spec.md's component budgets
// imply: 32 grain voices per strip, a 1/16 quantize grid, a 10ms inner-
// loop crossfade, and unity gain.
func DefaultConfig(sampleRate float64, numStrips int) Config {
	return Config{
		SampleRate:       sampleRate,
		NumStrips:        numStrips,
		MasterGain:       1,
		QuantizeDivision: quantize.Div16,
		CrossfadeMs:      10,
		TriggerFadeMs:    5,
		InputMonitorGain: 0,
		PitchSmoothingMs: 50,
		SwingDivision:    16,
		GrainQuality:     resampler.Cubic,
		GrainPoolSize:    32,
	}
}

// NewWithConfig builds an Engine the way New does, then applies every
// Config field to it and its strips, so a caller that needs non-default
// fade/quantize/grain settings at startup never has to touch a strip
// directly.
func NewWithConfig(cfg Config) *Engine {
	e := New(cfg.SampleRate, cfg.NumStrips)
	e.SetMasterGain(cfg.MasterGain)
	e.SetQuantizeDivision(cfg.QuantizeDivision)
	e.SetCrossfadeMs(cfg.CrossfadeMs)
	e.SetTriggerFadeMs(cfg.TriggerFadeMs)
	e.SetInputMonitorGain(cfg.InputMonitorGain)
	e.SetPitchSmoothingMs(cfg.PitchSmoothingMs)
	e.SetSwingDivision(cfg.SwingDivision)
	e.SetGrainQuality(cfg.GrainQuality)
	if cfg.GrainPoolSize > 0 {
		for _, s := range e.Strips {
			s.SetGrainPoolSize(cfg.GrainPoolSize)
		}
	}
	return e
}

// SetMasterGain sets the post-mix master gain applied in Process.
func (e *Engine) SetMasterGain(g float64) { e.MasterGain = g }

// SetInputMonitorGain sets the live-input monitor mix gain.
func (e *Engine) SetInputMonitorGain(g float64) { e.InputMonitorGain = g }

// SetQuantizeDivision sets the clock's quantize grid resolution.
func (e *Engine) SetQuantizeDivision(d quantize.Division) { e.Clock.Division = d }

// SetCrossfadeMs sets the inner-loop crossfade duration shared by every
// strip's Process call.
func (e *Engine) SetCrossfadeMs(ms float64) {
	e.InnerLoopCrossfadeSamples = int(ms * 0.001 * e.SampleRate)
}

// SetTriggerFadeMs sets every strip's retrigger blend-fade duration.
func (e *Engine) SetTriggerFadeMs(ms float64) {
	for _, s := range e.Strips {
		s.TriggerFadeMs = ms
	}
}

// SetPitchSmoothingMs sets every strip's pitch-shift smoothing time.
func (e *Engine) SetPitchSmoothingMs(ms float64) {
	for _, s := range e.Strips {
		s.PitchSmoothMs = ms
	}
}

// SetSwingDivision sets every strip's default swing grid division.
func (e *Engine) SetSwingDivision(div float64) {
	for _, s := range e.Strips {
		s.SwingDivision = div
	}
}

// SetGrainQuality sets every strip's resampler interpolation kernel,
// used for both grain-mode and normal reads.
func (e *Engine) SetGrainQuality(q resampler.Quality) {
	for _, s := range e.Strips {
		s.SetQuality(q)
	}
}

// SetGrainHeldColumns forwards a controller's multi-touch hold state to
// one strip's grain gesture state machine.
func (e *Engine) SetGrainHeldColumns(stripIdx int, held []int) {
	if s := e.GetStrip(stripIdx); s != nil {
		s.SetGrainHeldColumns(held)
	}
}

// GetStrip returns the strip at index, or nil if out of range, matching
// spec.md §6's get_strip contract (failure returns silently).
func (e *Engine) GetStrip(index int) *strip.Strip {
	if index < 0 || index >= len(e.Strips) {
		return nil
	}
	return e.Strips[index]
}

// ScheduleQuantizedTrigger is spec.md §6's schedule_quantized_trigger.
func (e *Engine) ScheduleQuantizedTrigger(stripIdx, column int, currentPPQ float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Clock.ScheduleTrigger(stripIdx, column, currentPPQ)
}

// TriggerStripWithQuantization is spec.md §6's
// trigger_strip_with_quantization: either schedules through the clock or
// fires immediately via the strip's legacy Trigger entry point.
func (e *Engine) TriggerStripWithQuantization(stripIdx, column int, useQuantize bool, currentPPQ float64) {
	s := e.GetStrip(stripIdx)
	if s == nil {
		return
	}
	if useQuantize {
		e.ScheduleQuantizedTrigger(stripIdx, column, currentPPQ)
		return
	}
	s.Trigger(column)
}

// EnforceGroupExclusivity stops every other strip sharing a group with
// stripIdx, per spec.md §4.9 step 6 and §8's "Group choke" invariant.
func (e *Engine) EnforceGroupExclusivity(stripIdx int, immediateStop bool) {
	for _, g := range e.Groups {
		member := false
		for _, idx := range g.Strips {
			if idx == stripIdx {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		for _, idx := range g.Strips {
			if idx == stripIdx {
				continue
			}
			if other := e.GetStrip(idx); other != nil {
				if immediateStop {
					other.Stop()
				} else {
					other.StopWithFade(groupChokeFadeMs)
				}
			}
		}
	}
}

// ChokeGroup stops every member of groupIdx directly, the engine-level
// entry point spec.md §6 lists alongside EnforceGroupExclusivity for a
// controller-driven "choke this group now" action rather than one implied
// by a fresh trigger.
func (e *Engine) ChokeGroup(groupIdx int, immediateStop bool) {
	if groupIdx < 0 || groupIdx >= len(e.Groups) {
		return
	}
	for _, idx := range e.Groups[groupIdx].Strips {
		if s := e.GetStrip(idx); s != nil {
			if immediateStop {
				s.Stop()
			} else {
				s.StopWithFade(groupChokeFadeMs)
			}
		}
	}
}

// clearPendingTriggersForStrip wraps the clock call under the engine
// lock, matching spec.md §5's shared spin-lock boundary.
func (e *Engine) clearPendingTriggersForStrip(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Clock.ClearPendingTriggersForStrip(idx)
}

// updateTempo implements spec.md §4.9 step 1.
func (e *Engine) updateTempo(pos PosInfo) {
	if pos.BPM > 0 {
		e.Clock.TempoBPM = pos.BPM
		e.lastBPM = pos.BPM
	}
	if pos.HasTempo {
		// hard-lock to host PPQ rather than accumulate; covers both normal
		// advance and a backward transport jump in one assignment.
		e.Clock.ResyncToPPQ(pos.PPQ)
	}
}

// Process runs one host audio block through the full pipeline of
// spec.md §4.9: tempo update, input capture, event-segmented strip
// rendering with mod-sequencer application, master gain, input-monitor
// mix, and transport advance.
func (e *Engine) Process(out [][]float32, input [][]float32, pos PosInfo) {
	n := 0
	if len(out) > 0 {
		n = len(out[0])
	}
	if n == 0 {
		return
	}

	e.updateTempo(pos)

	if len(input) > 0 {
		e.Live.Write(input)
	}

	for c := range out {
		for i := range out[c] {
			out[c][i] = 0
		}
	}

	blockStart := e.globalSampleCount
	blockEnd := blockStart + int64(n)

	e.mu.Lock()
	events := e.Clock.GetEventsInRange(blockStart, blockEnd)
	e.mu.Unlock()

	byOffset := map[int][]quantize.Trigger{}
	var offsets []int
	for _, ev := range events {
		offset := int(ev.TargetSampleGlobal - blockStart)
		if offset < 0 {
			offset = 0
		}
		if offset > n {
			offset = n
		}
		if _, ok := byOffset[offset]; !ok {
			offsets = append(offsets, offset)
		}
		byOffset[offset] = append(byOffset[offset], ev)
	}
	sortInts(offsets)

	processed := 0
	for _, offset := range offsets {
		if offset > processed {
			e.renderSegment(out, processed, offset, pos)
			processed = offset
		}
		for _, ev := range byOffset[offset] {
			e.EnforceGroupExclusivity(int(ev.StripIndex), false)
			if s := e.GetStrip(int(ev.StripIndex)); s != nil {
				s.TriggerAtSample(int(ev.Column), e.Clock.TempoBPM, ev.TargetSampleGlobal, pos)
			}
			e.clearPendingTriggersForStrip(int(ev.StripIndex))
		}
	}
	if processed < n {
		e.renderSegment(out, processed, n, pos)
	}

	for c := range out {
		for i := range out[c] {
			v := out[c][i]
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				out[c][i] = 0
			}
			out[c][i] *= float32(e.MasterGain)
		}
	}

	e.mixInputMonitor(out, input)

	e.globalSampleCount += int64(n)
	e.Clock.Advance(int64(n))

	e.processPatterns(pos)
}

// renderSegment renders [from,to) for every strip, applying each strip's
// ModSequencer modulation transiently around strip.Process, per spec.md
// §4.9 step 8.
func (e *Engine) renderSegment(out [][]float32, from, to int, pos PosInfo) {
	segLen := to - from
	if segLen <= 0 {
		return
	}
	segOut := [][]float32{make([]float32, segLen), make([]float32, segLen)}

	for i, s := range e.Strips {
		column := currentColumn(s)
		modValue := e.Mods[i].Value(column)

		restore := applyModulation(s, e.Mods[i], modValue)

		s.Process(segLen, segOut, pos, e.InnerLoopCrossfadeSamples)
		restore()

		for c := 0; c < 2; c++ {
			for j := 0; j < segLen; j++ {
				out[c][from+j] += segOut[c][j]
			}
		}
	}
}

// currentColumn derives a strip's current timeline column from its
// playback position, used to index the mod sequencer's step table.
func currentColumn(s *strip.Strip) int {
	return s.CurrentColumn()
}

// applyModulation snapshots and modifies the one strip (or grain-params)
// field the sequencer targets, returning a restore closure, per spec.md
// §4.6's snapshot/modify/restore contract. Grain* targets other than
// GrainSize are left at their control-thread value here: they feed
// gesture-driven behavior in internal/grain rather than a single
// modulatable scalar, per spec.md §4.7.
func applyModulation(s *strip.Strip, seq *modseq.Sequencer, modValue float64) func() {
	switch seq.Target {
	case types.ModVolume:
		return modseq.Apply(&s.Volume, types.ModVolume, modValue).Restore
	case types.ModPan:
		return modseq.Apply(&s.Pan, types.ModPan, modValue).Restore
	case types.ModPitch:
		return modseq.Apply(&s.PitchShiftSemis, types.ModPitch, modValue).Restore
	case types.ModSpeed:
		return modseq.Apply(&s.PlaybackSpeed, types.ModSpeed, modValue).Restore
	case types.ModCutoff:
		return modseq.Apply(&s.FilterCutoffHz, types.ModCutoff, modValue).Restore
	case types.ModResonance:
		return modseq.Apply(&s.FilterResonance, types.ModResonance, modValue).Restore
	case types.ModGrainSize:
		return modseq.Apply(&s.GrainParams.SizeMs, types.ModGrainSize, modValue).Restore
	default:
		return func() {}
	}
}

func (e *Engine) mixInputMonitor(out [][]float32, input [][]float32) {
	if e.InputMonitorGain <= 0 || len(input) == 0 {
		return
	}
	for c := range out {
		var src []float32
		if c < len(input) {
			src = input[c]
		} else if len(input) > 0 {
			src = input[0]
		}
		for i := range out[c] {
			if i < len(src) {
				out[c][i] += src[i] * float32(e.InputMonitorGain)
			}
		}
	}
}

// processPatterns implements spec.md §4.9 step 13: each playing pattern
// recorder is walked over the beat window since the previous block,
// firing any strip events it covers through the normal quantized-trigger
// path.
func (e *Engine) processPatterns(pos PosInfo) {
	if !pos.HasTempo {
		return
	}
	from := pos.PPQ
	if e.havePatternBeat {
		from = e.lastPatternBeat
	}
	to := pos.PPQ
	e.lastPatternBeat = pos.PPQ
	e.havePatternBeat = true

	for _, rec := range e.Patterns {
		rec.ProcessEventsForBeatWindow(from, to, func(ev pattern.Event) {
			e.TriggerStripWithQuantization(ev.Strip, ev.Column, true, pos.PPQ)
		})
	}
}

// CaptureLoopToStrip is spec.md §6's capture_loop_to_strip: bakes the
// live-input ring into a new buffer and hands it to the target strip.
func (e *Engine) CaptureLoopToStrip(stripIdx int, tempoBPM float64, bars int) [][]float32 {
	loop := e.Live.CaptureLoop(tempoBPM, bars, 10)
	if s := e.GetStrip(stripIdx); s != nil && len(loop) >= 2 && len(loop[0]) > 0 {
		var transients [types.Columns]int
		for i := range transients {
			transients[i] = i * len(loop[0]) / types.Columns
		}
		s.LoadBuffer(sample.NewBuffer(int(e.SampleRate), loop[0], loop[1]), transients, false)
	}
	return loop
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
