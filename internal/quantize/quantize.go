// Package quantize implements the per-strip PPQ-aligned trigger queue of
// spec.md §4.3 — the sample-accurate handoff between the host timeline and
// Strip.triggerAtSample. The pending-trigger list is the one place the
// audio thread and the control thread touch the same memory; callers are
// expected to guard it with the short spin-lock described in spec.md §5
// (this package itself is not concurrency-safe, matching the teacher's
// convention of pushing locking up to the caller that owns the shared
// state, e.g. internal/storage.AutoSave's external mutex).
package quantize

import (
	"math"
	"sort"

	"github.com/schollz/mlrengine/internal/types"
)

// Division is the quantize grid resolution in fractions of a whole note:
// quant_beats = 4/division.
type Division int

const (
	Div1 Division = 1
	Div2 Division = 2
	Div4 Division = 4
	Div8 Division = 8
	Div16 Division = 16
	Div32 Division = 32
	Div64 Division = 64
)

// Trigger is a QuantisedTrigger as defined in spec.md §3.
type Trigger struct {
	TargetSampleGlobal int64
	TargetPPQ          float64
	StripIndex         int
	Column             int
}

// Clock is the QuantizationClock of spec.md §4.3.
type Clock struct {
	TempoBPM    float64
	Division    Division
	SampleRate  float64
	CurrentPPQ  float64
	CurrentSamp int64

	pending []Trigger // sorted by TargetSampleGlobal
}

// NewClock builds a Clock at the given sample rate with a default tempo of
// 120 BPM and a 1/16 quantize grid.
func NewClock(sampleRate float64) *Clock {
	return &Clock{
		TempoBPM:   120,
		Division:   Div16,
		SampleRate: sampleRate,
	}
}

func (c *Clock) quantBeats() float64 {
	return 4.0 / float64(c.Division)
}

func (c *Clock) samplesPerQuarter() float64 {
	return (60.0 / c.TempoBPM) * c.SampleRate
}

// HasPending reports whether strip already holds a pending trigger — the
// gate-closed rule's guard.
func (c *Clock) HasPending(strip int) bool {
	for _, t := range c.pending {
		if t.StripIndex == strip {
			return true
		}
	}
	return false
}

// ScheduleTrigger implements spec.md §4.3's scheduleTrigger: it snaps
// currentPPQ forward to the next quantize-grid boundary, drops the press
// silently if the strip's gate is already closed, and otherwise inserts a
// new Trigger in target-sample order.
func (c *Clock) ScheduleTrigger(strip, column int, currentPPQ float64) {
	if c.HasPending(strip) {
		return // gate-closed: silently dropped
	}

	quantBeats := c.quantBeats()
	nextGrid := ceilToGrid(currentPPQ, quantBeats)
	// snap again via round to kill float drift, per spec.md §4.3 step 1
	nextGrid = roundToGrid(nextGrid, quantBeats)

	samplesPerQuarter := c.samplesPerQuarter()
	deltaBeats := nextGrid - currentPPQ
	targetSample := c.CurrentSamp + int64(deltaBeats*samplesPerQuarter)

	c.insert(Trigger{
		TargetSampleGlobal: targetSample,
		TargetPPQ:          nextGrid,
		StripIndex:         strip,
		Column:             column,
	})
}

func ceilToGrid(ppq, grid float64) float64 {
	n := ppq / grid
	ceil := float64(int64(n))
	if ceil < n {
		ceil++
	}
	next := ceil * grid
	if next <= ppq {
		next += grid
	}
	return next
}

func roundToGrid(v, grid float64) float64 {
	n := v / grid
	r := float64(int64(n + 0.5))
	if n < 0 {
		r = -float64(int64(-n + 0.5))
	}
	return r * grid
}

func (c *Clock) insert(t Trigger) {
	i := sort.Search(len(c.pending), func(i int) bool {
		return c.pending[i].TargetSampleGlobal > t.TargetSampleGlobal
	})
	c.pending = append(c.pending, Trigger{})
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = t
}

// GetEventsInRange removes and returns the prefix of pending triggers with
// TargetSampleGlobal < blockEnd, in target-sample order, per spec.md §4.3.
func (c *Clock) GetEventsInRange(blockStart, blockEnd int64) []Trigger {
	_ = blockStart
	n := 0
	for n < len(c.pending) && c.pending[n].TargetSampleGlobal < blockEnd {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]Trigger, n)
	copy(out, c.pending[:n])
	c.pending = c.pending[n:]
	return out
}

// ClearPendingTriggersForStrip implements trigger cancellation (spec.md §5).
func (c *Clock) ClearPendingTriggersForStrip(strip int) {
	out := c.pending[:0]
	for _, t := range c.pending {
		if t.StripIndex != strip {
			out = append(out, t)
		}
	}
	c.pending = out
}

// Pending returns a read-only snapshot of the pending trigger list.
func (c *Clock) Pending() []Trigger {
	out := make([]Trigger, len(c.pending))
	copy(out, c.pending)
	return out
}

// Advance moves the clock forward by nSamples of audio and the
// corresponding amount of PPQ, keeping sample time and beat time locked
// together as spec.md §5 requires.
func (c *Clock) Advance(nSamples int64) {
	c.CurrentSamp += nSamples
	beatsElapsed := float64(nSamples) / c.samplesPerQuarter()
	c.CurrentPPQ += beatsElapsed
}

// ResyncToPPQ hard-sets the clock's beat position without touching sample
// time, used when the host reports a PPQ jump (spec.md §7 "transport
// discontinuity").
func (c *Clock) ResyncToPPQ(ppq float64) {
	c.CurrentPPQ = ppq
}

// ApplySwing implements spec.md §9's swung_ppq = apply_swing(ppq, amount,
// division): every second subdivision of the grid (the "off" steps) is
// delayed by up to half a subdivision's duration, scaled by amountPct.
// The warp is piecewise-linear and continuous across subdivision
// boundaries so a position computed from the swung PPQ never jumps.
func ApplySwing(ppq, amountPct, division float64) float64 {
	amt := types.Clamp(amountPct, 0, 100) / 100
	if amt == 0 || division <= 0 {
		return ppq
	}
	stepBeats := 4.0 / division
	if stepBeats <= 0 {
		return ppq
	}
	pairBeats := stepBeats * 2
	pairIndex := math.Floor(ppq / pairBeats)
	within := ppq - pairIndex*pairBeats
	shift := amt * 0.5 * stepBeats

	var warped float64
	if within < stepBeats {
		warped = within * (stepBeats + shift) / stepBeats
	} else {
		warped = stepBeats + shift + (within-stepBeats)*(stepBeats-shift)/stepBeats
	}
	return pairIndex*pairBeats + warped
}
