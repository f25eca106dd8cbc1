// Package modseq implements the per-strip 16-step parameter modulator of
// spec.md §4.6. Each strip owns one Sequencer; the engine snapshots a
// target parameter, applies the current step's modulation for the
// duration of one processed segment, then restores it, the same
// snapshot-modify-restore shape the teacher used for per-trigger note
// modulation in internal/modulation.
package modseq

import (
	"math"

	"github.com/schollz/mlrengine/internal/types"
)

const numSteps = types.Columns

// CurveMode selects how a step's raw [0,1] value is shaped before use.
type CurveMode int

const (
	CurveLinear CurveMode = iota
	CurveExpo
	CurveLog
)

// Sequencer is the ModSequencer of spec.md §4.6.
type Sequencer struct {
	Target   types.ModTarget
	Bipolar  bool
	Curve    CurveMode
	Depth    float64 // [0,1]
	Offset   int     // [-15,15]
	Steps    [numSteps]float64
}

// NewSequencer returns an idle sequencer targeting nothing.
func NewSequencer() *Sequencer {
	return &Sequencer{Target: types.ModNone, Depth: 1}
}

// stepIndex implements spec.md §4.6's step-index formula: the current
// step wraps both the column and the configured offset into [0,16).
func stepIndex(currentColumn, offset int) int {
	return ((currentColumn+offset)%numSteps + numSteps) % numSteps
}

func shapeCurve(raw float64, curve CurveMode) float64 {
	switch curve {
	case CurveExpo:
		return raw * raw
	case CurveLog:
		return math.Sqrt(types.Clamp(raw, 0, 1))
	default:
		return raw
	}
}

// Value returns the signed, depth-scaled modulation value for the given
// timeline column: signed_value = bipolar ? 2*raw-1 : raw, scaled by
// Depth, per spec.md §4.6.
func (s *Sequencer) Value(currentColumn int) float64 {
	if s.Target == types.ModNone {
		return 0
	}
	idx := stepIndex(currentColumn, s.Offset)
	raw := types.Clamp(s.Steps[idx], 0, 1)
	raw = shapeCurve(raw, s.Curve)

	signed := raw
	if s.Bipolar {
		signed = types.UnitToBipolar(raw)
	}
	return signed * s.Depth
}

// Snapshot captures a float64 parameter's current value so it can be
// restored after a modulated segment, mirroring the
// snapshot/modify/restore pattern spec.md §4.6 requires around
// strip.process.
type Snapshot struct {
	value *float64
	saved float64
}

// Apply snapshots *param, adds the scaled modulation for target onto it,
// and returns a Snapshot that Restore undoes. Scales follow spec.md
// §4.6's fixed per-target table: Pan is additive ±1, Pitch is additive
// ±12 semitones, Cutoff is multiplicative 2^(2.5*mod), GrainSize is
// additive ±600ms, and all other continuous [0,1] targets (Volume,
// Speed, Resonance, grain density/jitter/spread/etc.) are additive within
// [-1,1] before the caller clamps to its own domain.
func Apply(param *float64, target types.ModTarget, mod float64) Snapshot {
	snap := Snapshot{value: param, saved: *param}
	switch target {
	case types.ModPan:
		*param += mod * 1.0
	case types.ModPitch:
		*param += mod * 12.0
	case types.ModCutoff:
		*param *= math.Pow(2, 2.5*mod)
	case types.ModGrainSize:
		*param += mod * 600.0
	default:
		*param += mod
	}
	return snap
}

// Restore undoes Apply, writing the pre-modulation value back.
func (s Snapshot) Restore() {
	if s.value != nil {
		*s.value = s.saved
	}
}
