// Package liverec implements the continuous circular input-capture buffer
// of spec.md §4.5: the audio thread always writes incoming audio into a
// ring, and capturing a loop bakes an equal-power crossfade between the
// pre-roll and the loop tail so the result plays back without a seam.
package liverec

import "math"

const (
	minRingFrames = 2_000_000
	maxRingFrames = 8_000_000

	defaultCrossfadeMs = 10.0
)

// Recorder is the LiveRecorder of spec.md §4.5.
type Recorder struct {
	sampleRate float64
	ring       [][]float32 // [channel][frame]
	writeHead  int
	frames     int
}

// NewRecorder sizes the ring for 8 bars at the given minimum tempo with a
// 1.5x safety margin, clamped to [2e6, 8e6] frames, per spec.md §4.5.
func NewRecorder(sampleRate float64, minTempoBPM float64, channels int) *Recorder {
	if minTempoBPM <= 0 {
		minTempoBPM = 60
	}
	barsFrames := (60.0 / minTempoBPM) * sampleRate * 4 * 8
	sized := barsFrames * 1.5
	frames := clampInt(int(sized), minRingFrames, maxRingFrames)

	ring := make([][]float32, channels)
	for c := range ring {
		ring[c] = make([]float32, frames)
	}

	return &Recorder{sampleRate: sampleRate, ring: ring, frames: frames}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Write appends one block of input audio (interleaved per channel slice)
// into the ring, advancing the write head. The audio thread calls this
// every block; it never allocates.
func (r *Recorder) Write(block [][]float32) {
	if len(block) == 0 || len(block[0]) == 0 {
		return
	}
	n := len(block[0])
	for c := range r.ring {
		var src []float32
		if c < len(block) {
			src = block[c]
		} else if len(block) > 0 {
			src = block[0] // mono->stereo duplication
		}
		for i := 0; i < n; i++ {
			idx := (r.writeHead + i) % r.frames
			var v float32
			if i < len(src) {
				v = src[i]
			}
			r.ring[c][idx] = v
		}
	}
	r.writeHead = (r.writeHead + n) % r.frames
}

func (r *Recorder) at(channel, offsetFromHead int) float32 {
	idx := ((r.writeHead-offsetFromHead)%r.frames + r.frames) % r.frames
	return r.ring[channel][idx]
}

// CaptureLoop implements spec.md §4.5's captureLoop: it computes
// loop_frames from tempo and bar count, reads loop_frames+crossfade_frames
// walking backward from the write head, and bakes an equal-power
// crossfade of crossfadeMs (default 10ms) between the pre-roll (audio
// before the loop start) and the loop tail using
// fade_in=sqrt(sin(t*pi/2)), fade_out=sqrt(cos(t*pi/2)).
func (r *Recorder) CaptureLoop(tempoBPM float64, bars int, crossfadeMs float64) [][]float32 {
	if crossfadeMs <= 0 {
		crossfadeMs = defaultCrossfadeMs
	}
	loopFrames := int((60.0 / tempoBPM) * r.sampleRate * 4 * float64(bars))
	crossfadeFrames := int(crossfadeMs * 0.001 * r.sampleRate)
	if crossfadeFrames < 1 {
		crossfadeFrames = 1
	}
	if crossfadeFrames > loopFrames {
		crossfadeFrames = loopFrames
	}

	out := make([][]float32, len(r.ring))
	for c := range r.ring {
		out[c] = make([]float32, loopFrames)

		// loopTail[i] is the sample at loop-relative frame i (most recent
		// loopFrames samples before the write head).
		for i := 0; i < loopFrames; i++ {
			offset := loopFrames - i
			out[c][i] = r.at(c, offset)
		}

		// preRoll[i] is the crossfadeFrames samples immediately preceding
		// the loop start.
		for i := 0; i < crossfadeFrames; i++ {
			t := float64(i) / float64(crossfadeFrames)
			fadeIn := math.Sqrt(math.Sin(t * math.Pi / 2))
			fadeOut := math.Sqrt(math.Cos(t * math.Pi / 2))

			preRollOffset := loopFrames + crossfadeFrames - i
			preRoll := r.at(c, preRollOffset)
			loopTail := out[c][i]

			out[c][i] = float32(float64(loopTail)*fadeIn + float64(preRoll)*fadeOut)
		}
	}
	return out
}

// Frames returns the ring buffer's capacity in frames.
func (r *Recorder) Frames() int { return r.frames }
