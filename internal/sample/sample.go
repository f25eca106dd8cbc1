// Package sample owns the stereo audio buffer backing each Strip and the
// file-load path that fills it. Loading is grounded on the teacher's
// internal/getbpm.Length — the same WAV-header read used here to
// validate a file before committing it to a strip, per spec.md §7's
// "mutate engine state only after full successful read into a temporary
// buffer" rule.
package sample

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/schollz/mlrengine/internal/getbpm"
)

// Sentinel errors for load_sample_from_file's failure kinds (spec.md §7).
var (
	ErrUnsupportedFormat = errors.New("sample: unsupported file format")
	ErrInvalidSampleRate = errors.New("sample: invalid sample rate")
	ErrTooLong           = errors.New("sample: sample too long")
	ErrTooManyChannels   = errors.New("sample: too many channels")
	ErrEmptyBuffer       = errors.New("sample: empty buffer")
)

const (
	maxSampleRateHz = 384_000
	maxChannels     = 8
	// ~38 minutes at 44.1kHz, per spec.md §7.
	maxFrames44k = int(38 * 60 * 44100)
)

// Buffer is the stereo sample store a Strip reads from. It satisfies
// resampler.Buffer directly; mono sources are upmixed to two identical
// channels on load, per spec.md §3.
type Buffer struct {
	sampleRate int
	frames     [][]float32 // [channel][frame], always 2 channels
}

// NewBuffer wraps already-upmixed stereo frame data.
func NewBuffer(sampleRate int, left, right []float32) *Buffer {
	return &Buffer{sampleRate: sampleRate, frames: [][]float32{left, right}}
}

// Channels satisfies resampler.Buffer; always stereo.
func (b *Buffer) Channels() int { return 2 }

// Frames satisfies resampler.Buffer.
func (b *Buffer) Frames() int {
	if b == nil || len(b.frames) == 0 {
		return 0
	}
	return len(b.frames[0])
}

// At satisfies resampler.Buffer.
func (b *Buffer) At(channel, frame int) float32 {
	if channel < 0 || channel >= len(b.frames) {
		return 0
	}
	if frame < 0 || frame >= len(b.frames[channel]) {
		return 0
	}
	return b.frames[channel][frame]
}

// SampleRate returns the buffer's native sample rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// LoadFromFile decodes a WAV file into a new Buffer, validating sample
// rate, length, and channel count before any allocation is returned to
// the caller, so a failed load never mutates a strip's existing buffer
// (spec.md §7).
func LoadFromFile(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sample: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("sample: decode %q: %w", path, err)
	}

	return fromPCMBuffer(buf)
}

func fromPCMBuffer(buf *audio.IntBuffer) (*Buffer, error) {
	format := buf.Format
	if format == nil || format.SampleRate <= 0 || format.SampleRate > maxSampleRateHz {
		return nil, ErrInvalidSampleRate
	}
	if format.NumChannels <= 0 || format.NumChannels > maxChannels {
		return nil, ErrTooManyChannels
	}

	totalFrames := len(buf.Data) / format.NumChannels
	if totalFrames <= 0 {
		return nil, ErrEmptyBuffer
	}
	maxFrames := int(float64(maxFrames44k) * float64(format.SampleRate) / 44100.0)
	if totalFrames > maxFrames {
		return nil, ErrTooLong
	}

	maxVal := float32(buf.SourceBitDepth)
	if maxVal <= 0 {
		maxVal = 16
	}
	scale := float32(1.0 / math.Pow(2, float64(maxVal-1)))

	left := make([]float32, totalFrames)
	var right []float32
	if format.NumChannels > 1 {
		right = make([]float32, totalFrames)
	}

	for i := 0; i < totalFrames; i++ {
		l := float32(buf.Data[i*format.NumChannels]) * scale
		left[i] = l
		if format.NumChannels > 1 {
			right[i] = float32(buf.Data[i*format.NumChannels+1]) * scale
		}
	}
	if right == nil {
		right = make([]float32, totalFrames)
		copy(right, left)
	}

	return &Buffer{sampleRate: format.SampleRate, frames: [][]float32{left, right}}, nil
}

// InferTempo derives a beat count and BPM for a loaded file, wrapping
// the teacher's filename/duration heuristic in internal/getbpm so a
// strip can default its beats_per_loop without requiring the performer
// to type a tempo.
func InferTempo(path string) (beats float64, bpm float64, err error) {
	return getbpm.GetBPM(path)
}

// BuildTransientSliceMap computes 16 column-start sample indices from a
// simple spectral-flux-style onset detector: frame the mono-summed
// signal, track frame-to-frame energy increase, and pick the 16
// strongest onsets in time order. Falls back to uniform spacing when
// fewer than 16 onsets are found, per spec.md §3's "Transient slice map".
func BuildTransientSliceMap(b *Buffer, columns int) [16]int {
	var out [16]int
	n := b.Frames()
	if n <= 0 {
		return out
	}

	const frameSize = 1024
	numFrames := n / frameSize
	if numFrames < columns {
		for i := 0; i < columns; i++ {
			out[i] = i * n / columns
		}
		return out
	}

	energies := make([]float64, numFrames)
	for f := 0; f < numFrames; f++ {
		var sum float64
		start := f * frameSize
		for i := start; i < start+frameSize && i < n; i++ {
			l := float64(b.At(0, i))
			r := float64(b.At(1, i))
			m := (l + r) / 2
			sum += m * m
		}
		energies[f] = math.Sqrt(sum / frameSize)
	}

	flux := make([]float64, numFrames)
	for f := 1; f < numFrames; f++ {
		d := energies[f] - energies[f-1]
		if d > 0 {
			flux[f] = d
		}
	}

	type onset struct {
		frame int
		flux  float64
	}
	onsets := make([]onset, numFrames)
	for f := range flux {
		onsets[f] = onset{f, flux[f]}
	}

	// partial selection-sort for the columns strongest onsets; numFrames
	// is bounded by real sample lengths so this stays cheap in practice.
	picked := make([]int, 0, columns)
	used := make([]bool, numFrames)
	for c := 0; c < columns; c++ {
		best := -1
		bestFlux := 0.0
		for f, o := range onsets {
			if used[f] {
				continue
			}
			if o.flux > bestFlux {
				bestFlux = o.flux
				best = f
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, best*frameSize)
	}

	if len(picked) < columns {
		for i := 0; i < columns; i++ {
			out[i] = i * n / columns
		}
		return out
	}

	sortInts(picked)
	for i := 0; i < columns; i++ {
		out[i] = picked[i]
	}
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
