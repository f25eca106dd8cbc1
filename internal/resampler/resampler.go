// Package resampler implements fractional-position sample reads for the
// strip playback kernel (spec.md §4.1). It knows nothing about tempo,
// triggers, or strips — it is a pure function of a buffer and a position.
package resampler

import "math"

// Quality selects the interpolation kernel.
type Quality int

const (
	Linear Quality = iota
	Cubic
	Sinc8
	Sinc16
)

// Buffer is the minimal read surface resampler needs; internal/sample.Buffer
// satisfies it.
type Buffer interface {
	Channels() int
	Frames() int
	At(channel, frame int) float32
}

// Read returns the interpolated sample for the given channel at a fractional
// frame position. It returns 0 for an empty buffer or an out-of-range
// channel, per spec.md §4.1's contract.
func Read(buf Buffer, channel int, position float64, quality Quality) float32 {
	n := buf.Frames()
	if n <= 0 || channel < 0 || channel >= buf.Channels() {
		return 0
	}

	switch quality {
	case Cubic:
		return readCubic(buf, channel, position, n)
	case Sinc8:
		return readSinc(buf, channel, position, n, 8)
	case Sinc16:
		return readSinc(buf, channel, position, n, 16)
	default:
		return readLinear(buf, channel, position, n)
	}
}

func wrapIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func readLinear(buf Buffer, channel int, position float64, n int) float32 {
	i0 := int(math.Floor(position))
	t := position - float64(i0)
	x0 := buf.At(channel, wrapIndex(i0, n))
	x1 := buf.At(channel, wrapIndex(i0+1, n))
	return float32((1-t)*float64(x0) + t*float64(x1))
}

// readCubic implements the four-point Catmull-style interpolation of
// spec.md §4.1: a0=y3-y2-y0+y1, a1=y0-y1-a0, a2=y2-y0, a3=y1.
func readCubic(buf Buffer, channel int, position float64, n int) float32 {
	i1 := int(math.Floor(position))
	t := position - float64(i1)

	y0 := float64(buf.At(channel, wrapIndex(i1-1, n)))
	y1 := float64(buf.At(channel, wrapIndex(i1, n)))
	y2 := float64(buf.At(channel, wrapIndex(i1+1, n)))
	y3 := float64(buf.At(channel, wrapIndex(i1+2, n)))

	a0 := y3 - y2 - y0 + y1
	a1 := y0 - y1 - a0
	a2 := y2 - y0
	a3 := y1

	result := ((a0*t+a1)*t+a2)*t + a3
	return float32(result)
}

// blackman3 is the three-term Blackman window used by the sinc kernels:
// 0.42 + 0.5*cos(pi*i/N) + 0.08*cos(2*pi*i/N).
func blackman3(i, taps int) float64 {
	n := float64(taps)
	x := float64(i)
	return 0.42 + 0.5*math.Cos(math.Pi*x/n) + 0.08*math.Cos(2*math.Pi*x/n)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// readSinc implements the windowed-sinc kernel of spec.md §4.1 with
// 2*taps+1 taps, wrapping indices modulo buffer length and normalizing by
// the accumulated window weight when it exceeds 1e-6.
func readSinc(buf Buffer, channel int, position float64, n, taps int) float32 {
	i0 := int(math.Floor(position))
	frac := position - float64(i0)

	var sum, weight float64
	for k := -taps; k <= taps; k++ {
		idx := i0 + k
		d := float64(k) - frac
		w := blackman3(k, taps) * sinc(d)
		sum += w * float64(buf.At(channel, wrapIndex(idx, n)))
		weight += w
	}

	if math.Abs(weight) > 1e-6 {
		sum /= weight
	}
	return float32(sum)
}
