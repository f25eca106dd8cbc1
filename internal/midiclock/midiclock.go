// Package midiclock derives a PosInfo transport snapshot from incoming
// MIDI clock bytes (0xF8 at 24 pulses per quarter note, 0xFA/0xFC
// start/stop), for use as the host-transport fallback described in
// spec.md §6 when no DAW/plugin host supplies tempo and PPQ directly.
// Device open/close is grounded on the teacher's internal/midiconnector
// (gitlab.com/gomidi/midi/v2 + drivers + rtmididrv), generalized from
// note output to clock input.
package midiclock

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/schollz/mlrengine/internal/strip"
)

const pulsesPerQuarter = 24

// Source listens for MIDI clock on one input port and exposes the
// derived transport as atomics, safe to read from the audio thread
// without locking.
type Source struct {
	in drivers.In

	playing   atomic.Bool
	ppqBits   atomic.Uint64
	bpmBits   atomic.Uint64
	haveTempo atomic.Bool

	lastPulse  time.Time
	pulseCount int64
	stopFn     func()
}

// Devices lists available MIDI input port names, mirroring
// midiconnector.Devices for outputs.
func Devices() (names []string) {
	for _, in := range midi.GetInPorts() {
		names = append(names, in.String())
	}
	return
}

// Open finds the named MIDI input port and starts listening for clock
// messages in the background.
func Open(name string) (*Source, error) {
	in, err := midi.FindInPort(name)
	if err != nil {
		return nil, fmt.Errorf("midiclock: find input %q: %w", name, err)
	}
	s := &Source{in: in}
	s.bpmBits.Store(math.Float64bits(120))

	stop, err := midi.ListenTo(in, s.handleMessage)
	if err != nil {
		return nil, fmt.Errorf("midiclock: listen: %w", err)
	}
	s.stopFn = stop
	return s, nil
}

func (s *Source) handleMessage(msg midi.Message, _ int32) {
	if len(msg) == 0 {
		return
	}
	switch msg[0] {
	case 0xFA: // start
		s.playing.Store(true)
		s.pulseCount = 0
		s.ppqBits.Store(math.Float64bits(0))
	case 0xFC: // stop
		s.playing.Store(false)
	case 0xF8: // clock pulse, 24 per quarter note
		now := time.Now()
		if !s.lastPulse.IsZero() {
			dt := now.Sub(s.lastPulse).Seconds()
			if dt > 0 {
				bpm := 60.0 / (dt * pulsesPerQuarter)
				if bpm > 20 && bpm < 400 {
					s.bpmBits.Store(math.Float64bits(bpm))
					s.haveTempo.Store(true)
				}
			}
		}
		s.lastPulse = now
		s.pulseCount++
		s.ppqBits.Store(math.Float64bits(float64(s.pulseCount) / pulsesPerQuarter))
	}
}

// Snapshot returns the current transport as a strip.PosInfo, safe to
// call from the audio thread.
func (s *Source) Snapshot() strip.PosInfo {
	return strip.PosInfo{
		IsPlaying: s.playing.Load(),
		PPQ:       math.Float64frombits(s.ppqBits.Load()),
		BPM:       math.Float64frombits(s.bpmBits.Load()),
		HasTempo:  s.haveTempo.Load(),
	}
}

// Close stops listening and closes the underlying port.
func (s *Source) Close() error {
	if s.stopFn != nil {
		s.stopFn()
	}
	if s.in != nil {
		return s.in.Close()
	}
	return nil
}
