// Package pattern implements the beat-indexed event recorder/player of
// spec.md §4.4. It records strip trigger events against the host beat
// clock and loops them at bar boundaries once recording stops.
package pattern

import (
	"math"
	"sort"
)

// Event is a PatternEvent as defined in spec.md §3.
type Event struct {
	Strip        int
	Column       int
	BeatTime     float64 // beat_time_in_pattern
	IsNoteOn     bool
}

// Recorder is the PatternRecorder of spec.md §4.4.
type Recorder struct {
	LengthInBeats     float64
	RecordingStartBeat float64
	RecordingEndBeat   float64
	PlaybackStartBeat  float64

	Events []Event

	Recording bool
	Playing   bool
}

// NewRecorder creates an idle recorder for the given loop length in beats
// (typically 4 * bars).
func NewRecorder(lengthInBeats float64) *Recorder {
	return &Recorder{LengthInBeats: lengthInBeats}
}

// nextBeatCeil returns the smallest whole beat strictly greater than x —
// "the next ceiling beat" of spec.md §4.4 and §8's pattern-roundtrip
// example, where stopping exactly on beat 4.0 resumes playback at beat 5.0
// rather than 4.0.
func nextBeatCeil(x float64) float64 {
	f := math.Floor(x)
	if x == f {
		return f + 1
	}
	return math.Ceil(x)
}

// StartRecording begins recording, quantizing the start to the next beat
// boundary, per spec.md §4.4.
func (r *Recorder) StartRecording(currentBeat float64) {
	r.Events = nil
	r.Recording = true
	r.Playing = false
	r.RecordingStartBeat = nextBeatCeil(currentBeat)
}

// RecordEvent appends a trigger event at the given absolute beat, relative
// to RecordingStartBeat.
func (r *Recorder) RecordEvent(currentBeat float64, strip, column int) {
	if !r.Recording {
		return
	}
	r.Events = append(r.Events, Event{
		Strip:    strip,
		Column:   column,
		BeatTime: currentBeat - r.RecordingStartBeat,
		IsNoteOn: true,
	})
}

// StopRecording ends recording, sorts events by beat time, and begins
// playback at the next ceiling beat, per spec.md §4.4.
func (r *Recorder) StopRecording(currentBeat float64) {
	r.Recording = false
	r.RecordingEndBeat = currentBeat
	sort.Slice(r.Events, func(i, j int) bool { return r.Events[i].BeatTime < r.Events[j].BeatTime })
	r.PlaybackStartBeat = nextBeatCeil(currentBeat)
	r.Playing = true
}

// Stop halts playback without clearing recorded events.
func (r *Recorder) Stop() {
	r.Playing = false
}

// Clear removes all recorded events and stops playback/recording.
func (r *Recorder) Clear() {
	r.Events = nil
	r.Playing = false
	r.Recording = false
}

// ProcessEventsForBeatWindow visits every recorded event whose looped beat
// time falls within [from, to), implementing spec.md §4.4's windowed,
// cycle-aware dispatch: clamp from to PlaybackStartBeat, skip windows more
// than two loop lengths wide (a transport jump), and binary-search each
// loop cycle independently so events are never fired out of order or
// double-fired across a wrap.
func (r *Recorder) ProcessEventsForBeatWindow(from, to float64, callback func(Event)) {
	if !r.Playing || r.LengthInBeats <= 0 || len(r.Events) == 0 {
		return
	}

	if from < r.PlaybackStartBeat {
		from = r.PlaybackStartBeat
	}
	if to <= from {
		return
	}

	if to-from > 2*r.LengthInBeats {
		// transport jumped: skip rather than burst-fire every pending event
		return
	}

	anchor := r.PlaybackStartBeat
	L := r.LengthInBeats

	startCycle := int64(math.Floor((from - anchor) / L))
	endCycle := int64(math.Floor((to - 1e-9 - anchor) / L))

	for cycle := startCycle; cycle <= endCycle; cycle++ {
		cycleStart := anchor + float64(cycle)*L
		localFrom := from - cycleStart
		localTo := to - cycleStart
		if localFrom < 0 {
			localFrom = 0
		}
		if localTo > L {
			localTo = L
		}
		r.visitRange(localFrom, localTo, callback)
	}
}

// visitRange binary-searches the sorted event list for [lo, hi) in local
// (within-loop) beat coordinates.
func (r *Recorder) visitRange(lo, hi float64, callback func(Event)) {
	start := sort.Search(len(r.Events), func(i int) bool { return r.Events[i].BeatTime >= lo })
	for i := start; i < len(r.Events) && r.Events[i].BeatTime < hi; i++ {
		callback(r.Events[i])
	}
}
