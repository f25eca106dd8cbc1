package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternRoundtrip(t *testing.T) {
	r := NewRecorder(4) // 1 bar at 4/4

	r.StartRecording(0.3)
	assert.InDelta(t, 1.0, r.RecordingStartBeat, 1e-9)

	r.RecordEvent(1.5, 0, 3)
	r.RecordEvent(2.0, 0, 7)
	r.RecordEvent(2.5, 0, 9)

	r.StopRecording(4.0)
	assert.InDelta(t, 5.0, r.PlaybackStartBeat, 1e-9)
	assert.True(t, r.Playing)

	got := make([]float64, len(r.Events))
	for i, e := range r.Events {
		got[i] = e.BeatTime
	}
	assert.InDeltaSlice(t, []float64{0.5, 1.0, 1.5}, got, 1e-9)

	var fired []Event
	r.ProcessEventsForBeatWindow(5.0, 6.5, func(e Event) { fired = append(fired, e) })
	assert.Len(t, fired, 2)
	assert.Equal(t, 3, fired[0].Column)
}

func TestProcessEventsForBeatWindowClampsToPlaybackStart(t *testing.T) {
	r := NewRecorder(4)
	r.StartRecording(0)
	r.RecordEvent(1, 0, 1)
	r.StopRecording(2)

	var fired []Event
	// from is before playback start; should clamp rather than replaying
	// events from before the loop began
	r.ProcessEventsForBeatWindow(0, r.PlaybackStartBeat+0.5, func(e Event) { fired = append(fired, e) })
	assert.Len(t, fired, 1)
}

func TestProcessEventsForBeatWindowSkipsHugeJump(t *testing.T) {
	r := NewRecorder(4)
	r.StartRecording(0)
	r.RecordEvent(1, 0, 1)
	r.StopRecording(2)

	var fired []Event
	r.ProcessEventsForBeatWindow(r.PlaybackStartBeat, r.PlaybackStartBeat+100, func(e Event) { fired = append(fired, e) })
	assert.Empty(t, fired, "a >2x loop-length window should be skipped, not burst-fired")
}

func TestProcessEventsForBeatWindowLoopsAcrossCycles(t *testing.T) {
	r := NewRecorder(4)
	r.StartRecording(0)       // recording start quantizes to beat 1
	r.RecordEvent(1.5, 0, 1) // relative beat 0.5
	r.StopRecording(4)       // playback start = 5

	var fired []Event
	// cover two full loop cycles: [5, 13)
	r.ProcessEventsForBeatWindow(5, 13, func(e Event) { fired = append(fired, e) })
	assert.Len(t, fired, 2, "a recurring event should fire once per loop cycle")
}

func TestClearResetsState(t *testing.T) {
	r := NewRecorder(4)
	r.StartRecording(0)
	r.RecordEvent(1.5, 0, 1)
	r.StopRecording(4)
	r.Clear()

	assert.Empty(t, r.Events)
	assert.False(t, r.Playing)
	assert.False(t, r.Recording)
}
