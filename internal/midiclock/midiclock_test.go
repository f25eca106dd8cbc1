package midiclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandleMessageStartResetsPulseCount(t *testing.T) {
	s := &Source{}
	s.pulseCount = 40
	s.handleMessage([]byte{0xFA}, 0)
	assert.True(t, s.Snapshot().IsPlaying)
	assert.Equal(t, int64(0), s.pulseCount)
}

func TestHandleMessageStopClearsPlaying(t *testing.T) {
	s := &Source{}
	s.playing.Store(true)
	s.handleMessage([]byte{0xFC}, 0)
	assert.False(t, s.Snapshot().IsPlaying)
}

func TestHandleMessageClockAdvancesPPQ(t *testing.T) {
	s := &Source{}
	for i := 0; i < pulsesPerQuarter; i++ {
		s.handleMessage([]byte{0xF8}, 0)
		s.lastPulse = s.lastPulse.Add(-20 * time.Millisecond)
	}
	assert.InDelta(t, 1.0, s.Snapshot().PPQ, 1e-9)
}

func TestHandleMessageIgnoresEmptyBytes(t *testing.T) {
	s := &Source{}
	assert.NotPanics(t, func() {
		s.handleMessage([]byte{}, 0)
	})
}
