package monitor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureBarsGrowsToStripCount(t *testing.T) {
	m := New(nil)
	m.strips = []StripSnapshot{{Index: 0}, {Index: 1}, {Index: 2}}
	m.ensureBars()
	assert.Len(t, m.bars, 3)
}

func TestEnsureBarsIsIdempotentOnceGrown(t *testing.T) {
	m := New(nil)
	m.strips = []StripSnapshot{{Index: 0}}
	m.ensureBars()
	m.ensureBars()
	assert.Len(t, m.bars, 1)
}

func TestViewRendersOneLinePerStrip(t *testing.T) {
	m := New(nil)
	m.strips = []StripSnapshot{
		{Index: 0, Playing: true, Column: 3, Volume: 0.5, GrainVoices: 2},
		{Index: 1, Playing: false, Column: 0, Volume: 0.1},
	}
	m.ensureBars()
	view := m.View()
	assert.Equal(t, 3, strings.Count(view, "\n"))
	assert.Contains(t, view, "strip")
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-1))
	assert.Equal(t, 1.0, clamp01(2))
	assert.Equal(t, 0.5, clamp01(0.5))
}
