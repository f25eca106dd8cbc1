package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHexToUnit(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want float64
	}{
		{"zero", 0, 0},
		{"max", 254, 1},
		{"mid", 127, 127.0 / 254.0},
		{"negative clamps low", -5, 0},
		{"overflow clamps high", 999, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HexToUnit(tt.in), 1e-9)
		})
	}
}

func TestUnitToBipolar(t *testing.T) {
	assert.InDelta(t, -1.0, UnitToBipolar(0), 1e-9)
	assert.InDelta(t, 0.0, UnitToBipolar(0.5), 1e-9)
	assert.InDelta(t, 1.0, UnitToBipolar(1), 1e-9)
}

func TestExpRange(t *testing.T) {
	assert.InDelta(t, 20.0, ExpRange(0, 20, 20000), 1e-6)
	assert.InDelta(t, 20000.0, ExpRange(1, 20, 20000), 1e-6)
	// exponential midpoint is the geometric mean
	assert.InDelta(t, 632.45, ExpRange(0.5, 20, 20000), 1.0)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-5, 0, 1))
	assert.Equal(t, 1.0, Clamp(5, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}

func TestColumnStartFrac(t *testing.T) {
	assert.InDelta(t, 0.0, ColumnStartFrac(0), 1e-9)
	assert.InDelta(t, 0.5, ColumnStartFrac(8), 1e-9)
	assert.InDelta(t, 15.0/16.0, ColumnStartFrac(15), 1e-9)
	// out of range clamps to valid bounds rather than panicking
	assert.InDelta(t, 0.0, ColumnStartFrac(-1), 1e-9)
	assert.InDelta(t, 15.0/16.0, ColumnStartFrac(99), 1e-9)
}
