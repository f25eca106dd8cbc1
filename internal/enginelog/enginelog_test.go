package enginelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainCatchesReadIndexUpToWriteIndex(t *testing.T) {
	r := New()
	r.Push("ENGINE", "trigger strip=%d column=%d", 0, 5)
	r.Push("ENGINE", "trigger strip=%d column=%d", 1, 3)

	assert.Equal(t, uint64(2), r.writeIndex.Load())
	r.Drain()
	assert.Equal(t, r.writeIndex.Load(), r.readIndex.Load())
}

func TestPushDropsWhenRingFull(t *testing.T) {
	r := New()
	for i := 0; i < ringSize+10; i++ {
		r.Push("ENGINE", "msg %d", i)
	}
	assert.Equal(t, uint64(10), r.dropped.Load())
}

func TestDrainResetsDropCounter(t *testing.T) {
	r := New()
	for i := 0; i < ringSize+1; i++ {
		r.Push("ENGINE", "msg %d", i)
	}
	r.Drain()
	assert.Equal(t, uint64(0), r.dropped.Load())
}
