// Package enginelog routes audio-thread log lines through a lock-free
// ring buffer to a background drain goroutine, instead of calling
// log.Printf directly from the audio callback. The teacher's components
// (e.g. internal/midiplayer) log synchronously with log.Printf and
// bracketed component tags — the spec's design notes (§9) call that
// pattern out explicitly as unsafe once the caller is the audio thread,
// so this package keeps the same tag style and message shape but drains
// asynchronously.
package enginelog

import (
	"fmt"
	"log"
	"sync/atomic"
)

const ringSize = 1024

type entry struct {
	tag string
	msg string
}

// Ring is a single-producer/single-consumer lock-free log ring: the
// audio thread calls Push (never blocks, drops on overflow), and a
// control-thread goroutine calls Drain to flush to the standard logger.
type Ring struct {
	buf        [ringSize]entry
	writeIndex atomic.Uint64
	readIndex  atomic.Uint64
	dropped    atomic.Uint64
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{}
}

// Push enqueues a tagged message without blocking or allocating beyond
// the fmt.Sprintf call already required to format it; if the ring is
// full the message is dropped and counted rather than stalling the
// audio thread.
func (r *Ring) Push(tag, format string, args ...any) {
	w := r.writeIndex.Load()
	read := r.readIndex.Load()
	if w-read >= ringSize {
		r.dropped.Add(1)
		return
	}
	r.buf[w%ringSize] = entry{tag: tag, msg: fmt.Sprintf(format, args...)}
	r.writeIndex.Add(1)
}

// Drain flushes all currently-queued messages to the standard logger,
// in the teacher's "[TAG] message" bracketed style. Call this from a
// non-audio goroutine on a timer or after each block.
func (r *Ring) Drain() {
	w := r.writeIndex.Load()
	read := r.readIndex.Load()
	for read < w {
		e := r.buf[read%ringSize]
		log.Printf("[%s] %s", e.tag, e.msg)
		read++
	}
	r.readIndex.Store(read)

	if dropped := r.dropped.Swap(0); dropped > 0 {
		log.Printf("[ENGINELOG] dropped %d messages (ring full)", dropped)
	}
}
