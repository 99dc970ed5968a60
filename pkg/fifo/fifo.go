// Package fifo implements the bounded, single-producer/single-consumer
// outbound MIDI byte ring spec.md section 3 describes: the host thread
// (producer, via Push) and the engine tick thread (consumer, via
// Drain) may call concurrently, with no lock, because exactly one
// thread ever produces and exactly one ever consumes.
package fifo

import "sync/atomic"

// minCapacity is the smallest ring size spec.md allows ("bounded ring
// (>=2048 bytes)").
const minCapacity = 2048

// FIFO is a fixed-capacity byte ring. The zero value is not usable;
// construct with New.
//
// writeCursor is advanced only by the producer, after every byte of a
// block has been copied into the ring (spec.md: "the block is either
// fully inserted or fully rejected; the write pointer advances only
// after all bytes of a block are buffered"). readCursor is advanced
// only by the consumer, after draining. Both cursors are monotonically
// increasing counts of bytes ever written/read, not wrapped indices, so
// the occupied length is always writeCursor-readCursor regardless of
// wraparound — loaded/stored with Acquire/Release ordering so each side
// observes a consistent view of the other's progress without a mutex.
type FIFO struct {
	buf []byte

	writeCursor atomic.Uint64
	readCursor  atomic.Uint64
}

// New constructs a FIFO with the given capacity in bytes, rounded up to
// minCapacity if smaller.
func New(capacity int) *FIFO {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &FIFO{buf: make([]byte, capacity)}
}

// Push attempts to insert b atomically: either every byte of b is
// buffered, or none are. Reports false if b does not currently fit.
// Safe to call concurrently with Drain from one other goroutine (and
// only one).
func (f *FIFO) Push(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	size := len(f.buf)
	w := f.writeCursor.Load()
	r := f.readCursor.Load()
	used := int(w - r)
	if used+len(b) > size {
		return false
	}

	for i, c := range b {
		f.buf[(int(w)+i)%size] = c
	}
	f.writeCursor.Store(w + uint64(len(b)))
	return true
}

// Len reports the number of buffered, undrained bytes.
func (f *FIFO) Len() int {
	w := f.writeCursor.Load()
	r := f.readCursor.Load()
	return int(w - r)
}

// Drain removes up to max bytes from the front of the ring, in FIFO
// order, and returns them. Called only from the consumer side.
func (f *FIFO) Drain(max int) []byte {
	size := len(f.buf)
	w := f.writeCursor.Load()
	r := f.readCursor.Load()
	n := int(w - r)
	if n > max {
		n = max
	}
	if n <= 0 {
		return nil
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = f.buf[(int(r)+i)%size]
	}
	f.readCursor.Store(r + uint64(n))
	return out
}
