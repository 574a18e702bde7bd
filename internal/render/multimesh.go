package render

import "sync"

// BatchTracker spreads multimesh transform flushes across ticks with a
// strict round-robin guarantee: an instance's modulus slot decides *when*
// it flushes, but no instance is ever allowed to go more than modulus
// ticks without flushing, even if it never lands on its own slot again
// after being marked dirty outside that window.
type BatchTracker struct {
	mu           sync.Mutex
	lastFlushed  map[int]uint64
}

// NewBatchTracker creates an empty BatchTracker.
func NewBatchTracker() *BatchTracker {
	return &BatchTracker{lastFlushed: make(map[int]uint64)}
}

// ShouldFlush reports whether instance index should flush this frame, and
// records the flush if so. An index never seen before always flushes
// immediately (it cannot have been starved).
func (b *BatchTracker) ShouldFlush(index int, frame, modulus uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, seen := b.lastFlushed[index]
	overdue := !seen || frame-last >= modulus
	onSlot := modulus > 0 && uint64(index)%modulus == frame%modulus

	if overdue || onSlot {
		b.lastFlushed[index] = frame
		return true
	}
	return false
}
