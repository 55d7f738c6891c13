package forwarder

import (
	"sync"

	"attendguard/internal/ledger"
)

// RingBuffer is a bounded, thread-safe queue of ledger entries.
// When full, the oldest entries are dropped to make room for new ones.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []ledger.Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
	dropped  int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		entries:  make([]ledger.Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest if necessary. It reports whether
// an entry was dropped.
func (b *RingBuffer) Enqueue(e ledger.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if b.count >= b.capacity {
		b.entries[b.tail] = ledger.Entry{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.entries[b.head] = e
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// DequeueBatch removes up to n entries, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []ledger.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	n = min(n, b.count)

	out := make([]ledger.Entry, n)
	for i := range n {
		out[i] = b.entries[b.tail]
		b.entries[b.tail] = ledger.Entry{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
