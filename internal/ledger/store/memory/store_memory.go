package memory

import (
	"context"
	"maps"
	"sync"

	"attendguard/internal/ledger"
)

const defaultCapacity = 10000

// InMemoryStore keeps the most recent entries in a bounded ring. When full,
// the oldest entry is dropped to make room for the new one.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  []ledger.Entry
	head     int // next write position
	count    int
	capacity int
	dropped  int64
	lastHash string
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &InMemoryStore{
		entries:  make([]ledger.Entry, capacity),
		capacity: capacity,
	}
}

func (s *InMemoryStore) Append(_ context.Context, seal func(prevHash string) ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := seal(s.lastHash)
	entry.Details = maps.Clone(entry.Details)

	if s.count == s.capacity {
		s.dropped++
	} else {
		s.count++
	}
	s.entries[s.head] = entry
	s.head = (s.head + 1) % s.capacity
	s.lastHash = entry.ChainHash
	return cloneEntry(entry), nil
}

func (s *InMemoryStore) Query(_ context.Context, filter ledger.Filter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	// newest first
	for i := 0; i < s.count; i++ {
		e := s.entries[(s.head-1-i+s.capacity)%s.capacity]
		if filter.Matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) Window(_ context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Entry, 0, s.count)
	tail := (s.head - s.count + s.capacity) % s.capacity
	for i := 0; i < s.count; i++ {
		out = append(out, cloneEntry(s.entries[(tail+i)%s.capacity]))
	}
	return out, nil
}

// Len returns the number of retained entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dropped returns how many entries retention has trimmed.
func (s *InMemoryStore) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Tamper replaces the details of a retained entry without resealing it.
// Test helper for integrity verification.
func (s *InMemoryStore) Tamper(eventID string, details ledger.Details) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].EventID == eventID {
			s.entries[i].Details = details
			return true
		}
	}
	return false
}

func cloneEntry(e ledger.Entry) ledger.Entry {
	e.Details = maps.Clone(e.Details)
	return e
}
