package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendguard/internal/biometric"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

// InMemoryStore keeps protocol state in maps guarded by one mutex. Claims and
// counter updates happen under the write lock, which makes them atomic.
type InMemoryStore struct {
	mu         sync.Mutex
	challenges map[domain.ChallengeID]biometric.Challenge
	failures   map[domain.EmployeeID]biometric.FailureCounter
	lockouts   map[domain.EmployeeID]biometric.Lockout
	// retention keeps claimed and expired challenges around before pruning.
	retention time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		challenges: make(map[domain.ChallengeID]biometric.Challenge),
		failures:   make(map[domain.EmployeeID]biometric.FailureCounter),
		lockouts:   make(map[domain.EmployeeID]biometric.Lockout),
		retention:  5 * time.Minute,
	}
}

// SaveChallenge stores c and lazily prunes challenges past their retention.
func (s *InMemoryStore) SaveChallenge(_ context.Context, c biometric.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, old := range s.challenges {
		if c.IssuedAt.Sub(old.ExpiresAt) > s.retention {
			delete(s.challenges, id)
		}
	}
	s.challenges[c.SessionID] = c
	return nil
}

func (s *InMemoryStore) ClaimChallenge(_ context.Context, id domain.ChallengeID, now time.Time) (*biometric.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, sentinel.ErrNotFound)
	}
	if c.Expired(now) {
		delete(s.challenges, id)
		return nil, fmt.Errorf("challenge %s: %w", id, sentinel.ErrExpired)
	}
	if c.Used {
		return nil, fmt.Errorf("challenge %s: %w", id, sentinel.ErrAlreadyUsed)
	}
	c.Used = true
	s.challenges[id] = c
	claimed := c
	return &claimed, nil
}

func (s *InMemoryStore) RecordFailure(_ context.Context, subject domain.EmployeeID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc := s.failures[subject]
	fc.SubjectID = subject
	fc.Count++
	fc.LastAttemptAt = at
	s.failures[subject] = fc
	return fc.Count, nil
}

func (s *InMemoryStore) Failures(_ context.Context, subject domain.EmployeeID) (*biometric.FailureCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc, ok := s.failures[subject]
	if !ok {
		return nil, fmt.Errorf("failures for %s: %w", subject, sentinel.ErrNotFound)
	}
	return &fc, nil
}

func (s *InMemoryStore) ResetFailures(_ context.Context, subject domain.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, subject)
	return nil
}

func (s *InMemoryStore) Lock(_ context.Context, lockout biometric.Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockouts[lockout.SubjectID] = lockout
	return nil
}

func (s *InMemoryStore) ActiveLockout(_ context.Context, subject domain.EmployeeID, now time.Time) (*biometric.Lockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lockouts[subject]
	if !ok {
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	if now.After(l.ExpiresAt) {
		delete(s.lockouts, subject)
		delete(s.failures, subject)
		return nil, fmt.Errorf("lockout for %s: %w", subject, sentinel.ErrNotFound)
	}
	return &l, nil
}

func (s *InMemoryStore) ClearLockout(_ context.Context, subject domain.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lockouts, subject)
	return nil
}

// Len returns the number of retained challenges.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}
