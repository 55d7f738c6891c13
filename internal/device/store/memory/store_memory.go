package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"attendguard/internal/device"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/sentinel"
)

// InMemoryStore keeps bindings in two maps guarded by one RWMutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	byEmployee map[domain.EmployeeID]device.Binding
	byToken    map[string]domain.EmployeeID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byEmployee: make(map[domain.EmployeeID]device.Binding),
		byToken:    make(map[string]domain.EmployeeID),
	}
}

func (s *InMemoryStore) FindByEmployee(_ context.Context, employeeID domain.EmployeeID) (*device.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byEmployee[employeeID]
	if !ok {
		return nil, fmt.Errorf("binding for employee %s: %w", employeeID, sentinel.ErrNotFound)
	}
	return &b, nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*device.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, fmt.Errorf("binding for token: %w", sentinel.ErrNotFound)
	}
	b := s.byEmployee[id]
	return &b, nil
}

func (s *InMemoryStore) Bind(_ context.Context, binding device.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmployee[binding.EmployeeID]; ok {
		return fmt.Errorf("employee %s already bound: %w", binding.EmployeeID, sentinel.ErrConflict)
	}
	if _, ok := s.byToken[binding.Token]; ok {
		return fmt.Errorf("token already bound: %w", sentinel.ErrConflict)
	}
	s.byEmployee[binding.EmployeeID] = binding
	s.byToken[binding.Token] = binding.EmployeeID
	return nil
}

func (s *InMemoryStore) Rotate(_ context.Context, employeeID domain.EmployeeID, currentToken, newToken string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byEmployee[employeeID]
	if !ok {
		return fmt.Errorf("binding for employee %s: %w", employeeID, sentinel.ErrNotFound)
	}
	if b.Token != currentToken {
		return fmt.Errorf("token changed concurrently: %w", sentinel.ErrConflict)
	}
	if owner, ok := s.byToken[newToken]; ok && owner != employeeID {
		return fmt.Errorf("token already bound: %w", sentinel.ErrConflict)
	}
	delete(s.byToken, currentToken)
	b.Token = newToken
	b.RotatedAt = &at
	s.byEmployee[employeeID] = b
	s.byToken[newToken] = employeeID
	return nil
}

func (s *InMemoryStore) Unbind(_ context.Context, employeeID domain.EmployeeID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byEmployee[employeeID]
	if !ok || b.Token != token {
		return fmt.Errorf("binding for employee %s: %w", employeeID, sentinel.ErrNotFound)
	}
	delete(s.byEmployee, employeeID)
	delete(s.byToken, token)
	return nil
}
