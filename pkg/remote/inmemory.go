package remote

import (
	"context"
	"sync"
)

// InMemorySource is a thread-safe, in-memory Source. It backs local
// development and tests; validate, when non-nil, plays the part of the
// service's own range checks.
type InMemorySource[V any] struct {
	mu       sync.RWMutex
	data     map[string]V
	validate Validator[V]
}

// NewInMemorySource creates an empty in-memory source.
func NewInMemorySource[V any](validate Validator[V]) *InMemorySource[V] {
	return &InMemorySource[V]{
		data:     make(map[string]V),
		validate: validate,
	}
}

// Get retrieves the record stored under key.
func (s *InMemorySource[V]) Get(_ context.Context, key string) (V, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	return value, ok, nil
}

// Set stores value under key after validation.
func (s *InMemorySource[V]) Set(_ context.Context, key string, value V) error {
	if s.validate != nil {
		if err := s.validate(value); err != nil {
			return NewError(KindInvalidValue, "set", key, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete removes key. It exists for tests and tooling; the service contract
// has no delete.
func (s *InMemorySource[V]) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Close is a no-op for the in-memory implementation.
func (s *InMemorySource[V]) Close() error {
	return nil
}
