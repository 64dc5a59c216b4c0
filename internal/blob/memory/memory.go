package memory

import (
	"context"
	"sync"

	"spendings/internal/blob"
)

// Store keeps blobs in process memory. Values are copied in and out so
// callers cannot mutate stored bytes.
type Store struct {
	mu    sync.Mutex
	items map[string][]byte

	// SetErr, when non-nil, is returned by every Set. Tests use it to
	// exercise write failures.
	SetErr error
}

func New() *Store {
	return &Store{items: make(map[string][]byte)}
}

// NewWith returns a store seeded with a single key.
func NewWith(key string, data []byte) *Store {
	s := New()
	s.items[key] = append([]byte(nil), data...)
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.items[key] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of keys held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

var _ blob.Store = (*Store)(nil)
