package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWindowNotFound is returned by stores when no active window exists for a
// key.
var ErrWindowNotFound = errors.New("ratelimit: window not found")

// Window is one logical counter row: the active fixed window for a key.
type Window struct {
	Key         string
	Count       int
	WindowStart time.Time
	ExpiresAt   time.Time
}

// CounterStore is the narrow contract to the external counter authority.
// Increment must be atomic per key at the store layer so concurrent server
// instances never lose updates.
type CounterStore interface {
	// Increment adds one to the key's active window, creating it with
	// count=1 when absent or expired, and returns the updated window.
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
	// Get returns the key's window or ErrWindowNotFound. Stores may return
	// expired windows; callers own lazy cleanup via Delete.
	Get(ctx context.Context, key string) (Window, error)
	// Delete removes the key's window. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process CounterStore for tests and single-instance
// deployments.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Window
	nowFn func() time.Time
}

// MemoryStoreOption customizes a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock overrides the clock, mainly for tests.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		items: map[string]Window{},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Increment satisfies the CounterStore interface.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Window, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok || !now.Before(entry.ExpiresAt) {
		entry = Window{
			Key:         key,
			Count:       1,
			WindowStart: now,
			ExpiresAt:   now.Add(window),
		}
		s.items[key] = entry
		return entry, nil
	}

	entry.Count++
	s.items[key] = entry
	return entry, nil
}

// Get satisfies the CounterStore interface.
func (s *MemoryStore) Get(_ context.Context, key string) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	if !ok {
		return Window{}, ErrWindowNotFound
	}
	return entry, nil
}

// Delete satisfies the CounterStore interface.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len reports the number of tracked windows, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

var _ CounterStore = (*MemoryStore)(nil)
