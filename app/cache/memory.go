package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

type memoryWindow struct {
	events map[string]time.Time
}

// MemoryStore is a single-process Store used by tests and local runs without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memoryItem
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]memoryItem),
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for TTL expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.liveItem(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	item := memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
		delete(s.windows, key)
	}
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			delete(s.items, key)
		}
	}
	return nil
}

func (s *MemoryStore) RecordEvent(_ context.Context, key string, id string, at time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{events: make(map[string]time.Time)}
		s.windows[key] = w
	}
	w.events[id] = at

	cutoff := at.Add(-window)
	var count int64
	for eventID, eventAt := range w.events {
		if eventAt.Before(cutoff) {
			delete(w.events, eventID)
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.liveItem(key); held {
		return false, nil
	}
	item := memoryItem{value: []byte(token)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.liveItem(key); ok && string(item.value) == token {
		delete(s.items, key)
	}
	return nil
}

// TTL returns the remaining lifetime of a key, or zero when it is absent or has none.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.liveItem(key)
	if !ok || item.expiresAt.IsZero() {
		return 0
	}
	return item.expiresAt.Sub(s.now())
}

// liveItem must be called with mu held.
func (s *MemoryStore) liveItem(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}
