package datasources

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Entries older than the retention window
// are dropped on read and by Prune.
type MemoryStore struct {
	entries   map[string]Entry
	retention time.Duration
	now       func() time.Time
	mu        sync.RWMutex
}

// NewMemoryStore creates a store; a zero retention keeps entries forever.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]Entry),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

// Prune removes entries past retention and returns how many were dropped.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(entry Entry) bool {
	return s.retention > 0 && s.now().Sub(entry.Timestamp) > s.retention
}
