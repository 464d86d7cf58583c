package contextstore

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, maxEntries int, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		s.turns[sessionID] = append(s.turns[sessionID], t)
	}
	if maxEntries > 0 && len(s.turns[sessionID]) > maxEntries {
		arr := s.turns[sessionID]
		trimmed := make([]Turn, maxEntries)
		copy(trimmed, arr[len(arr)-maxEntries:])
		s.turns[sessionID] = trimmed
	}
	return nil
}

func (s *InMemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
