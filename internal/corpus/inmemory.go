package corpus

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/vetralabs/vetra/internal/language"
)

// InMemoryStore keeps the corpus in process memory, for tests and local dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	examples []TrainingExample
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(_ context.Context, example TrainingExample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.examples = append(s.examples, example)
	return nil
}

func (s *InMemoryStore) Examples(_ context.Context, lang language.Tag) iter.Seq2[TrainingExample, error] {
	return func(yield func(TrainingExample, error) bool) {
		s.mu.RLock()
		matched := make([]TrainingExample, 0, len(s.examples))
		for _, ex := range s.examples {
			if ex.Language == lang {
				matched = append(matched, ex)
			}
		}
		s.mu.RUnlock()

		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		})
		for _, ex := range matched {
			if !yield(ex, nil) {
				return
			}
		}
	}
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

// Len reports the corpus size, used by tests to assert write isolation.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.examples)
}
