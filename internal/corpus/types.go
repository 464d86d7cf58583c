// Package corpus owns the append-only training record store that seeds the
// rule and creative engines. All writes are gated by an owner capability.
package corpus

import (
	"context"
	"iter"
	"time"

	"github.com/vetralabs/vetra/internal/language"
)

// InstructionBlockedPhrase marks a training record whose prompts are literal
// phrases the rule engine must block, rather than creative seed material.
const InstructionBlockedPhrase = "blocked_phrase"

// Pair is one ordered prompt/response example within a training record.
type Pair struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// TrainingExample is immutable once created; there is no update or delete.
type TrainingExample struct {
	ID          string       `json:"id"`
	Language    language.Tag `json:"language"`
	Instruction string       `json:"instruction"`
	Examples    []Pair       `json:"examples"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Store persists training examples. Examples yields records for one language
// ordered by created_at ascending; the sequence is finite and restartable
// (each range re-reads from the store).
type Store interface {
	Insert(ctx context.Context, example TrainingExample) error
	Examples(ctx context.Context, lang language.Tag) iter.Seq2[TrainingExample, error]
	Ping(ctx context.Context) error
	Close() error
}
