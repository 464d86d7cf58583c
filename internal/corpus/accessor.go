package corpus

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vetralabs/vetra/internal/capability"
	"github.com/vetralabs/vetra/internal/language"
)

// ErrUnauthorized is returned when the caller's capability token does not
// prove owner authorization. No partial write ever happens in that case.
var ErrUnauthorized = capability.ErrUnauthorized

// ErrInvalidExample is returned for structurally invalid drafts.
var ErrInvalidExample = errors.New("invalid training example")

// Draft is the caller-supplied part of a training example. ID and CreatedAt
// are always accessor-assigned.
type Draft struct {
	Language    language.Tag
	Instruction string
	Examples    []Pair
}

// Accessor is the owner-gated read/append interface over the corpus store.
type Accessor struct {
	store    Store
	verifier *capability.Authority
	now      func() time.Time
}

func NewAccessor(store Store, verifier *capability.Authority, now func() time.Time) *Accessor {
	if now == nil {
		now = time.Now
	}
	return &Accessor{store: store, verifier: verifier, now: now}
}

// Append verifies the capability token and persists the draft. The token is
// checked before any validation or write so unauthorized callers learn
// nothing about draft handling.
func (a *Accessor) Append(ctx context.Context, token string, draft Draft) (TrainingExample, error) {
	if a.verifier == nil {
		return TrainingExample{}, ErrUnauthorized
	}
	claims, err := a.verifier.Verify(token, capability.ScopeTrainingWrite)
	if err != nil {
		return TrainingExample{}, ErrUnauthorized
	}

	if err := validateDraft(draft); err != nil {
		return TrainingExample{}, err
	}

	example := TrainingExample{
		ID:          uuid.NewString(),
		Language:    draft.Language,
		Instruction: strings.TrimSpace(draft.Instruction),
		Examples:    draft.Examples,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.store.Insert(ctx, example); err != nil {
		return TrainingExample{}, fmt.Errorf("append example for %s: %w", claims.Owner, err)
	}
	return example, nil
}

// Examples streams stored records for one language, oldest first.
func (a *Accessor) Examples(ctx context.Context, lang language.Tag) iter.Seq2[TrainingExample, error] {
	return a.store.Examples(ctx, lang)
}

func validateDraft(d Draft) error {
	switch d.Language {
	case language.English, language.Hindi, language.Mixed:
	default:
		return fmt.Errorf("%w: unknown language %q", ErrInvalidExample, d.Language)
	}
	if strings.TrimSpace(d.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", ErrInvalidExample)
	}
	if len(d.Examples) == 0 {
		return fmt.Errorf("%w: at least one prompt/response pair is required", ErrInvalidExample)
	}
	for _, p := range d.Examples {
		if strings.TrimSpace(p.Prompt) == "" || strings.TrimSpace(p.Response) == "" {
			return fmt.Errorf("%w: empty prompt or response", ErrInvalidExample)
		}
	}
	return nil
}
