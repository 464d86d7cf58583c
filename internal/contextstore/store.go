// Package contextstore wraps the key-value store that holds per-session
// conversation turns. It owns storage primitives only; window policy
// (TTL, eviction) lives with the memory manager.
package contextstore

import (
	"context"
	"time"

	"github.com/vetralabs/vetra/internal/language"
)

// Turn roles.
const (
	RoleUser   = "user"
	RoleSystem = "system"
)

// Turn is one immutable conversation exchange unit.
type Turn struct {
	Role      string       `json:"role"`
	Text      string       `json:"text"`
	Language  language.Tag `json:"language_tag"`
	Redacted  bool         `json:"redacted"`
	CreatedAt time.Time    `json:"created_at"`
}

// Store persists ordered turns keyed by session identifier. Append retains
// at most maxEntries turns per key, dropping the oldest first.
type Store interface {
	Append(ctx context.Context, sessionID string, maxEntries int, turns ...Turn) error
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	Ping(ctx context.Context) error
	Close() error
}
