// Package audit keeps an append-only trail of pipeline and training calls.
// Entries are immutable once written; there is no update or delete path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionAsk           = "ask"
	ActionTrainingWrite = "training_write"
)

const appendTimeout = 2 * time.Second

// Entry is one immutable audit record.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Ping(ctx context.Context) error
	Close() error
}

// Recorder assigns identity and time to entries and writes them best-effort:
// an audit failure is logged but never fails the audited request.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record appends one entry. The write runs on a detached deadline so it
// completes even if the request context is cancelled.
func (r *Recorder) Record(ctx context.Context, action, actor, outcome, detail string) {
	if r == nil || r.store == nil {
		return
	}
	entry := Entry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: r.now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := r.store.Append(writeCtx, entry); err != nil {
		r.logger.Warn("audit entry dropped", "action", action, "error", err)
	}
}
