package contextstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/reliability"
)

// PostgresStore persists session turns in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_turns (
			seq BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			language TEXT NOT NULL,
			redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_turns_session_seq ON session_turns (session_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, maxEntries int, turns ...Turn) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt, 50*time.Millisecond, 500*time.Millisecond)):
			}
		}
		lastErr = s.appendOnce(ctx, sessionID, maxEntries, turns)
		if lastErr == nil || !pgconn.SafeToRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (s *PostgresStore) appendOnce(ctx context.Context, sessionID string, maxEntries int, turns []Turn) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_turns (session_id, role, content, language, redacted, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, t.Role, t.Text, string(t.Language), t.Redacted, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if maxEntries > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM session_turns
			 WHERE session_id = $1
			   AND seq NOT IN (
				SELECT seq FROM session_turns WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
			 )`,
			sessionID, maxEntries,
		); err != nil {
			return fmt.Errorf("trim turns: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, language, redacted, created_at
		 FROM session_turns WHERE session_id = $1 ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var lang string
		if err := rows.Scan(&t.Role, &t.Text, &lang, &t.Redacted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Language = language.Tag(lang)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
