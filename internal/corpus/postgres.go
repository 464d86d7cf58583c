package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetralabs/vetra/internal/language"
)

// PostgresStore persists the corpus in PostgreSQL, sharing the deployment's
// database with the context store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS training_examples (
			id TEXT PRIMARY KEY,
			language TEXT NOT NULL,
			instruction TEXT NOT NULL,
			examples JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_training_examples_lang_created
			ON training_examples (language, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init corpus schema failed on %q: %w", stmt, err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, example TrainingExample) error {
	pairs, err := json.Marshal(example.Examples)
	if err != nil {
		return fmt.Errorf("marshal example pairs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO training_examples (id, language, instruction, examples, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		example.ID, string(example.Language), example.Instruction, pairs, example.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert training example: %w", err)
	}
	return nil
}

func (s *PostgresStore) Examples(ctx context.Context, lang language.Tag) iter.Seq2[TrainingExample, error] {
	return func(yield func(TrainingExample, error) bool) {
		rows, err := s.pool.Query(ctx,
			`SELECT id, language, instruction, examples, created_at
			 FROM training_examples WHERE language = $1 ORDER BY created_at ASC, id ASC`,
			string(lang),
		)
		if err != nil {
			yield(TrainingExample{}, fmt.Errorf("query training examples: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				ex        TrainingExample
				langCol   string
				pairsJSON []byte
				createdAt time.Time
			)
			if err := rows.Scan(&ex.ID, &langCol, &ex.Instruction, &pairsJSON, &createdAt); err != nil {
				yield(TrainingExample{}, fmt.Errorf("scan training example: %w", err))
				return
			}
			if err := json.Unmarshal(pairsJSON, &ex.Examples); err != nil {
				yield(TrainingExample{}, fmt.Errorf("unmarshal example pairs: %w", err))
				return
			}
			ex.Language = language.Tag(langCol)
			ex.CreatedAt = createdAt.UTC()
			if !yield(ex, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(TrainingExample{}, fmt.Errorf("iterate training examples: %w", err))
		}
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
