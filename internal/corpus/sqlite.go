package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vetralabs/vetra/internal/language"
)

// SQLiteStore persists the corpus in a local SQLite file, the default when
// no PostgreSQL URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("corpus path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open corpus db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping corpus db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS training_examples (
		id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		instruction TEXT NOT NULL,
		examples TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init corpus schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_training_examples_lang_created
		ON training_examples (language, created_at)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init corpus index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, example TrainingExample) error {
	pairs, err := json.Marshal(example.Examples)
	if err != nil {
		return fmt.Errorf("marshal example pairs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_examples (id, language, instruction, examples, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		example.ID, string(example.Language), example.Instruction, string(pairs),
		example.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert training example: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Examples(ctx context.Context, lang language.Tag) iter.Seq2[TrainingExample, error] {
	return func(yield func(TrainingExample, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, language, instruction, examples, created_at
			 FROM training_examples WHERE language = ? ORDER BY created_at ASC, id ASC`,
			string(lang),
		)
		if err != nil {
			yield(TrainingExample{}, fmt.Errorf("query training examples: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			ex, err := scanExample(rows)
			if err != nil {
				yield(TrainingExample{}, err)
				return
			}
			if !yield(ex, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(TrainingExample{}, fmt.Errorf("iterate training examples: %w", err))
		}
	}
}

func scanExample(rows *sql.Rows) (TrainingExample, error) {
	var (
		ex        TrainingExample
		lang      string
		pairsJSON string
		createdAt int64
	)
	if err := rows.Scan(&ex.ID, &lang, &ex.Instruction, &pairsJSON, &createdAt); err != nil {
		return TrainingExample{}, fmt.Errorf("scan training example: %w", err)
	}
	if err := json.Unmarshal([]byte(pairsJSON), &ex.Examples); err != nil {
		return TrainingExample{}, fmt.Errorf("unmarshal example pairs: %w", err)
	}
	ex.Language = language.Tag(lang)
	ex.CreatedAt = fromMillis(createdAt)
	return ex, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
