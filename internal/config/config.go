// Package config loads all runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the Vetra service.
type Config struct {
	BindAddr        string        `env:"VETRA_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"VETRA_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	MetricsNamespace string `env:"VETRA_METRICS_NAMESPACE" envDefault:"vetra"`
	LogJSON          bool   `env:"VETRA_LOG_JSON"`
	Debug            bool   `env:"VETRA_DEBUG"`

	// DatabaseURL switches both stores to PostgreSQL when set; otherwise the
	// context store is in-memory and the corpus lives in a SQLite file.
	DatabaseURL string `env:"DATABASE_URL"`
	CorpusPath  string `env:"VETRA_CORPUS_PATH" envDefault:"vetra_corpus.db"`
	AuditPath   string `env:"VETRA_AUDIT_PATH" envDefault:"vetra_audit.db"`

	ContextTTL        time.Duration `env:"VETRA_CONTEXT_TTL" envDefault:"72h"`
	ContextMaxEntries int           `env:"VETRA_CONTEXT_MAX_ENTRIES" envDefault:"10"`

	EngineTimeout time.Duration `env:"VETRA_ENGINE_TIMEOUT" envDefault:"2s"`
	MaxQueryRunes int           `env:"VETRA_MAX_QUERY_LEN" envDefault:"4000"`

	// Per-client requests per minute on the ask and training routes.
	AskRateLimit   int `env:"VETRA_ASK_RATE_LIMIT" envDefault:"60"`
	TrainRateLimit int `env:"VETRA_TRAIN_RATE_LIMIT" envDefault:"10"`

	// OwnerSecret verifies capability tokens. Training writes are rejected
	// when it is unset.
	OwnerSecret string `env:"VETRA_OWNER_SECRET"`

	AllowAnyOrigin bool `env:"VETRA_ALLOW_ANY_ORIGIN"`
}

// Load reads environment variables, applies defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.ContextTTL < time.Minute {
		return Config{}, fmt.Errorf("VETRA_CONTEXT_TTL must be at least 1m")
	}
	if cfg.ContextMaxEntries <= 0 {
		return Config{}, fmt.Errorf("VETRA_CONTEXT_MAX_ENTRIES must be positive")
	}
	if cfg.EngineTimeout < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VETRA_ENGINE_TIMEOUT must be at least 100ms")
	}
	if cfg.MaxQueryRunes <= 0 {
		return Config{}, fmt.Errorf("VETRA_MAX_QUERY_LEN must be positive")
	}
	if cfg.AskRateLimit <= 0 || cfg.TrainRateLimit <= 0 {
		return Config{}, fmt.Errorf("rate limits must be positive")
	}
	return cfg, nil
}
