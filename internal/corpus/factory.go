package corpus

import (
	"context"
	"strings"
	"time"
)

// fromMillis converts a stored unix-millisecond timestamp back to UTC time.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// NewStore prefers postgres when a database URL is configured, otherwise a
// local SQLite file at corpusPath.
func NewStore(ctx context.Context, databaseURL, corpusPath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return OpenSQLiteStore(corpusPath)
}
