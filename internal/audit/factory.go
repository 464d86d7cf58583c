package audit

import (
	"context"
	"strings"
)

// NewStore prefers postgres when a database URL is configured, otherwise a
// local SQLite file at auditPath.
func NewStore(ctx context.Context, databaseURL, auditPath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return OpenSQLiteStore(auditPath)
}
