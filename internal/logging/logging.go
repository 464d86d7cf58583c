// Package logging builds the service logger: pretty console output for
// local runs, JSON for structured service logs.
package logging

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// New constructs a *slog.Logger. When json is true records are emitted as
// JSON; otherwise the charmbracelet handler renders human-friendly output.
func New(debug, json bool, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	if json {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	level := charmlog.InfoLevel
	if debug {
		level = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	return slog.New(handler)
}
