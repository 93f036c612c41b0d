package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithRun returns a logger with aggregation run context fields attached.
// Use this for all logging within a single sample retrieval run.
func WithRun(runID, oasisURL string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"oasis_url", oasisURL,
	)
}

// WithKind returns a logger scoped to a specific cache resource kind.
func WithKind(logger *slog.Logger, kind string) *slog.Logger {
	return logger.With("resource_kind", kind)
}
