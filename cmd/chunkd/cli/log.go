package cli

import (
	"log/slog"
	"os"
)

// newLogger builds the process-wide slog.Logger, playing the role of the
// teacher's package-level stdout/stderr *log.Logger pair (cmd/tusd/cli/log.go)
// but using the structured logger chunkd's internal packages already take as
// an Option (internal/uploadmanager.WithLogger) or a constructor argument
// (internal/httpapi.NewServer).
func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
