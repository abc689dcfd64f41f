package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const loggerKey ctxKey = iota

// withRequestLogging stamps every request with a correlation id (reusing
// an inbound X-Request-Id, generating one via google/uuid otherwise) and a
// request-scoped *slog.Logger carrying method/path/requestId, mirroring
// httpContext.log in the teacher's pkg/handler/context.go. The teacher
// only reads X-Request-Id and leaves the field blank otherwise; always
// generating a fallback id makes every log line correlatable.
func withRequestLogging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			log := base.With("method", r.Method, "path", r.URL.Path, "requestId", requestID)
			start := time.Now()

			ctx := context.WithValue(r.Context(), loggerKey, log)
			next.ServeHTTP(w, r.WithContext(ctx))

			log.Info("request handled", "durationMs", time.Since(start).Milliseconds())
		})
	}
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
