package cli

import (
	"fmt"
	"net/http"
)

// Version is stamped at build time via -ldflags, grounded on the teacher's
// VersionName/GitCommit/BuildDate vars (cmd/tusd/cli/version.go).
var Version = "dev"

func greetingBanner(cfg Config) string {
	return fmt.Sprintf(
		`Welcome to chunkd
=================

chunkd coordinates resumable, chunked file uploads. Point your client at
the routes below:

- /api/uploads       - create and list uploads
- /api/uploads/{id}  - submit chunks, pause, resume, cancel
%s
Version = %s
`, metricsLine(cfg), Version)
}

func metricsLine(cfg Config) string {
	if !cfg.ExposeMetrics {
		return ""
	}
	return fmt.Sprintf("- %s          - Prometheus metrics\n", cfg.MetricsPath)
}

func newGreetingHandler(cfg Config) http.HandlerFunc {
	banner := greetingBanner(cfg)
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(banner))
	}
}
