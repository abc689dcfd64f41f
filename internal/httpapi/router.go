package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the chi router for every route in spec.md §6, plus
// the ambient /healthz liveness probe. /metrics is mounted separately by
// cmd/chunkd, next to this router, mirroring mux.Handle(Flags.MetricsPath,
// ...) alongside the tusd handler in the teacher's cmd/tusd/cli/serve.go.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withRequestLogging(s.log))
	r.Use(s.withRequestMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/identify", s.handleIdentifyUser)

		r.Get("/uploads", s.handleListUploads)
		r.Post("/uploads", s.handleCreateUpload)
		r.Delete("/uploads/history", s.handleClearHistory)
		r.Get("/uploads/{id}", s.handleGetUpload)
		r.Post("/uploads/{id}/chunk", s.handleSubmitChunk)
		r.Post("/uploads/{id}/state", s.handleUpdateState)

		r.Post("/network/probe", s.handleNetworkProbe)
	})

	return r
}

// withRequestMetrics increments chunkd_requests_total and tracks
// chunkd_open_connections, grounded on the counters
// prometheuscollector.Collect reports from the teacher's handler.Metrics.
func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.OpenConnections.Inc()
		defer s.metrics.OpenConnections.Dec()

		next.ServeHTTP(w, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.RequestsTotal.WithLabelValues(r.Method, route).Inc()
	})
}
