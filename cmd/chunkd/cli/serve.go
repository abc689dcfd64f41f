package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chunkhaven/chunkd/internal/chunkstore"
	"github.com/chunkhaven/chunkd/internal/httpapi"
	"github.com/chunkhaven/chunkd/internal/metrics"
	"github.com/chunkhaven/chunkd/internal/statestore"
	"github.com/chunkhaven/chunkd/internal/uploadmanager"
)

// serve wires every internal package into a running server, playing the
// role of the teacher's Serve() (cmd/tusd/cli/serve.go): build the
// component graph, construct a listener, start serving, and wait for a
// shutdown signal. Graceful shutdown is coordinated with
// golang.org/x/sync/errgroup instead of the teacher's hand-rolled
// shutdownComplete channel and double-SIGINT goroutine, since errgroup
// already gives us a cancelable group with a single error return.
func serve(cfg Config) error {
	log := newLogger(cfg.LogFormat, cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	scratchDir := filepath.Join(cfg.DataDir, "scratch")
	finalDir := filepath.Join(cfg.DataDir, "final")
	statePath := filepath.Join(cfg.DataDir, "state.json")

	store, err := statestore.Open(statePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	chunks := chunkstore.New(scratchDir, finalDir)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	mx := metrics.New(registry)

	opts := []uploadmanager.Option{
		uploadmanager.WithLogger(log),
		uploadmanager.WithMetrics(mx),
	}
	if cfg.HistoryCap > 0 {
		opts = append(opts, uploadmanager.WithHistoryCap(cfg.HistoryCap))
	}
	manager := uploadmanager.NewManager(store, chunks, opts...)

	server := httpapi.NewServer(manager, mx, log)
	api := httpapi.NewRouter(server)

	mux := http.NewServeMux()
	if cfg.ShowGreeting {
		mux.Handle("/", withGreetingFallback(api, newGreetingHandler(cfg)))
	} else {
		mux.Handle("/", api)
	}

	if cfg.ExposeMetrics {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		log.Info("metrics endpoint enabled", "path", cfg.MetricsPath)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := newTimeoutListener(addr, cfg.ReadTimeout, cfg.WriteTimeout)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}

	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  cfg.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("chunkd listening", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	})

	return group.Wait()
}

// withGreetingFallback serves the greeting banner at exactly "/" and
// delegates every other path to the API router, since chunkd (unlike
// tusd's configurable Basepath) always mounts its API at a fixed /api
// prefix.
func withGreetingFallback(api http.Handler, greeting http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			greeting(w, r)
			return
		}
		api.ServeHTTP(w, r)
	})
}
