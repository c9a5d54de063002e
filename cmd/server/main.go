package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Finding-Finance-Association/website-sub000/internal/catalog"
	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/cache"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/config"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/database"
	"github.com/Finding-Finance-Association/website-sub000/internal/progress"
	"github.com/Finding-Finance-Association/website-sub000/internal/report"
	"github.com/Finding-Finance-Association/website-sub000/internal/session"
	"github.com/Finding-Finance-Association/website-sub000/internal/syncer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	checks := map[string]func(context.Context) error{}

	var db *database.DB
	if cfg.NeedsDatabase() {
		db, err = database.New(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx, append(append([]string{}, docstore.Schema...), syncer.EventSchema...)...); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		checks["database"] = db.HealthCheck
	}

	var rdb *cache.Cache
	if cfg.NeedsCache() {
		rdb, err = cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect to cache", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checks["cache"] = rdb.HealthCheck
	}

	store, err := newDocumentStore(cfg, db, rdb)
	if err != nil {
		slog.Error("failed to create document store", "error", err)
		os.Exit(1)
	}

	courses, err := catalog.NewLoader(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	var (
		metrics        *syncer.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = syncer.NewMetrics(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	var events syncer.EventLogger = syncer.NopEventLogger{}
	if db != nil {
		events = syncer.NewPostgresEventLogger(db.Pool)
	}

	storage := session.FileStorage(cfg.Local.Dir)
	if cfg.Local.Backend == config.LocalRedis {
		storage = session.RedisStorage(rdb.Client)
	}

	gateway := progress.NewGateway(store)
	sessions := session.NewHandler(session.Config{
		Gateway:      gateway,
		Catalog:      courses,
		Storage:      storage,
		ToggleDelay:  cfg.Sync.ToggleDelay,
		InputDelay:   cfg.Sync.InputDelay,
		FlushTimeout: cfg.Sync.FlushTimeout,
		Metrics:      metrics,
		Events:       events,
	})

	mux := newMux(routes{
		checks:  checks,
		ws:      sessions,
		report:  report.NewService(gateway, courses),
		metrics: metricsHandler,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"store", cfg.Store.Backend,
			"local", cfg.Local.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second+cfg.Sync.FlushTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Websocket sessions are hijacked and not tracked by Shutdown.
	if err := sessions.Close(shutdownCtx); err != nil {
		slog.Warn("sessions did not finish flushing", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newDocumentStore(cfg *config.Config, db *database.DB, rdb *cache.Cache) (docstore.DocumentStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return docstore.NewPostgresStore(db.Pool)
	case config.BackendRedis:
		return docstore.NewRedisStore(rdb.Client, cache.KeyPrefix)
	default:
		return docstore.NewMemoryStore(), nil
	}
}

type routes struct {
	checks  map[string]func(context.Context) error
	ws      http.Handler
	report  *report.Service
	metrics http.Handler
}

// newMux creates the HTTP router.
func newMux(r routes) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(r.checks))
	if r.ws != nil {
		mux.Handle("GET /ws", r.ws)
	}
	if r.report != nil {
		r.report.Register(mux)
	}
	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				failed[name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
