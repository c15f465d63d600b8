// reportd is the report configuration and execution server.
// It serves the REST API (field catalog, report builder, saved reports,
// templates, schedules) and runs the background schedule checker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportd-data/reportd/internal/api"
	"github.com/reportd-data/reportd/internal/auth"
	"github.com/reportd-data/reportd/internal/cache"
	"github.com/reportd-data/reportd/internal/catalog"
	"github.com/reportd-data/reportd/internal/config"
	"github.com/reportd-data/reportd/internal/delivery"
	"github.com/reportd-data/reportd/internal/domain"
	"github.com/reportd-data/reportd/internal/engine"
	"github.com/reportd-data/reportd/internal/leader"
	"github.com/reportd-data/reportd/internal/memstore"
	"github.com/reportd-data/reportd/internal/postgres"
	"github.com/reportd-data/reportd/internal/scheduler"
	"github.com/reportd-data/reportd/internal/source"
)

// validateEnv checks that critical environment variables have valid values.
// Returns a slice of validation errors (empty if all valid).
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("REPORTD_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("REPORTD_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}

	return errs
}

// warnDefaultCredentials logs security warnings when S3 or Postgres
// credentials appear to be well-known defaults. Safe for local development,
// dangerous in production deployments.
func warnDefaultCredentials(cfg *config.Config) {
	if cfg.Delivery.AccessKey == "minioadmin" || cfg.Delivery.SecretKey == "minioadmin" {
		slog.Warn("delivery S3 credentials are set to default values (minioadmin), change these for production deployments")
	}
	if cfg.Database.URL != "" {
		if u, err := url.Parse(cfg.Database.URL); err == nil && u.User != nil {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if (user == "reportd" && pass == "reportd") || (user == "postgres" && pass == "postgres") {
				slog.Warn("database credentials appear to be defaults, change these for production deployments",
					"user", user)
			}
		}
	}
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /reportd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Context-aware slog handler so request_id is included in all log
	// records when a request context is available.
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	// Load config: REPORTD_CONFIG env > ./reportd.yaml > zero-config defaults.
	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}
	warnDefaultCredentials(cfg)

	// Field catalog: file-defined or the built-in sample.
	var cat *catalog.Catalog
	if cfg.Catalog.Path != "" {
		cat, err = catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			slog.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
			os.Exit(1)
		}
		slog.Info("catalog loaded", "path", cfg.Catalog.Path, "sources", len(cat.List()))
	} else {
		cat = catalog.Builtin()
		slog.Info("using built-in sample catalog")
	}

	// Row source: Arrow IPC files when configured, sample rows otherwise.
	var src source.Source
	if len(cfg.Sources.ArrowFiles) > 0 {
		src = source.NewArrowFiles(cfg.Sources.ArrowFiles)
		slog.Info("arrow file sources initialized", "sources", len(cfg.Sources.ArrowFiles))
	} else {
		src = source.NewStatic(map[string][]domain.Row{"orders": source.SampleOrders()})
		slog.Info("using built-in sample rows")
	}

	// Execution engine with its fingerprint result cache.
	results := cache.New[string, *domain.ReportResult](cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
	})
	eng := engine.New(cat, src, engine.WithCache(results))

	srv := &api.Server{
		Catalog:     cat,
		Executor:    eng,
		CORSOrigins: cfg.Server.CORSOrigins,
	}

	// Stores: Postgres when a database URL is configured, in-memory otherwise.
	var (
		pool      *pgxpool.Pool
		closePool func()
	)
	ctx := context.Background()
	if cfg.Database.URL != "" {
		pool, err = postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		closePool = func() { pool.Close() }

		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		srv.Reports = postgres.NewReportStore(pool)
		srv.Templates = postgres.NewTemplateStore(pool)
		srv.Schedules = postgres.NewScheduleStore(pool)
		srv.History = postgres.NewHistoryStore(pool)
		srv.DBHealth = postgres.NewHealthChecker(pool)
		slog.Info("postgres stores initialized")
	} else {
		mem := memstore.New()
		srv.Reports = mem
		srv.Templates = mem
		srv.Schedules = mem
		srv.History = mem
		slog.Warn("DATABASE_URL not set, running with in-memory stores")
	}

	// Background scheduler with optional S3 export delivery. With Postgres,
	// leader election via advisory lock ensures only one replica fires
	// schedules; without a database there is a single instance by definition.
	var stopScheduler func()
	if cfg.Scheduler.Enabled {
		opts := []scheduler.Option{}
		if cfg.Delivery.Endpoint != "" {
			deliverer, err := delivery.NewS3Deliverer(ctx, delivery.S3Config{
				Endpoint:  cfg.Delivery.Endpoint,
				AccessKey: cfg.Delivery.AccessKey,
				SecretKey: cfg.Delivery.SecretKey,
				Bucket:    cfg.Delivery.Bucket,
				UseSSL:    cfg.Delivery.UseSSL,
				Prefix:    cfg.Delivery.Prefix,
			})
			if err != nil {
				slog.Error("failed to connect to delivery storage", "error", err)
				os.Exit(1)
			}
			opts = append(opts, scheduler.WithDeliverer(deliverer))
			slog.Info("s3 delivery initialized",
				"endpoint", cfg.Delivery.Endpoint,
				"bucket", cfg.Delivery.Bucket,
			)
		}

		startScheduler := func(ctx context.Context) func() {
			sched := scheduler.New(srv.Schedules, srv.Reports, srv.History, eng, cfg.Scheduler.Interval, opts...)
			sched.Start(ctx)
			slog.Info("scheduler started", "interval", cfg.Scheduler.Interval)
			return func() { sched.Stop() }
		}

		if pool != nil {
			tryLock := func(ctx context.Context) (bool, error) {
				var acquired bool
				err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
				return acquired, err
			}
			elector := leader.New(tryLock, leader.RetryInterval, startScheduler)
			elector.Start(ctx)
			stopScheduler = func() { elector.Stop() }
			slog.Info("leader election started (advisory lock)")
		} else {
			stopScheduler = startScheduler(ctx)
		}
	} else {
		slog.Info("scheduler disabled")
	}

	// Static API key auth (REPORTD_API_KEY). Unset = open API.
	if apiKey := os.Getenv("REPORTD_API_KEY"); apiKey != "" {
		srv.Auth = auth.APIKey(apiKey)
		slog.Info("API key authentication enabled")
	} else {
		srv.Auth = auth.Noop()
	}

	// Per-IP rate limiting (disable with RATE_LIMIT=0).
	if rl := os.Getenv("RATE_LIMIT"); rl != "0" {
		rlCfg := api.DefaultRateLimitConfig()
		srv.RateLimit = &rlCfg
		slog.Info("rate limiting enabled", "rps", rlCfg.RequestsPerSecond, "burst", rlCfg.Burst)
	}

	router := api.NewRouter(srv)

	// Listen address: REPORTD_LISTEN_ADDR > PORT (legacy) > config file.
	addr := cfg.Server.Addr
	if listenAddr := os.Getenv("REPORTD_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting reportd", "addr", addr)

	// Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: drain HTTP connections (15s timeout), then stop the
	// scheduler and close the pool.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if stopScheduler != nil {
		stopScheduler()
		slog.Info("scheduler stopped")
	}
	if srv.RateLimiterStop != nil {
		srv.RateLimiterStop()
		slog.Info("rate limiter stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("reportd shutdown complete")
}
