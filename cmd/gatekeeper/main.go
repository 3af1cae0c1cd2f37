package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/mscandco/gatekeeper/pkg/audit"
	"github.com/mscandco/gatekeeper/pkg/auth"
	"github.com/mscandco/gatekeeper/pkg/config"
	"github.com/mscandco/gatekeeper/pkg/httputil"
	"github.com/mscandco/gatekeeper/pkg/observability"
	"github.com/mscandco/gatekeeper/pkg/rbac"
)

// version is set at build time
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("gatekeeper exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()
	var closers []observability.ShutdownFunc

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return err
	}
	closers = append(closers, func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	otelMetrics, err := observability.NewOTelMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create otel metrics: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if db != nil {
		closers = append(closers, func(context.Context) error { return db.Close() })
	}

	redisClient, err := openRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
	}

	var roles auth.RoleSource
	if db != nil && cfg.Identity.ProfileRoles {
		roles = auth.NewSQLProfileRoles(db)
	}
	identity, err := auth.NewOIDCExtractor(ctx, cfg.OIDC(), roles, logger)
	if err != nil {
		return fmt.Errorf("failed to create identity extractor: %w", err)
	}

	auditLogger, err := newAuditLogger(cfg, db, logger)
	if err != nil {
		return err
	}
	closers = append(closers, func(context.Context) error { return auditLogger.Close() })

	manager, err := rbac.NewManager(rbac.Dependencies{
		DB:          db,
		Redis:       redisClient,
		Identity:    identity,
		Audit:       auditLogger,
		Logger:      logger,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
		Tracer:      observability.Tracer(),
	}, cfg.RBACManager())
	if err != nil {
		return fmt.Errorf("failed to create rbac manager: %w", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	handler := newRouter(cfg, manager, health, registry, metrics, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	// release in reverse order of acquisition
	for i := len(closers) - 1; i >= 0; i-- {
		shutdown.RegisterShutdownFunc(closers[i])
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    cfg.Server.Addr,
			"version": version,
		}).Info("gatekeeper listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- shutdown.WaitForShutdown()
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return <-shutdownErr
	case err := <-shutdownErr:
		return err
	}
}

// newRouter mounts the decision API, health probes and metrics behind the
// shared middleware chain.
func newRouter(cfg *config.Config, manager *rbac.Manager, health *observability.HealthChecker,
	registry *prometheus.Registry, metrics *observability.Metrics, logger *observability.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})

	observability.RegisterHealthRoutes(router, health)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	manager.RegisterRoutes(router)

	// CORS sits outside the router so preflight requests never reach route matching
	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	return otelhttp.NewHandler(handler, "gatekeeper",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		logger.Warn("no database URL configured")
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connected")
	return db, nil
}

// openRedis returns nil without an address. A Redis that is configured but
// unreachable at startup is logged and kept; the role id cache treats
// its errors as misses.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).WithField("addr", cfg.Addr).Warn("redis unreachable at startup")
	}
	return client, nil
}

func newAuditLogger(cfg *config.Config, db *sql.DB, logger *observability.Logger) (audit.Logger, error) {
	var sinks []audit.Logger

	if cfg.Audit.Sink == config.AuditSinkDB || cfg.Audit.Sink == config.AuditSinkBoth {
		if db == nil {
			return nil, fmt.Errorf("audit sink %q requires a database", cfg.Audit.Sink)
		}
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create database audit logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}

	if cfg.Audit.Sink == config.AuditSinkFile || cfg.Audit.Sink == config.AuditSinkBoth {
		fileLogger, err := audit.NewFileLogger(cfg.AuditFile())
		if err != nil {
			return nil, fmt.Errorf("failed to create file audit logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	switch len(sinks) {
	case 0:
		logger.Warn("audit logging is disabled")
		return audit.NoOpLogger(), nil
	case 1:
		if !cfg.Audit.Async {
			return sinks[0], nil
		}
	}

	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(cfg.Audit.Async)
	if cfg.Audit.Async {
		go func() {
			for err := range multi.Errors() {
				logger.WithError(err).Error("asynchronous audit write failed")
			}
		}()
	}
	return multi, nil
}
