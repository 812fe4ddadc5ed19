package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loicricci/albee-poc-sub001/cmd/mainconfig"
	"github.com/loicricci/albee-poc-sub001/internal/api/router"
	"github.com/loicricci/albee-poc-sub001/internal/app/bootstrap"
	appconfig "github.com/loicricci/albee-poc-sub001/internal/config"
	"github.com/loicricci/albee-poc-sub001/internal/decisionlog"
	"github.com/loicricci/albee-poc-sub001/internal/escalation"
	"github.com/loicricci/albee-poc-sub001/internal/orchestrator"
	"github.com/loicricci/albee-poc-sub001/internal/policy"
	"github.com/loicricci/albee-poc-sub001/internal/retrieval"
	"github.com/loicricci/albee-poc-sub001/pkg/logging"
)

func main() {
	cfg, err := mainconfig.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting persona orchestrator API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"counter_backend", cfg.CounterBackend,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := bootstrap.BuildServices(ctx, cfg, bootstrap.Infra{
		Pool:     pool,
		Redis:    redisClient,
		AWS:      awsCfg,
		Registry: registry,
	}, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, svc, registry, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Pending decision records are flushed after the last request finishes.
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("decision log did not drain", "error", err)
	}

	logger.Info("server stopped")
}

func newRouter(cfg *appconfig.Config, svc *bootstrap.Services, gatherer prometheus.Gatherer, logger *logging.Logger) http.Handler {
	return router.New(&router.Config{
		Logger:         logger,
		Orchestrator:   orchestrator.NewHandler(svc.Engine, logger),
		Policies:       policy.NewHandler(svc.Policies, logger),
		Knowledge:      retrieval.NewHandler(svc.Retrieval, logger),
		Escalations:    escalation.NewHandler(svc.Escalations, logger),
		Decisions:      decisionlog.NewHandler(svc.DecisionStore, svc.Router, svc.Archiver, logger),
		MetricsHandler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AdminJWTSecret: cfg.AdminJWTSecret,
	})
}
