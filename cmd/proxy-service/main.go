// proxy-service is the HTTP shim that stages comment batches, starts a
// sandbox per batch and hands results back to pollers.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runproxy/internal/api"
	"runproxy/internal/config"
	"runproxy/internal/health"
	"runproxy/internal/job"
	"runproxy/internal/lock"
	"runproxy/internal/maintenance"
	"runproxy/internal/observability"
	"runproxy/internal/sandbox/docker"
	"runproxy/internal/store/fileshare"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// locker is a collection lock backend the service owns.
type locker interface {
	job.Locker
	health.ReadinessChecker
	Close() error
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// stopSweeper waits for a running sweep to finish and stops the schedule.
func stopSweeper(sweeper *maintenance.Sweeper) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sweeper.Stop(ctx); err != nil {
		slog.Warn("Sweeper shutdown error", "error", err)
	}
}

func run() error {
	ctx := context.Background()

	// Local development reads a .env file; deployments set the environment directly
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := config.LoadServiceConfig()
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	share, err := fileshare.New(cfg.Sandbox.ShareRoot)
	if err != nil {
		return err
	}

	runner, err := docker.NewRunner(cfg.Sandbox.Group)
	if err != nil {
		return err
	}
	defer runner.Close()

	slog.Info("Connected to Docker daemon", "group", cfg.Sandbox.Group)

	var collectLock locker
	lockDep := health.Dependency{Name: "lock"}
	if cfg.Lock.RedisAddr != "" {
		redisLock, err := lock.NewRedis(ctx, cfg.Lock)
		if err != nil {
			return err
		}
		collectLock = redisLock
		lockDep.Optional = true
		slog.Info("Using Redis collection lock", "addr", cfg.Lock.RedisAddr)
	} else {
		collectLock = lock.NewMemory()
		slog.Warn("Using in-process collection lock - run a single replica")
	}
	defer collectLock.Close()
	lockDep.Checker = collectLock

	healthChecker := health.NewChecker(
		health.Dependency{Name: "sandbox", Checker: runner},
		health.Dependency{Name: "store", Checker: share},
		lockDep,
	)

	submitter := job.NewSubmitter(runner, share, cfg.Sandbox, metrics)
	resolver := job.NewResolver(runner, share, collectLock, metrics)

	if cfg.Maintenance.AutoDelete {
		sweeper := maintenance.NewSweeper(runner, share, metrics)
		if err := sweeper.Start(cfg.Maintenance.Schedule); err != nil {
			return err
		}
		// Runs before runner.Close on every return path, so no sweep can
		// issue a delete while the runner waits for in-flight ones.
		defer stopSweeper(sweeper)
		slog.Info("Sandbox sweep enabled", "schedule", cfg.Maintenance.Schedule)
	}

	router := api.NewRouter(api.RouterConfig{
		Submitter:     submitter,
		Resolver:      resolver,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
		RoutePrefix:   cfg.RoutePrefix,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Submissions carry whole batches and wait on sandbox creation
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", cfg.Port, "prefix", cfg.RoutePrefix)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: fail readiness so load balancers stop routing here
	healthChecker.SetShuttingDown()

	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3 runs deferred: stop the sweep, then drain pending sandbox deletes
	// in runner.Close. Sandboxes keep running; their results stay on the share
	// for the next poll.
	slog.Info("Shutdown complete")
	return nil
}
