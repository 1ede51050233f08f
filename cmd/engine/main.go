// Package main is the entrypoint for the PeakCast ingestion engine.
//
// The engine is a single long-running process. It polls mirrored grid-tile
// buckets for new numerical weather model runs, extracts point forecasts for
// every tracked ski resort, recomputes the multi-model blend, and serves an
// internal HTTP surface for probes, manual triggers, job history, and
// Prometheus metrics.
//
// This file handles dependency wiring and delegates all business logic to
// the internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"peakcast/internal/blend"
	"peakcast/internal/config"
	"peakcast/internal/coordinator"
	"peakcast/internal/db"
	"peakcast/internal/extract"
	"peakcast/internal/gridsource"
	"peakcast/internal/metrics"
	"peakcast/internal/nwp"
	"peakcast/internal/ops"
	"peakcast/internal/scheduler"
)

func main() {
	// Initialize structured logging at startup. The level is rebuilt once
	// configuration is loaded.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("engine starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	// Cancelling this context stops the scheduler loops; in-flight jobs
	// drain before Run returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database.
	pool, err := db.NewPool(ctx, db.PoolSettings{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	// Grid tile store. The HTTP client timeout bounds a single tile
	// download across all mirrors.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.GridStore.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.GridStore.FetchTimeout}),
	)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// LocalStack in local environments; empty in prod.
		if cfg.GridStore.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.GridStore.EndpointURL)
			o.UsePathStyle = true
		}
	})

	tileCache, err := gridsource.NewTileCache(cfg.GridStore.CacheDir, logger.With("component", "tile_cache"))
	if err != nil {
		logger.Error("failed to open tile cache", "error", err, "dir", cfg.GridStore.CacheDir)
		os.Exit(1)
	}
	tileStore, err := gridsource.NewS3TileStore(gridsource.S3TileStoreConfig{
		Client:  s3Client,
		Mirrors: cfg.GridStore.Mirrors,
		Cache:   tileCache,
		Logger:  logger.With("component", "grid_store"),
	})
	if err != nil {
		logger.Error("failed to create tile store", "error", err)
		os.Exit(1)
	}

	// Repositories.
	runRepo := db.NewModelRunRepository(pool)
	jobRepo := db.NewJobHistoryRepository(pool)
	resortRepo := db.NewResortRepository(pool)
	forecastRepo := db.NewForecastRepository(pool)
	blendRepo := db.NewBlendRepository(pool)
	statsRepo := db.NewStatsRepository(pool)

	registry := nwp.NewStaticRegistry()
	collector := metrics.New(metrics.DefaultNamespace)

	// Processing stack: extraction -> run coordination -> blending.
	pipeline, err := extract.NewPipeline(extract.PipelineConfig{
		Source:                 tileStore,
		ChunkSize:              cfg.Extract.ChunkSize,
		MaxConcurrentDownloads: cfg.Extract.MaxConcurrentDownloads,
		Logger:                 logger.With("component", "extract"),
	})
	if err != nil {
		logger.Error("failed to create extraction pipeline", "error", err)
		os.Exit(1)
	}

	coord, err := coordinator.New(coordinator.Config{
		Registry:      registry,
		Runs:          runRepo,
		Jobs:          jobRepo,
		Resorts:       resortRepo,
		Forecasts:     forecastRepo,
		Extractor:     pipeline,
		InstanceID:    instanceID(),
		StaleFallback: cfg.Scheduler.StaleFallback,
		Metrics:       collector,
		Logger:        logger.With("component", "coordinator"),
	})
	if err != nil {
		logger.Error("failed to create run coordinator", "error", err)
		os.Exit(1)
	}

	blender, err := blend.New(blend.Config{
		Registry:        registry,
		Forecasts:       forecastRepo,
		Blends:          blendRepo,
		Resorts:         resortRepo,
		Jobs:            jobRepo,
		WeightOverrides: cfg.Blend.WeightOverrides,
		Metrics:         collector,
		Logger:          logger.With("component", "blend"),
	})
	if err != nil {
		logger.Error("failed to create blend engine", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(scheduler.Config{
		Registry:         registry,
		Processor:        coord,
		Blender:          blender,
		Cache:            tileCache,
		Runs:             runRepo,
		Resorts:          resortRepo,
		SeedList:         db.DefaultResorts(),
		EnabledModels:    cfg.Scheduler.EnabledModels,
		BlendInterval:    cfg.Scheduler.BlendInterval,
		CleanupInterval:  cfg.Scheduler.CleanupInterval,
		BootstrapWorkers: cfg.Scheduler.BootstrapWorkers,
		Metrics:          collector,
		Logger:           logger.With("component", "scheduler"),
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Ops HTTP surface.
	handler, err := ops.NewHandler(ops.HandlerConfig{
		Registry:  registry,
		Trigger:   sched,
		Runs:      runRepo,
		Jobs:      jobRepo,
		Forecasts: forecastRepo,
		Blends:    blendRepo,
		Resorts:   resortRepo,
		Stats:     statsRepo,
		Cache:     tileCache,
		DB:        pool,
		Version:   cfg.Build.Version,
		Logger:    logger.With("component", "ops"),
	})
	if err != nil {
		logger.Error("failed to create ops handler", "error", err)
		os.Exit(1)
	}
	srv, err := ops.NewServer(ops.Config{
		Port:         cfg.Ops.Port,
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
		Handler:      handler,
		Gatherer:     collector.Registry(),
		Metrics:      collector,
		Logger:       logger.With("component", "ops"),
	})
	if err != nil {
		logger.Error("failed to create ops server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "error", err)
			stop()
		}
	}()

	models := sched.Models()
	modelIDs := make([]string, len(models))
	for i, m := range models {
		modelIDs[i] = m.ID
	}
	logger.Info("engine initialized",
		"models", modelIDs,
		"mirrors", cfg.GridStore.Mirrors,
		"cache_dir", cfg.GridStore.CacheDir,
		"ops_port", cfg.Ops.Port,
	)

	// Run blocks until the signal context is cancelled, then drains.
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	pool.Close()

	logger.Info("shutdown complete")
}

// instanceID identifies this process in model run claims. Hostname first so
// a stuck claim points at the box that took it.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "engine"
	}
	return host + "-" + uuid.NewString()[:8]
}

// parseLogLevel maps the configured level name to a slog.Level. Unknown
// values fall back to info rather than failing startup.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
