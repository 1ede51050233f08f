// Package main implements the job-runner CLI tool for invoking engine jobs
// directly, bypassing the scheduler's timers.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It wires the same processing stack as the engine
// daemon, runs a single task, and exits.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=model-run --model=hrrr
//	go run ./cmd/tools/job-runner --task=model-run --model=gfs --run-time=2026-01-15T06:00:00Z
//	go run ./cmd/tools/job-runner --task=blend
//	go run ./cmd/tools/job-runner --task=cleanup
//	go run ./cmd/tools/job-runner --task=seed
//	go run ./cmd/tools/job-runner --list
//
// The tool reads the same environment configuration as the engine daemon
// (or a .env file via godotenv). A model-run without --run-time walks the
// recent candidate run times newest first, exactly like a scheduled tick;
// with --run-time it processes that run and performs no fallback.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

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
	"peakcast/internal/nwp"
	"peakcast/internal/scheduler"
)

const (
	taskModelRun = "model-run"
	taskBlend    = "blend"
	taskCleanup  = "cleanup"
	taskSeed     = "seed"
)

// validTasks is the exhaustive set of tasks the runner supports.
var validTasks = map[string]string{
	taskModelRun: "Ingest one model run (newest candidate first, falling back to older ones)",
	taskBlend:    "Recompute the multi-model blend for every resort and elevation",
	taskCleanup:  "Evict expired tiles from the local grid cache",
	taskSeed:     "Upsert the default resort list into the database",
}

func main() {
	taskFlag := flag.String("task", "", "Task to execute (model-run, blend, cleanup, seed)")
	modelFlag := flag.String("model", "", "Model ID or alias for --task=model-run (e.g., hrrr, gfs, ecmwf)")
	runTimeFlag := flag.String("run-time", "", "Exact run time for --task=model-run (RFC3339); omit to walk recent candidates")
	listFlag := flag.Bool("list", false, "List available tasks and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run one engine job directly, bypassing the scheduler's timers.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available tasks.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	if *taskFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validTasks[*taskFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown task %q\n\n", *taskFlag)
		printAvailableTasks()
		os.Exit(1)
	}
	if *taskFlag == taskModelRun && *modelFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --task=model-run requires --model\n")
		os.Exit(1)
	}
	if *runTimeFlag != "" && *taskFlag != taskModelRun {
		fmt.Fprintf(os.Stderr, "error: --run-time only applies to --task=model-run\n")
		os.Exit(1)
	}

	var runTime *time.Time
	if *runTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *runTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --run-time %q: %v\n", *runTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-01-15T06:00:00Z\n")
			os.Exit(1)
		}
		runTime = &t
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := executeTask(ctx, *taskFlag, *modelFlag, runTime, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", *taskFlag,
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", *taskFlag,
		"result", result,
	)
}

// executeTask loads configuration, wires the processing stack, and runs the
// requested task. It mirrors the wiring in cmd/engine/main.go without the
// scheduler loops or the ops HTTP surface.
func executeTask(ctx context.Context, task, modelID string, runTime *time.Time, logger *slog.Logger) (string, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, db.PoolSettings{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return "", fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return "", err
	}

	runRepo := db.NewModelRunRepository(pool)
	jobRepo := db.NewJobHistoryRepository(pool)
	resortRepo := db.NewResortRepository(pool)
	forecastRepo := db.NewForecastRepository(pool)
	blendRepo := db.NewBlendRepository(pool)

	// Seeding needs nothing beyond the database.
	if task == taskSeed {
		count, err := resortRepo.Upsert(ctx, db.DefaultResorts())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("seeded %d resorts", count), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.GridStore.Region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.GridStore.FetchTimeout}),
	)
	if err != nil {
		return "", fmt.Errorf("loading AWS SDK config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.GridStore.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.GridStore.EndpointURL)
			o.UsePathStyle = true
		}
	})

	tileCache, err := gridsource.NewTileCache(cfg.GridStore.CacheDir, logger)
	if err != nil {
		return "", err
	}
	tileStore, err := gridsource.NewS3TileStore(gridsource.S3TileStoreConfig{
		Client:  s3Client,
		Mirrors: cfg.GridStore.Mirrors,
		Cache:   tileCache,
		Logger:  logger,
	})
	if err != nil {
		return "", err
	}

	registry := nwp.NewStaticRegistry()

	pipeline, err := extract.NewPipeline(extract.PipelineConfig{
		Source:                 tileStore,
		ChunkSize:              cfg.Extract.ChunkSize,
		MaxConcurrentDownloads: cfg.Extract.MaxConcurrentDownloads,
		Logger:                 logger,
	})
	if err != nil {
		return "", err
	}

	coord, err := coordinator.New(coordinator.Config{
		Registry:      registry,
		Runs:          runRepo,
		Jobs:          jobRepo,
		Resorts:       resortRepo,
		Forecasts:     forecastRepo,
		Extractor:     pipeline,
		InstanceID:    fmt.Sprintf("job-runner-%s", uuid.NewString()),
		StaleFallback: cfg.Scheduler.StaleFallback,
		Logger:        logger,
	})
	if err != nil {
		return "", err
	}

	blender, err := blend.New(blend.Config{
		Registry:        registry,
		Forecasts:       forecastRepo,
		Blends:          blendRepo,
		Resorts:         resortRepo,
		Jobs:            jobRepo,
		WeightOverrides: cfg.Blend.WeightOverrides,
		Logger:          logger,
	})
	if err != nil {
		return "", err
	}

	sched, err := scheduler.New(scheduler.Config{
		Registry:      registry,
		Processor:     coord,
		Blender:       blender,
		Cache:         tileCache,
		Runs:          runRepo,
		Resorts:       resortRepo,
		SeedList:      db.DefaultResorts(),
		EnabledModels: cfg.Scheduler.EnabledModels,
		Logger:        logger,
	})
	if err != nil {
		return "", err
	}

	switch task {
	case taskModelRun:
		model, err := registry.Resolve(modelID)
		if err != nil {
			return "", err
		}
		if runTime != nil {
			count, err := coord.Process(ctx, model.ID, runTime.UTC())
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("model %s run %s: %d resorts processed",
				model.ID, runTime.UTC().Format(time.RFC3339), count), nil
		}
		count, err := sched.TriggerModel(ctx, model.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("model %s: %d resorts processed", model.ID, count), nil

	case taskBlend:
		count, err := sched.TriggerBlend(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("blend sweep complete: %d blends stored", count), nil

	case taskCleanup:
		removed, freed, err := sched.TriggerCleanup()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("cache cleanup complete: %d files removed, %d bytes freed", removed, freed), nil
	}

	// Unknown tasks are caught in main before reaching here.
	return "", fmt.Errorf("task %q cannot be dispatched", task)
}

// printAvailableTasks prints all valid tasks and their descriptions to
// stderr, sorted alphabetically.
func printAvailableTasks() {
	fmt.Fprintf(os.Stderr, "Available tasks:\n\n")

	tasks := make([]string, 0, len(validTasks))
	for t := range validTasks {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)

	maxLen := 0
	for _, t := range tasks {
		if len(t) > maxLen {
			maxLen = len(t)
		}
	}

	for _, t := range tasks {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, t, validTasks[t])
	}
	fmt.Fprintln(os.Stderr)
}
