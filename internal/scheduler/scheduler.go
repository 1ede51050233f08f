// Package scheduler drives the engine's periodic work: per-model ingestion
// ticks, blend sweeps, tile cache cleanup, and the startup bootstrap that
// backfills an empty database. Every job runs behind a single-instance
// guard, so a tick that fires while the previous one is still running is
// skipped rather than stacked.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// Default intervals for the non-model periodic jobs.
const (
	DefaultBlendInterval   = 15 * time.Minute
	DefaultCleanupInterval = time.Hour

	// DefaultBootstrapWorkers caps the models backfilled in parallel at
	// startup. Seven covers every scheduled model.
	DefaultBootstrapWorkers = 7

	// defaultCacheRetention applies to cached tiles whose store directory
	// matches no registered model.
	defaultCacheRetention = 72 * time.Hour
)

// ModelProcessor ingests one model run end to end. Implemented by the
// coordinator.
type ModelProcessor interface {
	// Process claims and extracts the given run, returning the number of
	// resorts that produced valid data. A run that upstream has not
	// published yet fails with the upstream_no_forecast_hours code.
	Process(ctx context.Context, modelID string, runTime time.Time) (int, error)
}

// BlendSweeper recomputes stored blends across every resort and elevation.
type BlendSweeper interface {
	ComputeAllBlends(ctx context.Context) (int, error)
}

// GridCache is the on-disk tile cache swept by the cleanup job.
type GridCache interface {
	// CleanupExpired removes tiles older than their store's retention
	// window and returns the files removed and bytes freed.
	CleanupExpired(now time.Time, retentionFor func(storeModel string) time.Duration) (int, int64, error)

	// Size returns the cache's total on-disk byte size.
	Size() (int64, error)
}

// RunStore supplies the completed-run lookups the bootstrap uses to decide
// which models need an initial backfill.
type RunStore interface {
	// LatestCompleted returns the newest completed run for a model, or nil.
	LatestCompleted(ctx context.Context, modelID string) (*types.ModelRun, error)

	// LatestCompletedAll returns the newest completed run per model.
	LatestCompletedAll(ctx context.Context) (map[string]types.ModelRun, error)
}

// ResortSeeder seeds the resort table on first startup.
type ResortSeeder interface {
	Count(ctx context.Context) (int64, error)
	Upsert(ctx context.Context, resorts []types.Resort) (int, error)
}

// CacheMetrics records cleanup sweep outcomes. May be nil.
type CacheMetrics interface {
	RecordCacheCleanup(removed int, freedBytes int64)
	SetCacheSize(bytes int64)
}

// Config wires a Scheduler.
type Config struct {
	Registry  nwp.Registry
	Processor ModelProcessor
	Blender   BlendSweeper
	Cache     GridCache
	Runs      RunStore
	Resorts   ResortSeeder

	// SeedList is upserted when the resort table is empty at bootstrap.
	SeedList []types.Resort

	// EnabledModels restricts scheduling to the listed models (aliases
	// allowed). Empty schedules every gridded model in the registry.
	EnabledModels []string

	BlendInterval    time.Duration
	CleanupInterval  time.Duration
	BootstrapWorkers int

	Clock   clockwork.Clock
	Metrics CacheMetrics
	Logger  *slog.Logger
}

// Scheduler owns the periodic job loops. Construct with New and drive with
// Run; TriggerModel shares the same per-job guards with the ticker loops, so
// manual and scheduled runs of one model never overlap.
type Scheduler struct {
	registry         nwp.Registry
	models           []nwp.Model
	processor        ModelProcessor
	blender          BlendSweeper
	cache            GridCache
	runs             RunStore
	resorts          ResortSeeder
	seedList         []types.Resort
	retention        map[string]time.Duration
	blendInterval    time.Duration
	cleanupInterval  time.Duration
	bootstrapWorkers int

	clock   clockwork.Clock
	metrics CacheMetrics
	logger  *slog.Logger

	guards map[string]*sync.Mutex
	wg     sync.WaitGroup
}

// New validates the wiring and resolves the enabled model set.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("scheduler: processor is required")
	}
	if cfg.Blender == nil {
		return nil, errors.New("scheduler: blender is required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("scheduler: cache is required")
	}
	if cfg.Runs == nil {
		return nil, errors.New("scheduler: run store is required")
	}
	if cfg.Resorts == nil {
		return nil, errors.New("scheduler: resort store is required")
	}

	models, err := enabledModels(cfg.Registry, cfg.EnabledModels)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry:         cfg.Registry,
		models:           models,
		processor:        cfg.Processor,
		blender:          cfg.Blender,
		cache:            cfg.Cache,
		runs:             cfg.Runs,
		resorts:          cfg.Resorts,
		seedList:         cfg.SeedList,
		retention:        retentionByStore(cfg.Registry),
		blendInterval:    cfg.BlendInterval,
		cleanupInterval:  cfg.CleanupInterval,
		bootstrapWorkers: cfg.BootstrapWorkers,
		clock:            cfg.Clock,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}
	if s.blendInterval <= 0 {
		s.blendInterval = DefaultBlendInterval
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = DefaultCleanupInterval
	}
	if s.bootstrapWorkers <= 0 {
		s.bootstrapWorkers = DefaultBootstrapWorkers
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.guards = make(map[string]*sync.Mutex, len(s.models)+2)
	for _, m := range s.models {
		s.guards["model_"+m.ID] = &sync.Mutex{}
	}
	s.guards["blend"] = &sync.Mutex{}
	s.guards["cleanup"] = &sync.Mutex{}
	return s, nil
}

// enabledModels resolves the configured model set against the registry. An
// empty set enables every gridded model.
func enabledModels(registry nwp.Registry, enabled []string) ([]nwp.Model, error) {
	scheduled := registry.Scheduled()
	if len(enabled) == 0 {
		return scheduled, nil
	}

	want := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		model, err := registry.Resolve(id)
		if err != nil {
			return nil, fmt.Errorf("scheduler: enabled models: %w", err)
		}
		if !model.Gridded() {
			return nil, fmt.Errorf("scheduler: model %s has no grid source", model.ID)
		}
		want[model.ID] = true
	}

	models := make([]nwp.Model, 0, len(want))
	for _, m := range scheduled {
		if want[m.ID] {
			models = append(models, m)
		}
	}
	return models, nil
}

// retentionByStore maps each tile store directory to the longest retention
// window among the models sharing it. ECMWF ENS shares the ifs store.
func retentionByStore(registry nwp.Registry) map[string]time.Duration {
	retention := make(map[string]time.Duration)
	for _, m := range registry.All() {
		if !m.Gridded() {
			continue
		}
		if m.CacheRetention > retention[m.StoreModel] {
			retention[m.StoreModel] = m.CacheRetention
		}
	}
	return retention
}

// Models returns the enabled models in blend priority order.
func (s *Scheduler) Models() []nwp.Model {
	out := make([]nwp.Model, len(s.models))
	copy(out, s.models)
	return out
}

// Run bootstraps the database and then drives every periodic job until the
// context is cancelled. It blocks, and returns once all in-flight jobs have
// drained.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	for _, model := range s.models {
		s.wg.Add(1)
		go s.modelLoop(ctx, model)
	}
	s.wg.Add(2)
	go s.blendLoop(ctx)
	go s.cleanupLoop(ctx)

	s.logger.InfoContext(ctx, "scheduler started",
		"models", len(s.models),
		"blend_interval", s.blendInterval.String(),
		"cleanup_interval", s.cleanupInterval.String(),
	)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) modelLoop(ctx context.Context, model nwp.Model) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(model.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.TriggerModel(ctx, model.ID); err != nil && !types.IsJobRunning(err) {
				s.logger.ErrorContext(ctx, "scheduled model run failed",
					"model", model.ID,
					"error", err,
				)
			}
		}
	}
}

func (s *Scheduler) blendLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.blendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runBlend(ctx)
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runCleanup(ctx)
		}
	}
}

// TriggerModel runs the candidate-fallback flow for one model. Scheduled
// ticks and manual triggers share the model's guard; if the job is already
// running the call returns conflict_job_running without touching the
// database. Returns the number of resorts processed.
func (s *Scheduler) TriggerModel(ctx context.Context, modelID string) (int, error) {
	model, guard, err := s.modelGuard(modelID)
	if err != nil {
		return 0, err
	}
	if !guard.TryLock() {
		s.logger.WarnContext(ctx, "model job already running, skipping",
			"model", model.ID,
		)
		return 0, types.NewAppError(types.ErrCodeConflictJobRunning,
			fmt.Sprintf("model_%s already running", model.ID), nil)
	}
	defer guard.Unlock()

	return s.processWithFallback(ctx, model)
}

// modelGuard resolves an identifier or alias against the enabled set and
// returns the model with its per-job guard.
func (s *Scheduler) modelGuard(modelID string) (nwp.Model, *sync.Mutex, error) {
	model, err := s.registry.Resolve(modelID)
	if err != nil {
		return nwp.Model{}, nil, err
	}
	for _, m := range s.models {
		if m.ID == model.ID {
			return m, s.guards["model_"+m.ID], nil
		}
	}
	return nwp.Model{}, nil, types.NewAppError(types.ErrCodeValidationModelUnknown,
		fmt.Sprintf("model %s is not enabled", model.ID), nil)
}

// TriggerBlend runs one blend sweep immediately, sharing the guard with the
// periodic loop. Returns the number of blends stored, or conflict_job_running
// if a sweep is already in progress.
func (s *Scheduler) TriggerBlend(ctx context.Context) (int, error) {
	guard := s.guards["blend"]
	if !guard.TryLock() {
		return 0, types.NewAppError(types.ErrCodeConflictJobRunning,
			"blend sweep already running", nil)
	}
	defer guard.Unlock()

	return s.blender.ComputeAllBlends(ctx)
}

// TriggerCleanup sweeps the tile cache once, sharing the guard with the
// periodic loop. Returns the files removed and bytes freed; a partial sweep
// reports what it removed alongside the error.
func (s *Scheduler) TriggerCleanup() (int, int64, error) {
	guard := s.guards["cleanup"]
	if !guard.TryLock() {
		return 0, 0, types.NewAppError(types.ErrCodeConflictJobRunning,
			"cache cleanup already running", nil)
	}
	defer guard.Unlock()

	removed, freed, err := s.cache.CleanupExpired(s.clock.Now().UTC(), s.retentionFor)
	if s.metrics != nil {
		s.metrics.RecordCacheCleanup(removed, freed)
		if size, sizeErr := s.cache.Size(); sizeErr == nil {
			s.metrics.SetCacheSize(size)
		}
	}
	return removed, freed, err
}

func (s *Scheduler) runBlend(ctx context.Context) {
	if _, err := s.TriggerBlend(ctx); err != nil {
		if types.IsJobRunning(err) {
			s.logger.WarnContext(ctx, "blend sweep already running, skipping")
			return
		}
		s.logger.ErrorContext(ctx, "blend sweep failed", "error", err)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	removed, freed, err := s.TriggerCleanup()
	if err != nil {
		if types.IsJobRunning(err) {
			s.logger.WarnContext(ctx, "cache cleanup already running, skipping")
			return
		}
		s.logger.ErrorContext(ctx, "cache cleanup failed", "error", err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "cleaned up expired tiles",
			"files", removed,
			"bytes_freed", freed,
		)
	}
}

// retentionFor returns the retention window for a tile store directory.
func (s *Scheduler) retentionFor(storeModel string) time.Duration {
	if d, ok := s.retention[storeModel]; ok {
		return d
	}
	return defaultCacheRetention
}
