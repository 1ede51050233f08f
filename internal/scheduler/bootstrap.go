package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"peakcast/internal/nwp"
)

// Bootstrap prepares an empty or stale database before the tickers start:
// it seeds the resort table when empty, backfills every enabled model that
// has no completed run, and computes initial blends once any model has
// data. Database failures are logged and absorbed so a cold start never
// prevents the periodic jobs from running; only context cancellation is
// returned.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	if err := s.seedResorts(ctx); err != nil {
		s.logger.ErrorContext(ctx, "bootstrap failed", "error", err)
		return ctx.Err()
	}

	pending, err := s.modelsNeedingBackfill(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "bootstrap failed", "error", err)
		return ctx.Err()
	}

	if len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, m := range pending {
			ids[i] = m.ID
		}
		s.logger.InfoContext(ctx, "backfilling models in parallel",
			"count", len(pending),
			"models", ids,
		)

		var g errgroup.Group
		g.SetLimit(s.bootstrapWorkers)
		for _, model := range pending {
			g.Go(func() error {
				count, err := s.processWithFallback(ctx, model)
				if err != nil {
					s.logger.ErrorContext(ctx, "initial processing failed",
						"model", model.ID,
						"error", err,
					)
					return nil
				}
				if count > 0 {
					s.logger.InfoContext(ctx, "bootstrap backfill completed",
						"model", model.ID,
						"resorts", count,
					)
				} else {
					s.logger.WarnContext(ctx, "bootstrap produced no data",
						"model", model.ID,
					)
				}
				return nil
			})
		}
		// Workers isolate their own failures.
		_ = g.Wait()
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.initialBlends(ctx)
	return ctx.Err()
}

// seedResorts upserts the seed list when the resort table is empty.
func (s *Scheduler) seedResorts(ctx context.Context) error {
	count, err := s.resorts.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.InfoContext(ctx, "resorts already seeded", "count", count)
		return nil
	}

	s.logger.InfoContext(ctx, "no resorts found, seeding database")
	seeded, err := s.resorts.Upsert(ctx, s.seedList)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "seeded resorts", "count", seeded)
	return nil
}

// modelsNeedingBackfill returns the enabled models with no completed run.
func (s *Scheduler) modelsNeedingBackfill(ctx context.Context) ([]nwp.Model, error) {
	var pending []nwp.Model
	for _, model := range s.models {
		latest, err := s.runs.LatestCompleted(ctx, model.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			s.logger.InfoContext(ctx, "model already has data, skipping backfill",
				"model", model.ID,
				"run_time", latest.RunTime.Format(time.RFC3339),
			)
			continue
		}
		pending = append(pending, model)
	}
	return pending, nil
}

// initialBlends runs one blend sweep when any model has a completed run.
func (s *Scheduler) initialBlends(ctx context.Context) {
	completed, err := s.runs.LatestCompletedAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "completed run lookup failed", "error", err)
		return
	}
	if len(completed) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "computing initial blends")
	if _, err := s.blender.ComputeAllBlends(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial blend failed", "error", err)
	}
}
