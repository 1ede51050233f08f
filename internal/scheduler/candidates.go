package scheduler

import (
	"context"
	"time"

	"peakcast/internal/nwp"
	"peakcast/internal/types"
)

// CandidateRunTimes returns the run times worth trying for a model, newest
// first: the latest run expected to be published, then the one before it.
// The latest expected run is now minus the model's availability buffer,
// floored to the model's update interval.
func CandidateRunTimes(model nwp.Model, now time.Time) []time.Time {
	available := now.UTC().Add(-model.AvailabilityBuffer)
	latest := available.Truncate(model.UpdateInterval)
	return []time.Time{latest, latest.Add(-model.UpdateInterval)}
}

// processWithFallback tries each candidate run newest first. A run that is
// not yet published signals upstream_no_forecast_hours and the older
// candidate is tried; any other error aborts. Exhausting every candidate is
// not an error: it is logged and zero resorts are reported, and the next
// tick tries again.
func (s *Scheduler) processWithFallback(ctx context.Context, model nwp.Model) (int, error) {
	var lastErr error
	for _, runTime := range CandidateRunTimes(model, s.clock.Now()) {
		count, err := s.processor.Process(ctx, model.ID, runTime)
		if err == nil {
			return count, nil
		}
		if !types.IsNoForecastHours(err) {
			return 0, err
		}
		lastErr = err
		s.logger.WarnContext(ctx, "no data for model run, trying previous",
			"model", model.ID,
			"run_time", runTime.Format(time.RFC3339),
			"error", err,
		)
	}
	s.logger.ErrorContext(ctx, "all candidate runs failed",
		"model", model.ID,
		"error", lastErr,
	)
	return 0, nil
}
