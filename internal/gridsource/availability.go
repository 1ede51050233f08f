package gridsource

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"peakcast/internal/nwp"
)

// PrepareBatch downloads the tile bundles for the requested offsets into the
// disk cache, at most maxConcurrency transfers at a time, and returns the
// offsets that are ready for sampling, in request order.
//
// An offset whose tile no mirror has published is simply absent from the
// result; a transfer failure is logged and also treated as unavailable, so a
// single bad hour never sinks the batch. Only context cancellation aborts.
func (s *S3TileStore) PrepareBatch(ctx context.Context, model nwp.Model, runTime time.Time, offsets []int, maxConcurrency int) ([]int, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	// Each goroutine writes only its own index.
	ready := make([]bool, len(offsets))

	for i, offset := range offsets {
		g.Go(func() error {
			err := s.ensureTile(gctx, model, runTime, offset)
			switch {
			case err == nil:
				ready[i] = true
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case errors.Is(err, errTileNotFound):
				s.logger.DebugContext(gctx, "forecast hour not yet published",
					"model", model.ID,
					"run_time", runTime,
					"offset", offset,
				)
			default:
				s.logger.WarnContext(gctx, "forecast hour unavailable",
					"model", model.ID,
					"run_time", runTime,
					"offset", offset,
					"error", err,
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	available := make([]int, 0, len(offsets))
	for i, offset := range offsets {
		if ready[i] {
			available = append(available, offset)
		}
	}
	return available, nil
}
