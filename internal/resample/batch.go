package resample

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"eyeline/internal/align"
)

// Sink collects the outcome of every frame in a batch.
type Sink interface {
	Add(Frame) error
	Fail(index int, err error)
}

// Batch resamples sources[i] through transforms[i] on at most workers
// goroutines. Every index is reported to the sink exactly once, either as a
// frame or as a failure; a failing frame never stops its siblings.
func Batch(ctx context.Context, r Resampler, sources [][]byte, transforms []align.Transform, workers int, sink Sink) error {
	if len(sources) != len(transforms) {
		return fmt.Errorf("batch: %d sources for %d transforms", len(sources), len(transforms))
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range sources {
		g.Go(func() error {
			frame, err := r.Resample(ctx, i, sources[i], transforms[i])
			if err != nil {
				sink.Fail(i, err)
				return nil
			}
			if err := sink.Add(frame); err != nil {
				sink.Fail(i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
