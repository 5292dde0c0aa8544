package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FanOut retrieves for every query and returns one list per query, in input
// order. It returns only after all searches have finished. The first failure
// cancels the remaining searches and is returned.
func (r *Retriever) FanOut(ctx context.Context, queries []string, namespace string, k int, parallel bool) ([][]Candidate, error) {
	start := time.Now()
	lists := make([][]Candidate, len(queries))

	if !parallel {
		for i, q := range queries {
			list, err := r.Retrieve(ctx, q, namespace, k)
			if err != nil {
				return nil, err
			}
			lists[i] = list
		}
		r.metrics.recordFanOut(ctx, len(queries), time.Since(start))
		return lists, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			list, err := r.Retrieve(gctx, q, namespace, k)
			if err != nil {
				return err
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.metrics.recordFanOut(ctx, len(queries), time.Since(start))
	r.logger.Debug("fan-out complete",
		zap.String("namespace", namespace),
		zap.Int("queries", len(queries)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return lists, nil
}
