package service

import (
	"context"
	"fmt"
	"time"

	"urlscan/internal/model"

	"golang.org/x/sync/errgroup"
)

// CheckBatch runs Check for every URL with bounded parallelism. Results keep
// the input order. A batch over MaxBatch is rejected before any URL runs.
func (s *Scanner) CheckBatch(ctx context.Context, urls []string, threshold *float64) (model.BatchResult, error) {
	if len(urls) > s.MaxBatch {
		return model.BatchResult{}, fmt.Errorf("%w: %d URLs, maximum %d", ErrBatchTooLarge, len(urls), s.MaxBatch)
	}
	batchSize.Observe(float64(len(urls)))

	ctx, cancel := context.WithTimeout(ctx, s.batchTimeout(len(urls)))
	defer cancel()

	results := make([]model.ScanResult, len(urls))
	g := new(errgroup.Group)
	g.SetLimit(s.Workers)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = s.Check(ctx, u, threshold)
			return nil
		})
	}
	_ = g.Wait()

	return Aggregate(results), nil
}

// batchTimeout allows one URL budget per round of workers plus one spare.
func (s *Scanner) batchTimeout(n int) time.Duration {
	rounds := (n + s.Workers - 1) / s.Workers
	return s.URLTimeout * time.Duration(rounds+1)
}

func Aggregate(results []model.ScanResult) model.BatchResult {
	br := model.BatchResult{Results: results, TotalChecked: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.StatusWhitelisted:
			br.WhitelistedCount++
		case model.StatusAnalyzed:
			br.AnalyzedCount++
		}
		if r.IsMalicious {
			br.MaliciousCount++
		}
	}
	return br
}
