package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"silver/internal/bronze"
	"silver/pkg/records"
)

// Preview is the outcome of a mapping test: what a run would write and
// reject for the next rows past the watermark.
type Preview struct {
	Watermark string
	Read      int
	Accepted  []*records.Record
	Rejected  []Rejected
}

// Preview runs READ, MAP and optionally RULES over up to limit rows
// without locking or writing anything.
func (e *Engine) Preview(ctx context.Context, req Request, limit int) (Preview, error) {
	req = e.normalize(req)
	if limit > 0 {
		req.BatchSize = limit
	}
	prep, err := e.prepare(ctx, req)
	if err != nil {
		return Preview{}, err
	}
	wm, err := e.Watermark(ctx, req.SourceTable, req.TargetTable)
	if err != nil {
		return Preview{}, err
	}
	rows, err := e.source.Read(ctx, bronze.Ref{Schema: req.SourceSchema, Table: req.SourceTable}, wm.LastPosition.String, req.BatchSize)
	if err != nil {
		return Preview{}, err
	}
	out, err := e.process(ctx, req, prep, rows)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Watermark: wm.LastPosition.String,
		Read:      out.read,
		Accepted:  out.accepted,
		Rejected:  out.rejected,
	}, nil
}

// RunAll runs independent pairs concurrently, at most parallelism at a
// time. Each request gets its Result at the same index; a failing pair does
// not stop the others. The returned error joins every pair's error.
func (e *Engine) RunAll(ctx context.Context, reqs []Request, parallelism int) ([]Result, error) {
	return e.RunAllFunc(ctx, reqs, parallelism, nil)
}

// RunAllFunc is RunAll with done called as each pair finishes. done may be
// called concurrently.
func (e *Engine) RunAllFunc(ctx context.Context, reqs []Request, parallelism int, done func(int, Result)) ([]Result, error) {
	if parallelism <= 0 {
		parallelism = max(e.cfg.Parallelism, 1)
	}
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		r = e.normalize(r)
		if seen[r.Pair()] {
			return nil, fmt.Errorf("transform: pair %s requested twice", r.Pair())
		}
		seen[r.Pair()] = true
	}

	start := time.Now()
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, r := range reqs {
		g.Go(func() error {
			results[i], errs[i] = e.Run(ctx, r)
			if done != nil {
				done(i, results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	e.log.Info("pairs finished", zap.Int("pairs", len(reqs)), zap.Int("failed", failed),
		zap.Int("parallelism", parallelism), zap.Duration("elapsed", time.Since(start)))
	return results, errors.Join(errs...)
}
