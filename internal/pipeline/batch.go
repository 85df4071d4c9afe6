package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Factory builds the pipeline for one start URL. Every site gets its own
// pipeline, so per-site settings and browser sessions never mix.
type Factory func(startURL string) (*Pipeline, error)

// BatchProcessor scans several sites concurrently.
type BatchProcessor struct {
	factory     Factory
	concurrency int
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent site scans.
// Values below 1 are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a BatchProcessor. By default sites are
// scanned one at a time.
func NewBatchProcessor(factory Factory, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		factory:     factory,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch scans every start URL and returns the scans in input order.
// A failed site is reported through its SiteScan.Err and does not stop the
// others; the returned error is only set when ctx is cancelled.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, startURLs []string) ([]*SiteScan, error) {
	results := make([]*SiteScan, len(startURLs))
	err := bp.ProcessBatchWithCallback(ctx, startURLs, func(scan *SiteScan, index int) {
		results[index] = scan
	})
	for i, scan := range results {
		if scan == nil {
			results[i] = &SiteScan{StartURL: startURLs[i], Err: ctx.Err()}
		}
	}
	return results, err
}

// ProcessBatchWithCallback scans every start URL and calls callback with
// each finished scan and its index in startURLs. callback runs on the
// goroutine that finished the scan, so it must be safe for concurrent use
// when concurrency is above one. Sites not started before cancellation are
// not passed to callback.
func (bp *BatchProcessor) ProcessBatchWithCallback(ctx context.Context, startURLs []string, callback func(scan *SiteScan, index int)) error {
	bp.logger.Info("starting batch processing",
		"total_sites", len(startURLs),
		"concurrency", bp.concurrency,
	)
	began := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, startURL := range startURLs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			scan := NewSiteScan(startURL)
			p, err := bp.factory(startURL)
			if err != nil {
				scan.Err = err
			} else {
				_ = p.Execute(gctx, scan) //nolint:errcheck // Error is stored in scan
			}

			if scan.Err != nil {
				bp.logger.Warn("site scan failed", "start_url", startURL, "error", scan.Err)
			} else {
				bp.logger.Info("site scan completed", "start_url", startURL, "index", i+1, "total", len(startURLs))
			}
			callback(scan, i)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	bp.logger.Info("batch processing complete",
		"total_sites", len(startURLs),
		"elapsed", time.Since(began),
	)
	return err
}
