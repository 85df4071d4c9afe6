// Package scanner drives the accessibility audit over a list of pages.
//
// Every page is scanned in a fresh browser session so that no state leaks
// from one page into the next. Scans are never retried.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nao1215/a11yscan/internal/audit"
	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout is the navigation timeout for a scanned page.
	DefaultTimeout = 45 * time.Second

	// DefaultAuditTimeout bounds the in-page audit run.
	DefaultAuditTimeout = 2 * time.Minute

	// userAgentExpression reads the user agent of the scanning browser.
	userAgentExpression = "navigator.userAgent"
)

// ScanError describes a page whose scan failed.
type ScanError struct {
	// URL is the page being scanned.
	URL string

	// Err is the navigation or audit failure.
	Err error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying failure.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// Batch is the outcome of ScanAll.
type Batch struct {
	// Pages holds successful results in input order.
	Pages []model.PageAuditResult

	// Failures holds the pages skipped under continue-on-error, in input order.
	Failures []model.ScanFailure
}

// ProgressFunc is called after each page finishes, successfully or not.
// With concurrency above one it is called from several goroutines.
type ProgressFunc func(done, total int, url string, err error)

// Scanner audits pages one session at a time.
type Scanner struct {
	browser         browser.Browser
	engine          audit.Engine
	timeout         time.Duration
	auditTimeout    time.Duration
	waitUntil       browser.WaitUntil
	includePasses   bool
	continueOnError bool
	concurrency     int
	progress        ProgressFunc
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithTimeout sets the navigation timeout per page.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithAuditTimeout sets the time allowed for the audit engine per page.
func WithAuditTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.auditTimeout = d
		}
	}
}

// WithWaitUntil sets the lifecycle condition a page must reach before it is audited.
func WithWaitUntil(wait browser.WaitUntil) Option {
	return func(s *Scanner) {
		s.waitUntil = wait
	}
}

// WithIncludePasses keeps passing rules in the results.
func WithIncludePasses(include bool) Option {
	return func(s *Scanner) {
		s.includePasses = include
	}
}

// WithContinueOnError makes ScanAll record failed pages and keep going
// instead of stopping at the first failure.
func WithContinueOnError(continueOnError bool) Option {
	return func(s *Scanner) {
		s.continueOnError = continueOnError
	}
}

// WithConcurrency sets how many pages ScanAll audits at once.
// Default is 1, which scans pages strictly in order.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithProgress registers a callback invoked after every page.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) {
		s.progress = fn
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMetrics records scan outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// New creates a Scanner that opens sessions from b and audits with engine.
func New(b browser.Browser, engine audit.Engine, opts ...Option) *Scanner {
	s := &Scanner{
		browser:      b,
		engine:       engine,
		timeout:      DefaultTimeout,
		auditTimeout: DefaultAuditTimeout,
		waitUntil:    browser.WaitNetworkIdle,
		concurrency:  1,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// With returns a copy of the scanner with opts applied on top.
func (s *Scanner) With(opts ...Option) *Scanner {
	c := *s
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// ScanURL audits a single page. Failures are returned as *ScanError.
func (s *Scanner) ScanURL(ctx context.Context, url string) (*model.PageAuditResult, error) {
	started := s.now()
	page, err := s.scan(ctx, url)

	var impacts []string
	if page != nil {
		for _, v := range page.Violations {
			impacts = append(impacts, v.Impact.String())
		}
	}
	s.metrics.ObserveScan(s.now().Sub(started), err, impacts)

	if err != nil {
		return nil, &ScanError{URL: url, Err: err}
	}
	return page, nil
}

func (s *Scanner) scan(ctx context.Context, url string) (*model.PageAuditResult, error) {
	session, err := s.browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.Debug("failed to close session", "url", url, "error", cerr)
		}
	}()

	s.logger.Debug("scanning page", "url", url, "wait_until", s.waitUntil)
	if err := session.Navigate(ctx, url, s.waitUntil, s.timeout); err != nil {
		return nil, err
	}

	auditCtx, cancel := context.WithTimeout(ctx, s.auditTimeout)
	defer cancel()
	result, err := s.engine.Audit(auditCtx, session, audit.Options{IncludePasses: s.includePasses})
	if err != nil {
		return nil, err
	}

	return &model.PageAuditResult{
		URL:        url,
		Timestamp:  s.now().UTC(),
		UserAgent:  s.userAgent(ctx, session, url),
		Violations: result.Violations,
		Incomplete: result.Incomplete,
		Passes:     result.Passes,
	}, nil
}

// userAgent reads navigator.userAgent within the navigation timeout. A
// failure leaves it empty.
func (s *Scanner) userAgent(ctx context.Context, session browser.Session, url string) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var userAgent string
	if err := session.Evaluate(ctx, userAgentExpression, &userAgent); err != nil {
		s.logger.Debug("failed to read user agent", "url", url, "error", err)
		return ""
	}
	return userAgent
}

// ScanAll audits urls and returns the results in input order.
//
// Without continue-on-error the first failure stops the run and is
// returned together with the pages scanned before it. Cancellation of ctx
// always stops the run.
func (s *Scanner) ScanAll(ctx context.Context, urls []string) (*Batch, error) {
	s.logger.Info("scanning pages", "total", len(urls), "concurrency", s.concurrency)
	if s.concurrency <= 1 {
		return s.scanSequential(ctx, urls)
	}
	return s.scanConcurrent(ctx, urls)
}

func (s *Scanner) scanSequential(ctx context.Context, urls []string) (*Batch, error) {
	batch := &Batch{Pages: make([]model.PageAuditResult, 0, len(urls))}
	for i, url := range urls {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		page, err := s.ScanURL(ctx, url)
		s.report(i+1, len(urls), url, err)
		if err != nil {
			if !s.absorb(ctx, url, err) {
				return batch, err
			}
			batch.Failures = append(batch.Failures, model.ScanFailure{URL: url, Error: err.Error()})
			continue
		}
		batch.Pages = append(batch.Pages, *page)
	}
	return batch, nil
}

func (s *Scanner) scanConcurrent(ctx context.Context, urls []string) (*Batch, error) {
	pages := make([]*model.PageAuditResult, len(urls))
	failures := make([]error, len(urls))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			page, err := s.ScanURL(gctx, url)
			s.report(int(done.Add(1)), len(urls), url, err)
			if err != nil {
				if !s.absorb(gctx, url, err) {
					return err
				}
				failures[i] = err
				return nil
			}
			pages[i] = page
			return nil
		})
	}
	err := g.Wait()

	batch := &Batch{Pages: make([]model.PageAuditResult, 0, len(urls))}
	for i, url := range urls {
		switch {
		case pages[i] != nil:
			batch.Pages = append(batch.Pages, *pages[i])
		case failures[i] != nil:
			batch.Failures = append(batch.Failures, model.ScanFailure{URL: url, Error: failures[i].Error()})
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	return batch, err
}

// absorb reports whether a page failure should be recorded instead of
// stopping the run.
func (s *Scanner) absorb(ctx context.Context, url string, err error) bool {
	if !s.continueOnError || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	s.logger.Warn("page scan failed, continuing", "url", url, "error", err)
	return true
}

func (s *Scanner) report(done, total int, url string, err error) {
	if s.progress != nil {
		s.progress(done, total, url, err)
	}
}
