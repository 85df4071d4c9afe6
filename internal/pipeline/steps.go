package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/a11yscan/internal/scanner"
)

// ErrNoTargets is returned by the scan step when the crawl found nothing.
var ErrNoTargets = errors.New("no pages to scan")

// CrawlStep discovers the pages of the site.
type CrawlStep struct {
	spider *crawler.Spider
	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a crawl step using spider.
func NewCrawlStep(spider *crawler.Spider, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		spider: spider,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl step. Pages that fail to load during discovery
// stay in the target list; only an invalid start URL or cancellation
// fails the step.
func (s *CrawlStep) Do(ctx context.Context, scan *SiteScan) error {
	targets, err := s.spider.Crawl(ctx, scan.StartURL)
	scan.Targets = targets
	if err != nil {
		return err
	}

	s.logger.Info("crawl completed",
		"start_url", scan.StartURL,
		"pages", len(targets),
		"max_pages", s.spider.MaxPages(),
		"max_depth", s.spider.MaxDepth(),
	)
	return nil
}

// ScanStep audits every discovered page.
type ScanStep struct {
	scanner *scanner.Scanner
	logger  *slog.Logger
	now     func() time.Time
}

// ScanStepOption configures a ScanStep.
type ScanStepOption func(*ScanStep)

// WithScanLogger sets a custom logger for the scan step.
func WithScanLogger(logger *slog.Logger) ScanStepOption {
	return func(s *ScanStep) {
		s.logger = logger
	}
}

// NewScanStep creates a scan step using sc.
func NewScanStep(sc *scanner.Scanner, opts ...ScanStepOption) *ScanStep {
	s := &ScanStep{
		scanner: sc,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ScanStep) Name() string {
	return "scan"
}

// Do executes the scan step. Results keep the order of scan.Targets.
func (s *ScanStep) Do(ctx context.Context, scan *SiteScan) error {
	if len(scan.Targets) == 0 {
		return ErrNoTargets
	}

	batch, err := s.scanner.ScanAll(ctx, scan.Targets)
	if batch != nil {
		scan.Pages = batch.Pages
		scan.Failures = batch.Failures
	}
	if err != nil {
		return err
	}
	scan.ScannedAt = s.now().UTC()

	s.logger.Info("pages scanned",
		"start_url", scan.StartURL,
		"scanned", len(scan.Pages),
		"failed", len(scan.Failures),
	)
	return nil
}

// AggregateStep reduces the page results to the site summary.
type AggregateStep struct{}

// NewAggregateStep creates an aggregate step.
func NewAggregateStep() *AggregateStep {
	return &AggregateStep{}
}

// Name returns the step name.
func (s *AggregateStep) Name() string {
	return "aggregate"
}

// Do executes the aggregate step.
func (s *AggregateStep) Do(_ context.Context, scan *SiteScan) error {
	scan.Summary = model.NewSiteSummary(scan.Pages)
	return nil
}

// Persister stores the report of a site scan and returns its ID.
// *artifact.Writer implements it.
type Persister interface {
	Persist(ctx context.Context, startURL string, scannedAt time.Time, pages []model.PageAuditResult, failures []model.ScanFailure) (string, error)
}

// PersistStep stores the report.
type PersistStep struct {
	persister Persister
	logger    *slog.Logger
}

// PersistStepOption configures a PersistStep.
type PersistStepOption func(*PersistStep)

// WithPersistLogger sets a custom logger for the persist step.
func WithPersistLogger(logger *slog.Logger) PersistStepOption {
	return func(s *PersistStep) {
		s.logger = logger
	}
}

// NewPersistStep creates a persist step using p.
func NewPersistStep(p Persister, opts ...PersistStepOption) *PersistStep {
	s := &PersistStep{
		persister: p,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *PersistStep) Name() string {
	return "persist"
}

// Do executes the persist step.
func (s *PersistStep) Do(ctx context.Context, scan *SiteScan) error {
	id, err := s.persister.Persist(ctx, scan.StartURL, scan.ScannedAt, scan.Pages, scan.Failures)
	if err != nil {
		return err
	}
	scan.ReportID = id
	s.logger.Info("report persisted", "start_url", scan.StartURL, "id", id)
	return nil
}

// SitePipeline creates the standard pipeline: crawl, scan, aggregate and,
// when persister is not nil, persist.
func SitePipeline(spider *crawler.Spider, sc *scanner.Scanner, persister Persister, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := New(WithLogger(logger))
	p.AddSteps(
		NewCrawlStep(spider, WithCrawlLogger(logger)),
		NewScanStep(sc, WithScanLogger(logger)),
		NewAggregateStep(),
	)
	if persister != nil {
		p.AddStep(NewPersistStep(persister, WithPersistLogger(logger)))
	}
	return p
}
