package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/a11yscan/internal/model"
)

// SiteScan carries the state of one site scan through the pipeline.
// Each step reads what earlier steps produced and adds its own part.
type SiteScan struct {
	// StartURL is the URL the scan was requested for.
	StartURL string

	// ScannedAt is set when the page scans finish.
	ScannedAt time.Time

	// Targets are the discovered URLs in crawl order.
	Targets []string

	// Pages are the audit results in target order.
	Pages []model.PageAuditResult

	// Failures are the pages that could not be scanned, when the scan
	// continues past failures.
	Failures []model.ScanFailure

	// Summary is the aggregated site summary.
	Summary *model.SiteSummary

	// ReportID is set once the report is stored.
	ReportID string

	// PerformedSteps lists the steps that ran, in order.
	PerformedSteps []string

	// Err is the error that stopped the scan, if any.
	Err error
}

// NewSiteScan creates the state for a scan of startURL.
func NewSiteScan(startURL string) *SiteScan {
	return &SiteScan{StartURL: startURL}
}

// Report builds the report of a finished scan. The ID is ReportID.
func (s *SiteScan) Report() *model.Report {
	return model.NewReport(s.ReportID, s.StartURL, s.ScannedAt, s.Pages, s.Failures)
}

// Step is one stage of a site scan.
type Step interface {
	// Do executes the step. An error stops the pipeline.
	Do(ctx context.Context, scan *SiteScan) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline runs steps in order over a SiteScan.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all steps in sequence. Cancellation is checked before
// each step; steps handle their own timeouts.
//
// It returns the first error, which is also recorded in scan.Err.
// Failures of single pages are handled by the scan step itself.
func (p *Pipeline) Execute(ctx context.Context, scan *SiteScan) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"start_url", scan.StartURL,
				"reason", err,
			)
			scan.Err = err
			return err
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"start_url", scan.StartURL,
		)

		if err := step.Do(ctx, scan); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"start_url", scan.StartURL,
				"error", err,
			)
			scan.Err = err
			return err
		}

		p.logger.Debug("step completed",
			"step", step.Name(),
			"start_url", scan.StartURL,
		)
		scan.PerformedSteps = append(scan.PerformedSteps, step.Name())
	}
	return nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
