package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/a11yscan/internal/config"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/a11yscan/internal/pipeline"
	"github.com/nao1215/a11yscan/internal/report"
	"github.com/nao1215/a11yscan/internal/scanner"
	"github.com/spf13/cobra"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [start-url]...",
		Short: "Crawl a website and audit every page for accessibility issues",
		Long: `Scan discovers the pages of a website and audits each of them.

Starting from the start URL, pages of the same origin are discovered
breadth-first up to --max-pages pages and --max-depth link hops. Every page
is then loaded in a fresh headless Chrome session and audited with the
axe-core WCAG 2.x A/AA rules. The results are aggregated into a site report
that is printed and stored (report.json, report.html, report.md).

A page that cannot be loaded while discovering is still audited; a page
whose audit fails aborts the site scan unless --continue-on-error is set.

Examples:
  # Scan a site with the default caps (25 pages, depth 2)
  a11yscan scan https://example.com

  # Scan more pages, deeper
  a11yscan scan -p 100 -d 4 https://example.com

  # Scan several sites, two at a time
  a11yscan scan --batch 2 https://example.com https://example.org

  # Print the JSON report
  a11yscan scan --json https://example.com

Configuration file (.a11yscan) example:
  sites:
    example.com:
      maxPages: 100
      ignorePatterns:
        - "/logout*"`,
		Args: cobra.ArbitraryArgs,
		RunE: runScanCmd,
	}

	addBrowserFlags(cmd)
	addCrawlFlags(cmd)

	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of sites scanned concurrently")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("no-progress", false,
		"Disable the progress bar")

	return cmd
}

// runScanCmd executes the scan command.
func runScanCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.ValidateScan(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg)
	ctx, cancel := signalContext(logger)
	defer cancel()

	return runScan(ctx, cfg, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// normalizeStartURLs validates the start URLs and drops duplicates,
// keeping the first occurrence.
func normalizeStartURLs(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	urls := make([]string, 0, len(raw))
	for _, r := range raw {
		u, err := crawler.ParseStartURL(r)
		if err != nil {
			return nil, fmt.Errorf("invalid start URL %q: %w", r, err)
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls, nil
}

// runScan scans every start URL and prints the reports in input order.
func runScan(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	startURLs, err := normalizeStartURLs(cfg.StartURLs)
	if err != nil {
		return err
	}

	logger.Info("starting scan",
		"targets", startURLs,
		"batch_size", cfg.BatchSize,
		"workers", cfg.Workers,
	)

	a, err := openApp(ctx, cfg, logger, withStorage())
	if err != nil {
		return err
	}
	defer a.Close()

	progress := newScanProgress(stderr, cfg.NoProgress)
	bp := pipeline.NewBatchProcessor(
		func(startURL string) (*pipeline.Pipeline, error) {
			return a.sitePipeline(cfg.SiteFor(startURL), scanner.WithProgress(progress.track(startURL)))
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	began := time.Now()
	scans := make([]*pipeline.SiteScan, len(startURLs))
	var mu sync.Mutex
	err = bp.ProcessBatchWithCallback(ctx, startURLs, func(scan *pipeline.SiteScan, index int) {
		progress.finish(scan.StartURL)
		mu.Lock()
		defer mu.Unlock()
		scans[index] = scan
	})
	progress.Wait()
	if err != nil {
		return err
	}

	return printScans(cfg, scans, time.Since(began), stdout, stderr)
}

// printScans writes the report of every successful scan and a line per
// failed one. It fails when any site scan failed.
func printScans(cfg *config.Config, scans []*pipeline.SiteScan, elapsed time.Duration, stdout, stderr io.Writer) error {
	output, closeOutput, err := openOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOutput()

	failed := 0
	for _, scan := range scans {
		if scan == nil {
			continue
		}
		if scan.Err != nil {
			failed++
			fmt.Fprintf(stderr, "Scan error for %s: %v\n", scan.StartURL, scan.Err)
			continue
		}

		if err := writeReport(cfg, output, scan.Report()); err != nil {
			return fmt.Errorf("failed to write report for %s: %w", scan.StartURL, err)
		}
		if scan.ReportID != "" {
			fmt.Fprintf(stderr, "Report %s stored%s\n", scan.ReportID, storedLocation(cfg, scan.ReportID))
		}
	}

	fmt.Fprintf(stderr, "Scan completed in %s\n", elapsed.Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d of %d site scans failed", failed, len(scans))
	}
	return nil
}

// storedLocation describes where the HTML report of id can be opened.
func storedLocation(cfg *config.Config, id string) string {
	if cfg.File != nil && cfg.File.Storage.IsS3() {
		return fmt.Sprintf(" in bucket %s", cfg.File.Storage.S3.Bucket)
	}
	return ": " + filepath.Join(cfg.ReportsDir(), id, report.FormatHTML.FileName())
}

// openOutput returns the report destination: the file at path, or stdout
// when path is empty.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports may list internal URLs, so the file is readable by the owner only.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// writeReport writes r in the format selected by the flags.
func writeReport(cfg *config.Config, w io.Writer, r *model.Report) error {
	var writer report.Writer
	switch {
	case cfg.JSONReport:
		writer = report.NewFullJSONWriter(w, getVersion(), report.WithPrettyPrint())
	case cfg.MarkdownReport:
		writer = report.NewMarkdownWriter(w)
	default:
		writer = report.NewSimpleWriter(w)
	}
	_, err := writer.Write(r)
	return err
}
