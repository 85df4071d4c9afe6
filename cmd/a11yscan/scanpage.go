package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nao1215/a11yscan/internal/config"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/spf13/cobra"
)

// NewScanPageCmd creates the scan-page command.
func NewScanPageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan-page <url>",
		Short: "Audit a single page without crawling",
		Long: `Scan-page audits exactly one page and prints the result. Nothing is stored.

Examples:
  # Audit a page and print a text summary
  a11yscan scan-page https://example.com/contact

  # Include passing rules in the JSON result
  a11yscan scan-page --json --include-passes https://example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: runScanPageCmd,
	}

	addBrowserFlags(cmd)

	cmd.Flags().Bool("include-passes", false,
		"Include passing rules in the result")
	cmd.Flags().BoolP("json", "j", false,
		"Output the page result as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output a Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write the result to specified file path")

	return cmd
}

// runScanPageCmd executes the scan-page command.
func runScanPageCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg)
	ctx, cancel := signalContext(logger)
	defer cancel()

	return runScanPage(ctx, cfg, logger, cmd.OutOrStdout())
}

// runScanPage audits cfg.StartURLs[0] and writes the result.
func runScanPage(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	target, err := crawler.ParseStartURL(cfg.StartURLs[0])
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", cfg.StartURLs[0], err)
	}

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sc, err := a.newScanner(cfg.SiteFor(target).WaitUntil)
	if err != nil {
		return err
	}
	page, err := sc.ScanURL(ctx, target)
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOutput()

	return writePage(cfg, output, page)
}

// writePage writes a single page result. JSON output is the page result
// itself; other formats render it as a one page report.
func writePage(cfg *config.Config, w io.Writer, page *model.PageAuditResult) error {
	if cfg.JSONReport {
		return writeJSON(w, page)
	}
	r := model.NewReport("", page.URL, page.Timestamp, []model.PageAuditResult{*page}, nil)
	return writeReport(cfg, w, r)
}
