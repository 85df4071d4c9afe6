package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nao1215/a11yscan/internal/artifact"
	"github.com/nao1215/a11yscan/internal/config"
	"github.com/nao1215/a11yscan/internal/pipeline"
	"github.com/nao1215/a11yscan/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve starts the a11yscan HTTP API.

Endpoints:
  POST /api/scan             {"url", "includePasses"}  audit one page
  POST /api/scan-site        {"startUrl", "maxPages", "maxDepth"}  crawl, audit and store
  GET  /reports/{id}/{name}  stored report files (report.html, report.json, report.md)
  GET  /api/reports          indexed reports, newest first (?limit=n)
  GET  /api/reports/{id}     one indexed report with its summary
  GET  /metrics              Prometheus metrics
  GET  /healthz              liveness

The listen address defaults to :8080, or :$PORT when PORT is set.

Examples:
  a11yscan serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	addBrowserFlags(cmd)
	addCrawlFlags(cmd)

	cmd.Flags().String("addr", config.DefaultServerAddr,
		"Listen address")
	cmd.Flags().Int("max-concurrent-scans", server.DefaultMaxConcurrentScans,
		"Number of site scans run at once")

	return cmd
}

// runServeCmd executes the serve command.
func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd, nil)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	maxScans, err := cmd.Flags().GetInt("max-concurrent-scans")
	if err != nil {
		return err
	}

	logger := setupLogger(cfg)
	ctx, cancel := signalContext(logger)
	defer cancel()

	return runServe(ctx, cfg, logger, maxScans, cmd.OutOrStdout())
}

// runServe serves the API until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, maxScans int, stdout io.Writer) error {
	a, err := openApp(ctx, cfg, logger, withStorage(), withMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := artifact.NewCachedStore(a.store, cfg.File.Storage.CacheSize)
	if err != nil {
		return err
	}
	sc, err := a.newScanner(cfg.WaitUntil)
	if err != nil {
		return err
	}

	sites := func(startURL string, maxPages, maxDepth int) (*pipeline.Pipeline, error) {
		site := cfg.SiteFor(startURL)
		site.MaxPages = maxPages
		site.MaxDepth = maxDepth
		return a.sitePipeline(site)
	}

	srv := server.New(sc, sites, files,
		server.WithIndex(a.db),
		server.WithMetrics(a.metrics),
		server.WithLogger(logger),
		server.WithMaxConcurrentScans(maxScans),
	)

	fmt.Fprintf(stdout, "a11yscan listening on %s\n", cfg.ServerAddr)
	return srv.ListenAndServe(ctx, cfg.ServerAddr)
}
