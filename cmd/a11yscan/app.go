package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/a11yscan/internal/artifact"
	"github.com/nao1215/a11yscan/internal/audit"
	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/config"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/database"
	a11ylog "github.com/nao1215/a11yscan/internal/log"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/pipeline"
	"github.com/nao1215/a11yscan/internal/scanner"
	"github.com/spf13/cobra"
)

// addBrowserFlags registers the flags of every command that audits pages.
func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Navigation timeout for each audited page")
	cmd.Flags().Duration("audit-timeout", config.DefaultAuditTimeout,
		"Time allowed for the audit of one page")
	cmd.Flags().String("wait-until", config.DefaultWaitUntil,
		"Load condition before auditing: load, domcontentloaded or networkidle")
	cmd.Flags().String("axe-script", config.DefaultAxeScript,
		"Path of the axe-core bundle (axe.min.js)")
	cmd.Flags().String("chrome-path", "",
		"Chrome executable (default: found on PATH)")
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .a11yscan in current or home directory)")
}

// addCrawlFlags registers the flags of commands that crawl sites.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		fmt.Sprintf("Maximum number of pages per site (at most %d)", config.MaxPagesLimit))
	cmd.Flags().IntP("max-depth", "d", config.DefaultMaxDepth,
		fmt.Sprintf("Maximum link depth from the start URL (at most %d)", config.MaxDepthLimit))
	cmd.Flags().Duration("crawl-timeout", config.DefaultCrawlTimeout,
		"Navigation timeout while discovering pages")
	cmd.Flags().String("crawl-wait-until", config.DefaultCrawlWaitUntil,
		"Load condition while discovering pages")
	cmd.Flags().String("crawler", config.DefaultCrawler,
		"Page discovery backend: chrome or http")
	cmd.Flags().Duration("delay", 0,
		"Pause between crawl navigations")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of pages audited concurrently per site")
	cmd.Flags().Bool("continue-on-error", false,
		"Record pages that fail to scan in the report instead of aborting")
	cmd.Flags().String("data-dir", config.XDGDataDir(),
		"Directory of the report index and stored reports")
}

// flagReader reads optional flags into a Config and keeps the first error.
type flagReader struct {
	cmd *cobra.Command
	err error
}

func (r *flagReader) defined(name string) bool {
	return r.err == nil && r.cmd.Flags().Lookup(name) != nil
}

func (r *flagReader) string(name string, dst *string) {
	if r.defined(name) {
		*dst, r.err = r.cmd.Flags().GetString(name)
	}
}

func (r *flagReader) int(name string, dst *int) {
	if r.defined(name) {
		*dst, r.err = r.cmd.Flags().GetInt(name)
	}
}

func (r *flagReader) bool(name string, dst *bool) {
	if r.defined(name) {
		*dst, r.err = r.cmd.Flags().GetBool(name)
	}
}

func (r *flagReader) duration(name string, dst *time.Duration) {
	if r.defined(name) {
		*dst, r.err = r.cmd.Flags().GetDuration(name)
	}
}

// getBoolFlag retrieves a persistent flag from the command or its root.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// buildConfig creates a Config from the command flags, the environment
// and the configuration file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	r := &flagReader{cmd: cmd}
	r.duration("timeout", &cfg.Timeout)
	r.duration("audit-timeout", &cfg.AuditTimeout)
	r.string("wait-until", &cfg.WaitUntil)
	r.string("axe-script", &cfg.AxeScript)
	r.string("chrome-path", &cfg.ChromePath)
	r.string("config", &cfg.ConfigFilePath)
	r.int("max-pages", &cfg.MaxPages)
	r.int("max-depth", &cfg.MaxDepth)
	r.duration("crawl-timeout", &cfg.CrawlTimeout)
	r.string("crawl-wait-until", &cfg.CrawlWaitUntil)
	r.string("crawler", &cfg.Crawler)
	r.duration("delay", &cfg.CrawlDelay)
	r.int("workers", &cfg.Workers)
	r.bool("continue-on-error", &cfg.ContinueOnError)
	r.string("data-dir", &cfg.DataDir)
	r.int("batch", &cfg.BatchSize)
	r.bool("include-passes", &cfg.IncludePasses)
	r.bool("json", &cfg.JSONReport)
	r.bool("markdown", &cfg.MarkdownReport)
	r.string("output", &cfg.ReportFile)
	r.bool("no-progress", &cfg.NoProgress)
	r.string("addr", &cfg.ServerAddr)
	if r.err != nil {
		return nil, r.err
	}
	cfg.Verbose = getBoolFlag(cmd, "verbose")
	cfg.LogJSON = getBoolFlag(cmd, "log-json")
	cfg.StartURLs = args

	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.LoadFile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger creates the structured logger of a command and makes it the
// default.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := a11ylog.New(os.Stderr, cfg.Verbose, cfg.LogJSON)
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// app holds the resources shared by the pages and sites of one command run.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	chrome  *browser.ChromeBrowser
	crawl   browser.Browser
	engine  audit.Engine
	store   artifact.Store
	db      *database.ReportDB
	writer  *artifact.Writer
	closers []func() error
}

// appOption configures which resources openApp creates.
type appOption func(*appSettings)

type appSettings struct {
	storage bool
	metrics bool
}

// withStorage opens the artifact store and the report index.
func withStorage() appOption {
	return func(s *appSettings) {
		s.storage = true
	}
}

// withMetrics collects Prometheus metrics.
func withMetrics() appOption {
	return func(s *appSettings) {
		s.metrics = true
	}
}

// openApp starts Chrome, loads the audit engine and, on request, opens the
// report storage.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	var settings appSettings
	for _, opt := range opts {
		opt(&settings)
	}

	a := &app{cfg: cfg, logger: logger}
	if settings.metrics {
		a.metrics = metrics.New()
	}

	engine, err := audit.LoadAxeEngine(cfg.AxeScript)
	if err != nil {
		return nil, fmt.Errorf("%w (download axe.min.js from https://github.com/dequelabs/axe-core and pass --axe-script)", err)
	}
	a.engine = engine

	if settings.storage {
		if err := a.openStorage(); err != nil {
			a.Close()
			return nil, err
		}
	}

	chromeOpts := []browser.ChromeOption{browser.WithNoSandbox(os.Geteuid() == 0)}
	if cfg.ChromePath != "" {
		chromeOpts = append(chromeOpts, browser.WithChromePath(cfg.ChromePath))
	}
	a.chrome, err = browser.NewChromeBrowser(ctx, chromeOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.chrome.Close)

	a.crawl = a.chrome
	if cfg.Crawler == config.CrawlerHTTP {
		a.crawl = browser.NewHTTPBrowser()
	}

	logger.Debug("browser started", "crawler", cfg.Crawler, "axe_script", cfg.AxeScript)
	return a, nil
}

// openStorage opens the artifact store, the report index and the writer
// persisting into both.
func (a *app) openStorage() error {
	storage := a.cfg.File.Storage
	if storage.IsS3() {
		if err := storage.ResolveCredentials(); err != nil {
			return err
		}
		store, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  storage.S3.Endpoint,
			Region:    storage.S3.Region,
			AccessKey: storage.S3.AccessKey,
			SecretKey: storage.S3.SecretKey,
			Bucket:    storage.S3.Bucket,
			Prefix:    storage.S3.Prefix,
			UseSSL:    storage.S3.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to open S3 store: %w", err)
		}
		a.store = store
	} else {
		store, err := artifact.NewFileStore(a.cfg.ReportsDir())
		if err != nil {
			return fmt.Errorf("failed to open report directory: %w", err)
		}
		a.store = store
	}

	db, err := database.Open(a.cfg.DBDir(), database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.writer = artifact.NewWriter(a.store,
		artifact.WithIndex(db),
		artifact.WithLogger(a.logger),
		artifact.WithMetrics(a.metrics),
	)
	a.logger.Info("report storage opened", "backend", storage.Backend, "db", db.Path())
	return nil
}

// Close releases everything openApp created, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

// newScanner creates a page scanner using the audit settings of wait.
func (a *app) newScanner(wait string, opts ...scanner.Option) (*scanner.Scanner, error) {
	waitUntil, err := browser.ParseWaitUntil(wait)
	if err != nil {
		return nil, err
	}
	base := []scanner.Option{
		scanner.WithTimeout(a.cfg.Timeout),
		scanner.WithAuditTimeout(a.cfg.AuditTimeout),
		scanner.WithWaitUntil(waitUntil),
		scanner.WithIncludePasses(a.cfg.IncludePasses),
		scanner.WithContinueOnError(a.cfg.ContinueOnError),
		scanner.WithConcurrency(a.cfg.Workers),
		scanner.WithLogger(a.logger),
		scanner.WithMetrics(a.metrics),
	}
	return scanner.New(a.chrome, a.engine, append(base, opts...)...), nil
}

// newSpider creates the crawler for one site.
func (a *app) newSpider(site config.Site) (*crawler.Spider, error) {
	waitUntil, err := browser.ParseWaitUntil(a.cfg.CrawlWaitUntil)
	if err != nil {
		return nil, err
	}
	return crawler.NewSpider(a.crawl,
		crawler.WithMaxPages(site.MaxPages),
		crawler.WithMaxDepth(site.MaxDepth),
		crawler.WithWaitUntil(waitUntil),
		crawler.WithNavigationTimeout(a.cfg.CrawlTimeout),
		crawler.WithDelay(site.CrawlDelay),
		crawler.WithIgnorePatterns(site.IgnorePatterns),
		crawler.WithFollowPatterns(site.FollowPatterns),
		crawler.WithLogger(a.logger),
		crawler.WithMetrics(a.metrics),
	), nil
}

// sitePipeline builds the scan pipeline of one site with its effective
// settings. The report is persisted when storage is open.
func (a *app) sitePipeline(site config.Site, opts ...scanner.Option) (*pipeline.Pipeline, error) {
	spider, err := a.newSpider(site)
	if err != nil {
		return nil, err
	}
	sc, err := a.newScanner(site.WaitUntil, opts...)
	if err != nil {
		return nil, err
	}

	var persister pipeline.Persister
	if a.writer != nil {
		persister = a.writer
	}
	return pipeline.SitePipeline(spider, sc, persister, a.logger), nil
}
