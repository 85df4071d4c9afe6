package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "a11yscan"

	// DefaultMaxPages is the page cap of a site scan. Larger values are
	// clamped to MaxPagesLimit by the crawler.
	DefaultMaxPages = 25

	// MaxPagesLimit is the largest accepted page cap.
	MaxPagesLimit = 200

	// DefaultMaxDepth is the link depth explored from the start URL.
	DefaultMaxDepth = 2

	// MaxDepthLimit is the largest accepted depth.
	MaxDepthLimit = 10

	// DefaultTimeout bounds the navigation of a scanned page.
	DefaultTimeout = 45 * time.Second

	// DefaultCrawlTimeout bounds each navigation while discovering pages.
	DefaultCrawlTimeout = 30 * time.Second

	// DefaultAuditTimeout bounds one in-page audit run.
	DefaultAuditTimeout = 2 * time.Minute

	// DefaultWaitUntil is the load condition before auditing a page.
	// Waiting for network idle lets client-side rendering finish.
	DefaultWaitUntil = "networkidle"

	// DefaultCrawlWaitUntil is the load condition while discovering pages.
	DefaultCrawlWaitUntil = "domcontentloaded"

	// DefaultCrawler navigates with headless Chrome so links inserted by
	// scripts are discovered.
	DefaultCrawler = CrawlerChrome

	// DefaultWorkers is the number of pages audited at once within a site.
	DefaultWorkers = 1

	// DefaultBatchSize is the number of sites scanned at once.
	DefaultBatchSize = 1

	// DefaultAxeScript is the path of the axe-core bundle injected into pages.
	DefaultAxeScript = "axe.min.js"

	// DefaultServerAddr is the listen address of the HTTP front end.
	DefaultServerAddr = ":8080"
)

// Crawler backends.
const (
	// CrawlerChrome discovers pages with headless Chrome.
	CrawlerChrome = "chrome"

	// CrawlerHTTP discovers pages with plain HTTP requests. Links added by
	// scripts are not seen.
	CrawlerHTTP = "http"
)

// Config holds all options of a scan or server run. It is built from CLI
// flags and the optional configuration file and passed down explicitly.
type Config struct {
	// StartURLs are the sites to scan.
	StartURLs []string

	// MaxPages caps the number of pages discovered per site.
	MaxPages int

	// MaxDepth caps the link depth from the start URL. Zero scans only
	// the start page.
	MaxDepth int

	// Timeout is the navigation timeout of each scanned page.
	Timeout time.Duration

	// CrawlTimeout is the navigation timeout while discovering pages.
	CrawlTimeout time.Duration

	// AuditTimeout bounds the audit of one page.
	AuditTimeout time.Duration

	// WaitUntil is the load condition before auditing a page.
	WaitUntil string

	// CrawlWaitUntil is the load condition while discovering pages.
	CrawlWaitUntil string

	// CrawlDelay is a fixed pause between crawl navigations.
	CrawlDelay time.Duration

	// Crawler selects the discovery backend: "chrome" or "http".
	Crawler string

	// ChromePath is the Chrome executable. Empty uses the one on PATH.
	ChromePath string

	// AxeScript is the path of the axe-core bundle.
	AxeScript string

	// IncludePasses keeps passing rules in single page results.
	IncludePasses bool

	// Workers is the number of pages audited concurrently per site.
	Workers int

	// BatchSize is the number of sites scanned concurrently.
	BatchSize int

	// ContinueOnError records failed pages in the report instead of
	// aborting the site scan.
	ContinueOnError bool

	// Verbose enables debug logging.
	Verbose bool

	// LogJSON switches log output to JSON.
	LogJSON bool

	// ConfigFilePath is the configuration file given on the command line.
	// Empty searches the current and home directories.
	ConfigFilePath string

	// File is the loaded configuration file. It is never nil after
	// Load.
	File *File

	// JSONReport prints the JSON report instead of the text summary.
	JSONReport bool

	// MarkdownReport prints the Markdown report instead of the text summary.
	MarkdownReport bool

	// ReportFile writes the printed report to a file instead of stdout.
	ReportFile string

	// NoProgress disables the progress bar.
	NoProgress bool

	// DataDir holds the report index and file store.
	DataDir string

	// ServerAddr is the listen address of the HTTP front end.
	ServerAddr string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxPages:       DefaultMaxPages,
		MaxDepth:       DefaultMaxDepth,
		Timeout:        DefaultTimeout,
		CrawlTimeout:   DefaultCrawlTimeout,
		AuditTimeout:   DefaultAuditTimeout,
		WaitUntil:      DefaultWaitUntil,
		CrawlWaitUntil: DefaultCrawlWaitUntil,
		Crawler:        DefaultCrawler,
		AxeScript:      DefaultAxeScript,
		Workers:        DefaultWorkers,
		BatchSize:      DefaultBatchSize,
		File:           NewFile(),
		DataDir:        XDGDataDir(),
		ServerAddr:     DefaultServerAddr,
	}
}

// XDGDataDir returns the XDG data directory for a11yscan.
// On Linux: ~/.local/share/a11yscan
// On macOS: ~/Library/Application Support/a11yscan
// On Windows: %LOCALAPPDATA%\a11yscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for a11yscan.
// A .env file there supplies S3 credentials.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ReportsDir returns the directory of the file artifact store.
func (c *Config) ReportsDir() string {
	if c.File != nil && c.File.Storage.Dir != "" {
		return c.File.Storage.Dir
	}
	return filepath.Join(c.DataDir, "reports")
}

// DBDir returns the directory holding the report index.
func (c *Config) DBDir() string {
	return c.DataDir
}

// Validate checks options shared by every command. It returns the first
// problem found.
func (c *Config) Validate() error {
	if c.Timeout <= 0 || c.CrawlTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.AuditTimeout <= 0 {
		return ErrInvalidAuditTimeout
	}
	if c.MaxPages < 0 {
		return ErrInvalidMaxPages
	}
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}
	if !validWaitUntil(c.WaitUntil) || !validWaitUntil(c.CrawlWaitUntil) {
		return ErrInvalidWaitUntil
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.Crawler != CrawlerChrome && c.Crawler != CrawlerHTTP {
		return ErrInvalidCrawler
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.File != nil {
		if err := c.File.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateScan is Validate plus the checks of the scan command.
func (c *Config) ValidateScan() error {
	if len(c.StartURLs) == 0 {
		return ErrNoTarget
	}
	return c.Validate()
}

func validWaitUntil(s string) bool {
	switch s {
	case "load", "domcontentloaded", "networkidle":
		return true
	default:
		return false
	}
}
