package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"
)

// SiteConfig holds crawl settings for one host. Zero values leave the
// setting to the next level: site, then defaults, then command line.
type SiteConfig struct {
	// MaxPages overrides the page cap.
	MaxPages int `yaml:"maxPages,omitempty"`

	// MaxDepth overrides the link depth. A pointer, because zero is a
	// meaningful depth.
	MaxDepth *int `yaml:"maxDepth,omitempty"`

	// WaitUntil overrides the load condition before auditing.
	WaitUntil string `yaml:"waitUntil,omitempty"`

	// CrawlDelay overrides the pause between crawl navigations.
	CrawlDelay time.Duration `yaml:"crawlDelay,omitempty"`

	// IgnorePatterns are URL path globs skipped while crawling.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// FollowPatterns restrict crawling to matching URL paths.
	FollowPatterns []string `yaml:"followPatterns,omitempty"`
}

// S3Config locates the S3 compatible bucket used for reports.
// Credentials never come from the file.
type S3Config struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	UseSSL   bool   `yaml:"useSSL,omitempty"`

	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// Storage backends.
const (
	StorageFS = "fs"
	StorageS3 = "s3"
)

// StorageConfig selects where report files are kept.
type StorageConfig struct {
	// Backend is "fs" (default) or "s3".
	Backend string `yaml:"backend,omitempty"`

	// Dir overrides the file store directory.
	Dir string `yaml:"dir,omitempty"`

	// CacheSize is the number of files the server keeps in memory.
	CacheSize int `yaml:"cacheSize,omitempty"`

	// S3 is used when Backend is "s3".
	S3 S3Config `yaml:"s3,omitempty"`
}

// IsS3 reports whether reports go to S3.
func (s *StorageConfig) IsS3() bool {
	return s.Backend == StorageS3
}

// File represents the structure of the .a11yscan configuration file.
type File struct {
	// Defaults apply to every site unless overridden.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites maps host names ("example.com" or "example.com:8080") to
	// their settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Storage selects the artifact store.
	Storage StorageConfig `yaml:"storage,omitempty"`
}

// NewFile returns an empty configuration file.
func NewFile() *File {
	return &File{Sites: make(map[string]SiteConfig)}
}

// Validate checks the values of the file.
func (cf *File) Validate() error {
	check := func(name string, sc SiteConfig) error {
		if sc.MaxPages < 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidMaxPages)
		}
		if sc.MaxDepth != nil && *sc.MaxDepth < 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidMaxDepth)
		}
		if sc.WaitUntil != "" && !validWaitUntil(sc.WaitUntil) {
			return fmt.Errorf("%s: %w", name, ErrInvalidWaitUntil)
		}
		if sc.CrawlDelay < 0 {
			return fmt.Errorf("%s: %w", name, ErrInvalidCrawlDelay)
		}
		return nil
	}

	if err := check("defaults", cf.Defaults); err != nil {
		return err
	}
	for host, sc := range cf.Sites {
		if err := check("sites."+host, sc); err != nil {
			return err
		}
	}

	switch cf.Storage.Backend {
	case "", StorageFS:
	case StorageS3:
		if cf.Storage.S3.Endpoint == "" || cf.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 needs endpoint and bucket", ErrInvalidStorage)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStorage, cf.Storage.Backend)
	}
	return nil
}

// GetSiteConfig returns the settings for host merged over the defaults.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults

	siteConfig, ok := cf.Sites[host]
	if !ok {
		return result
	}
	if siteConfig.MaxPages != 0 {
		result.MaxPages = siteConfig.MaxPages
	}
	if siteConfig.MaxDepth != nil {
		result.MaxDepth = siteConfig.MaxDepth
	}
	if siteConfig.WaitUntil != "" {
		result.WaitUntil = siteConfig.WaitUntil
	}
	if siteConfig.CrawlDelay != 0 {
		result.CrawlDelay = siteConfig.CrawlDelay
	}
	if len(siteConfig.IgnorePatterns) > 0 {
		result.IgnorePatterns = siteConfig.IgnorePatterns
	}
	if len(siteConfig.FollowPatterns) > 0 {
		result.FollowPatterns = siteConfig.FollowPatterns
	}
	return result
}

// Site is the effective configuration of one site scan.
type Site struct {
	MaxPages       int
	MaxDepth       int
	WaitUntil      string
	CrawlDelay     time.Duration
	IgnorePatterns []string
	FollowPatterns []string
}

// SiteFor resolves the settings for startURL. Entries of the
// configuration file win over command line values; the host is matched
// with its port first and then without.
func (c *Config) SiteFor(startURL string) Site {
	site := Site{
		MaxPages:   c.MaxPages,
		MaxDepth:   c.MaxDepth,
		WaitUntil:  c.WaitUntil,
		CrawlDelay: c.CrawlDelay,
	}
	if c.File == nil {
		return site
	}

	host := ""
	if u, err := url.Parse(startURL); err == nil {
		host = u.Host
		if _, ok := c.File.Sites[host]; !ok {
			host = u.Hostname()
		}
	}

	sc := c.File.GetSiteConfig(host)
	if sc.MaxPages != 0 {
		site.MaxPages = sc.MaxPages
	}
	if sc.MaxDepth != nil {
		site.MaxDepth = *sc.MaxDepth
	}
	if sc.WaitUntil != "" {
		site.WaitUntil = sc.WaitUntil
	}
	if sc.CrawlDelay != 0 {
		site.CrawlDelay = sc.CrawlDelay
	}
	site.IgnorePatterns = slices.Clone(sc.IgnorePatterns)
	site.FollowPatterns = slices.Clone(sc.FollowPatterns)
	return site
}
