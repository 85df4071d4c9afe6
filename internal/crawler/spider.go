package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/model"
)

const (
	// DefaultMaxPages is the page cap used when none is configured.
	DefaultMaxPages = 25

	// MaxPagesLimit is the hard upper bound for the page cap.
	MaxPagesLimit = 200

	// DefaultMaxDepth is the depth cap used when none is configured.
	DefaultMaxDepth = 2

	// MaxDepthLimit is the hard upper bound for the depth cap.
	MaxDepthLimit = 10

	// DefaultNavigationTimeout bounds each crawl navigation.
	DefaultNavigationTimeout = 30 * time.Second
)

// Spider discovers same-origin pages breadth-first from a start URL.
//
// Design decision: We call it "Spider" rather than "Crawler" because:
//  1. "Spider" is the traditional term for web crawlers
//  2. Distinguishes the component from the package name
//  3. Clearer in code: crawler.NewSpider() vs crawler.NewCrawler()
//
// A Spider holds configuration only. All traversal state lives in the
// crawlState of a single Crawl call, so one Spider may run several crawls
// concurrently as long as its Browser supports concurrent sessions.
type Spider struct {
	// browser opens the navigation session used for a crawl.
	browser browser.Browser

	// maxPages caps the number of URLs returned, start URL included.
	maxPages int

	// maxDepth caps link hops from the start URL.
	// 0 means only the starting page, 1 means one level of links, etc.
	maxDepth int

	// sameOriginOnly drops links whose origin differs from the start URL.
	sameOriginOnly bool

	// waitUntil is the lifecycle condition for crawl navigations.
	waitUntil browser.WaitUntil

	// timeout bounds each navigation.
	timeout time.Duration

	// delay is the time to wait between navigations.
	// This is a politeness setting to avoid overwhelming servers.
	delay time.Duration

	// ignorePatterns are URL path patterns to skip during crawling.
	// Patterns use glob syntax (e.g., "/admin/*", "*.pdf").
	ignorePatterns []string

	// followPatterns are URL path patterns to follow during crawling.
	// If set, only URLs matching these patterns are crawled.
	// Empty means all URLs are allowed (subject to ignorePatterns).
	followPatterns []string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithMaxPages sets the maximum number of URLs to return.
// Non-positive values select DefaultMaxPages; values above MaxPagesLimit
// are clamped.
func WithMaxPages(maxPages int) SpiderOption {
	return func(s *Spider) {
		s.maxPages = ClampMaxPages(maxPages)
	}
}

// WithMaxDepth sets the maximum crawl depth.
// Negative values select DefaultMaxDepth; values above MaxDepthLimit are
// clamped.
func WithMaxDepth(depth int) SpiderOption {
	return func(s *Spider) {
		s.maxDepth = ClampMaxDepth(depth)
	}
}

// WithSameOriginOnly controls whether cross-origin links are followed.
func WithSameOriginOnly(sameOrigin bool) SpiderOption {
	return func(s *Spider) {
		s.sameOriginOnly = sameOrigin
	}
}

// WithWaitUntil sets the lifecycle condition for crawl navigations.
func WithWaitUntil(wait browser.WaitUntil) SpiderOption {
	return func(s *Spider) {
		s.waitUntil = wait
	}
}

// WithNavigationTimeout sets the per-navigation timeout.
func WithNavigationTimeout(d time.Duration) SpiderOption {
	return func(s *Spider) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDelay sets the delay between navigations.
func WithDelay(d time.Duration) SpiderOption {
	return func(s *Spider) {
		s.delay = d
	}
}

// WithIgnorePatterns sets URL path patterns to skip during crawling.
// Patterns use glob syntax (e.g., "/admin/*", "*.pdf", "/logout*").
// URLs matching any of these patterns will not be crawled.
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.ignorePatterns = patterns
	}
}

// WithFollowPatterns sets URL path patterns to follow during crawling.
// If set, only URLs matching at least one pattern are crawled.
func WithFollowPatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.followPatterns = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SpiderOption {
	return func(s *Spider) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) SpiderOption {
	return func(s *Spider) {
		s.metrics = m
	}
}

// ClampMaxPages applies the page cap defaults and limits.
func ClampMaxPages(n int) int {
	if n <= 0 {
		return DefaultMaxPages
	}
	return min(n, MaxPagesLimit)
}

// ClampMaxDepth applies the depth cap defaults and limits.
func ClampMaxDepth(n int) int {
	if n < 0 {
		return DefaultMaxDepth
	}
	return min(n, MaxDepthLimit)
}

// NewSpider creates a new Spider that navigates with b.
func NewSpider(b browser.Browser, opts ...SpiderOption) *Spider {
	s := &Spider{
		browser:        b,
		maxPages:       DefaultMaxPages,
		maxDepth:       DefaultMaxDepth,
		sameOriginOnly: true,
		waitUntil:      browser.WaitDOMContentLoaded,
		timeout:        DefaultNavigationTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MaxPages returns the effective page cap.
func (s *Spider) MaxPages() int {
	return s.maxPages
}

// MaxDepth returns the effective depth cap.
func (s *Spider) MaxDepth() int {
	return s.maxDepth
}

// Crawl discovers pages starting from startURL and returns their normalized
// URLs in visit order. The start URL is always the first element.
//
// A URL is marked visited before it is loaded, so a page that fails to load
// still appears in the result; only its links are lost. Pages at maxDepth
// are recorded without being loaded. Link expansion stops as soon as the
// visited and pending URLs together reach maxPages.
//
// One navigation session is opened lazily and reused for the whole crawl.
// Cancelling ctx returns the URLs visited so far together with ctx.Err().
func (s *Spider) Crawl(ctx context.Context, startURL string) ([]string, error) {
	start, err := ParseStartURL(startURL)
	if err != nil {
		return nil, err
	}
	origin, err := Origin(start)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	state := newCrawlState(s.maxPages)
	state.enqueue(model.CrawlTarget{URL: start, Depth: 0})

	var session browser.Session
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	navigated := 0
	for state.pending() > 0 && state.visitedCount() < s.maxPages {
		if err := ctx.Err(); err != nil {
			return state.result(), err
		}

		target, _ := state.dequeue()
		if state.isVisited(target.URL) {
			continue
		}
		state.markVisited(target.URL)

		if target.Depth >= s.maxDepth {
			continue
		}

		if navigated > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return state.result(), ctx.Err()
			case <-time.After(s.delay):
			}
		}

		if session == nil {
			session, err = s.browser.NewSession(ctx)
			if err != nil {
				return state.result(), fmt.Errorf("failed to open navigation session: %w", err)
			}
		}

		navigated++
		if err := session.Navigate(ctx, target.URL, s.waitUntil, s.timeout); err != nil {
			if ctx.Err() != nil {
				return state.result(), ctx.Err()
			}
			s.logger.Debug("navigation failed, links not expanded", "url", target.URL, "error", err)
			s.metrics.CrawlNavigationFailed()
			continue
		}

		hrefs, err := s.extractLinks(ctx, session)
		if err != nil {
			s.logger.Debug("link extraction failed", "url", target.URL, "error", err)
			s.metrics.CrawlNavigationFailed()
			continue
		}

		s.expand(state, origin, target, hrefs)
	}

	result := state.result()
	s.metrics.ObserveCrawl(time.Since(began), len(result))
	s.logger.Debug("crawl finished",
		"start_url", start,
		"pages", len(result),
		"navigations", navigated,
		"duration", time.Since(began),
	)
	return result, nil
}

// extractLinks reads the hrefs of the loaded page within the navigation timeout.
func (s *Spider) extractLinks(ctx context.Context, session browser.Session) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return session.ExtractLinks(ctx)
}

// expand enqueues the eligible links of one page.
func (s *Spider) expand(state *crawlState, origin string, from model.CrawlTarget, hrefs []string) {
	for _, href := range hrefs {
		next, err := Normalize(href, from.URL)
		if err != nil {
			continue
		}
		if s.sameOriginOnly {
			if o, err := Origin(next); err != nil || o != origin {
				continue
			}
		}
		if !s.shouldCrawl(next) {
			continue
		}
		if state.known(next) {
			continue
		}
		if state.visitedCount()+state.pending() >= s.maxPages {
			return
		}
		state.enqueue(model.CrawlTarget{URL: next, Depth: from.Depth + 1})
	}
}

// shouldCrawl checks if a URL should be crawled based on ignore/follow patterns.
//
// Logic:
//  1. If URL matches any ignorePattern, skip it (return false)
//  2. If followPatterns is set and URL matches none, skip it (return false)
//  3. Otherwise, crawl it (return true)
func (s *Spider) shouldCrawl(targetURL string) bool {
	if len(s.ignorePatterns) == 0 && len(s.followPatterns) == 0 {
		return true
	}

	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, pattern := range s.ignorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}

	if len(s.followPatterns) > 0 {
		for _, pattern := range s.followPatterns {
			if matchPattern(pattern, path) {
				return true
			}
		}
		return false
	}

	return true
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//
// Examples:
//   - "/admin/*" matches "/admin/dashboard", "/admin/users"
//   - "*.pdf" matches "/docs/file.pdf"
//   - "/api/v?" matches "/api/v1", "/api/v2"
func matchPattern(pattern, path string) bool {
	// "/admin/*" also matches deeper paths such as "/admin/users/1".
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	// Bare file patterns such as "logout*" match the last path segment.
	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
	}

	return false
}
