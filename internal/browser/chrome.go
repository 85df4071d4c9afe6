package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// lifecycleEvents maps wait conditions to Chrome page lifecycle event names.
var lifecycleEvents = map[WaitUntil]string{
	WaitLoad:             "load",
	WaitDOMContentLoaded: "DOMContentLoaded",
	WaitNetworkIdle:      "networkIdle",
}

// extractLinksScript lists raw href attributes, not resolved URLs, so that
// relative links are resolved against the navigated URL by the caller.
const extractLinksScript = `Array.from(document.querySelectorAll("a[href]")).map((a) => a.getAttribute("href")).filter(Boolean)`

// ChromeBrowser runs one headless Chrome process and hands out sessions,
// each in its own incognito browser context.
type ChromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// chromeConfig collects ChromeOption values.
type chromeConfig struct {
	execPath  string
	userAgent string
	headless  bool
	noSandbox bool
}

// ChromeOption configures a ChromeBrowser.
type ChromeOption func(*chromeConfig)

// WithChromePath sets the Chrome executable. Empty uses the default lookup.
func WithChromePath(path string) ChromeOption {
	return func(c *chromeConfig) {
		c.execPath = path
	}
}

// WithChromeUserAgent sets the User-Agent reported by the browser.
func WithChromeUserAgent(ua string) ChromeOption {
	return func(c *chromeConfig) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeadless toggles headless mode. Enabled by default.
func WithHeadless(headless bool) ChromeOption {
	return func(c *chromeConfig) {
		c.headless = headless
	}
}

// WithNoSandbox disables the Chrome sandbox, which is required when running
// as root inside containers.
func WithNoSandbox(noSandbox bool) ChromeOption {
	return func(c *chromeConfig) {
		c.noSandbox = noSandbox
	}
}

// NewChromeBrowser starts Chrome. The process lives until Close is called or
// ctx is cancelled.
func NewChromeBrowser(ctx context.Context, opts ...ChromeOption) (*ChromeBrowser, error) {
	cfg := &chromeConfig{
		userAgent: DefaultUserAgent,
		headless:  true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(cfg.userAgent))
	if cfg.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(cfg.execPath))
	}
	if cfg.noSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if !cfg.headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &ChromeBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewSession opens a new tab in a fresh incognito browser context.
func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

// Close terminates the Chrome process.
func (b *ChromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.browserCancel()
		b.allocCancel()
	})
	return nil
}

// chromeSession is a Session backed by one Chrome tab.
type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	loaded bool
}

// runContext derives a context from the tab that is also cancelled when
// the caller's ctx is done.
func (s *chromeSession) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := withTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url and blocks until the lifecycle event matching wait
// fires for the new document.
func (s *chromeSession) Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error {
	want, ok := lifecycleEvents[wait]
	if !ok {
		return &NavigationError{URL: url, Err: fmt.Errorf("%w: %q", ErrInvalidWaitUntil, wait)}
	}
	s.loaded = false

	runCtx, cancel := s.runContext(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		seen   = make(map[cdp.LoaderID]map[string]bool)
		notify = make(chan struct{}, 1)
	)
	chromedp.ListenTarget(runCtx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		if seen[e.LoaderID] == nil {
			seen[e.LoaderID] = make(map[string]bool)
		}
		seen[e.LoaderID][e.Name] = true
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	})

	var loaderID cdp.LoaderID
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, id, errorText, isDownload, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return errors.New(errorText)
		}
		if isDownload {
			return errors.New("response is a download, not a document")
		}
		loaderID = id
		return nil
	}))
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}

	// Same-document navigations have no new loader and no lifecycle events.
	if loaderID == "" {
		s.loaded = true
		return nil
	}

	for {
		mu.Lock()
		done := seen[loaderID][want]
		mu.Unlock()
		if done {
			s.loaded = true
			return nil
		}
		select {
		case <-notify:
		case <-runCtx.Done():
			return &NavigationError{URL: url, Err: fmt.Errorf("waiting for %s: %w", wait, runCtx.Err())}
		}
	}
}

// ExtractLinks lists anchor hrefs via in-page evaluation.
func (s *chromeSession) ExtractLinks(ctx context.Context) ([]string, error) {
	var hrefs []string
	if err := s.Evaluate(ctx, extractLinksScript, &hrefs); err != nil {
		return nil, err
	}
	return hrefs, nil
}

// Evaluate runs expression in the page and awaits promises.
func (s *chromeSession) Evaluate(ctx context.Context, expression string, res any) error {
	if !s.loaded {
		return ErrNoPage
	}
	runCtx, cancel := s.runContext(ctx, 0)
	defer cancel()

	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expression, res, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close closes the tab and disposes its browser context.
func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
