package scanner

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/a11yscan/internal/audit"
	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeBrowser hands out sessions and counts how many are open.
type fakeBrowser struct {
	failing map[string]bool
	delay   map[string]time.Duration
	// stall makes Evaluate block until its context is done.
	stall bool

	mu     sync.Mutex
	opened int
	closed int
}

func (b *fakeBrowser) NewSession(_ context.Context) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	return &fakeSession{browser: b}, nil
}

func (b *fakeBrowser) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed
}

type fakeSession struct {
	browser *fakeBrowser
	current string
	closed  bool
}

func (s *fakeSession) Navigate(ctx context.Context, url string, _ browser.WaitUntil, _ time.Duration) error {
	if d := s.browser.delay[url]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return &browser.NavigationError{URL: url, Err: ctx.Err()}
		}
	}
	if s.browser.failing[url] {
		return &browser.NavigationError{URL: url, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	}
	s.current = url
	return nil
}

func (s *fakeSession) ExtractLinks(_ context.Context) ([]string, error) {
	return nil, nil
}

func (s *fakeSession) Evaluate(ctx context.Context, expression string, res any) error {
	if s.browser.stall {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("evaluate called without deadline")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if expression != userAgentExpression {
		return browser.ErrEvaluationUnsupported
	}
	p, ok := res.(*string)
	if !ok {
		return errors.New("unexpected result type")
	}
	*p = "FakeBrowser/1.0"
	return nil
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.browser.mu.Lock()
	s.browser.closed++
	s.browser.mu.Unlock()
	return nil
}

// fakeEngine reports one violation per page, named after the page URL.
type fakeEngine struct {
	failing map[string]bool
}

func (e *fakeEngine) Audit(_ context.Context, session browser.Session, opts audit.Options) (*audit.Result, error) {
	url := session.(*fakeSession).current
	if e.failing[url] {
		return nil, audit.ErrAudit
	}
	result := &audit.Result{
		Violations: []model.RuleFinding{{
			RuleID: "image-alt",
			Impact: model.ImpactCritical,
			Help:   url,
			Nodes:  []model.AffectedNode{{Target: []string{"img"}}},
		}},
		Incomplete: []model.RuleFinding{},
	}
	if opts.IncludePasses {
		result.Passes = []model.RuleFinding{{RuleID: "document-title"}}
	}
	return result, nil
}

func pageURLs(pages []model.PageAuditResult) []string {
	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	return urls
}

// TestScanURL tests scanning a single page.
func TestScanURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("returns audit findings with timestamp and user agent", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{}
		fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*60*60))
		s := New(b, &fakeEngine{})
		s.now = func() time.Time { return fixed }

		page, err := s.ScanURL(ctx, "https://example.com/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if page.URL != "https://example.com/" {
			t.Errorf("unexpected url %q", page.URL)
		}
		if !page.Timestamp.Equal(fixed) || page.Timestamp.Location() != time.UTC {
			t.Errorf("expected UTC timestamp equal to %v, got %v", fixed, page.Timestamp)
		}
		if page.UserAgent != "FakeBrowser/1.0" {
			t.Errorf("unexpected user agent %q", page.UserAgent)
		}
		if page.ViolationCount() != 1 {
			t.Errorf("expected 1 violation, got %d", page.ViolationCount())
		}
		if page.Passes != nil {
			t.Errorf("expected passes to be omitted, got %v", page.Passes)
		}
		if opened, closed := b.counts(); opened != 1 || closed != 1 {
			t.Errorf("expected one session opened and closed, got %d/%d", opened, closed)
		}
	})

	t.Run("include passes", func(t *testing.T) {
		t.Parallel()

		s := New(&fakeBrowser{}, &fakeEngine{}).With(WithIncludePasses(true))
		page, err := s.ScanURL(ctx, "https://example.com/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Passes) != 1 {
			t.Errorf("expected passes, got %v", page.Passes)
		}
	})

	t.Run("navigation failure is a scan error", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{failing: map[string]bool{"https://example.com/": true}}
		_, err := New(b, &fakeEngine{}).ScanURL(ctx, "https://example.com/")

		var scanErr *ScanError
		if !errors.As(err, &scanErr) {
			t.Fatalf("expected *ScanError, got %v", err)
		}
		if scanErr.URL != "https://example.com/" {
			t.Errorf("unexpected url %q", scanErr.URL)
		}
		if !errors.Is(err, browser.ErrNavigation) {
			t.Errorf("expected ErrNavigation, got %v", err)
		}
		if opened, closed := b.counts(); opened != closed {
			t.Errorf("session leaked: opened %d, closed %d", opened, closed)
		}
	})

	t.Run("audit failure is a scan error", func(t *testing.T) {
		t.Parallel()

		e := &fakeEngine{failing: map[string]bool{"https://example.com/": true}}
		_, err := New(&fakeBrowser{}, e).ScanURL(ctx, "https://example.com/")
		if !errors.Is(err, audit.ErrAudit) {
			t.Errorf("expected ErrAudit, got %v", err)
		}
	})

	t.Run("stalled user agent read is bounded by the navigation timeout", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{stall: true}
		s := New(b, &fakeEngine{}, WithTimeout(50*time.Millisecond))

		type outcome struct {
			page *model.PageAuditResult
			err  error
		}
		done := make(chan outcome, 1)
		go func() {
			page, err := s.ScanURL(ctx, "https://example.com/")
			done <- outcome{page: page, err: err}
		}()

		select {
		case got := <-done:
			if got.err != nil {
				t.Fatalf("unexpected error: %v", got.err)
			}
			if got.page.UserAgent != "" {
				t.Errorf("expected empty user agent, got %q", got.page.UserAgent)
			}
			if got.page.ViolationCount() != 1 {
				t.Errorf("expected audit findings to be kept, got %d", got.page.ViolationCount())
			}
		case <-time.After(5 * time.Second):
			t.Fatal("scan did not return after the navigation timeout")
		}
	})

	t.Run("records metrics", func(t *testing.T) {
		t.Parallel()

		m := metrics.New()
		b := &fakeBrowser{failing: map[string]bool{"https://example.com/bad": true}}
		s := New(b, &fakeEngine{}, WithMetrics(m))

		if _, err := s.ScanURL(ctx, "https://example.com/"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := s.ScanURL(ctx, "https://example.com/bad"); err == nil {
			t.Fatal("expected error")
		}
		if got := testutil.ToFloat64(m.PagesScanned.WithLabelValues("ok")); got != 1 {
			t.Errorf("expected 1 ok scan, got %v", got)
		}
		if got := testutil.ToFloat64(m.PagesScanned.WithLabelValues("failed")); got != 1 {
			t.Errorf("expected 1 failed scan, got %v", got)
		}
		if got := testutil.ToFloat64(m.Violations.WithLabelValues("critical")); got != 1 {
			t.Errorf("expected 1 critical violation, got %v", got)
		}
	})
}

// TestScanAll tests scanning a list of pages.
func TestScanAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	urls := []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}

	t.Run("preserves input order and opens one session per page", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{}
		batch, err := New(b, &fakeEngine{}).ScanAll(ctx, urls)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := pageURLs(batch.Pages); !reflect.DeepEqual(got, urls) {
			t.Errorf("expected %v, got %v", urls, got)
		}
		if opened, closed := b.counts(); opened != len(urls) || closed != len(urls) {
			t.Errorf("expected %d sessions, got opened %d closed %d", len(urls), opened, closed)
		}
	})

	t.Run("stops at first failure by default", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{failing: map[string]bool{"https://example.com/a": true}}
		batch, err := New(b, &fakeEngine{}).ScanAll(ctx, urls)

		var scanErr *ScanError
		if !errors.As(err, &scanErr) || scanErr.URL != "https://example.com/a" {
			t.Fatalf("expected scan error for /a, got %v", err)
		}
		if got := pageURLs(batch.Pages); !reflect.DeepEqual(got, urls[:1]) {
			t.Errorf("expected pages before the failure, got %v", got)
		}
		if opened, _ := b.counts(); opened != 2 {
			t.Errorf("expected scanning to stop after 2 sessions, got %d", opened)
		}
	})

	t.Run("continue on error records failures", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{failing: map[string]bool{"https://example.com/a": true}}
		e := &fakeEngine{failing: map[string]bool{"https://example.com/c": true}}
		batch, err := New(b, e, WithContinueOnError(true)).ScanAll(ctx, urls)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"https://example.com/", "https://example.com/b"}
		if got := pageURLs(batch.Pages); !reflect.DeepEqual(got, expected) {
			t.Errorf("expected %v, got %v", expected, got)
		}
		if len(batch.Failures) != 2 ||
			batch.Failures[0].URL != "https://example.com/a" ||
			batch.Failures[1].URL != "https://example.com/c" {
			t.Errorf("unexpected failures %+v", batch.Failures)
		}
		for _, f := range batch.Failures {
			if f.Error == "" {
				t.Errorf("failure for %s has no error message", f.URL)
			}
		}
	})

	t.Run("concurrent scan restores input order", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{delay: map[string]time.Duration{
			"https://example.com/":  30 * time.Millisecond,
			"https://example.com/a": 20 * time.Millisecond,
			"https://example.com/b": 10 * time.Millisecond,
		}}
		var (
			mu    sync.Mutex
			calls []int
		)
		s := New(b, &fakeEngine{}, WithConcurrency(4), WithProgress(func(done, total int, _ string, _ error) {
			mu.Lock()
			defer mu.Unlock()
			if total != len(urls) {
				t.Errorf("unexpected total %d", total)
			}
			calls = append(calls, done)
		}))

		batch, err := s.ScanAll(ctx, urls)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := pageURLs(batch.Pages); !reflect.DeepEqual(got, urls) {
			t.Errorf("expected %v, got %v", urls, got)
		}
		mu.Lock()
		defer mu.Unlock()
		if len(calls) != len(urls) {
			t.Errorf("expected %d progress calls, got %d", len(urls), len(calls))
		}
	})

	t.Run("concurrent continue on error keeps failures ordered", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{failing: map[string]bool{
			"https://example.com/a": true,
			"https://example.com/c": true,
		}}
		batch, err := New(b, &fakeEngine{}, WithConcurrency(3), WithContinueOnError(true)).ScanAll(ctx, urls)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := pageURLs(batch.Pages); !reflect.DeepEqual(got, []string{"https://example.com/", "https://example.com/b"}) {
			t.Errorf("unexpected pages %v", got)
		}
		if len(batch.Failures) != 2 || batch.Failures[0].URL != "https://example.com/a" {
			t.Errorf("unexpected failures %+v", batch.Failures)
		}
	})

	t.Run("concurrent scan aborts on failure", func(t *testing.T) {
		t.Parallel()

		b := &fakeBrowser{failing: map[string]bool{"https://example.com/b": true}}
		_, err := New(b, &fakeEngine{}, WithConcurrency(2)).ScanAll(ctx, urls)
		if !errors.Is(err, browser.ErrNavigation) {
			t.Errorf("expected navigation error, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		batch, err := New(&fakeBrowser{}, &fakeEngine{}, WithContinueOnError(true)).ScanAll(cctx, urls)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if len(batch.Pages) != 0 {
			t.Errorf("expected no pages, got %d", len(batch.Pages))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		batch, err := New(&fakeBrowser{}, &fakeEngine{}).ScanAll(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.Pages == nil || len(batch.Pages) != 0 {
			t.Errorf("expected empty non-nil pages, got %v", batch.Pages)
		}
	})
}

// TestOptions tests option defaults and overrides.
func TestOptions(t *testing.T) {
	t.Parallel()

	s := New(&fakeBrowser{}, &fakeEngine{})
	if s.timeout != DefaultTimeout || s.waitUntil != browser.WaitNetworkIdle || s.concurrency != 1 {
		t.Errorf("unexpected defaults: %v %v %d", s.timeout, s.waitUntil, s.concurrency)
	}

	s = New(&fakeBrowser{}, &fakeEngine{},
		WithTimeout(5*time.Second),
		WithTimeout(-1),
		WithConcurrency(0),
		WithWaitUntil(browser.WaitLoad),
	)
	if s.timeout != 5*time.Second {
		t.Errorf("expected non-positive timeout to be ignored, got %v", s.timeout)
	}
	if s.concurrency != 1 {
		t.Errorf("expected non-positive concurrency to be ignored, got %d", s.concurrency)
	}
	if s.waitUntil != browser.WaitLoad {
		t.Errorf("unexpected wait condition %v", s.waitUntil)
	}

	c := s.With(WithIncludePasses(true))
	if s.includePasses || !c.includePasses {
		t.Error("With must not modify the original scanner")
	}
}
