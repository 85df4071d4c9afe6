package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/a11yscan/internal/audit"
	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/a11yscan/internal/scanner"
)

// fakeSite serves a fixed link graph. URLs in failing cannot be loaded.
type fakeSite struct {
	links   map[string][]string
	failing map[string]bool
}

func (f *fakeSite) NewSession(_ context.Context) (browser.Session, error) {
	return &fakeSession{site: f}, nil
}

type fakeSession struct {
	site    *fakeSite
	current string
}

func (s *fakeSession) Navigate(ctx context.Context, url string, _ browser.WaitUntil, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return &browser.NavigationError{URL: url, Err: err}
	}
	if s.site.failing[url] {
		s.current = ""
		return &browser.NavigationError{URL: url, Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	}
	s.current = url
	return nil
}

func (s *fakeSession) ExtractLinks(_ context.Context) ([]string, error) {
	if s.current == "" {
		return nil, browser.ErrNoPage
	}
	return s.site.links[s.current], nil
}

func (s *fakeSession) Evaluate(_ context.Context, _ string, _ any) error {
	return browser.ErrEvaluationUnsupported
}

func (s *fakeSession) Close() error { return nil }

// fakeEngine reports one violation of rule per page, keyed by the page
// the session is on.
type fakeEngine struct {
	rules map[string]string
}

func (e *fakeEngine) Audit(_ context.Context, session browser.Session, _ audit.Options) (*audit.Result, error) {
	url := session.(*fakeSession).current
	result := &audit.Result{}
	if rule, ok := e.rules[url]; ok {
		result.Violations = []model.RuleFinding{{
			RuleID: rule,
			Impact: model.ImpactSerious,
			Nodes:  []model.AffectedNode{{Target: []string{"body"}}},
		}}
	}
	return result, nil
}

// fakePersister records persisted scans.
type fakePersister struct {
	mu    sync.Mutex
	calls int
	err   error
	pages [][]model.PageAuditResult
}

func (f *fakePersister) Persist(_ context.Context, _ string, _ time.Time, pages []model.PageAuditResult, _ []model.ScanFailure) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.pages = append(f.pages, pages)
	return "0123456789abcdef", nil
}

func testPages(urls ...string) []model.PageAuditResult {
	pages := make([]model.PageAuditResult, len(urls))
	for i, u := range urls {
		pages[i] = model.PageAuditResult{URL: u}
	}
	return pages
}

func exampleSite() *fakeSite {
	return &fakeSite{
		links: map[string][]string{
			"https://example.com/":      {"/about", "/contact", "https://other.example/"},
			"https://example.com/about": {"/", "/team"},
		},
		failing: map[string]bool{},
	}
}

func newSitePipeline(site *fakeSite, engine audit.Engine, persister Persister, scannerOpts ...scanner.Option) *Pipeline {
	spider := crawler.NewSpider(site, crawler.WithMaxPages(10), crawler.WithMaxDepth(2))
	sc := scanner.New(site, engine, scannerOpts...)
	return SitePipeline(spider, sc, persister, nil)
}

// TestSitePipeline tests a complete site scan over fakes.
func TestSitePipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("crawls scans aggregates and persists", func(t *testing.T) {
		t.Parallel()

		engine := &fakeEngine{rules: map[string]string{
			"https://example.com/":      "color-contrast",
			"https://example.com/about": "color-contrast",
			"https://example.com/team":  "image-alt",
		}}
		persister := &fakePersister{}
		p := newSitePipeline(exampleSite(), engine, persister)

		scan := NewSiteScan("https://example.com")
		if err := p.Execute(ctx, scan); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []string{
			"https://example.com/",
			"https://example.com/about",
			"https://example.com/contact",
			"https://example.com/team",
		}
		if !reflect.DeepEqual(scan.Targets, expected) {
			t.Errorf("expected targets %v, got %v", expected, scan.Targets)
		}
		for i, page := range scan.Pages {
			if page.URL != expected[i] {
				t.Errorf("page %d: expected %s, got %s", i, expected[i], page.URL)
			}
		}
		if scan.Summary == nil || scan.Summary.TotalViolations != 3 {
			t.Fatalf("unexpected summary: %+v", scan.Summary)
		}
		if scan.Summary.TopRules[0].RuleID != "color-contrast" || scan.Summary.TopRules[0].Count != 2 {
			t.Errorf("unexpected top rule: %+v", scan.Summary.TopRules[0])
		}
		if scan.ReportID != "0123456789abcdef" {
			t.Errorf("unexpected report id %q", scan.ReportID)
		}
		if scan.ScannedAt.IsZero() {
			t.Error("expected scan time to be set")
		}
		wantSteps := []string{"crawl", "scan", "aggregate", "persist"}
		if !reflect.DeepEqual(scan.PerformedSteps, wantSteps) {
			t.Errorf("expected steps %v, got %v", wantSteps, scan.PerformedSteps)
		}
	})

	t.Run("start page without links", func(t *testing.T) {
		t.Parallel()

		site := &fakeSite{links: map[string][]string{}, failing: map[string]bool{}}
		engine := &fakeEngine{rules: map[string]string{"https://example.com/": "image-alt"}}
		p := newSitePipeline(site, engine, nil)

		scan := NewSiteScan("https://example.com/")
		if err := p.Execute(ctx, scan); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"https://example.com/"}; !reflect.DeepEqual(scan.Targets, want) {
			t.Errorf("expected targets %v, got %v", want, scan.Targets)
		}
		if len(scan.Pages) != 1 {
			t.Fatalf("expected 1 page, got %d", len(scan.Pages))
		}
		if scan.Summary == nil || scan.Summary.TotalPages != 1 {
			t.Fatalf("expected summary of 1 page, got %+v", scan.Summary)
		}
		if scan.Summary.TotalViolations != 1 {
			t.Errorf("expected 1 violation, got %d", scan.Summary.TotalViolations)
		}
	})

	t.Run("crawl navigation failure is soft but scan failure aborts", func(t *testing.T) {
		t.Parallel()

		site := exampleSite()
		site.failing["https://example.com/about"] = true
		persister := &fakePersister{}
		p := newSitePipeline(site, &fakeEngine{}, persister)

		scan := NewSiteScan("https://example.com/")
		err := p.Execute(ctx, scan)

		wantTargets := []string{"https://example.com/", "https://example.com/about", "https://example.com/contact"}
		if !reflect.DeepEqual(scan.Targets, wantTargets) {
			t.Errorf("expected failing page to stay a target, got %v", scan.Targets)
		}

		var scanErr *scanner.ScanError
		if !errors.As(err, &scanErr) {
			t.Fatalf("expected ScanError, got %v", err)
		}
		if scanErr.URL != "https://example.com/about" {
			t.Errorf("unexpected failing url %s", scanErr.URL)
		}
		if persister.calls != 0 {
			t.Error("expected nothing to be persisted")
		}
	})

	t.Run("continue on error records failures", func(t *testing.T) {
		t.Parallel()

		site := exampleSite()
		site.failing["https://example.com/about"] = true
		persister := &fakePersister{}
		p := newSitePipeline(site, &fakeEngine{}, persister, scanner.WithContinueOnError(true))

		scan := NewSiteScan("https://example.com/")
		if err := p.Execute(ctx, scan); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(scan.Pages) != 2 || len(scan.Failures) != 1 {
			t.Fatalf("expected 2 pages and 1 failure, got %d and %d", len(scan.Pages), len(scan.Failures))
		}
		if scan.Failures[0].URL != "https://example.com/about" {
			t.Errorf("unexpected failure %+v", scan.Failures[0])
		}
		if persister.calls != 1 {
			t.Errorf("expected report to be persisted, got %d calls", persister.calls)
		}
	})

	t.Run("invalid start url fails the crawl", func(t *testing.T) {
		t.Parallel()

		p := newSitePipeline(exampleSite(), &fakeEngine{}, nil)
		scan := NewSiteScan("ftp://example.com/")
		if err := p.Execute(ctx, scan); !errors.Is(err, crawler.ErrInvalidURL) {
			t.Errorf("expected ErrInvalidURL, got %v", err)
		}
	})

	t.Run("persist failure is returned", func(t *testing.T) {
		t.Parallel()

		persister := &fakePersister{err: errors.New("disk full")}
		p := newSitePipeline(exampleSite(), &fakeEngine{}, persister)
		scan := NewSiteScan("https://example.com/")
		if err := p.Execute(ctx, scan); err == nil {
			t.Fatal("expected error")
		}
		if scan.ReportID != "" {
			t.Errorf("expected no report id, got %q", scan.ReportID)
		}
	})

	t.Run("without persister", func(t *testing.T) {
		t.Parallel()

		p := newSitePipeline(exampleSite(), &fakeEngine{}, nil)
		if !reflect.DeepEqual(p.StepNames(), []string{"crawl", "scan", "aggregate"}) {
			t.Errorf("unexpected steps %v", p.StepNames())
		}
	})
}

// TestScanStepNoTargets tests the scan step on an empty crawl.
func TestScanStepNoTargets(t *testing.T) {
	t.Parallel()

	step := NewScanStep(scanner.New(exampleSite(), &fakeEngine{}))
	if err := step.Do(context.Background(), NewSiteScan("https://example.com/")); !errors.Is(err, ErrNoTargets) {
		t.Errorf("expected ErrNoTargets, got %v", err)
	}
}

// TestAggregateStep tests the aggregate step is deterministic.
func TestAggregateStep(t *testing.T) {
	t.Parallel()

	scan := NewSiteScan("https://example.com/")
	scan.Pages = testPages("https://example.com/", "https://example.com/a")

	step := NewAggregateStep()
	if err := step.Do(context.Background(), scan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := scan.Summary
	if err := step.Do(context.Background(), scan); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, scan.Summary) {
		t.Error("expected identical summaries")
	}
	if first.TotalPages != 2 {
		t.Errorf("expected 2 pages, got %d", first.TotalPages)
	}
}
