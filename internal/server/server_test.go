package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/a11yscan/internal/artifact"
	"github.com/nao1215/a11yscan/internal/audit"
	"github.com/nao1215/a11yscan/internal/browser"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/database"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/a11yscan/internal/pipeline"
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

func (s *fakeSession) Navigate(_ context.Context, url string, _ browser.WaitUntil, _ time.Duration) error {
	if s.site.failing[url] {
		return &browser.NavigationError{URL: url, Err: errors.New("net::ERR_CONNECTION_REFUSED")}
	}
	s.current = url
	return nil
}

func (s *fakeSession) ExtractLinks(_ context.Context) ([]string, error) {
	return s.site.links[s.current], nil
}

func (s *fakeSession) Evaluate(_ context.Context, _ string, res any) error {
	if ua, ok := res.(*string); ok {
		*ua = "fake-agent"
		return nil
	}
	return browser.ErrEvaluationUnsupported
}

func (s *fakeSession) Close() error { return nil }

// fakeEngine reports an image-alt violation on every page and one
// passing rule when passes are requested.
type fakeEngine struct{}

func (fakeEngine) Audit(_ context.Context, _ browser.Session, opts audit.Options) (*audit.Result, error) {
	result := &audit.Result{
		Violations: []model.RuleFinding{{
			RuleID: "image-alt",
			Impact: model.ImpactCritical,
			Help:   "Images must have alternate text",
			Nodes:  []model.AffectedNode{{Target: []string{"img"}}},
		}},
		Incomplete: []model.RuleFinding{},
	}
	if opts.IncludePasses {
		result.Passes = []model.RuleFinding{{RuleID: "document-title", Impact: model.ImpactUnknown}}
	}
	return result, nil
}

type testEnv struct {
	server *httptest.Server
	store  *artifact.FileStore
	db     *database.ReportDB
}

func newTestEnv(t *testing.T, site *fakeSite) *testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store, err := artifact.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cached, err := artifact.NewCachedStore(store, 16)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	m := metrics.New()
	sc := scanner.New(site, fakeEngine{}, scanner.WithLogger(logger), scanner.WithMetrics(m))
	writer := artifact.NewWriter(store, artifact.WithIndex(db), artifact.WithLogger(logger))
	sites := func(startURL string, maxPages, maxDepth int) (*pipeline.Pipeline, error) {
		spider := crawler.NewSpider(site,
			crawler.WithMaxPages(maxPages),
			crawler.WithMaxDepth(maxDepth),
			crawler.WithLogger(logger),
		)
		return pipeline.SitePipeline(spider, sc, writer, logger), nil
	}

	srv := New(sc, sites, cached,
		WithIndex(db),
		WithMetrics(m),
		WithLogger(logger),
		WithMaxConcurrentScans(1),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store, db: db}
}

func exampleSite() *fakeSite {
	return &fakeSite{
		links: map[string][]string{
			"https://example.com/":      {"/about", "/contact#form", "https://elsewhere.example/"},
			"https://example.com/about": {"/"},
		},
		failing: map[string]bool{},
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body)) //nolint:noctx // test helper
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	resp, err := http.Get(url) //nolint:noctx // test helper
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// TestHandleScan tests single page scans.
func TestHandleScan(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())

	t.Run("returns the page result", func(t *testing.T) {
		t.Parallel()

		resp := postJSON(t, env.server.URL+"/api/scan", `{"url":"https://example.com/about#top"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var page model.PageAuditResult
		decode(t, resp, &page)
		if page.URL != "https://example.com/about" {
			t.Errorf("expected normalized url, got %q", page.URL)
		}
		if page.UserAgent != "fake-agent" {
			t.Errorf("unexpected user agent %q", page.UserAgent)
		}
		if len(page.Violations) != 1 || len(page.Passes) != 0 {
			t.Errorf("unexpected findings: %+v", page)
		}
	})

	t.Run("includes passes on request", func(t *testing.T) {
		t.Parallel()

		resp := postJSON(t, env.server.URL+"/api/scan", `{"url":"https://example.com/","includePasses":true}`)
		var page model.PageAuditResult
		decode(t, resp, &page)
		if len(page.Passes) != 1 {
			t.Errorf("expected 1 pass, got %d", len(page.Passes))
		}
	})

	t.Run("rejects invalid urls", func(t *testing.T) {
		t.Parallel()

		for _, body := range []string{`{}`, `{"url":"ftp://example.com/"}`, `{"url":"/relative"}`, `not json`} {
			resp := postJSON(t, env.server.URL+"/api/scan", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
			}
		}
	})
}

// TestHandleScanFailure tests the error body of a failed page scan.
func TestHandleScanFailure(t *testing.T) {
	t.Parallel()

	site := exampleSite()
	site.failing["https://down.example/"] = true
	env := newTestEnv(t, site)

	resp := postJSON(t, env.server.URL+"/api/scan", `{"url":"https://down.example/"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body errorResponse
	decode(t, resp, &body)
	if body.Error != "Scan failed." || !strings.Contains(body.Details, "ERR_CONNECTION_REFUSED") {
		t.Errorf("unexpected error body %+v", body)
	}
}

// TestHandleScanSite tests a stored site scan and reading it back.
func TestHandleScanSite(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())

	resp := postJSON(t, env.server.URL+"/api/scan-site", `{"startUrl":"https://example.com","maxPages":10,"maxDepth":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result siteScanResponse
	decode(t, resp, &result)

	if err := artifact.ValidateID(result.ReportID); err != nil || len(result.ReportID) != 16 {
		t.Fatalf("unexpected report id %q", result.ReportID)
	}
	if result.Summary.StartURL != "https://example.com/" {
		t.Errorf("unexpected start url %q", result.Summary.StartURL)
	}
	if result.Summary.PagesScanned != 3 || result.Summary.TotalViolations != 3 {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if result.HTMLURL != "/reports/"+result.ReportID+"/report.html" {
		t.Errorf("unexpected html url %q", result.HTMLURL)
	}

	t.Run("serves the json artifact", func(t *testing.T) {
		t.Parallel()

		resp := get(t, env.server.URL+result.JSONURL)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("unexpected content type %q", ct)
		}
		var payload struct {
			StartURL string                  `json:"startUrl"`
			Count    int                     `json:"count"`
			Reports  []model.PageAuditResult `json:"reports"`
		}
		decode(t, resp, &payload)
		if payload.Count != 3 || len(payload.Reports) != 3 {
			t.Errorf("unexpected payload count %d", payload.Count)
		}
		if payload.Reports[0].URL != "https://example.com/" {
			t.Errorf("expected start page first, got %s", payload.Reports[0].URL)
		}
	})

	t.Run("serves the html artifact", func(t *testing.T) {
		t.Parallel()

		resp := get(t, env.server.URL+result.HTMLURL)
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("unexpected content type %q", ct)
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		if !strings.Contains(buf.String(), "image-alt") {
			t.Error("expected rule in html report")
		}
	})

	t.Run("indexes the report", func(t *testing.T) {
		t.Parallel()

		resp := get(t, env.server.URL+"/api/reports/"+result.ReportID)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var meta database.ReportMeta
		decode(t, resp, &meta)
		if meta.PageCount != 3 || meta.TotalViolations != 3 {
			t.Errorf("unexpected meta %+v", meta)
		}

		resp = get(t, env.server.URL+"/api/reports")
		var list []database.ReportMeta
		decode(t, resp, &list)
		if len(list) != 1 || list[0].ID != result.ReportID {
			t.Errorf("unexpected report list %+v", list)
		}
	})
}

// TestHandleScanSiteInvalid tests request validation of site scans.
func TestHandleScanSiteInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())
	for _, body := range []string{`{}`, `{"startUrl":"mailto:a@example.com"}`, `[`} {
		resp := postJSON(t, env.server.URL+"/api/scan-site", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

// TestHandleScanSiteFailure tests that a failed page aborts the site scan
// and stores nothing.
func TestHandleScanSiteFailure(t *testing.T) {
	t.Parallel()

	site := exampleSite()
	site.failing["https://example.com/about"] = true
	env := newTestEnv(t, site)

	resp := postJSON(t, env.server.URL+"/api/scan-site", `{"startUrl":"https://example.com/"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body errorResponse
	decode(t, resp, &body)
	if body.Error != "Site scan failed." {
		t.Errorf("unexpected error %q", body.Error)
	}

	reports, err := env.db.ListReports(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("expected no stored reports, got %d", len(reports))
	}
}

// TestHandleArtifactNotFound tests lookups of unknown artifacts.
func TestHandleArtifactNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())
	for _, path := range []string{
		"/reports/0123456789abcdef/report.html",
		"/reports/NOT-HEX/report.html",
		"/api/reports/0123456789abcdef",
	} {
		resp := get(t, env.server.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

// TestHandleListReportsLimit tests the limit query parameter.
func TestHandleListReportsLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())
	resp := get(t, env.server.URL+"/api/reports?limit=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	resp = get(t, env.server.URL+"/api/reports?limit=5")
	var list []database.ReportMeta
	decode(t, resp, &list)
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty list, got %v", list)
	}
}

// TestHealthAndMetrics tests the operational endpoints.
func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, exampleSite())

	resp := get(t, env.server.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	postJSON(t, env.server.URL+"/api/scan", `{"url":"https://example.com/"}`)

	resp = get(t, env.server.URL+"/metrics")
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "a11yscan_") {
		t.Error("expected a11yscan metrics")
	}

	resp = get(t, env.server.URL+"/api/scan")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

// TestIndexDisabled tests the listing endpoints without an index.
func TestIndexDisabled(t *testing.T) {
	t.Parallel()

	srv := New(nil, nil, nil, WithLogger(slog.New(slog.DiscardHandler)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

// TestListenAndServe tests graceful shutdown on cancellation.
func TestListenAndServe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(nil, nil, nil, WithLogger(slog.New(slog.DiscardHandler)))

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
