package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nao1215/a11yscan/internal/artifact"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/database"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/pipeline"
	"github.com/nao1215/a11yscan/internal/report"
	"github.com/nao1215/a11yscan/internal/scanner"
	"golang.org/x/sync/semaphore"
)

const (
	// maxRequestBody bounds JSON request bodies.
	maxRequestBody = 1 << 20

	// defaultListLimit is the number of reports listed without ?limit.
	defaultListLimit = 50

	// DefaultMaxConcurrentScans is the number of site scans run at once.
	DefaultMaxConcurrentScans = 2

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// SiteFactory builds the pipeline of one site scan request. The pipeline
// must persist the report.
type SiteFactory func(startURL string, maxPages, maxDepth int) (*pipeline.Pipeline, error)

// Files reads stored report files.
type Files interface {
	Open(ctx context.Context, id, name string) ([]byte, error)
}

// Index lists stored reports.
type Index interface {
	ListReports(ctx context.Context, limit int) ([]database.ReportMeta, error)
	GetReport(ctx context.Context, id string) (*database.ReportMeta, error)
}

// Server serves the a11yscan HTTP API.
type Server struct {
	scanner *scanner.Scanner
	sites   SiteFactory
	files   Files
	index   Index
	metrics *metrics.Metrics
	logger  *slog.Logger
	scans   *semaphore.Weighted
}

// Option configures a Server.
type Option func(*Server)

// WithIndex enables the report listing endpoints.
func WithIndex(idx Index) Option {
	return func(s *Server) {
		s.index = idx
	}
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxConcurrentScans bounds the site scans running at once. Further
// requests wait for a slot until their client gives up.
func WithMaxConcurrentScans(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.scans = semaphore.NewWeighted(int64(n))
		}
	}
}

// New creates a Server. sc audits single pages, sites builds site scan
// pipelines and files serves the stored bundles.
func New(sc *scanner.Scanner, sites SiteFactory, files Files, opts ...Option) *Server {
	s := &Server{
		scanner: sc,
		sites:   sites,
		files:   files,
		scans:   semaphore.NewWeighted(DefaultMaxConcurrentScans),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scan", s.handleScan)
	mux.HandleFunc("POST /api/scan-site", s.handleScanSite)
	mux.HandleFunc("GET /reports/{id}/{name}", s.handleArtifact)
	mux.HandleFunc("GET /api/reports", s.handleListReports)
	mux.HandleFunc("GET /api/reports/{id}", s.handleGetReport)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(began),
		)
	})
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// scanRequest is the body of POST /api/scan.
type scanRequest struct {
	URL           string `json:"url"`
	IncludePasses bool   `json:"includePasses"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.", err)
		return
	}
	target, err := crawler.ParseStartURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Provide a valid http(s) URL.", nil)
		return
	}

	page, err := s.scanner.With(scanner.WithIncludePasses(req.IncludePasses)).ScanURL(r.Context(), target)
	if err != nil {
		s.logger.Warn("page scan failed", "url", target, "error", err)
		writeError(w, http.StatusInternalServerError, "Scan failed.", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// siteScanRequest is the body of POST /api/scan-site. Missing caps use
// the crawler defaults.
type siteScanRequest struct {
	StartURL string `json:"startUrl"`
	MaxPages *int   `json:"maxPages"`
	MaxDepth *int   `json:"maxDepth"`
}

// siteScanSummary is the short summary returned for a stored site scan.
type siteScanSummary struct {
	StartURL        string    `json:"startUrl"`
	ScannedAt       time.Time `json:"scannedAt"`
	PagesScanned    int       `json:"pagesScanned"`
	TotalViolations int       `json:"totalViolations"`
}

// siteScanResponse is the body returned by POST /api/scan-site.
type siteScanResponse struct {
	ReportID string          `json:"reportId"`
	Summary  siteScanSummary `json:"summary"`
	HTMLURL  string          `json:"htmlUrl"`
	JSONURL  string          `json:"jsonUrl"`
}

func (s *Server) handleScanSite(w http.ResponseWriter, r *http.Request) {
	var req siteScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.", err)
		return
	}
	startURL, err := crawler.ParseStartURL(req.StartURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Provide a valid startUrl (http/https).", nil)
		return
	}

	maxPages := crawler.DefaultMaxPages
	if req.MaxPages != nil {
		maxPages = crawler.ClampMaxPages(*req.MaxPages)
	}
	maxDepth := crawler.DefaultMaxDepth
	if req.MaxDepth != nil {
		maxDepth = crawler.ClampMaxDepth(*req.MaxDepth)
	}

	ctx := r.Context()
	if err := s.scans.Acquire(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Site scan cancelled.", err)
		return
	}
	defer s.scans.Release(1)

	p, err := s.sites(startURL, maxPages, maxDepth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Site scan failed.", err)
		return
	}
	scan := pipeline.NewSiteScan(startURL)
	if err := p.Execute(ctx, scan); err != nil {
		s.logger.Warn("site scan failed", "start_url", startURL, "error", err)
		writeError(w, http.StatusInternalServerError, "Site scan failed.", err)
		return
	}

	totalViolations := 0
	if scan.Summary != nil {
		totalViolations = scan.Summary.TotalViolations
	}
	writeJSON(w, http.StatusOK, siteScanResponse{
		ReportID: scan.ReportID,
		Summary: siteScanSummary{
			StartURL:        scan.StartURL,
			ScannedAt:       scan.ScannedAt,
			PagesScanned:    len(scan.Pages),
			TotalViolations: totalViolations,
		},
		HTMLURL: artifactPath(scan.ReportID, report.FormatHTML.FileName()),
		JSONURL: artifactPath(scan.ReportID, report.FormatJSON.FileName()),
	})
}

func artifactPath(id, name string) string {
	return "/reports/" + id + "/" + name
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id, name := r.PathValue("id"), r.PathValue("name")
	if artifact.ValidateID(id) != nil || artifact.ValidateName(name) != nil {
		http.NotFound(w, r)
		return
	}

	data, err := s.files.Open(r.Context(), id, name)
	if errors.Is(err, artifact.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("failed to read artifact", "id", id, "name", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", report.ContentTypeFor(name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "Report index is not available.", nil)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer.", nil)
			return
		}
		limit = n
	}

	reports, err := s.index.ListReports(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reports.", err)
		return
	}
	if reports == nil {
		reports = []database.ReportMeta{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "Report index is not available.", nil)
		return
	}

	id := r.PathValue("id")
	if artifact.ValidateID(id) != nil {
		writeError(w, http.StatusNotFound, "Report not found.", nil)
		return
	}
	meta, err := s.index.GetReport(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read report.", err)
		return
	}
	if meta == nil {
		writeError(w, http.StatusNotFound, "Report not found.", nil)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
