// Package metrics exports Prometheus metrics for crawling, scanning and
// report persistence.
//
// All recording methods are safe to call on a nil *Metrics, so components
// accept an optional collector without nil checks at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "a11yscan"

// Scan results used as label values.
const (
	resultOK     = "ok"
	resultFailed = "failed"
)

// Metrics holds all a11yscan Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Crawl metrics
	CrawlsTotal        prometheus.Counter
	CrawlDuration      prometheus.Histogram
	PagesDiscovered    prometheus.Histogram
	NavigationFailures prometheus.Counter

	// Scan metrics
	PagesScanned *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	Violations   *prometheus.CounterVec

	// Persistence metrics
	ReportsPersisted prometheus.Counter
	PersistFailures  prometheus.Counter
}

// New creates metrics registered on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CrawlsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawls_total",
			Help:      "Total number of completed crawls",
		}),
		CrawlDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_duration_seconds",
			Help:      "Duration of site crawls",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PagesDiscovered: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_pages_discovered",
			Help:      "Number of pages discovered per crawl",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200},
		}),
		NavigationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_navigation_failures_total",
			Help:      "Crawl navigations that failed and were skipped",
		}),
		PagesScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_scanned_total",
			Help:      "Total number of page scans by result",
		}, []string{"result"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_scan_duration_seconds",
			Help:      "Duration of single page scans",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_violations_total",
			Help:      "Violated rules found by page scans, by impact",
		}, []string{"impact"}),
		ReportsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_persisted_total",
			Help:      "Total number of stored site reports",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_persist_failures_total",
			Help:      "Site reports that could not be stored",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCrawl records a finished crawl.
func (m *Metrics) ObserveCrawl(d time.Duration, pages int) {
	if m == nil {
		return
	}
	m.CrawlsTotal.Inc()
	m.CrawlDuration.Observe(d.Seconds())
	m.PagesDiscovered.Observe(float64(pages))
}

// CrawlNavigationFailed records a crawl navigation that was skipped.
func (m *Metrics) CrawlNavigationFailed() {
	if m == nil {
		return
	}
	m.NavigationFailures.Inc()
}

// ObserveScan records a page scan. impacts lists the impact name of every
// violated rule on the page; it is ignored for failed scans.
func (m *Metrics) ObserveScan(d time.Duration, err error, impacts []string) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(d.Seconds())
	if err != nil {
		m.PagesScanned.WithLabelValues(resultFailed).Inc()
		return
	}
	m.PagesScanned.WithLabelValues(resultOK).Inc()
	for _, impact := range impacts {
		m.Violations.WithLabelValues(impact).Inc()
	}
}

// ObservePersist records the outcome of storing a report.
func (m *Metrics) ObservePersist(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.ReportsPersisted.Inc()
}
