package model

import "time"

// Report is the persisted artifact of one site scan.
// Its JSON form is the machine-readable report.json stored under the
// report ID: {startUrl, scannedAt, count, reports}.
//
// Design decision: The report ID is not part of the JSON body. The ID names
// the storage location, and keeping it out of the body means identical scans
// produce identical artifacts regardless of the generated identifier.
type Report struct {
	// ID is the opaque report identifier assigned by the artifact writer.
	ID string `json:"-"`

	// StartURL is the URL the crawl started from.
	StartURL string `json:"startUrl"`

	// ScannedAt is when the site scan finished.
	ScannedAt time.Time `json:"scannedAt"`

	// Count is the number of page results, always len(Pages).
	Count int `json:"count"`

	// Pages are the page results in scan order.
	Pages []PageAuditResult `json:"reports"`

	// Failures lists pages that could not be scanned. Only present when
	// the scan was configured to continue past per-page failures.
	Failures []ScanFailure `json:"failures,omitempty"`
}

// NewReport creates a report for the given pages.
// Nil slices are replaced by empty ones so the JSON always contains arrays.
func NewReport(id, startURL string, scannedAt time.Time, pages []PageAuditResult, failures []ScanFailure) *Report {
	if pages == nil {
		pages = []PageAuditResult{}
	}
	return &Report{
		ID:        id,
		StartURL:  startURL,
		ScannedAt: scannedAt,
		Count:     len(pages),
		Pages:     pages,
		Failures:  failures,
	}
}

// Summary aggregates the report pages into site statistics.
func (r *Report) Summary() *SiteSummary {
	return NewSiteSummary(r.Pages)
}
