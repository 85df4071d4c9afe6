// Package database provides the SQLite index of stored reports.
//
// The index records, for every persisted report:
//   - the report ID, which is the primary key and so can never be reused
//   - the start URL, scan time and site totals
//   - a SHA3-256 digest of the stored report.json
//   - the full rule ranking and per-page counts for history comparisons
//
// Report bodies live in the artifact store; the index only holds what is
// needed to list, look up and compare reports without reading them.
//
// We use SQLite via modernc.org/sqlite: the database is a single file and
// the CGO-free driver keeps cross-compilation simple.
package database
