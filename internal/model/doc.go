// Package model defines the core data structures used throughout a11yscan.
//
// This package contains the following main types:
//   - PageAuditResult: The audit outcome for a single page
//   - RuleFinding / AffectedNode: One audit rule and the elements it flagged
//   - SiteSummary: Site-level statistics reduced from many page results
//   - Report: The immutable artifact persisted for one site scan
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The crawler, scanner, report and artifact packages all need
// these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for report output and
// database storage. JSON field names follow the camelCase shape produced by
// the axe-core engine so stored artifacts stay readable by existing tooling.
package model
