package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/a11yscan/internal/model"
	"golang.org/x/crypto/sha3"
)

// FileName is the name of the index database inside its directory.
const FileName = "a11yscan.db"

// scannedAtLayout stores times in UTC with fixed width so that text order
// is chronological order.
const scannedAtLayout = "2006-01-02T15:04:05.000000000Z"

// ErrDuplicateID is returned when a report ID is already indexed.
var ErrDuplicateID = errors.New("report id already indexed")

// ReportDB provides SQLite-based storage for report metadata.
// It manages connection pooling and provides methods for CRUD operations.
type ReportDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures ReportDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a ReportDB in the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*ReportDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite: mode=rw refuses to create a missing file,
	// mode=rwc allows creation. Foreign keys are off by default in SQLite.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	dsn += "&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &ReportDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Close closes the database connection.
func (rdb *ReportDB) Close() error {
	return rdb.db.Close()
}

// Path returns the database file path.
func (rdb *ReportDB) Path() string {
	return rdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (rdb *ReportDB) createTables() error {
	schema := `
	-- One row per persisted report; the report ID can never be reused
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		start_url TEXT NOT NULL,
		scanned_at TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		total_violations INTEGER NOT NULL,
		total_incomplete INTEGER NOT NULL,
		failure_count INTEGER NOT NULL DEFAULT 0,
		digest TEXT NOT NULL,
		summary_json TEXT NOT NULL,
		impact_summary TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_reports_start_url ON reports(start_url);
	CREATE INDEX IF NOT EXISTS idx_reports_scanned_at ON reports(scanned_at);

	-- Every violated rule of a report, not only the top ten
	CREATE TABLE IF NOT EXISTS report_rules (
		report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		rule_id TEXT NOT NULL,
		impact TEXT NOT NULL,
		node_count INTEGER NOT NULL,
		help TEXT,
		PRIMARY KEY (report_id, rule_id)
	);

	-- Per-page counts in scan order
	CREATE TABLE IF NOT EXISTS report_pages (
		report_id TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		violations INTEGER NOT NULL,
		incomplete INTEGER NOT NULL,
		PRIMARY KEY (report_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_url ON report_pages(url);
	`

	_, err := rdb.db.ExecContext(context.Background(), schema)
	return err
}

// ReportMeta is the indexed description of one stored report.
type ReportMeta struct {
	// ID is the report identifier shared with the artifact store.
	ID string `json:"id"`

	// StartURL is the URL the crawl started from.
	StartURL string `json:"startUrl"`

	// ScannedAt is when the site scan finished.
	ScannedAt time.Time `json:"scannedAt"`

	// PageCount is the number of scanned pages.
	PageCount int `json:"pageCount"`

	// TotalViolations and TotalIncomplete are the site totals.
	TotalViolations int `json:"totalViolations"`
	TotalIncomplete int `json:"totalIncomplete"`

	// FailureCount is the number of pages that could not be scanned.
	FailureCount int `json:"failureCount"`

	// Digest is the hex SHA3-256 digest of the stored report.json.
	Digest string `json:"digest"`

	// ImpactSummary counts violated rules per impact name.
	ImpactSummary map[string]int `json:"impactSummary,omitempty"`

	// Summary is the site summary. It is only loaded by GetReport and
	// GetReportHistory.
	Summary *model.SiteSummary `json:"summary,omitempty"`

	// Rules is the full rule ranking. It is only loaded by GetReport and
	// GetReportHistory.
	Rules []model.RuleStat `json:"-"`

	// CreatedAt is when the row was inserted.
	CreatedAt time.Time `json:"createdAt"`
}

// NewReportMeta describes report for the index. reportJSON is the stored
// report.json the digest is computed from.
func NewReportMeta(report *model.Report, reportJSON []byte) *ReportMeta {
	summary := report.Summary()
	impacts := make(map[string]int)
	for impact, n := range model.ImpactBreakdown(report.Pages) {
		impacts[impact.String()] = n
	}
	return &ReportMeta{
		ID:              report.ID,
		StartURL:        report.StartURL,
		ScannedAt:       report.ScannedAt,
		PageCount:       report.Count,
		TotalViolations: summary.TotalViolations,
		TotalIncomplete: summary.TotalIncomplete,
		FailureCount:    len(report.Failures),
		Digest:          Digest(reportJSON),
		ImpactSummary:   impacts,
		Summary:         summary,
		Rules:           model.RankRules(report.Pages),
	}
}

// Digest returns the hex SHA3-256 digest of data.
func Digest(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InsertReport indexes a report with its rules and pages in one transaction.
// It fails with ErrDuplicateID when the ID is already present.
func (rdb *ReportDB) InsertReport(ctx context.Context, meta *ReportMeta) (err error) {
	if meta.Summary == nil {
		return errors.New("report summary is required")
	}
	summaryJSON, err := json.Marshal(meta.Summary)
	if err != nil {
		return fmt.Errorf("failed to serialize summary: %w", err)
	}
	impactJSON, err := json.Marshal(meta.ImpactSummary)
	if err != nil {
		return fmt.Errorf("failed to serialize impact summary: %w", err)
	}

	tx, err := rdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE id = ?", meta.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check report id: %w", err)
	}
	if exists > 0 {
		err = fmt.Errorf("%w: %s", ErrDuplicateID, meta.ID)
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO reports (id, start_url, scanned_at, page_count, total_violations, total_incomplete,
		failure_count, digest, summary_json, impact_summary)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.ID,
		meta.StartURL,
		meta.ScannedAt.UTC().Format(scannedAtLayout),
		meta.PageCount,
		meta.TotalViolations,
		meta.TotalIncomplete,
		meta.FailureCount,
		meta.Digest,
		string(summaryJSON),
		string(impactJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}

	for _, rule := range meta.Rules {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO report_rules (report_id, rule_id, impact, node_count, help) VALUES (?, ?, ?, ?, ?)",
			meta.ID, rule.RuleID, rule.Impact.String(), rule.Count, rule.Help,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.RuleID, err)
		}
	}

	for i, page := range meta.Summary.Pages {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO report_pages (report_id, position, url, violations, incomplete) VALUES (?, ?, ?, ?, ?)",
			meta.ID, i, page.URL, page.Violations, page.Incomplete,
		)
		if err != nil {
			return fmt.Errorf("failed to insert page %s: %w", page.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report: %w", err)
	}
	return nil
}

// HasReport reports whether id is indexed.
func (rdb *ReportDB) HasReport(ctx context.Context, id string) (bool, error) {
	var count int
	if err := rdb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check report: %w", err)
	}
	return count > 0, nil
}

const reportColumns = `id, start_url, scanned_at, page_count, total_violations, total_incomplete,
	failure_count, digest, summary_json, impact_summary, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner, withSummary bool) (*ReportMeta, error) {
	var (
		meta        ReportMeta
		scannedAt   string
		createdAt   string
		summaryJSON string
		impactJSON  sql.NullString
	)
	err := row.Scan(
		&meta.ID,
		&meta.StartURL,
		&scannedAt,
		&meta.PageCount,
		&meta.TotalViolations,
		&meta.TotalIncomplete,
		&meta.FailureCount,
		&meta.Digest,
		&summaryJSON,
		&impactJSON,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	meta.ScannedAt = parseTimestamp(scannedAt)
	meta.CreatedAt = parseTimestamp(createdAt)

	meta.ImpactSummary = make(map[string]int)
	if impactJSON.Valid && impactJSON.String != "" {
		if err := json.Unmarshal([]byte(impactJSON.String), &meta.ImpactSummary); err != nil {
			meta.ImpactSummary = make(map[string]int)
		}
	}

	if withSummary {
		var summary model.SiteSummary
		if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
			return nil, fmt.Errorf("failed to parse summary: %w", err)
		}
		meta.Summary = &summary
	}
	return &meta, nil
}

// GetReport retrieves a report with its summary and rules.
// It returns nil when the ID is not indexed.
func (rdb *ReportDB) GetReport(ctx context.Context, id string) (*ReportMeta, error) {
	row := rdb.db.QueryRowContext(ctx, "SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	meta, err := scanReport(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if meta.Rules, err = rdb.getRules(ctx, id); err != nil {
		return nil, err
	}
	return meta, nil
}

// getRules loads the full rule ranking of a report.
func (rdb *ReportDB) getRules(ctx context.Context, id string) ([]model.RuleStat, error) {
	rows, err := rdb.db.QueryContext(ctx, `
	SELECT rule_id, impact, node_count, help FROM report_rules
	WHERE report_id = ?
	ORDER BY node_count DESC, rule_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}
	defer rows.Close()

	rules := make([]model.RuleStat, 0)
	for rows.Next() {
		var (
			rule   model.RuleStat
			impact string
			help   sql.NullString
		)
		if err := rows.Scan(&rule.RuleID, &impact, &rule.Count, &help); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Impact = model.ParseImpact(impact)
		rule.Help = help.String
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListReports returns the most recent reports, newest first.
// A non-positive limit returns all reports. Summaries are not loaded.
func (rdb *ReportDB) ListReports(ctx context.Context, limit int) ([]ReportMeta, error) {
	query := "SELECT " + reportColumns + " FROM reports ORDER BY scanned_at DESC, created_at DESC"
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return rdb.queryReports(ctx, false, query, args...)
}

// ListScannedSites returns every start URL with at least one report.
func (rdb *ReportDB) ListScannedSites(ctx context.Context) ([]string, error) {
	rows, err := rdb.db.QueryContext(ctx, "SELECT DISTINCT start_url FROM reports ORDER BY start_url")
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []string
	for rows.Next() {
		var site string
		if err := rows.Scan(&site); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// GetReportHistory returns every report of a start URL, newest first,
// with summaries and rules loaded.
func (rdb *ReportDB) GetReportHistory(ctx context.Context, startURL string) ([]ReportMeta, error) {
	reports, err := rdb.queryReports(ctx, true,
		"SELECT "+reportColumns+" FROM reports WHERE start_url = ? ORDER BY scanned_at DESC, created_at DESC",
		startURL,
	)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		if reports[i].Rules, err = rdb.getRules(ctx, reports[i].ID); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (rdb *ReportDB) queryReports(ctx context.Context, withSummary bool, query string, args ...any) ([]ReportMeta, error) {
	rows, err := rdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	reports := make([]ReportMeta, 0)
	for rows.Next() {
		meta, err := scanReport(rows, withSummary)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *meta)
	}
	return reports, rows.Err()
}

// GetPageHistory returns the counts of one page URL across reports,
// newest first.
func (rdb *ReportDB) GetPageHistory(ctx context.Context, pageURL string) ([]PageRecord, error) {
	rows, err := rdb.db.QueryContext(ctx, `
	SELECT p.report_id, r.scanned_at, p.violations, p.incomplete
	FROM report_pages p JOIN reports r ON r.id = p.report_id
	WHERE p.url = ?
	ORDER BY r.scanned_at DESC
	`, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get page history: %w", err)
	}
	defer rows.Close()

	records := make([]PageRecord, 0)
	for rows.Next() {
		var (
			rec       PageRecord
			scannedAt string
		)
		if err := rows.Scan(&rec.ReportID, &scannedAt, &rec.Violations, &rec.Incomplete); err != nil {
			return nil, fmt.Errorf("failed to scan page record: %w", err)
		}
		rec.URL = pageURL
		rec.ScannedAt = parseTimestamp(scannedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PageRecord is one page of one indexed report.
type PageRecord struct {
	ReportID   string    `json:"reportId"`
	URL        string    `json:"url"`
	ScannedAt  time.Time `json:"scannedAt"`
	Violations int       `json:"violationCount"`
	Incomplete int       `json:"incompleteCount"`
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",  // SQLite default datetime format
	scannedAtLayout,        // a11yscan scan times
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",  // ISO 8601 without timezone
	time.RFC3339,           // Full RFC3339 format
	time.RFC3339Nano,       // RFC3339 with nanoseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on configuration.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
