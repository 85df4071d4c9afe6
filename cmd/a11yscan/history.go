package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/a11yscan/internal/config"
	"github.com/nao1215/a11yscan/internal/crawler"
	"github.com/nao1215/a11yscan/internal/database"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"
)

// Constants for trend direction and summary messages.
const (
	trendWorsened     = "worsened"
	trendImproved     = "improved"
	trendUnchanged    = "unchanged"
	noFindingsMessage = "No violations"
	dateLayout        = "2006-01-02 15:04:05"
)

// NewHistoryCmd creates the history command.
// This command shows and compares reports stored in the index.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [start-url]",
		Short: "List stored reports and compare scans of a site",
		Long: `History shows the reports stored by earlier scans.

Without arguments it lists the most recent reports of all sites. With a
start URL it lists the reports of that site, and with --compare it shows
what changed between two scans:
- Rules violated in the newer scan only
- Rules no longer violated
- Rules whose number of affected elements changed

Examples:
  # List recent reports
  a11yscan history

  # List all scanned sites
  a11yscan history --list-sites

  # List the reports of one site
  a11yscan history https://example.com

  # Show how one page fared across scans
  a11yscan history --page https://example.com/contact

  # Compare the two latest scans of a site
  a11yscan history --compare https://example.com

  # Compare the latest scan with a specific report
  a11yscan history --compare --with-id 0123456789abcdef https://example.com

  # Output the comparison as JSON
  a11yscan history --compare --json https://example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list-sites", "L", false,
		"List all scanned sites")
	cmd.Flags().IntP("limit", "n", 20,
		"Number of reports listed (0 lists all)")
	cmd.Flags().StringP("page", "P", "",
		"Show the violation counts of one page URL across reports")

	cmd.Flags().BoolP("compare", "C", false,
		"Compare the latest report of the site with an earlier one")
	cmd.Flags().StringP("with-id", "i", "",
		"Compare with a specific report ID (use 'a11yscan history <start-url>' to see IDs)")
	cmd.Flags().StringP("since", "s", "",
		"Compare with the first report after this date (format: YYYY-MM-DD)")

	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the comparison in Markdown format")
	cmd.Flags().String("data-dir", config.XDGDataDir(),
		"Directory of the report index")

	return cmd
}

// historyOptions are the parsed flags of the history command.
type historyOptions struct {
	listSites bool
	limit     int
	page      string
	compare   bool
	withID    string
	since     string
	json      bool
	markdown  bool
	dataDir   string
}

func parseHistoryOptions(cmd *cobra.Command) (*historyOptions, error) {
	var opts historyOptions
	r := &flagReader{cmd: cmd}
	r.bool("list-sites", &opts.listSites)
	r.int("limit", &opts.limit)
	r.string("page", &opts.page)
	r.bool("compare", &opts.compare)
	r.string("with-id", &opts.withID)
	r.string("since", &opts.since)
	r.bool("json", &opts.json)
	r.bool("markdown", &opts.markdown)
	r.string("data-dir", &opts.dataDir)
	if r.err != nil {
		return nil, r.err
	}
	if opts.json && opts.markdown {
		return nil, config.ErrConflictingReportFormats
	}
	if (opts.withID != "" || opts.since != "") && !opts.compare {
		return nil, errors.New("--with-id and --since require --compare")
	}
	if opts.page != "" {
		page, err := crawler.ParseStartURL(opts.page)
		if err != nil {
			return nil, fmt.Errorf("invalid page URL: %w", err)
		}
		opts.page = page
	}
	return &opts, nil
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseHistoryOptions(cmd)
	if err != nil {
		return err
	}

	// Validate arguments before opening the database.
	var startURL string
	if len(args) > 0 {
		startURL, err = crawler.ParseStartURL(args[0])
		if err != nil {
			return fmt.Errorf("invalid start URL: %w", err)
		}
	} else if opts.compare {
		return errors.New("start URL is required for --compare (use --list-sites to see scanned sites)")
	}

	db, err := database.Open(opts.dataDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return runHistory(cmd.Context(), db, startURL, opts, cmd.OutOrStdout())
}

// runHistory dispatches to the listing or comparison selected by opts.
func runHistory(ctx context.Context, db *database.ReportDB, startURL string, opts *historyOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case opts.listSites:
		return listScannedSites(ctx, db, opts, w)
	case opts.page != "":
		return listPageHistory(ctx, db, opts, w)
	case startURL == "":
		return listRecentReports(ctx, db, opts, w)
	case !opts.compare:
		return listReportHistory(ctx, db, startURL, opts, w)
	default:
		return runComparison(ctx, db, startURL, opts, w)
	}
}

// listScannedSites lists all start URLs that have reports in the index.
func listScannedSites(ctx context.Context, db *database.ReportDB, opts *historyOptions, w io.Writer) error {
	sites, err := db.ListScannedSites(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sites: %w", err)
	}
	if opts.json {
		if sites == nil {
			sites = []string{}
		}
		return writeJSON(w, sites)
	}

	if len(sites) == 0 {
		fmt.Fprintln(w, "No scanned sites found in the database.")
		fmt.Fprintln(w, "\nUse 'a11yscan scan <start-url>' to scan a site.")
		return nil
	}

	fmt.Fprintf(w, "Scanned sites (%d):\n\n", len(sites))
	for _, site := range sites {
		fmt.Fprintf(w, "  • %s\n", site)
	}
	fmt.Fprintln(w, "\nUse 'a11yscan history <start-url>' to see the reports of a site.")
	return nil
}

// listRecentReports lists the newest reports of all sites.
func listRecentReports(ctx context.Context, db *database.ReportDB, opts *historyOptions, w io.Writer) error {
	reports, err := db.ListReports(ctx, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	if opts.json {
		return writeJSON(w, nonNilReports(reports))
	}

	if len(reports) == 0 {
		fmt.Fprintln(w, "No reports found in the database.")
		fmt.Fprintln(w, "\nUse 'a11yscan scan <start-url>' to scan a site.")
		return nil
	}

	fmt.Fprintf(w, "Recent reports (%d):\n\n", len(reports))
	writeReportTable(w, reports, true)
	return nil
}

// listReportHistory lists every report of one site.
func listReportHistory(ctx context.Context, db *database.ReportDB, startURL string, opts *historyOptions, w io.Writer) error {
	reports, err := db.GetReportHistory(ctx, startURL)
	if err != nil {
		return fmt.Errorf("failed to get report history: %w", err)
	}
	if opts.json {
		return writeJSON(w, nonNilReports(reports))
	}

	if len(reports) == 0 {
		fmt.Fprintf(w, "No reports found for %s\n", startURL)
		fmt.Fprintln(w, "\nUse 'a11yscan scan' to scan this site.")
		return nil
	}

	fmt.Fprintf(w, "Report history for %s (%d reports):\n\n", startURL, len(reports))
	writeReportTable(w, reports, false)
	fmt.Fprintln(w, "\nUse 'a11yscan history --compare <start-url>' to compare the latest two reports.")
	fmt.Fprintln(w, "Use 'a11yscan history --compare --with-id <id> <start-url>' to compare with a specific report.")
	return nil
}

// listPageHistory lists the counts of one page in every report that
// scanned it.
func listPageHistory(ctx context.Context, db *database.ReportDB, opts *historyOptions, w io.Writer) error {
	records, err := db.GetPageHistory(ctx, opts.page)
	if err != nil {
		return fmt.Errorf("failed to get page history: %w", err)
	}
	if opts.json {
		return writeJSON(w, records)
	}

	if len(records) == 0 {
		fmt.Fprintf(w, "No reports found for page %s\n", opts.page)
		return nil
	}

	fmt.Fprintf(w, "Page history for %s (%d reports):\n\n", opts.page, len(records))
	fmt.Fprintf(w, "  %-16s  %-19s  %10s  %12s\n", "Report", "Date", "Violations", "Needs Review")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 63))
	for _, rec := range records {
		fmt.Fprintf(w, "  %-16s  %-19s  %10d  %12d\n",
			rec.ReportID, rec.ScannedAt.Local().Format(dateLayout), rec.Violations, rec.Incomplete)
	}
	return nil
}

func nonNilReports(reports []database.ReportMeta) []database.ReportMeta {
	if reports == nil {
		return []database.ReportMeta{}
	}
	return reports
}

// writeReportTable prints one line per report.
func writeReportTable(w io.Writer, reports []database.ReportMeta, withSite bool) {
	fmt.Fprintf(w, "  %-16s  %-19s  %5s  %10s  %s\n", "ID", "Date", "Pages", "Violations", "Impact Summary")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 78))
	for _, meta := range reports {
		fmt.Fprintf(w, "  %-16s  %-19s  %5d  %10d  %s\n",
			meta.ID,
			meta.ScannedAt.Local().Format(dateLayout),
			meta.PageCount,
			meta.TotalViolations,
			formatImpactSummary(meta.ImpactSummary),
		)
		if withSite {
			fmt.Fprintf(w, "  %-16s  %s\n", "", meta.StartURL)
		}
	}
}

// formatImpactSummary formats violated rules per impact, most severe first.
func formatImpactSummary(summary map[string]int) string {
	if summary == nil {
		return "N/A"
	}

	var parts []string
	for _, impact := range model.AllImpacts() {
		if v := summary[impact.String()]; v > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", impact, v))
		}
	}
	if len(parts) == 0 {
		return noFindingsMessage
	}
	return strings.Join(parts, " ")
}

// runComparison compares the latest report of a site with an earlier one.
func runComparison(ctx context.Context, db *database.ReportDB, startURL string, opts *historyOptions, w io.Writer) error {
	reports, err := db.GetReportHistory(ctx, startURL)
	if err != nil {
		return fmt.Errorf("failed to get report history: %w", err)
	}
	if len(reports) == 0 {
		return fmt.Errorf("no reports found for %s", startURL)
	}
	if len(reports) < 2 {
		return fmt.Errorf("at least 2 reports are required for comparison (found %d)", len(reports))
	}

	current := &reports[0]
	previous, err := selectPrevious(reports, opts)
	if err != nil {
		return err
	}

	comparison := compareReports(previous, current)
	switch {
	case opts.json:
		return writeJSON(w, comparison)
	case opts.markdown:
		return writeComparisonMarkdown(w, comparison)
	default:
		writeComparisonText(w, comparison)
		return nil
	}
}

// selectPrevious picks the report the latest one is compared with.
// reports are sorted newest first.
func selectPrevious(reports []database.ReportMeta, opts *historyOptions) (*database.ReportMeta, error) {
	switch {
	case opts.withID != "":
		for i := range reports[1:] {
			if reports[i+1].ID == opts.withID {
				return &reports[i+1], nil
			}
		}
		if reports[0].ID == opts.withID {
			return nil, fmt.Errorf("report %s is the latest report; choose an earlier one", opts.withID)
		}
		return nil, fmt.Errorf("report %s not found for %s", opts.withID, reports[0].StartURL)

	case opts.since != "":
		since, err := time.ParseInLocation("2006-01-02", opts.since, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}
		// Oldest first, so the first match is the earliest report after the date.
		for i := len(reports) - 1; i > 0; i-- {
			if !reports[i].ScannedAt.Before(since) {
				return &reports[i], nil
			}
		}
		if !reports[0].ScannedAt.Before(since) {
			return nil, fmt.Errorf("only one report found since %s; at least 2 reports are required for comparison", opts.since)
		}
		return nil, fmt.Errorf("no reports found since %s", opts.since)

	default:
		return &reports[1], nil
	}
}

// ComparisonResult holds the result of comparing two reports of a site.
type ComparisonResult struct {
	// StartURL is the scanned site.
	StartURL string `json:"startUrl"`

	// Previous and Current describe the compared reports.
	Previous ReportSnapshot `json:"previous"`
	Current  ReportSnapshot `json:"current"`

	// NewRules are violated in the current report only.
	NewRules []RuleChange `json:"newRules,omitempty"`

	// ResolvedRules were violated in the previous report only.
	ResolvedRules []RuleChange `json:"resolvedRules,omitempty"`

	// ChangedRules are violated in both with a different number of
	// affected elements.
	ChangedRules []RuleChange `json:"changedRules,omitempty"`

	// UnchangedCount is the number of rules violated equally in both.
	UnchangedCount int `json:"unchangedCount"`

	// Trend describes the overall change.
	Trend Trend `json:"trend"`
}

// ReportSnapshot is the part of a report shown in a comparison.
type ReportSnapshot struct {
	ID              string         `json:"id"`
	ScannedAt       time.Time      `json:"scannedAt"`
	PageCount       int            `json:"pageCount"`
	TotalViolations int            `json:"totalViolations"`
	TotalIncomplete int            `json:"totalIncomplete"`
	ImpactSummary   map[string]int `json:"impactSummary"`
}

// RuleChange is one rule in a comparison. Counts are affected elements.
type RuleChange struct {
	RuleID        string       `json:"ruleId"`
	Impact        model.Impact `json:"impact"`
	Help          string       `json:"help,omitempty"`
	PreviousCount int          `json:"previousCount"`
	CurrentCount  int          `json:"currentCount"`
}

// Delta returns the change in affected elements.
func (c RuleChange) Delta() int {
	return c.CurrentCount - c.PreviousCount
}

// Trend describes the change between two reports.
type Trend struct {
	// Direction is "improved", "worsened", or "unchanged".
	Direction string `json:"direction"`

	// ViolationsDelta is the change in violated rules summed over pages.
	ViolationsDelta int `json:"violationsDelta"`

	// ImpactDeltas is the change in violated rules per impact.
	ImpactDeltas map[string]int `json:"impactDeltas"`
}

func snapshot(meta *database.ReportMeta) ReportSnapshot {
	return ReportSnapshot{
		ID:              meta.ID,
		ScannedAt:       meta.ScannedAt,
		PageCount:       meta.PageCount,
		TotalViolations: meta.TotalViolations,
		TotalIncomplete: meta.TotalIncomplete,
		ImpactSummary:   meta.ImpactSummary,
	}
}

// compareReports compares two reports rule by rule.
func compareReports(previous, current *database.ReportMeta) *ComparisonResult {
	result := &ComparisonResult{
		StartURL: current.StartURL,
		Previous: snapshot(previous),
		Current:  snapshot(current),
	}

	previousRules := make(map[string]model.RuleStat, len(previous.Rules))
	for _, r := range previous.Rules {
		previousRules[r.RuleID] = r
	}
	currentRules := make(map[string]bool, len(current.Rules))

	// Rules are ranked by count, so every list below keeps that order.
	for _, r := range current.Rules {
		currentRules[r.RuleID] = true
		change := RuleChange{RuleID: r.RuleID, Impact: r.Impact, Help: r.Help, CurrentCount: r.Count}
		prev, ok := previousRules[r.RuleID]
		switch {
		case !ok:
			result.NewRules = append(result.NewRules, change)
		case prev.Count != r.Count:
			change.PreviousCount = prev.Count
			result.ChangedRules = append(result.ChangedRules, change)
		default:
			result.UnchangedCount++
		}
	}
	for _, r := range previous.Rules {
		if !currentRules[r.RuleID] {
			result.ResolvedRules = append(result.ResolvedRules, RuleChange{
				RuleID:        r.RuleID,
				Impact:        r.Impact,
				Help:          r.Help,
				PreviousCount: r.Count,
			})
		}
	}

	result.Trend = calculateTrend(result.Previous, result.Current)
	return result
}

// impactWeights scores violated rules by impact; serious and critical
// changes dominate the trend.
var impactWeights = map[model.Impact]int{
	model.ImpactCritical: 100,
	model.ImpactSerious:  50,
	model.ImpactModerate: 10,
	model.ImpactMinor:    5,
	model.ImpactUnknown:  1,
}

// calculateTrend calculates the change between two reports.
func calculateTrend(previous, current ReportSnapshot) Trend {
	trend := Trend{
		ViolationsDelta: current.TotalViolations - previous.TotalViolations,
		ImpactDeltas:    make(map[string]int),
	}

	previousScore, currentScore := 0, 0
	for _, impact := range model.AllImpacts() {
		name := impact.String()
		trend.ImpactDeltas[name] = current.ImpactSummary[name] - previous.ImpactSummary[name]
		previousScore += previous.ImpactSummary[name] * impactWeights[impact]
		currentScore += current.ImpactSummary[name] * impactWeights[impact]
	}

	switch {
	case currentScore < previousScore:
		trend.Direction = trendImproved
	case currentScore > previousScore:
		trend.Direction = trendWorsened
	default:
		trend.Direction = trendUnchanged
	}
	return trend
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeComparisonMarkdown outputs the comparison in Markdown format.
func writeComparisonMarkdown(w io.Writer, result *ComparisonResult) error {
	md := markdown.NewMarkdown(w)
	md.H1("Scan Comparison: " + result.StartURL)
	md.PlainText("")
	md.PlainText("**Trend:** " + formatTrend(result.Trend.Direction))
	md.PlainText("")

	rows := [][]string{
		{"Date", result.Previous.ScannedAt.Local().Format(dateLayout), result.Current.ScannedAt.Local().Format(dateLayout), "-"},
		{"Pages", strconv.Itoa(result.Previous.PageCount), strconv.Itoa(result.Current.PageCount), formatDelta(result.Current.PageCount - result.Previous.PageCount)},
	}
	for _, impact := range model.AllImpacts() {
		name := impact.String()
		rows = append(rows, []string{
			impactTitle(impact),
			strconv.Itoa(result.Previous.ImpactSummary[name]),
			strconv.Itoa(result.Current.ImpactSummary[name]),
			formatDelta(result.Trend.ImpactDeltas[name]),
		})
	}
	rows = append(rows, []string{
		"**Total**",
		"**" + strconv.Itoa(result.Previous.TotalViolations) + "**",
		"**" + strconv.Itoa(result.Current.TotalViolations) + "**",
		"**" + formatDelta(result.Trend.ViolationsDelta) + "**",
	})
	md.Table(markdown.TableSet{Header: []string{"Metric", "Previous", "Current", "Change"}, Rows: rows})

	if len(result.NewRules) > 0 {
		md.H2(fmt.Sprintf("New Violations (%d)", len(result.NewRules)))
		md.BulletList(ruleLines(result.NewRules, func(c RuleChange) string {
			return fmt.Sprintf("%s (%d elements)", c.Help, c.CurrentCount)
		})...)
	}
	if len(result.ChangedRules) > 0 {
		md.H2(fmt.Sprintf("Changed Violations (%d)", len(result.ChangedRules)))
		md.BulletList(ruleLines(result.ChangedRules, func(c RuleChange) string {
			return fmt.Sprintf("%s (%d → %d elements)", c.Help, c.PreviousCount, c.CurrentCount)
		})...)
	}
	if len(result.ResolvedRules) > 0 {
		md.H2(fmt.Sprintf("Resolved Violations (%d)", len(result.ResolvedRules)))
		md.BulletList(ruleLines(result.ResolvedRules, func(c RuleChange) string {
			return "resolved"
		})...)
	}
	if result.UnchangedCount > 0 {
		md.PlainText("")
		md.PlainText(fmt.Sprintf("*%d rules unchanged*", result.UnchangedCount))
	}
	return md.Build()
}

// ruleLines renders one bullet per rule change with detail as its suffix.
func ruleLines(changes []RuleChange, detail func(RuleChange) string) []string {
	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		lines = append(lines, fmt.Sprintf("**[%s]** `%s`: %s", impactTitle(c.Impact), c.RuleID, detail(c)))
	}
	return lines
}

// writeComparisonText outputs the comparison in human-readable text format.
func writeComparisonText(w io.Writer, result *ComparisonResult) {
	fmt.Fprintf(w, "Scan Comparison: %s\n", result.StartURL)
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintf(w, "\nTrend: %s\n", formatTrend(result.Trend.Direction))

	fmt.Fprintf(w, "\nPrevious report: %s (%s)\n", result.Previous.ID, result.Previous.ScannedAt.Local().Format(dateLayout))
	fmt.Fprintf(w, "Current report:  %s (%s)\n", result.Current.ID, result.Current.ScannedAt.Local().Format(dateLayout))

	fmt.Fprintln(w, "\nViolations Summary:")
	fmt.Fprintf(w, "  %-10s  %-10s  %-10s  %-10s\n", "Impact", "Previous", "Current", "Change")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 45))
	for _, impact := range model.AllImpacts() {
		name := impact.String()
		fmt.Fprintf(w, "  %-10s  %-10d  %-10d  %-10s\n", impactTitle(impact),
			result.Previous.ImpactSummary[name], result.Current.ImpactSummary[name],
			formatDelta(result.Trend.ImpactDeltas[name]))
	}
	fmt.Fprintln(w, "  "+strings.Repeat("-", 45))
	fmt.Fprintf(w, "  %-10s  %-10d  %-10d  %-10s\n", "Total",
		result.Previous.TotalViolations, result.Current.TotalViolations,
		formatDelta(result.Trend.ViolationsDelta))

	if len(result.NewRules) > 0 {
		fmt.Fprintf(w, "\nNew Violations (%d):\n", len(result.NewRules))
		for _, c := range result.NewRules {
			fmt.Fprintf(w, "  [+] [%s] %s: %d elements\n", impactTitle(c.Impact), c.RuleID, c.CurrentCount)
		}
	}
	if len(result.ChangedRules) > 0 {
		fmt.Fprintf(w, "\nChanged Violations (%d):\n", len(result.ChangedRules))
		for _, c := range result.ChangedRules {
			fmt.Fprintf(w, "  [~] [%s] %s: %d -> %d elements (%s)\n", impactTitle(c.Impact), c.RuleID,
				c.PreviousCount, c.CurrentCount, formatDelta(c.Delta()))
		}
	}
	if len(result.ResolvedRules) > 0 {
		fmt.Fprintf(w, "\nResolved Violations (%d):\n", len(result.ResolvedRules))
		for _, c := range result.ResolvedRules {
			fmt.Fprintf(w, "  [-] [%s] %s\n", impactTitle(c.Impact), c.RuleID)
		}
	}
	if result.UnchangedCount > 0 {
		fmt.Fprintf(w, "\nUnchanged: %d rules\n", result.UnchangedCount)
	}
}

func impactTitle(impact model.Impact) string {
	name := impact.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

// formatTrend formats the trend direction for display.
func formatTrend(direction string) string {
	switch direction {
	case trendImproved:
		return "IMPROVED (fewer or less severe violations)"
	case trendWorsened:
		return "WORSENED (more or more severe violations)"
	default:
		return "UNCHANGED"
	}
}

// formatDelta formats a numeric delta with sign for display.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}
