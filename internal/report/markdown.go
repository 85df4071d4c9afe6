package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// impactTitle capitalizes impact names for headings and tables.
var impactTitle = cases.Title(language.English)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for issue trackers, pull requests and
// documentation, using GitHub-flavored tables and alerts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.Report) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := report.Summary()

	w.writeHeader(md, report, summary)
	w.writeImpactSummary(md, report)
	w.writeTopRules(md, summary)
	w.writePageOverview(md, summary)
	w.writeDetails(md, report)
	w.writeFailures(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with scan information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.Report, summary *model.SiteSummary) {
	md.H1("Accessibility Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Start URL", "`" + report.StartURL + "`"},
			{"Scan Date", report.ScannedAt.Format("2006-01-02 15:04:05 MST")},
			{"Pages Scanned", strconv.Itoa(summary.TotalPages)},
			{"Total Violations", strconv.Itoa(summary.TotalViolations)},
			{"Needs Review", strconv.Itoa(summary.TotalIncomplete)},
			{"Status", w.getStatusText(report)},
		},
	})
	md.PlainText("")
}

// getStatusText returns the status text based on report state.
func (w *MarkdownWriter) getStatusText(report *model.Report) string {
	if len(report.Failures) > 0 {
		return fmt.Sprintf("⚠️ %d page(s) could not be scanned", len(report.Failures))
	}
	return "✅ Complete"
}

// writeImpactSummary writes the violated rules per impact level.
func (w *MarkdownWriter) writeImpactSummary(md *markdown.Markdown, report *model.Report) {
	md.H2("Impact Summary")
	md.PlainText("")

	counts := model.ImpactBreakdown(report.Pages)
	rows := make([][]string, 0, len(counts)+1)
	total := 0
	for _, impact := range model.AllImpacts() {
		rows = append(rows, []string{impactIcon(impact) + " " + impactTitle.String(impact.String()), strconv.Itoa(counts[impact])})
		total += counts[impact]
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(total) + "**"})

	md.Table(markdown.TableSet{
		Header: []string{"Impact", "Violated Rules"},
		Rows:   rows,
	})
	md.PlainText("")

	if total > 0 {
		w.writePieChart(md, counts)
	}
	w.writeAlert(md, counts, total)
}

// writePieChart writes a mermaid pie chart for the impact distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Impact]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Violation Impact Distribution"),
		piechart.WithShowData(true),
	)

	for _, impact := range model.AllImpacts() {
		if n := counts[impact]; n > 0 {
			chart.LabelAndIntValue(impactTitle.String(impact.String()), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching the most severe impact found.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, counts map[model.Impact]int, total int) {
	switch {
	case counts[model.ImpactCritical] > 0:
		md.Cautionf(
			"%d critical rule violation(s) block some users entirely and should be fixed first.",
			counts[model.ImpactCritical],
		)
	case counts[model.ImpactSerious] > 0:
		md.Warningf(
			"%d serious rule violation(s) make content hard to use with assistive technology.",
			counts[model.ImpactSerious],
		)
	case counts[model.ImpactModerate] > 0:
		md.Importantf(
			"%d moderate rule violation(s) found.",
			counts[model.ImpactModerate],
		)
	case total > 0:
		md.Note("Only minor violations detected.")
	default:
		md.Tip("No automated violations detected. Manual review is still required for some criteria.")
	}
	md.PlainText("")
}

// writeTopRules writes the most frequent rules across the site.
func (w *MarkdownWriter) writeTopRules(md *markdown.Markdown, summary *model.SiteSummary) {
	md.H2("Top Recurring Issues")
	md.PlainText("")

	if len(summary.TopRules) == 0 {
		md.PlainText("No recurring issues detected by automated rules.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.TopRules))
	for i, r := range summary.TopRules {
		rows[i] = []string{
			"`" + r.RuleID + "`",
			impactTitle.String(r.Impact.String()),
			strconv.Itoa(r.Count),
			helpLink(r.Help, r.HelpURL),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Rule", "Impact", "Affected Elements", "Help"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writePageOverview writes one row per scanned page.
func (w *MarkdownWriter) writePageOverview(md *markdown.Markdown, summary *model.SiteSummary) {
	md.H2("Page Overview")
	md.PlainText("")

	rows := make([][]string, len(summary.Pages))
	for i, p := range summary.Pages {
		rows[i] = []string{p.URL, strconv.Itoa(p.Violations), strconv.Itoa(p.Incomplete)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Page", "Violations", "Needs Review"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeDetails writes the findings of every page.
func (w *MarkdownWriter) writeDetails(md *markdown.Markdown, report *model.Report) {
	md.H2("Detailed Findings")
	md.PlainText("")

	for i, page := range report.Pages {
		md.H3(fmt.Sprintf("%d. %s", i+1, page.URL))
		md.PlainText("")

		if len(page.Violations) == 0 {
			md.PlainText("No automated violations found on this page.")
			md.PlainText("")
		} else {
			rows := make([][]string, len(page.Violations))
			for j, v := range page.Violations {
				rows[j] = []string{
					"`" + v.RuleID + "`",
					impactTitle.String(v.Impact.String()),
					strconv.Itoa(len(v.Nodes)),
					truncateString(escapeCell(v.Description), 80),
				}
			}
			md.Table(markdown.TableSet{
				Header: []string{"Rule", "Impact", "Elements", "Description"},
				Rows:   rows,
			})
			md.PlainText("")

			for _, v := range page.Violations {
				md.Details(v.RuleID+" affected elements", nodeList(v.Nodes))
			}
			md.PlainText("")
		}

		if len(page.Incomplete) > 0 {
			items := make([]string, len(page.Incomplete))
			for j, inc := range page.Incomplete {
				items[j] = "`" + inc.RuleID + "` " + inc.Description
			}
			md.PlainTextf("Needs review (%d):", len(page.Incomplete))
			md.PlainText("")
			md.BulletList(items...)
			md.PlainText("")
		}
	}
}

// writeFailures lists the pages that could not be scanned.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *model.Report) {
	if len(report.Failures) == 0 {
		return
	}

	md.H2("Pages Not Scanned")
	md.PlainText("")

	rows := make([][]string, len(report.Failures))
	for i, f := range report.Failures {
		rows[i] = []string{f.URL, truncateString(escapeCell(f.Error), 100)}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Page", "Error"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*This report reflects automated checks aligned to WCAG A and AA rules. Manual review is still required for some criteria.*")
}

// impactIcon returns a colored marker for the impact level.
func impactIcon(impact model.Impact) string {
	switch impact {
	case model.ImpactCritical:
		return "🔴"
	case model.ImpactSerious:
		return "🟠"
	case model.ImpactModerate:
		return "🟡"
	case model.ImpactMinor:
		return "🔵"
	default:
		return "⚪"
	}
}

// helpLink formats a help text as a Markdown link when a URL is known.
func helpLink(help, url string) string {
	if help == "" {
		help = "Guidance"
	}
	help = escapeCell(help)
	if url == "" {
		return help
	}
	return "[" + help + "](" + url + ")"
}

// nodeList formats affected elements one per line.
func nodeList(nodes []model.AffectedNode) string {
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		line := "- `" + strings.Join(n.Target, ", ") + "`"
		if n.FailureSummary != "" {
			line += ": " + strings.ReplaceAll(n.FailureSummary, "\n", " ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// escapeCell keeps a value on one table row.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// truncateString truncates a string to maxLen runes with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
