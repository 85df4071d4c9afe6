package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/a11yscan/internal/model"
)

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section
// formatting. It uses plain ASCII so it can be piped to files or other tools.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether pages with no findings are listed
	// in the findings section.
	showEmpty bool

	// verbose adds affected elements and rule descriptions.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show pages without findings.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *model.Report) (int, error) {
	var sb strings.Builder
	summary := report.Summary()

	w.writeHeader(&sb, report, summary)
	w.writeTopRules(&sb, summary)
	w.writeFindings(&sb, report)
	w.writeFailures(&sb, report)
	w.writeFooter(&sb)

	return w.output.Write([]byte(sb.String()))
}

// writeSection writes a section title between rules.
func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

// writeHeader writes the report header with scan information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *model.Report, summary *model.SiteSummary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      ACCESSIBILITY REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Start URL:        %s\n", report.StartURL)
	fmt.Fprintf(sb, "Scan Date:        %s\n", report.ScannedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Pages Scanned:    %d\n", summary.TotalPages)
	fmt.Fprintf(sb, "Total Violations: %d\n", summary.TotalViolations)
	fmt.Fprintf(sb, "Needs Review:     %d\n", summary.TotalIncomplete)
	if n := len(report.Failures); n > 0 {
		fmt.Fprintf(sb, "Status:           INCOMPLETE (%d page(s) not scanned)\n", n)
	} else {
		sb.WriteString("Status:           Complete\n")
	}
	sb.WriteString("\n")
}

// writeTopRules writes the site-wide rule ranking.
func (w *SimpleWriter) writeTopRules(sb *strings.Builder, summary *model.SiteSummary) {
	writeSection(sb, "TOP RECURRING ISSUES")

	if len(summary.TopRules) == 0 {
		sb.WriteString("  No recurring issues detected by automated rules.\n\n")
		return
	}

	for i, r := range summary.TopRules {
		fmt.Fprintf(sb, "  %2d. [%s] %s (%d affected elements)\n", i+1, impactIndicator(r.Impact), r.RuleID, r.Count)
		if r.Help != "" {
			fmt.Fprintf(sb, "      %s\n", r.Help)
		}
		if w.verbose && r.HelpURL != "" {
			fmt.Fprintf(sb, "      %s\n", r.HelpURL)
		}
	}
	sb.WriteString("\n")
}

// writeFindings writes the findings of every page.
func (w *SimpleWriter) writeFindings(sb *strings.Builder, report *model.Report) {
	writeSection(sb, "PAGES")

	for i, page := range report.Pages {
		fmt.Fprintf(sb, "%d. %s\n", i+1, page.URL)
		fmt.Fprintf(sb, "   Violations: %d  Needs review: %d\n", page.ViolationCount(), page.IncompleteCount())

		if page.ViolationCount() == 0 && page.IncompleteCount() == 0 && !w.showEmpty {
			sb.WriteString("\n")
			continue
		}

		for _, v := range page.Violations {
			fmt.Fprintf(sb, "   [%s] %s (%d)\n", impactIndicator(v.Impact), v.RuleID, len(v.Nodes))
			if w.verbose {
				if v.Description != "" {
					fmt.Fprintf(sb, "       %s\n", v.Description)
				}
				for _, n := range v.Nodes {
					fmt.Fprintf(sb, "       - %s\n", strings.Join(n.Target, ", "))
				}
			}
		}
		for _, inc := range page.Incomplete {
			fmt.Fprintf(sb, "   [?] %s (needs review)\n", inc.RuleID)
		}
		sb.WriteString("\n")
	}
}

// writeFailures lists the pages that could not be scanned.
func (w *SimpleWriter) writeFailures(sb *strings.Builder, report *model.Report) {
	if len(report.Failures) == 0 {
		return
	}

	writeSection(sb, "PAGES NOT SCANNED")
	for _, f := range report.Failures {
		fmt.Fprintf(sb, "  [x] %s\n      %s\n", f.URL, f.Error)
	}
	sb.WriteString("\n")
}

// impactIndicator returns a visual indicator for the impact level.
func impactIndicator(impact model.Impact) string {
	switch impact {
	case model.ImpactCritical:
		return "!!!"
	case model.ImpactSerious:
		return "!!"
	case model.ImpactModerate:
		return "!"
	case model.ImpactMinor:
		return "-"
	default:
		return "?"
	}
}

// writeFooter writes the report footer.
func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Automated checks aligned to WCAG A and AA rules.\n")
	sb.WriteString("Manual review is still required for some criteria.\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
