package report

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/nao1215/a11yscan/internal/model"
)

//go:embed templates/report.html.tmpl
var templateFS embed.FS

// htmlTemplate is parsed once; a broken template is a programming error.
var htmlTemplate = template.Must(
	template.New("report.html.tmpl").Funcs(template.FuncMap{
		"badgeClass": badgeClass,
		"inc":        func(i int) int { return i + 1 },
		"join":       strings.Join,
		"timestamp":  formatTimestamp,
	}).ParseFS(templateFS, "templates/report.html.tmpl"),
)

// HTMLWriter outputs the standalone HTML report.
// Every value taken from the audited pages is escaped by html/template,
// so markup captured from a page can never execute in the report.
type HTMLWriter struct {
	baseWriter
}

// NewHTMLWriter creates an HTMLWriter that outputs to the given writer.
func NewHTMLWriter(output io.Writer) *HTMLWriter {
	return &HTMLWriter{
		baseWriter: newBaseWriter(output),
	}
}

type htmlData struct {
	Report  *model.Report
	Summary *model.SiteSummary
}

// Write outputs the report as an HTML document.
func (w *HTMLWriter) Write(report *model.Report) (int, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, htmlData{Report: report, Summary: report.Summary()}); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

// badgeClass returns the CSS classes of an impact badge.
func badgeClass(impact model.Impact) string {
	if impact == model.ImpactUnknown {
		return "badge"
	}
	return "badge badge-" + impact.String()
}

// formatTimestamp renders times in UTC ISO 8601 form.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
