package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/nao1215/a11yscan/internal/model"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown report format")

// Writer defines the interface for report output.
// Implementations write site reports in various formats.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.Report) (int, error)
}

// Renderer turns a report into the bytes of one artifact file.
type Renderer interface {
	Render(report *model.Report) ([]byte, error)
}

// Format identifies an output format.
type Format string

const (
	// FormatJSON is the machine-readable report.
	FormatJSON Format = "json"

	// FormatHTML is the standalone HTML report.
	FormatHTML Format = "html"

	// FormatMarkdown is the Markdown report.
	FormatMarkdown Format = "markdown"

	// FormatText is the plain text report.
	FormatText Format = "text"
)

// ParseFormat converts a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatHTML, FormatMarkdown, FormatText:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FileName returns the artifact file name for the format.
func (f Format) FileName() string {
	switch f {
	case FormatJSON:
		return "report.json"
	case FormatHTML:
		return "report.html"
	case FormatMarkdown:
		return "report.md"
	default:
		return "report.txt"
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ContentTypeFor returns the MIME type for an artifact file name.
func ContentTypeFor(name string) string {
	for _, f := range []Format{FormatJSON, FormatHTML, FormatMarkdown, FormatText} {
		if f.FileName() == name {
			return f.ContentType()
		}
	}
	return "application/octet-stream"
}

// NewWriter creates the Writer for format f writing to output.
// JSON output is indented, matching the stored artifact.
func NewWriter(f Format, output io.Writer) (Writer, error) {
	switch f {
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatHTML:
		return NewHTMLWriter(output), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case FormatText:
		return NewSimpleWriter(output), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// NewRenderer returns a Renderer for format f.
func NewRenderer(f Format) (Renderer, error) {
	if _, err := NewWriter(f, io.Discard); err != nil {
		return nil, err
	}
	return formatRenderer{format: f}, nil
}

type formatRenderer struct {
	format Format
}

// Render implements Renderer.
func (r formatRenderer) Render(report *model.Report) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(r.format, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(report); err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", r.format, err)
	}
	return buf.Bytes(), nil
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
