package artifact

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/a11yscan/internal/database"
	"github.com/nao1215/a11yscan/internal/metrics"
	"github.com/nao1215/a11yscan/internal/model"
	"github.com/nao1215/a11yscan/internal/report"
)

const (
	// idBytes is the number of random bytes in a report ID.
	idBytes = 8

	// maxIDAttempts bounds ID regeneration after collisions.
	maxIDAttempts = 3
)

// Index records persisted reports. *database.ReportDB implements it.
type Index interface {
	HasReport(ctx context.Context, id string) (bool, error)
	InsertReport(ctx context.Context, meta *database.ReportMeta) error
}

// StorageError is returned when a report could not be stored or indexed.
// Nothing is left behind in the store when it is returned.
type StorageError struct {
	// Op is the failed operation.
	Op string

	// ID is the report ID being written.
	ID string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%s report %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Writer renders reports and persists them under fresh report IDs.
type Writer struct {
	store   Store
	index   Index
	formats []report.Format
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() (string, error)
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithIndex records every persisted report in idx.
func WithIndex(idx Index) WriterOption {
	return func(w *Writer) {
		w.index = idx
	}
}

// WithFormats sets the rendered files. JSON is always written.
func WithFormats(formats ...report.Format) WriterOption {
	return func(w *Writer) {
		w.formats = formats
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithMetrics records persist outcomes in m.
func WithMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) {
		w.metrics = m
	}
}

// NewWriter creates a Writer storing into store.
// By default it writes report.json, report.html and report.md.
func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:   store,
		formats: []report.Format{report.FormatJSON, report.FormatHTML, report.FormatMarkdown},
		newID:   NewID,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// NewID returns a random 16 character hex report ID.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate report id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Persist stores the report of a site scan and returns its ID.
func (w *Writer) Persist(ctx context.Context, startURL string, scannedAt time.Time, pages []model.PageAuditResult, failures []model.ScanFailure) (string, error) {
	id, err := w.persist(ctx, model.NewReport("", startURL, scannedAt, pages, failures))
	w.metrics.ObservePersist(err)
	return id, err
}

// PersistReport stores r under a fresh ID, ignoring r.ID.
func (w *Writer) PersistReport(ctx context.Context, r *model.Report) (string, error) {
	id, err := w.persist(ctx, r)
	w.metrics.ObservePersist(err)
	return id, err
}

func (w *Writer) persist(ctx context.Context, base *model.Report) (string, error) {
	// The ID is not part of any rendered file, so files are rendered once.
	files, reportJSON, err := w.render(base)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := w.newID()
		if err != nil {
			return "", err
		}

		taken, err := w.taken(ctx, id)
		if err != nil {
			return "", &StorageError{Op: "check", ID: id, Err: err}
		}
		if taken {
			w.logger.Debug("report id collision", "id", id, "attempt", attempt)
			continue
		}

		if err := w.store.Create(ctx, id, files); err != nil {
			if errors.Is(err, ErrExists) {
				w.logger.Debug("report id collision", "id", id, "attempt", attempt)
				continue
			}
			return "", &StorageError{Op: "store", ID: id, Err: err}
		}

		if w.index != nil {
			r := *base
			r.ID = id
			if err := w.index.InsertReport(ctx, database.NewReportMeta(&r, reportJSON)); err != nil {
				if derr := w.store.Delete(context.WithoutCancel(ctx), id); derr != nil {
					w.logger.Error("failed to remove unindexed report", "id", id, "error", derr)
				}
				if errors.Is(err, database.ErrDuplicateID) {
					continue
				}
				return "", &StorageError{Op: "index", ID: id, Err: err}
			}
		}

		w.logger.Info("report stored", "id", id, "start_url", base.StartURL, "pages", base.Count)
		return id, nil
	}
	return "", ErrIDExhausted
}

// taken reports whether id is used in the store or the index.
func (w *Writer) taken(ctx context.Context, id string) (bool, error) {
	exists, err := w.store.Exists(ctx, id)
	if err != nil || exists {
		return exists, err
	}
	if w.index == nil {
		return false, nil
	}
	return w.index.HasReport(ctx, id)
}

// render produces every configured file. It also returns report.json.
func (w *Writer) render(r *model.Report) (map[string][]byte, []byte, error) {
	formats := append([]report.Format{report.FormatJSON}, w.formats...)
	files := make(map[string][]byte, len(formats))
	for _, f := range formats {
		if _, done := files[f.FileName()]; done {
			continue
		}
		renderer, err := report.NewRenderer(f)
		if err != nil {
			return nil, nil, err
		}
		data, err := renderer.Render(r)
		if err != nil {
			return nil, nil, err
		}
		files[f.FileName()] = data
	}
	return files, files[report.FormatJSON.FileName()], nil
}
