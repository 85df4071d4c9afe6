package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitUntil is the page lifecycle condition Navigate waits for.
type WaitUntil string

const (
	// WaitLoad waits for the load event.
	WaitLoad WaitUntil = "load"

	// WaitDOMContentLoaded waits for the DOMContentLoaded event.
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"

	// WaitNetworkIdle waits until the page has had no network activity
	// for a short period after loading.
	WaitNetworkIdle WaitUntil = "networkidle"
)

var (
	// ErrNavigation is the sentinel matched by every NavigationError.
	ErrNavigation = errors.New("navigation failed")

	// ErrNoPage is returned when a session is used before a successful
	// navigation.
	ErrNoPage = errors.New("no page loaded")

	// ErrEvaluationUnsupported is returned by sessions that cannot run
	// scripts in the page.
	ErrEvaluationUnsupported = errors.New("script evaluation is not supported by this session")

	// ErrInvalidWaitUntil is returned by ParseWaitUntil for unknown values.
	ErrInvalidWaitUntil = errors.New("invalid wait condition: must be load, domcontentloaded or networkidle")
)

// ParseWaitUntil converts a string to a WaitUntil condition.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch w := WaitUntil(s); w {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return w, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWaitUntil, s)
	}
}

// NavigationError describes a failed navigation.
// It matches ErrNavigation with errors.Is.
type NavigationError struct {
	// URL is the URL that could not be loaded.
	URL string

	// Err is the underlying cause (timeout, network error, unsupported content).
	Err error
}

// Error implements the error interface.
func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrNavigation.
func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

// Session is one isolated navigation context.
// A Session is not safe for concurrent use.
type Session interface {
	// Navigate loads url and waits for the given condition.
	// A non-positive timeout means no timeout beyond ctx.
	// Failures are returned as *NavigationError.
	Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error

	// ExtractLinks returns the raw href attribute of every anchor in the
	// loaded page, in document order. Empty values are omitted.
	ExtractLinks(ctx context.Context) ([]string, error)

	// Evaluate runs a JavaScript expression in the loaded page and decodes
	// its JSON-serializable result into res. Promises are awaited.
	Evaluate(ctx context.Context, expression string, res any) error

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Browser creates navigation sessions.
type Browser interface {
	// NewSession opens a fresh, isolated session.
	NewSession(ctx context.Context) (Session, error)
}

// withTimeout derives a context bounded by timeout when it is positive.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
