package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

// TestParseWaitUntil tests parsing of wait conditions.
func TestParseWaitUntil(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input   string
		want    WaitUntil
		wantErr bool
	}{
		{"load", WaitLoad, false},
		{"domcontentloaded", WaitDOMContentLoaded, false},
		{"networkidle", WaitNetworkIdle, false},
		{"commit", "", true},
		{"", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseWaitUntil(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidWaitUntil) {
					t.Errorf("expected ErrInvalidWaitUntil, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

// TestNavigationError tests error matching of NavigationError.
func TestNavigationError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	var err error = &NavigationError{URL: "https://example.com/", Err: cause}

	if !errors.Is(err, ErrNavigation) {
		t.Error("expected NavigationError to match ErrNavigation")
	}
	if !errors.Is(err, cause) {
		t.Error("expected NavigationError to unwrap to its cause")
	}
	if err.Error() != "navigate https://example.com/: connection refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

// TestHTTPSession tests the HTTP-backed session.
func TestHTTPSession(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/about">About</a>
			<a href="contact.html#form">Contact</a>
			<a href="">Empty</a>
			<a>No href</a>
			<a href="https://other.example/">Other</a>
		</body></html>`))
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body><a href=\"/caf\xe9\">Caf\xe9</a></body></html>"))
	})
	mux.HandleFunc("/file.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<a href="/">Home</a>`))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/ua", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/` + r.UserAgent() + `">ua</a>`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ctx := context.Background()

	t.Run("extracts raw hrefs in document order", func(t *testing.T) {
		t.Parallel()

		session, err := NewHTTPBrowser().NewSession(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer session.Close()

		if err := session.Navigate(ctx, server.URL+"/", WaitDOMContentLoaded, 5*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		links, err := session.ExtractLinks(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"/about", "contact.html#form", "https://other.example/"}
		if !reflect.DeepEqual(links, expected) {
			t.Errorf("expected %v, got %v", expected, links)
		}
	})

	t.Run("decodes declared charset", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser().NewSession(ctx)
		defer session.Close()

		if err := session.Navigate(ctx, server.URL+"/latin1", WaitLoad, 5*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		links, err := session.ExtractLinks(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(links) != 1 || links[0] != "/café" {
			t.Errorf("expected [/café], got %v", links)
		}
	})

	t.Run("non html content is not navigable", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser().NewSession(ctx)
		defer session.Close()

		err := session.Navigate(ctx, server.URL+"/file.pdf", WaitLoad, 5*time.Second)
		if !errors.Is(err, ErrNavigation) {
			t.Fatalf("expected ErrNavigation, got %v", err)
		}
		if _, err := session.ExtractLinks(ctx); !errors.Is(err, ErrNoPage) {
			t.Errorf("expected ErrNoPage after failed navigation, got %v", err)
		}
	})

	t.Run("error status pages still load", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser().NewSession(ctx)
		defer session.Close()

		if err := session.Navigate(ctx, server.URL+"/missing", WaitLoad, 5*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		links, _ := session.ExtractLinks(ctx)
		if len(links) != 1 {
			t.Errorf("expected 1 link, got %v", links)
		}
	})

	t.Run("timeout is a navigation failure", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser().NewSession(ctx)
		defer session.Close()

		err := session.Navigate(ctx, server.URL+"/slow", WaitLoad, 50*time.Millisecond)
		if !errors.Is(err, ErrNavigation) {
			t.Errorf("expected ErrNavigation, got %v", err)
		}
	})

	t.Run("custom user agent", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser(WithUserAgent("tester")).NewSession(ctx)
		defer session.Close()

		if err := session.Navigate(ctx, server.URL+"/ua", WaitLoad, 5*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		links, _ := session.ExtractLinks(ctx)
		if len(links) != 1 || links[0] != "/tester" {
			t.Errorf("expected [/tester], got %v", links)
		}
	})

	t.Run("evaluate is unsupported", func(t *testing.T) {
		t.Parallel()

		session, _ := NewHTTPBrowser().NewSession(ctx)
		defer session.Close()

		var res string
		if err := session.Evaluate(ctx, "navigator.userAgent", &res); !errors.Is(err, ErrEvaluationUnsupported) {
			t.Errorf("expected ErrEvaluationUnsupported, got %v", err)
		}
	})
}

// TestHTTPSessionIsolation verifies that sessions do not share cookies.
func TestHTTPSessionIsolation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := r.Cookie("seen"); err == nil {
			_, _ = w.Write([]byte(`<a href="/returning">r</a>`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1", Path: "/"})
		_, _ = w.Write([]byte(`<a href="/first">f</a>`))
	}))
	t.Cleanup(server.Close)

	ctx := context.Background()
	b := NewHTTPBrowser()

	visit := func(s Session) string {
		t.Helper()
		if err := s.Navigate(ctx, server.URL+"/", WaitLoad, 5*time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		links, err := s.ExtractLinks(ctx)
		if err != nil || len(links) != 1 {
			t.Fatalf("unexpected links %v (err=%v)", links, err)
		}
		return links[0]
	}

	first, _ := b.NewSession(ctx)
	defer first.Close()
	if got := visit(first); got != "/first" {
		t.Errorf("expected /first, got %s", got)
	}
	if got := visit(first); got != "/returning" {
		t.Errorf("expected the same session to keep cookies, got %s", got)
	}

	second, _ := b.NewSession(ctx)
	defer second.Close()
	if got := visit(second); got != "/first" {
		t.Errorf("expected a new session to start without cookies, got %s", got)
	}
}

// TestIsHTML tests content type detection.
func TestIsHTML(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		contentType string
		expected    bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"application/xhtml+xml", true},
		{"", true},
		{"application/json", false},
		{"image/png", false},
		{";;;", false},
	}

	for _, tc := range testCases {
		t.Run(tc.contentType, func(t *testing.T) {
			t.Parallel()
			if got := isHTML(tc.contentType); got != tc.expected {
				t.Errorf("isHTML(%q) = %v, expected %v", tc.contentType, got, tc.expected)
			}
		})
	}
}
