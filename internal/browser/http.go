package browser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// DefaultUserAgent is sent by HTTPBrowser and ChromeBrowser unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 a11yscan"

// DefaultMaxBodySize limits how much of a response HTTPBrowser reads.
const DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

// HTTPBrowser creates sessions that fetch pages with net/http and parse them
// with goquery. Sessions cannot evaluate scripts.
type HTTPBrowser struct {
	// client is the base client; each session copies it with its own jar.
	client *http.Client

	// userAgent is the User-Agent header to use.
	userAgent string

	// maxBodySize limits the size of response bodies to read.
	maxBodySize int64
}

// HTTPOption configures an HTTPBrowser.
type HTTPOption func(*HTTPBrowser)

// WithHTTPClient sets the base HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *HTTPBrowser) {
		b.client = client
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(b *HTTPBrowser) {
		if ua != "" {
			b.userAgent = ua
		}
	}
}

// WithMaxBodySize sets the maximum response body size.
func WithMaxBodySize(size int64) HTTPOption {
	return func(b *HTTPBrowser) {
		if size > 0 {
			b.maxBodySize = size
		}
	}
}

// NewHTTPBrowser creates a new HTTPBrowser.
func NewHTTPBrowser(opts ...HTTPOption) *HTTPBrowser {
	b := &HTTPBrowser{
		client:      &http.Client{},
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSession opens a session with its own cookie jar.
func (b *HTTPBrowser) NewSession(_ context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := *b.client
	client.Jar = jar
	return &httpSession{browser: b, client: &client}, nil
}

// httpSession is a Session backed by plain HTTP requests.
type httpSession struct {
	browser *HTTPBrowser
	client  *http.Client
	doc     *goquery.Document
}

// Navigate fetches url and parses the HTML body.
// The wait condition is satisfied as soon as the body is read.
func (s *httpSession) Navigate(ctx context.Context, url string, _ WaitUntil, timeout time.Duration) error {
	s.doc = nil

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", s.browser.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return &NavigationError{URL: url, Err: fmt.Errorf("non-navigable content type %q", contentType)}
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, s.browser.maxBodySize), contentType)
	if err != nil {
		return &NavigationError{URL: url, Err: fmt.Errorf("failed to decode body: %w", err)}
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return &NavigationError{URL: url, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}
	doc.Url = resp.Request.URL
	s.doc = doc
	return nil
}

// ExtractLinks returns the href of every anchor in document order.
func (s *httpSession) ExtractLinks(_ context.Context) ([]string, error) {
	if s.doc == nil {
		return nil, ErrNoPage
	}
	hrefs := make([]string, 0)
	s.doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

// Evaluate is not supported over plain HTTP.
func (s *httpSession) Evaluate(_ context.Context, _ string, _ any) error {
	return ErrEvaluationUnsupported
}

// Close drops the parsed document and idle connections.
func (s *httpSession) Close() error {
	s.doc = nil
	s.client.CloseIdleConnections()
	return nil
}

// isHTML reports whether a Content-Type header denotes an HTML document.
// A missing header is accepted, matching how browsers sniff such responses.
func isHTML(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
