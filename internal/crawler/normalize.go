package crawler

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a URL cannot be parsed or is not an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

// defaultPorts are elided from normalized URLs so that
// https://example.com:443/ and https://example.com/ are the same page.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize resolves href against base and returns a canonical absolute URL.
//
// The result always has an http or https scheme and a host. The fragment is
// removed, the scheme and host are lower-cased, a default port is dropped and
// an empty path becomes "/". Path and query are otherwise kept exactly, so
// two URLs that differ only by fragment normalize identically.
func Normalize(href, base string) (string, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, href, err)
	}
	return canonicalize(baseURL.ResolveReference(ref))
}

// ParseStartURL validates and normalizes an absolute start URL.
// It is the single validation path for user supplied URLs.
func ParseStartURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, raw)
	}
	return canonicalize(u)
}

// Origin returns the scheme://host[:port] of a normalized URL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no origin", ErrInvalidURL, rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// canonicalize applies the normalization rules to an absolute URL.
func canonicalize(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[u.Scheme]; !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.Opaque != "" {
		return "", fmt.Errorf("%w: opaque URL", ErrInvalidURL)
	}

	u.Host = strings.ToLower(u.Host)
	if host, port, err := net.SplitHostPort(u.Host); err == nil && port == defaultPorts[u.Scheme] {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
