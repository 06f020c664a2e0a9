package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so equivalent requests share one identity.
// It lowercases the scheme and host, strips default ports and fragments, and
// sorts query parameters, so reordered params collide intentionally.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	// url.Values.Encode sorts by key.
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// CacheKey derives the cache identity for a request. Rendered fetches are
// keyed separately from plain ones since their payloads differ.
func CacheKey(req FetchRequest) (string, error) {
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return "", err
	}
	method := req.Method
	if method == "" {
		method = "GET"
	}
	if req.Render {
		return method + " " + normalized + " rendered", nil
	}
	return method + " " + normalized, nil
}

// Host extracts the lowercased hostname for per-host limits and breakers.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "unknown"
	}
	return host
}
