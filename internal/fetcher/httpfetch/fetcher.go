// Package httpfetch implements the plain HTTP fetch strategy using gocolly.
package httpfetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/sellsync/market-crawler/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements catalog.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Non-2xx statuses are returned
// as classified transport errors so the resilience layer can decide on retry.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResult, error) {
	var (
		result   catalog.FetchResult
		fetchErr error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	start := time.Now()
	collector.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})
	collector.OnResponse(func(r *colly.Response) {
		result = catalog.FetchResult{
			URL:       r.Request.URL.String(),
			Status:    r.StatusCode,
			Headers:   r.Headers.Clone(),
			Body:      append([]byte(nil), r.Body...),
			FetchedAt: start,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = classify(r, err)
	})

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return catalog.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &catalog.TransportError{Kind: catalog.TransportCancelled, Err: ctx.Err()}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return classify(nil, err)
		}
		return nil
	}
}

func classify(r *colly.Response, err error) error {
	if r != nil && r.StatusCode > 0 {
		te := &catalog.TransportError{
			Kind:       catalog.TransportHTTPStatus,
			StatusCode: r.StatusCode,
			Err:        err,
		}
		if r.StatusCode == http.StatusTooManyRequests {
			te.RetryAfter = parseRetryAfter(r.Headers)
		}
		return te
	}
	if errors.Is(err, context.Canceled) {
		return &catalog.TransportError{Kind: catalog.TransportCancelled, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &catalog.TransportError{Kind: catalog.TransportTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &catalog.TransportError{Kind: catalog.TransportTimeout, Err: err}
	}
	return &catalog.TransportError{Kind: catalog.TransportConnectionFailed, Err: err}
}

func parseRetryAfter(headers *http.Header) time.Duration {
	if headers == nil {
		return 0
	}
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func copyHeaders(request catalog.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ catalog.Fetcher = (*Fetcher)(nil)
