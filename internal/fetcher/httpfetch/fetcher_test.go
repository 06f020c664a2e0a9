package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/sellsync/market-crawler/internal/catalog"
)

func newMockedFetcher(transport *httpmock.MockTransport) *Fetcher {
	f := New(Config{UserAgent: "test-agent", Timeout: 2 * time.Second})
	f.transport = transport
	return f
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	resp := httpmock.NewStringResponse(200, "<html><body>ok</body></html>")
	resp.Header.Set("Content-Type", "text/html")
	transport.RegisterResponder("GET", "https://shop.example/item/1", httpmock.ResponderFromResponse(resp))

	f := newMockedFetcher(transport)
	result, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/item/1"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Status != 200 {
		t.Fatalf("status = %d, want 200", result.Status)
	}
	if string(result.Body) != "<html><body>ok</body></html>" {
		t.Fatalf("unexpected body %q", result.Body)
	}
	if result.FromCache {
		t.Fatal("network fetch must not be marked from_cache")
	}
}

func TestFetchClassifiesHTTPStatus(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example/missing",
		httpmock.NewStringResponder(404, "not found"))

	f := newMockedFetcher(transport)
	_, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/missing"})

	var te *catalog.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Kind != catalog.TransportHTTPStatus || te.StatusCode != 404 {
		t.Fatalf("unexpected classification: %+v", te)
	}
	if catalog.IsTransient(err) {
		t.Fatal("404 must not be transient")
	}
}

func TestFetchParsesRetryAfterOn429(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	resp := httpmock.NewStringResponse(429, "slow down")
	resp.Header.Set("Retry-After", "7")
	transport.RegisterResponder("GET", "https://shop.example/list",
		httpmock.ResponderFromResponse(resp))

	f := newMockedFetcher(transport)
	_, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/list"})

	var te *catalog.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != 429 {
		t.Fatalf("status = %d, want 429", te.StatusCode)
	}
	if te.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", te.RetryAfter)
	}
	if !catalog.IsTransient(err) {
		t.Fatal("429 must be transient")
	}
}

func TestFetchClassifiesConnectionFailure(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	f := newMockedFetcher(transport)
	_, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/down"})

	var te *catalog.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Kind != catalog.TransportConnectionFailed {
		t.Fatalf("kind = %s, want connection_failed", te.Kind)
	}
	if !catalog.IsTransient(err) {
		t.Fatal("connection failures must be transient")
	}
}

func TestFetchCancellation(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example/slow",
		func(req *http.Request) (*http.Response, error) {
			time.Sleep(500 * time.Millisecond)
			return httpmock.NewStringResponse(200, "late"), nil
		})

	f := newMockedFetcher(transport)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := f.Fetch(ctx, catalog.FetchRequest{URL: "https://shop.example/slow"})
	var te *catalog.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Kind != catalog.TransportCancelled {
		t.Fatalf("kind = %s, want cancelled", te.Kind)
	}
	if catalog.IsTransient(err) {
		t.Fatal("cancellation must not be transient")
	}
}

func TestFetchCopiesRequestHeaders(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.example/hdr",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-Market") != "aqus" {
				return httpmock.NewStringResponse(400, "missing header"), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	f := newMockedFetcher(transport)
	result, err := f.Fetch(context.Background(), catalog.FetchRequest{
		URL:     "https://shop.example/hdr",
		Headers: http.Header{"X-Market": {"aqus"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Status != 200 {
		t.Fatalf("status = %d, want 200 (header not propagated)", result.Status)
	}
}
