package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sellsync/market-crawler/internal/catalog"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	maxSeen  int
	block    time.Duration
	result   catalog.FetchResult
	err      error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.err != nil {
		return catalog.FetchResult{}, f.err
	}
	result := f.result
	if result.URL == "" {
		result.URL = req.URL
	}
	return result, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]catalog.FetchResult
	puts    chan string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: make(map[string]catalog.FetchResult),
		puts:    make(chan string, 16),
	}
}

func (c *fakeCache) Get(_ context.Context, key string) (catalog.FetchResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.entries[key]
	if ok {
		result.FromCache = true
	}
	return result, ok, nil
}

func (c *fakeCache) Put(_ context.Context, key string, result catalog.FetchResult, _ time.Duration) error {
	c.mu.Lock()
	c.entries[key] = result
	c.mu.Unlock()
	c.puts <- key
	return nil
}

func TestFetchServesFromCache(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	key, err := catalog.CacheKey(catalog.FetchRequest{URL: "https://shop.example/item"})
	require.NoError(t, err)
	cache.entries[key] = catalog.FetchResult{URL: "https://shop.example/item", Status: 200, Body: []byte("cached")}

	plain := &fakeFetcher{}
	tr := New(plain, nil, cache, Config{PerHostMax: 2}, nil)

	result, err := tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/item"})
	require.NoError(t, err)
	require.True(t, result.FromCache)
	require.Equal(t, []byte("cached"), result.Body)
	require.Equal(t, 0, plain.calls)
}

func TestFetchMissGoesToNetworkAndStores(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	plain := &fakeFetcher{result: catalog.FetchResult{Status: 200, Body: []byte("fresh")}}
	tr := New(plain, nil, cache, Config{PerHostMax: 2, CacheTTL: time.Hour}, nil)

	result, err := tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/item"})
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, 1, plain.calls)

	select {
	case <-cache.puts:
	case <-time.After(time.Second):
		t.Fatal("expected async cache write")
	}

	// Second fetch is a hit.
	result, err = tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/item"})
	require.NoError(t, err)
	require.True(t, result.FromCache)
	require.Equal(t, 1, plain.calls)
}

func TestFetchRoutesRenderedRequests(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{}
	rendered := &fakeFetcher{result: catalog.FetchResult{Status: 200, Body: []byte("dom")}}
	tr := New(plain, rendered, nil, Config{PerHostMax: 2}, nil)

	result, err := tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/js", Render: true})
	require.NoError(t, err)
	require.Equal(t, []byte("dom"), result.Body)
	require.Equal(t, 0, plain.calls)
	require.Equal(t, 1, rendered.calls)
}

func TestFetchEnforcesPerHostCeiling(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{block: 100 * time.Millisecond, result: catalog.FetchResult{Status: 200}}
	tr := New(plain, nil, nil, Config{PerHostMax: 1}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/list"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 4, plain.calls)
	require.Equal(t, 1, plain.maxSeen, "per-host ceiling of 1 must serialize fetches")
}

func TestFetchErrorsPropagate(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{err: &catalog.TransportError{Kind: catalog.TransportTimeout}}
	tr := New(plain, nil, nil, Config{PerHostMax: 1}, nil)

	_, err := tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/slow"})
	var te *catalog.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, catalog.TransportTimeout, te.Kind)
}

func TestFetchCancelledWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{block: time.Second, result: catalog.FetchResult{Status: 200}}
	tr := New(plain, nil, nil, Config{PerHostMax: 1}, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		tr.Fetch(context.Background(), catalog.FetchRequest{URL: "https://shop.example/a"}) //nolint:errcheck
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first fetch take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Fetch(ctx, catalog.FetchRequest{URL: "https://shop.example/b"})
	var te *catalog.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, catalog.TransportCancelled, te.Kind)
	require.True(t, errors.Is(te.Err, context.DeadlineExceeded) || errors.Is(te.Err, context.Canceled))
}
