// Package transport unifies the plain HTTP and browser-rendered fetch
// strategies behind one Fetcher, adds a read-through response cache, and
// enforces per-host concurrency and pacing limits.
package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
)

// Config controls limits applied around the underlying strategies.
type Config struct {
	PerHostMax   int
	PerHostRPS   float64
	FetchTimeout time.Duration
	CacheTTL     time.Duration

	// AutoRender promotes plain fetches that return an unrendered
	// application shell to the rendered strategy.
	AutoRender      bool
	RenderThreshold int
}

// Transport selects a fetch strategy per request and serves cached responses.
type Transport struct {
	plain    catalog.Fetcher
	rendered catalog.Fetcher
	cache    catalog.Cache
	cfg      Config
	clock    catalog.Clock
	logger   *zap.Logger
	detector *Heuristic

	mu        sync.Mutex
	hostSlots map[string]chan struct{}
	hostRates map[string]*rate.Limiter
}

// New constructs a Transport. rendered may be a noop fetcher when no market
// needs browser rendering. cache may be nil to disable caching.
func New(plain, rendered catalog.Fetcher, cache catalog.Cache, cfg Config, logger *zap.Logger) *Transport {
	if cfg.PerHostMax <= 0 {
		cfg.PerHostMax = 2
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var detector *Heuristic
	if cfg.AutoRender {
		detector = NewHeuristic(cfg.RenderThreshold)
	}
	return &Transport{
		plain:     plain,
		rendered:  rendered,
		detector:  detector,
		cache:     cache,
		cfg:       cfg,
		clock:     catalog.SystemClock{},
		logger:    logger,
		hostSlots: make(map[string]chan struct{}),
		hostRates: make(map[string]*rate.Limiter),
	}
}

// Fetch resolves the request through the cache or the matching strategy.
// Successful network responses are cached fire-and-forget.
func (t *Transport) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResult, error) {
	key, err := catalog.CacheKey(request)
	if err != nil {
		return catalog.FetchResult{}, &catalog.TransportError{Kind: catalog.TransportConnectionFailed, Err: err}
	}

	if t.cache != nil {
		cached, ok, cacheErr := t.cache.Get(ctx, key)
		if cacheErr != nil {
			t.logger.Warn("cache read failed", zap.String("key", key), zap.Error(cacheErr))
		} else if ok {
			return cached, nil
		}
	}

	host := catalog.Host(request.URL)
	release, err := t.acquireSlot(ctx, host)
	if err != nil {
		return catalog.FetchResult{}, err
	}
	defer release()

	if err := t.waitRate(ctx, host); err != nil {
		return catalog.FetchResult{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	strategy := "http"
	fetcher := t.plain
	if request.Render {
		strategy = "headless"
		fetcher = t.rendered
	}

	start := t.clock.Now()
	result, err := fetcher.Fetch(fetchCtx, request)
	elapsed := t.clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveFetch(host, "error", strategy, elapsed)
		return catalog.FetchResult{}, err
	}
	metrics.ObserveFetch(host, "success", strategy, elapsed)

	if !request.Render {
		result = t.maybePromote(ctx, request, result)
	}
	if result.FetchedAt.IsZero() {
		result.FetchedAt = start
	}

	if t.cache != nil {
		t.storeAsync(key, result)
	}
	return result, nil
}

// storeAsync persists a response without blocking the caller. A failed write
// only costs a future cache miss.
func (t *Transport) storeAsync(key string, result catalog.FetchResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.cache.Put(ctx, key, result, t.cfg.CacheTTL); err != nil {
			t.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (t *Transport) acquireSlot(ctx context.Context, host string) (func(), error) {
	t.mu.Lock()
	slots, ok := t.hostSlots[host]
	if !ok {
		slots = make(chan struct{}, t.cfg.PerHostMax)
		t.hostSlots[host] = slots
	}
	t.mu.Unlock()

	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return nil, &catalog.TransportError{Kind: catalog.TransportCancelled, Err: ctx.Err()}
	}
}

func (t *Transport) waitRate(ctx context.Context, host string) error {
	if t.cfg.PerHostRPS <= 0 {
		return nil
	}
	t.mu.Lock()
	limiter, ok := t.hostRates[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(t.cfg.PerHostRPS), 1)
		t.hostRates[host] = limiter
	}
	t.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return &catalog.TransportError{Kind: catalog.TransportCancelled, Err: err}
	}
	return nil
}

var _ catalog.Fetcher = (*Transport)(nil)
