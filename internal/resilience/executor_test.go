package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sellsync/market-crawler/internal/catalog"
)

type countingOp struct {
	mu    sync.Mutex
	calls int
	fails int
	err   error
}

func (o *countingOp) run(context.Context) (catalog.FetchResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.fails < 0 || o.calls <= o.fails {
		return catalog.FetchResult{}, o.err
	}
	return catalog.FetchResult{Status: 200, Body: []byte("ok")}, nil
}

func fastConfig() Config {
	return Config{
		MaxAttempts:      4,
		BackoffInitial:   time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
		BreakerThreshold: 100, // keep the breaker quiet unless a test wants it
		BreakerWindow:    time.Minute,
		BreakerCooldown:  time.Minute,
	}
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	op := &countingOp{fails: 0}
	e := New(fastConfig(), nil)

	result, err := e.Execute(context.Background(), "shop.example", op.run)
	require.NoError(t, err)
	require.Equal(t, 200, result.Status)
	require.Equal(t, 1, op.calls)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	op := &countingOp{
		fails: 2,
		err:   &catalog.TransportError{Kind: catalog.TransportTimeout},
	}
	e := New(fastConfig(), nil)

	result, err := e.Execute(context.Background(), "shop.example", op.run)
	require.NoError(t, err)
	require.Equal(t, 200, result.Status)
	require.Equal(t, 3, op.calls)
}

func TestExecuteExhaustsRetryCeilingExactly(t *testing.T) {
	t.Parallel()

	op := &countingOp{
		fails: -1, // always fail
		err:   &catalog.TransportError{Kind: catalog.TransportConnectionFailed},
	}
	cfg := fastConfig()
	cfg.MaxAttempts = 4
	e := New(cfg, nil)

	_, err := e.Execute(context.Background(), "shop.example", op.run)
	var te *catalog.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, catalog.TransportConnectionFailed, te.Kind)
	require.Equal(t, 4, op.calls, "attempts must reach exactly the configured ceiling")
}

func TestExecuteDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	op := &countingOp{
		fails: -1,
		err:   &catalog.TransportError{Kind: catalog.TransportHTTPStatus, StatusCode: 404},
	}
	e := New(fastConfig(), nil)

	_, err := e.Execute(context.Background(), "shop.example", op.run)
	var te *catalog.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 404, te.StatusCode)
	require.Equal(t, 1, op.calls)
}

func TestExecuteDoesNotRetryCancellation(t *testing.T) {
	t.Parallel()

	op := &countingOp{
		fails: -1,
		err:   &catalog.TransportError{Kind: catalog.TransportCancelled, Err: context.Canceled},
	}
	e := New(fastConfig(), nil)

	_, err := e.Execute(context.Background(), "shop.example", op.run)
	require.Error(t, err)
	require.Equal(t, 1, op.calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxAttempts = 1 // one attempt per Execute so failures accumulate per call
	cfg.BreakerThreshold = 3
	cfg.BreakerWindow = time.Minute
	cfg.BreakerCooldown = time.Minute
	e := New(cfg, nil)

	op := &countingOp{
		fails: -1,
		err:   &catalog.TransportError{Kind: catalog.TransportTimeout},
	}

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), "shop.example", op.run)
		var te *catalog.TransportError
		require.ErrorAs(t, err, &te)
	}
	require.Equal(t, 3, op.calls)

	// Fourth request short-circuits without a network attempt.
	_, err := e.Execute(context.Background(), "shop.example", op.run)
	var coe *catalog.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	require.Equal(t, "shop.example", coe.Host)
	require.Equal(t, 3, op.calls)
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 3
	e := New(cfg, nil)

	// Stale links 404 without saying anything about host health.
	notFound := &countingOp{
		fails: -1,
		err:   &catalog.TransportError{Kind: catalog.TransportHTTPStatus, StatusCode: 404},
	}
	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), "shop.example", notFound.run)
		var te *catalog.TransportError
		require.ErrorAs(t, err, &te)
	}

	healthy := &countingOp{}
	result, err := e.Execute(context.Background(), "shop.example", healthy.run)
	require.NoError(t, err)
	require.Equal(t, 200, result.Status)
	require.Equal(t, 1, healthy.calls)
}

func TestBreakerStateIsPerHost(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 2
	e := New(cfg, nil)

	failing := &countingOp{fails: -1, err: &catalog.TransportError{Kind: catalog.TransportTimeout}}
	for i := 0; i < 2; i++ {
		_, _ = e.Execute(context.Background(), "bad.example", failing.run)
	}
	_, err := e.Execute(context.Background(), "bad.example", failing.run)
	var coe *catalog.CircuitOpenError
	require.ErrorAs(t, err, &coe)

	// A healthy host is unaffected.
	healthy := &countingOp{}
	result, err := e.Execute(context.Background(), "good.example", healthy.run)
	require.NoError(t, err)
	require.Equal(t, 200, result.Status)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.BackoffInitial = time.Second
	cfg.BackoffMax = time.Second
	e := New(cfg, nil)

	op := &countingOp{fails: -1, err: &catalog.TransportError{Kind: catalog.TransportTimeout}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, "shop.example", op.run)
	var te *catalog.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, catalog.TransportCancelled, te.Kind)
	require.Equal(t, 1, op.calls)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	e := New(Config{
		MaxAttempts:    5,
		BackoffInitial: 100 * time.Millisecond,
		BackoffMax:     400 * time.Millisecond,
	}, nil)

	for attempt := 0; attempt < 6; attempt++ {
		delay := e.backoff(attempt)
		if delay <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempt, delay)
		}
		if delay > 400*time.Millisecond {
			t.Fatalf("attempt %d: delay %v exceeds cap", attempt, delay)
		}
	}
}

func TestRetryAfterOverridesBackoff(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.BackoffInitial = time.Millisecond
	cfg.BackoffMax = 200 * time.Millisecond
	e := New(cfg, nil)

	cause := &catalog.TransportError{
		Kind:       catalog.TransportHTTPStatus,
		StatusCode: 429,
		RetryAfter: 50 * time.Millisecond,
	}

	start := time.Now()
	require.NoError(t, e.sleep(context.Background(), "shop.example", 0, cause))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	// Retry-After beyond the cap is clamped.
	cause.RetryAfter = time.Hour
	start = time.Now()
	require.NoError(t, e.sleep(context.Background(), "shop.example", 0, cause))
	require.Less(t, time.Since(start), time.Second)
}
