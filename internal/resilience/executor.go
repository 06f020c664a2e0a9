// Package resilience wraps transport calls with retry, backoff, and per-host
// circuit breaking.
package resilience

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/sellsync/market-crawler/internal/catalog"
	"github.com/sellsync/market-crawler/internal/metrics"
)

// Config carries retry and breaker settings. All state is scoped per host so
// one struggling market does not throttle others.
type Config struct {
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration
}

// Operation is a single fetch attempt executed under the resilience policy.
type Operation func(ctx context.Context) (catalog.FetchResult, error)

// Executor retries transient failures with jittered exponential backoff and
// short-circuits hosts whose breaker is open.
type Executor struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[catalog.FetchResult]
}

// New builds an Executor with sane fallbacks for zero values.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerWindow <= 0 {
		cfg.BreakerWindow = time.Minute
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[catalog.FetchResult]),
	}
}

// Execute runs op until it succeeds, fails permanently, or the retry ceiling
// is reached. The underlying error is surfaced unchanged after exhaustion.
func (e *Executor) Execute(ctx context.Context, host string, op Operation) (catalog.FetchResult, error) {
	breaker := e.breakerFor(host)

	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, host, attempt-1, lastErr); err != nil {
				return catalog.FetchResult{}, err
			}
		}

		result, err := breaker.Execute(func() (catalog.FetchResult, error) {
			return op(ctx)
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return catalog.FetchResult{}, &catalog.CircuitOpenError{Host: host}
		}
		if !catalog.IsTransient(err) {
			return catalog.FetchResult{}, err
		}
		lastErr = err
		e.logger.Debug("transient failure",
			zap.String("host", host),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return catalog.FetchResult{}, lastErr
}

// sleep waits out the backoff before the next attempt, honoring a
// server-suggested Retry-After when present.
func (e *Executor) sleep(ctx context.Context, host string, attempt int, cause error) error {
	delay := e.backoff(attempt)
	var te *catalog.TransportError
	if errors.As(cause, &te) && te.RetryAfter > 0 {
		delay = te.RetryAfter
		if delay > e.cfg.BackoffMax {
			delay = e.cfg.BackoffMax
		}
	}
	metrics.ObserveRetry(host)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return &catalog.TransportError{Kind: catalog.TransportCancelled, Err: ctx.Err()}
	case <-timer.C:
		return nil
	}
}

// backoff returns the jittered wait before retry number attempt+1.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BackoffInitial) * math.Pow(2, float64(attempt))
	if delay > float64(e.cfg.BackoffMax) {
		delay = float64(e.cfg.BackoffMax)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func (e *Executor) breakerFor(host string) *gobreaker.CircuitBreaker[catalog.FetchResult] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[host]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:     host,
		Interval: e.cfg.BreakerWindow,
		Timeout:  e.cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= e.cfg.BreakerThreshold
		},
		// Only transient faults say anything about host health. A 404 or a
		// canceled context must not open the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !catalog.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.ObserveBreakerOpen(name)
				e.logger.Warn("circuit opened",
					zap.String("host", name),
					zap.String("from", from.String()),
				)
			}
		},
	}
	breaker := gobreaker.NewCircuitBreaker[catalog.FetchResult](settings)
	e.breakers[host] = breaker
	return breaker
}
