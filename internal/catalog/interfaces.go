package catalog

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Cache stores raw fetch responses keyed by normalized request identity.
// Expired entries are never returned.
type Cache interface {
	Get(ctx context.Context, key string) (FetchResult, bool, error)
	Put(ctx context.Context, key string, result FetchResult, ttl time.Duration) error
}

// CheckpointStore persists per-market run progress.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, marketID string) (ExportCheckpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp ExportCheckpoint) error
}

// Seed is a starting URL an adapter hands to the orchestrator.
type Seed struct {
	URL  string
	Kind PageKind
}

// Link is a URL discovered on a fetched page.
type Link struct {
	URL  string
	Kind PageKind
}

// Adapter supplies per-market URLs and extraction logic. The orchestrator
// depends only on this contract, never on a concrete market.
type Adapter interface {
	Market() string
	SeedURLs() []Seed
	NextURLs(page FetchResult, kind PageKind) ([]Link, error)
	Extract(page FetchResult) ([]RawProduct, error)
}

// RenderPolicy is an optional Adapter extension that requests headless
// rendering for certain page kinds.
type RenderPolicy interface {
	Render(kind PageKind) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the wall clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
