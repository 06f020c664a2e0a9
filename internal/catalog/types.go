// Package catalog defines core types shared across subsystems.
package catalog

import (
	"net/http"
	"time"
)

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Job state values tracked by the orchestrator.
const (
	JobStatePending           JobState = "pending"
	JobStateInFlight          JobState = "in_flight"
	JobStateRetrying          JobState = "retrying"
	JobStateSucceeded         JobState = "succeeded"
	JobStatePermanentlyFailed JobState = "permanently_failed"
)

// PageKind classifies the role of a URL within a market's structure.
type PageKind string

// Page kinds produced by adapters.
const (
	PageKindListing  PageKind = "listing"
	PageKindDetail   PageKind = "detail"
	PageKindCategory PageKind = "category"
)

// CrawlJob is a single unit of crawl work.
type CrawlJob struct {
	ID       string
	MarketID string
	URL      string
	Kind     PageKind
	Depth    int
	Attempts int
	State    JobState
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL     string
	Method  string
	Headers http.Header
	Render  bool
}

// FetchResult is the outcome of a fetch, either from the network or the cache.
// Immutable once created.
type FetchResult struct {
	URL       string      `json:"url"`
	Status    int         `json:"status"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      []byte      `json:"body"`
	FetchedAt time.Time   `json:"fetched_at"`
	FromCache bool        `json:"from_cache"`
}

// RawProduct is the field mapping an adapter extracts from one page before
// normalization.
type RawProduct map[string]string

// ProductRecord is a normalized product ready for export.
type ProductRecord struct {
	SKU                string
	Name               string
	Price              float64
	Currency           string
	CategoryRaw        string
	CategoryNormalized string
	CategoryMatched    bool
	BrandRaw           string
	BrandNormalized    string
	BrandMatched       bool
	ImageURLs          []string
	Attributes         map[string]string
	SourceURL          string
}

// ExportCheckpoint marks per-market run progress so a restarted run can skip
// jobs whose rows were already written.
type ExportCheckpoint struct {
	MarketID    string
	LastJobID   string
	RowsWritten int
	UpdatedAt   time.Time
}

// RunReport summarizes a completed crawl run. Every discovered URL is
// accounted for in exactly one bucket.
type RunReport struct {
	MarketID    string
	Discovered  int
	Succeeded   int
	Skipped     int
	RowsWritten int
	Elapsed     time.Duration
}
