// Package main hosts the market crawler entrypoint.
//
// Architecture overview:
//   - Markets & adapters: internal/market.Registry maps market ids to adapters. The built-in adapters are
//     selector-driven (goquery over a SelectorRules value); -rules points at a JSON ruleset for ad-hoc markets.
//   - Orchestrator: seed URLs flow through a bounded in-memory queue sized by config.Crawler.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Crawler.Concurrency. Listing pages enqueue discovered
//     detail/pagination links, deduplicated by normalized URL and bounded by config.Crawler.MaxDepth. Context
//     cancellation stops workers cleanly on shutdown.
//   - Fetch pipeline: the transport consults the SQLite response cache first, then fetches via the Colly-based
//     fetcher or, when a ruleset asks for rendering, via the headless Chromedp fetcher. Per-host slot and rate
//     limits apply before any network call. The resilience layer retries transient failures with jittered
//     exponential backoff and opens a per-host circuit breaker on repeated failure.
//   - Extraction & export: adapter output is normalized (price parsing, fuzzy category/brand matching against the
//     configured vocabularies) and appended to an xlsx workbook cloned from the configured template, one row per
//     product, columns per the declarative column mapping. A checkpoint row is saved after each exported job so a
//     restarted run can skip completed work.
//   - Configuration & plumbing: Viper populates config from env (MARKETCRAWL_*) and files; zap provides structured
//     logging; Prometheus collectors track fetches, cache hits, retries, breaker opens, and exported rows.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; headless fetches have their own semaphore inside the
//     Chromedp fetcher; workbook appends are serialized by the Book mutex.
//   - The run report printed on completion classifies every discovered URL as succeeded or skipped; only a
//     persistent workbook failure aborts a run.
//   - Run locally: go run ./cmd/marketcrawl -market books -config config.yaml (or rely solely on env overrides).
package main
