// Package cachestate implements the two host-DB-resident tables the crawl
// pipeline leans on: a TTL'd response cache and a per-query crawl-state
// table used for resumability. Lookups are batched to avoid N+1 round
// trips; writes use upsert semantics so a re-fetch overwrites a stale
// entry, matching spec.md §4.D.
package cachestate

import (
	"context"
	"time"

	"raito/internal/crawlmodel"
)

// ResponseCache is the TTL'd response cache keyed by URL
// (spec.md's __crawler_cache table).
type ResponseCache interface {
	// BatchGet returns the fresh (within ttl) cache entries among urls, in
	// a single round trip, keyed by URL. URLs with no fresh entry are
	// simply absent from the result.
	BatchGet(ctx context.Context, urls []string, ttl time.Duration) (map[string]crawlmodel.CacheEntry, error)
	// Put upserts a single cache entry.
	Put(ctx context.Context, entry crawlmodel.CacheEntry) error
}

// CrawlState is the caller-named crawl-state table used for resumability.
type CrawlState interface {
	// EnsureTable creates the state table if it does not already exist.
	EnsureTable(ctx context.Context, table string) error
	// LoadProcessed returns every URL already recorded in table.
	LoadProcessed(ctx context.Context, table string) (map[string]struct{}, error)
	// Append records that url has been crawled.
	Append(ctx context.Context, table string, entry crawlmodel.StateEntry) error
}
