package cachestate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"raito/internal/crawlmodel"
	"raito/internal/urlutil"
)

// PGStore implements both ResponseCache and CrawlState against a Postgres
// *sql.DB using database/sql directly, the same wrapping style as the
// teacher's internal/store package (same driver, same plain-query
// approach), generalized from a fixed jobs/documents schema to the two
// tables this system owns.
type PGStore struct {
	db        *sql.DB
	cacheName string
}

// NewPGStore wraps db. cacheName defaults to "__crawler_cache" when empty.
func NewPGStore(db *sql.DB, cacheName string) *PGStore {
	if cacheName == "" {
		cacheName = "__crawler_cache"
	}
	return &PGStore{db: db, cacheName: cacheName}
}

// EnsureCacheTable idempotently creates the response-cache table.
func (s *PGStore) EnsureCacheTable(ctx context.Context) error {
	if !urlutil.IsValidIdentifier(s.cacheName) {
		return fmt.Errorf("cachestate: invalid cache table name %q", s.cacheName)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		url TEXT PRIMARY KEY,
		status_code INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		cached_at TIMESTAMPTZ NOT NULL
	)`, urlutil.QuoteIdentifier(s.cacheName))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// BatchGet issues one `WHERE url = ANY($1) AND cached_at > $2` query, with
// $2 the cutoff time now minus ttl, instead of one round trip per URL.
func (s *PGStore) BatchGet(ctx context.Context, urls []string, ttl time.Duration) (map[string]crawlmodel.CacheEntry, error) {
	out := make(map[string]crawlmodel.CacheEntry)
	if len(urls) == 0 {
		return out, nil
	}
	if !urlutil.IsValidIdentifier(s.cacheName) {
		return nil, fmt.Errorf("cachestate: invalid cache table name %q", s.cacheName)
	}

	query := fmt.Sprintf(`SELECT url, status_code, content_type, body, error, response_time_ms, cached_at
		FROM %s WHERE url = ANY($1) AND cached_at > $2`, urlutil.QuoteIdentifier(s.cacheName))
	cutoff := time.Now().Add(-ttl)

	rows, err := s.db.QueryContext(ctx, query, pqStringArray(urls), cutoff)
	if err != nil {
		return nil, fmt.Errorf("cachestate: batch get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e crawlmodel.CacheEntry
		if err := rows.Scan(&e.URL, &e.Status, &e.ContentType, &e.Body, &e.Error, &e.ResponseTimeMs, &e.CachedAt); err != nil {
			return nil, err
		}
		out[e.URL] = e
	}
	return out, rows.Err()
}

// Put upserts via INSERT ... ON CONFLICT (url) DO UPDATE, overwriting a
// stale entry on re-fetch.
func (s *PGStore) Put(ctx context.Context, entry crawlmodel.CacheEntry) error {
	if !urlutil.IsValidIdentifier(s.cacheName) {
		return fmt.Errorf("cachestate: invalid cache table name %q", s.cacheName)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (url, status_code, content_type, body, error, response_time_ms, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE SET
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			body = EXCLUDED.body,
			error = EXCLUDED.error,
			response_time_ms = EXCLUDED.response_time_ms,
			cached_at = EXCLUDED.cached_at`, urlutil.QuoteIdentifier(s.cacheName))

	cachedAt := entry.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, stmt, entry.URL, entry.Status, entry.ContentType, entry.Body, entry.Error, entry.ResponseTimeMs, cachedAt)
	return err
}

// EnsureTable idempotently creates the caller-named crawl-state table.
func (s *PGStore) EnsureTable(ctx context.Context, table string) error {
	if !urlutil.IsValidIdentifier(table) {
		return fmt.Errorf("cachestate: invalid state table name %q", table)
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		url TEXT PRIMARY KEY,
		http_status INTEGER NOT NULL,
		extracted JSONB,
		crawled_at TIMESTAMPTZ NOT NULL,
		etag TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT ''
	)`, urlutil.QuoteIdentifier(table))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// LoadProcessed loads every URL already recorded in table, used to seed
// the operator's visited set for resumability across re-runs.
func (s *PGStore) LoadProcessed(ctx context.Context, table string) (map[string]struct{}, error) {
	if !urlutil.IsValidIdentifier(table) {
		return nil, fmt.Errorf("cachestate: invalid state table name %q", table)
	}
	query := fmt.Sprintf(`SELECT url FROM %s`, urlutil.QuoteIdentifier(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out[u] = struct{}{}
	}
	return out, rows.Err()
}

// Append upserts a state row after every emitted crawl row.
func (s *PGStore) Append(ctx context.Context, table string, entry crawlmodel.StateEntry) error {
	if !urlutil.IsValidIdentifier(table) {
		return fmt.Errorf("cachestate: invalid state table name %q", table)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (url, http_status, extracted, crawled_at, etag, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url) DO UPDATE SET
			http_status = EXCLUDED.http_status,
			extracted = EXCLUDED.extracted,
			crawled_at = EXCLUDED.crawled_at,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified`, urlutil.QuoteIdentifier(table))

	var extracted interface{}
	if entry.Extracted != "" {
		extracted = entry.Extracted
	}
	crawledAt := entry.CrawledAt
	if crawledAt.IsZero() {
		crawledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, stmt, entry.URL, entry.HTTPStatus, extracted, crawledAt, entry.ETag, entry.LastModified)
	return err
}

// pqStringArray renders a Go string slice as a Postgres array-input-syntax
// literal (each element double-quoted, with embedded backslashes and
// double quotes escaped), avoiding a dependency on pq/pgx array helpers
// for this one query shape.
func pqStringArray(ss []string) string {
	out := "{"
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		out += `"` + escaped + `"`
	}
	return out + "}"
}
