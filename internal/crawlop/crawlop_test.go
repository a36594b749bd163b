package crawlop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"raito/internal/cachestate"
	"raito/internal/crawlmodel"
	"raito/internal/hostabi"
)

// memCache is a tiny in-memory cachestate.ResponseCache for tests that
// don't need a real database.
type memCache struct {
	mu      sync.Mutex
	entries map[string]crawlmodel.CacheEntry
}

func newMemCache() *memCache { return &memCache{entries: make(map[string]crawlmodel.CacheEntry)} }

func (c *memCache) BatchGet(ctx context.Context, urls []string, ttl time.Duration) (map[string]crawlmodel.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]crawlmodel.CacheEntry)
	for _, u := range urls {
		if e, ok := c.entries[u]; ok && e.Fresh(time.Now(), ttl) {
			out[u] = e
		}
	}
	return out, nil
}

func (c *memCache) Put(ctx context.Context, entry crawlmodel.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.URL] = entry
	return nil
}

var _ cachestate.ResponseCache = (*memCache)(nil)

func drain(t *testing.T, op *Operator) []hostabi.Row {
	t.Helper()
	ctx := context.Background()
	if err := op.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer op.Close()

	var rows []hostabi.Row
	for {
		row, cont, err := op.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if row != nil {
			rows = append(rows, row)
		}
		if cont == hostabi.Done {
			break
		}
	}
	return rows
}

func TestCrawlOperator_SeedOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	op := New(nil, nil, nil, nil, []string{srv.URL + "/a"}, "", Options{})
	rows := drain(t, op)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["status"] != 200 {
		t.Errorf("expected status 200, got %v", rows[0]["status"])
	}
	if rows[0]["depth"] != 1 {
		t.Errorf("expected depth 1, got %v", rows[0]["depth"])
	}
}

func TestCrawlOperator_CacheHit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		w.Write([]byte(`<html><body>hi</body></html>`))
	}))
	defer srv.Close()

	cache := newMemCache()
	url := srv.URL + "/a"

	op1 := New(nil, nil, cache, nil, []string{url}, "", Options{Cache: true, CacheTTL: 24 * time.Hour})
	rows1 := drain(t, op1)
	if len(rows1) != 1 || hits != 1 {
		t.Fatalf("expected one fetch, got rows=%d hits=%d", len(rows1), hits)
	}

	srv.Close() // mock now unreachable

	op2 := New(nil, nil, cache, nil, []string{url}, "", Options{Cache: true, CacheTTL: 24 * time.Hour})
	rows2 := drain(t, op2)
	if len(rows2) != 1 {
		t.Fatalf("expected 1 row from cache, got %d", len(rows2))
	}
	if rows2[0]["status"] != 200 {
		t.Errorf("expected cached status 200, got %v", rows2[0]["status"])
	}
	if hits != 1 {
		t.Errorf("expected no additional HTTP hit, got hits=%d", hits)
	}
}

func TestCrawlOperator_DepthFollow(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/b">b</a></body></html>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>leaf</body></html>`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	op := New(nil, nil, nil, nil, []string{srv.URL + "/a"}, "", Options{Follow: "a", MaxDepth: 2})
	rows := drain(t, op)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["url"] != srv.URL+"/a" || rows[0]["depth"] != 1 {
		t.Errorf("expected first row to be /a at depth 1, got %v depth=%v", rows[0]["url"], rows[0]["depth"])
	}
	if rows[1]["url"] != srv.URL+"/b" || rows[1]["depth"] != 2 {
		t.Errorf("expected second row to be /b at depth 2, got %v depth=%v", rows[1]["url"], rows[1]["depth"])
	}
}
