// Package pipelinelimit implements the shared row-count coordinator
// (spec.md §4.G) that lets independent per-row crawl invocations, run
// inside a correlated join driven by the merge executor, stop fetching
// once a statement-wide row budget is exhausted.
package pipelinelimit

import (
	"sync"
	"sync/atomic"
)

// Limit is one shared record: an atomic remaining counter and an atomic
// stopped flag so readers and decrementers never need the registry mutex.
type Limit struct {
	remaining int64
	stopped   int32
}

// Decrement atomically decrements remaining by n (n is normally 1, called
// once per emitted row); when the result is <= 0 it latches Stopped.
// Decrement always returns the post-decrement stopped state.
func (l *Limit) Decrement(n int64) bool {
	remaining := atomic.AddInt64(&l.remaining, -n)
	if remaining <= 0 {
		atomic.StoreInt32(&l.stopped, 1)
	}
	return atomic.LoadInt32(&l.stopped) == 1
}

// Stopped reports the latched stop state.
func (l *Limit) Stopped() bool {
	return atomic.LoadInt32(&l.stopped) == 1
}

// Remaining returns the current remaining count (may go negative under
// concurrent decrements past zero).
func (l *Limit) Remaining() int64 {
	return atomic.LoadInt64(&l.remaining)
}

// Registry is the process-wide map from host-DB identity to a shared
// Limit. All three operations take one mutex to protect the map; the
// Limit itself uses atomics so readers/decrementers never contend on it.
type Registry struct {
	mu      sync.Mutex
	entries map[interface{}]*Limit
}

// NewRegistry constructs an empty registry. Most callers use the
// process-wide Default instead of constructing their own, but spec.md's
// design notes call for a handle type so tests can replace process-wide
// singletons -- hence this being an exported, constructible type.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[interface{}]*Limit)}
}

// Default is the process-scope registry used when no explicit Registry is
// threaded through (see internal/procctx).
var Default = NewRegistry()

// Init atomically creates/replaces the shared record for db, with
// remaining = limit and stopped = false.
func (r *Registry) Init(db interface{}, limit int64) *Limit {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := &Limit{remaining: limit}
	r.entries[db] = l
	return l
}

// Get returns the handle for db, or nil if none exists.
func (r *Registry) Get(db interface{}) *Limit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[db]
}

// Clear removes the record for db. Lifetime of a Limit is bounded by the
// outer statement that called Init -- typically the merge executor.
func (r *Registry) Clear(db interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, db)
}
