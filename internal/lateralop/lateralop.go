// Package lateralop implements the per-row crawl (LATERAL) operator of
// spec.md §4.F: invoked once per driving row of a correlated join, it is
// fed a chunk of URL strings and emits at most one row per call,
// alternating HAVE_MORE_OUTPUT (more rows remain in the chunk) and
// NEED_MORE_INPUT (the chunk is drained and the host must Feed the next
// one). This granularity lets the host terminate mid-chunk once an outer
// LIMIT or a shared pipeline limit is satisfied. It implements
// internal/hostabi.TableFunction plus the chunk-feeding Feed method the
// host calls between NEED_MORE_INPUT and the next Next.
package lateralop

import (
	"context"
	"time"

	"raito/internal/cachestate"
	"raito/internal/crawlmodel"
	"raito/internal/extract"
	"raito/internal/fetch"
	"raito/internal/hostabi"
	"raito/internal/pipelinelimit"
	"raito/internal/procctx"
	"raito/internal/secretsutil"
	"raito/internal/urlutil"
)

// maxFetchRetries and retryBackoffCap mirror crawlop's Fibonacci backoff
// retry bound for transport failures; an HTTP error status is not retried.
const (
	maxFetchRetries = 5
	retryBackoffCap = 60 * time.Second
)

// Options are the recognized keyword arguments of `crawl_url(...)`
// (spec.md §6): the same set as crawl minus follow/max_depth, plus a
// local max_results that overrides the shared pipeline limit when set.
type Options struct {
	Extract       []crawlmodel.ExtractSpec
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
	Cache         bool
	CacheTTL      time.Duration
	MaxResults    int64
}

// Operator is one correlated-join invocation's state.
type Operator struct {
	pc         *procctx.Context
	cache      cachestate.ResponseCache
	opts       Options
	dbIdentity interface{}

	chunk        []string
	idx          int
	localEmitted int64
	closed       bool
}

// New constructs an Operator. dbIdentity is the host-DB identity used to
// look up a shared pipelinelimit.Limit (typically hostabi.Conn.Identity());
// pass nil when no merge executor has published one.
func New(pc *procctx.Context, cache cachestate.ResponseCache, dbIdentity interface{}, opts Options) *Operator {
	return &Operator{
		pc:         procctx.Resolve(pc),
		cache:      cache,
		opts:       opts,
		dbIdentity: dbIdentity,
	}
}

// Init implements hostabi.TableFunction; lateralop has nothing to set up
// until its first chunk arrives via Feed.
func (op *Operator) Init(ctx context.Context) error { return nil }

// Feed supplies the next chunk of driving-row URLs. The host calls this
// after receiving NeedMoreInput from Next (and once, before the first
// Next, to supply the first chunk).
func (op *Operator) Feed(urls []string) {
	op.chunk = urls
	op.idx = 0
}

// EstimatedCardinality reports the unknown-cardinality sentinel, matching
// crawlop's rationale: this operator has no better upper bound on rows
// across its invocations.
func (op *Operator) EstimatedCardinality() int64 { return hostabi.UnknownCardinality }

func (op *Operator) sharedLimit() *pipelinelimit.Limit {
	if op.pc.Limits == nil || op.dbIdentity == nil {
		return nil
	}
	return op.pc.Limits.Get(op.dbIdentity)
}

// stopped reports whether this invocation should stop fetching: either
// its own local max_results has been reached, or -- when no local
// override is set -- the shared pipeline limit has latched stopped.
func (op *Operator) stopped() bool {
	if op.opts.MaxResults > 0 {
		return op.localEmitted >= op.opts.MaxResults
	}
	if limit := op.sharedLimit(); limit != nil {
		return limit.Stopped()
	}
	return false
}

// Next returns the next row from the current chunk, fetching (or serving
// from cache) the URL at the cursor. Once stopped() is observed, the rest
// of the current chunk is flushed without fetching and NeedMoreInput is
// returned immediately.
func (op *Operator) Next(ctx context.Context) (hostabi.Row, hostabi.Continuation, error) {
	if op.closed {
		return nil, hostabi.Done, nil
	}

	if op.stopped() {
		op.idx = len(op.chunk)
		return nil, hostabi.NeedMoreInput, nil
	}

	if op.idx >= len(op.chunk) {
		return nil, hostabi.NeedMoreInput, nil
	}

	url := op.chunk[op.idx]
	op.idx++

	row := op.fetchRow(ctx, url)
	op.localEmitted++
	if limit := op.sharedLimit(); limit != nil {
		limit.Decrement(1)
	}

	cont := hostabi.HaveMoreOutput
	if op.idx >= len(op.chunk) {
		cont = hostabi.NeedMoreInput
	}
	return row, cont, nil
}

func (op *Operator) fetchRow(ctx context.Context, url string) hostabi.Row {
	if url == "" {
		return emptyRow("", "NULL URL")
	}

	userAgent := op.opts.UserAgent
	if userAgent == "" {
		userAgent = op.pc.Defaults.UserAgent
	}

	if op.opts.RespectRobots && op.pc.Robots != nil {
		if !op.pc.Robots.Allowed(ctx, url, userAgent) {
			return emptyRow(url, "robots_disallowed")
		}
	}

	var result crawlmodel.CrawlResult
	var fromCache bool

	if op.opts.Cache && op.cache != nil {
		entries, err := op.cache.BatchGet(ctx, []string{url}, op.opts.CacheTTL)
		if err == nil {
			if entry, ok := entries[url]; ok {
				result = crawlmodel.CrawlResult{
					URL:            url,
					FinalURL:       url,
					Status:         entry.Status,
					ContentType:    entry.ContentType,
					Body:           entry.Body,
					Error:          entry.Error,
					ResponseTimeMs: entry.ResponseTimeMs,
				}
				fromCache = true
			}
		}
	}

	if !fromCache {
		req := crawlmodel.CrawlRequest{
			URL:        url,
			UserAgent:  userAgent,
			Timeout:    op.requestTimeout(),
			AcceptGzip: true,
		}
		req = secretsutil.ApplyTo(req, op.pc.Secrets.Lookup(secretsutil.Scope{URL: url}))

		start := time.Now()
		resp, _ := fetch.FetchWithBackoff(ctx, op.pc.Pool, req, maxFetchRetries, retryBackoffCap)
		elapsed := time.Since(start).Milliseconds()

		result = crawlmodel.CrawlResult{
			URL:            url,
			FinalURL:       resp.FinalURL,
			Status:         resp.Status,
			ContentType:    resp.ContentType,
			Body:           resp.Body,
			ResponseTimeMs: elapsed,
			RedirectCount:  resp.RedirectCount,
			ETag:           resp.ETag,
			LastModified:   resp.LastModified,
			ContentLength:  resp.ContentLength,
		}
		if resp.Err != nil {
			result.Error = string(resp.Class)
		}

		if op.opts.Cache && op.cache != nil {
			_ = op.cache.Put(ctx, crawlmodel.CacheEntry{
				URL:            url,
				Status:         result.Status,
				ContentType:    result.ContentType,
				Body:           result.Body,
				Error:          result.Error,
				ResponseTimeMs: result.ResponseTimeMs,
				CachedAt:       time.Now(),
			})
		}
	}

	htmlRecord := crawlmodel.HtmlRecord{}
	extractJSON := ""
	isHTML := urlutil.ContentTypeMatches(result.ContentType, "text/html") ||
		urlutil.ContentTypeMatches(result.ContentType, "application/xhtml+xml")

	if result.Success() && result.Body != "" && isHTML {
		res := extract.BuildHTMLRecord([]byte(result.Body), result.FinalURL)
		htmlRecord = res.Record
		if len(op.opts.Extract) > 0 {
			if js, err := extract.EvaluateSpecs(op.opts.Extract, res); err == nil {
				extractJSON = js
			}
		}
	} else if result.Body != "" {
		htmlRecord = crawlmodel.HtmlRecord{Document: result.Body}
	}

	return hostabi.Row{
		"url":              result.URL,
		"status":           result.Status,
		"content_type":     result.ContentType,
		"html":             htmlRecord,
		"error":            result.Error,
		"extract":          extractJSON,
		"response_time_ms": result.ResponseTimeMs,
	}
}

func (op *Operator) requestTimeout() time.Duration {
	if op.opts.Timeout > 0 {
		return op.opts.Timeout
	}
	return op.pc.Defaults.Timeout
}

func emptyRow(url, errMsg string) hostabi.Row {
	return hostabi.Row{
		"url":              url,
		"status":           0,
		"content_type":     "",
		"html":             crawlmodel.HtmlRecord{},
		"error":            errMsg,
		"extract":          "",
		"response_time_ms": int64(0),
	}
}

// Close implements hostabi.TableFunction.
func (op *Operator) Close() error {
	op.closed = true
	return nil
}
