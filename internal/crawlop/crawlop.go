// Package crawlop implements the streaming crawl operator of spec.md
// §4.E: a table-valued BFS crawl that turns a seed list (or a source
// query's column 0) into a row stream, consulting the response cache,
// respecting depth limits and robots.txt, feeding discovered links back
// into its own queue, and yielding exactly one row per call to Next so an
// outer LIMIT can terminate the crawl between HTTP requests. It
// implements internal/hostabi.TableFunction.
package crawlop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"raito/internal/cachestate"
	"raito/internal/crawlmodel"
	"raito/internal/extract"
	"raito/internal/fetch"
	"raito/internal/hostabi"
	"raito/internal/procctx"
	"raito/internal/secretsutil"
	"raito/internal/urlutil"
)

// maxFetchRetries and retryBackoffCap bound the Fibonacci backoff retry
// applied to transport failures (an HTTP error status is not retried)
// before a URL's row reports
// max_retries_exceeded instead of the underlying transport error.
const (
	maxFetchRetries = 5
	retryBackoffCap = 60 * time.Second
)

// Options are the recognized keyword arguments of the `crawl(...)` SQL
// surface (spec.md §6), minus the seed list itself.
type Options struct {
	Extract       []crawlmodel.ExtractSpec
	StateTable    string
	UserAgent     string
	Timeout       time.Duration
	Workers       int
	BatchSize     int
	Delay         time.Duration
	RespectRobots bool
	Follow        string
	MaxDepth      int
	Cache         bool
	CacheTTL      time.Duration
	MaxResults    int64
}

// Operator is one invocation's mutable state: the BFS frontier, the
// visited set, and the emitted-row counter.
type Operator struct {
	pc   *procctx.Context
	conn hostabi.Conn
	opts Options

	cache cachestate.ResponseCache
	state cachestate.CrawlState

	seeds       []string
	sourceQuery string

	queue     []crawlmodel.QueueItem
	processed map[string]struct{}
	emitted   int64

	lastFetch map[string]time.Time
	lastMu    sync.Mutex

	closed bool
}

// New constructs an Operator. conn is the child connection used to run
// sourceQuery (if non-empty) during Init; it may be nil when seeds is a
// literal list. cache/state may be nil, in which case caching/resumability
// are simply skipped.
func New(pc *procctx.Context, conn hostabi.Conn, cache cachestate.ResponseCache, state cachestate.CrawlState, seeds []string, sourceQuery string, opts Options) *Operator {
	return &Operator{
		pc:          procctx.Resolve(pc),
		conn:        conn,
		opts:        opts,
		cache:       cache,
		state:       state,
		seeds:       seeds,
		sourceQuery: sourceQuery,
		processed:   make(map[string]struct{}),
		lastFetch:   make(map[string]time.Time),
	}
}

// Init implements hostabi.TableFunction: resolves the source query (if
// any) into additional seeds, loads the state table's processed set (if a
// state table is configured), and pushes every seed onto the BFS queue at
// depth 1.
func (op *Operator) Init(ctx context.Context) error {
	seeds := append([]string(nil), op.seeds...)

	if op.sourceQuery != "" {
		if op.conn == nil {
			return fmt.Errorf("crawlop: source query given but no host connection")
		}
		rows, err := op.conn.Query(ctx, op.sourceQuery)
		if err != nil {
			return fmt.Errorf("crawlop: source query: %w", err)
		}
		defer rows.Close()
		cols := rows.ColumnTypes()
		var col0 string
		if len(cols) > 0 {
			col0 = cols[0].Name
		}
		for {
			row, ok, err := rows.Next(ctx)
			if err != nil {
				return fmt.Errorf("crawlop: source query row: %w", err)
			}
			if !ok {
				break
			}
			v := row[col0]
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok && s != "" {
				seeds = append(seeds, s)
			}
		}
	}

	if op.opts.StateTable != "" && op.state != nil {
		if err := op.state.EnsureTable(ctx, op.opts.StateTable); err != nil {
			return fmt.Errorf("crawlop: ensure state table: %w", err)
		}
		processed, err := op.state.LoadProcessed(ctx, op.opts.StateTable)
		if err != nil {
			return fmt.Errorf("crawlop: load processed: %w", err)
		}
		op.processed = processed
	}

	for _, s := range seeds {
		op.queue = append(op.queue, crawlmodel.QueueItem{URL: s, Depth: 1})
	}
	return nil
}

// EstimatedCardinality always reports the unknown-cardinality sentinel:
// this operator has no better estimate of how many rows it will produce,
// so it publishes the sentinel purely to make LIMIT pushdown observable
// to the host's optimizer (spec.md §4.E).
func (op *Operator) EstimatedCardinality() int64 { return hostabi.UnknownCardinality }

// Next dequeues the next unprocessed URL (skipping already-processed
// entries without counting them as emissions), fetches or serves it from
// cache, extracts structured data when applicable, enqueues any newly
// discovered links within depth/follow policy, and returns exactly one
// row. It returns Done (with no row) once the queue drains, the explicit
// max_results is reached, or the context is cancelled.
func (op *Operator) Next(ctx context.Context) (hostabi.Row, hostabi.Continuation, error) {
	if op.closed {
		return nil, hostabi.Done, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, hostabi.Done, nil
		default:
		}

		if op.opts.MaxResults > 0 && op.emitted >= op.opts.MaxResults {
			return nil, hostabi.Done, nil
		}
		if len(op.queue) == 0 {
			return nil, hostabi.Done, nil
		}

		item := op.queue[0]
		op.queue = op.queue[1:]

		if item.URL == "" {
			op.emitted++
			row := emptyRow("", item.Depth, "NULL URL")
			return row, hostabi.HaveMoreOutput, nil
		}

		if _, done := op.processed[item.URL]; done {
			continue
		}

		row, links := op.processURL(ctx, item)
		op.processed[item.URL] = struct{}{}
		op.emitted++

		if item.Depth < op.opts.MaxDepth && op.opts.Follow != "" {
			for _, link := range links {
				if link.NoFollow {
					continue
				}
				if _, seen := op.processed[link.URL]; seen {
					continue
				}
				op.queue = append(op.queue, crawlmodel.QueueItem{URL: link.URL, Depth: item.Depth + 1})
			}
		}

		return row, hostabi.HaveMoreOutput, nil
	}
}

// processURL fetches (or reuses a cached response for) one URL and
// returns its output row plus any links discovered for BFS feedback.
func (op *Operator) processURL(ctx context.Context, item crawlmodel.QueueItem) (hostabi.Row, []extract.Link) {
	op.waitForDelay(ctx, item.URL)

	userAgent := op.opts.UserAgent
	if userAgent == "" {
		userAgent = op.pc.Defaults.UserAgent
	}

	if op.opts.RespectRobots && op.pc.Robots != nil {
		if !op.pc.Robots.Allowed(ctx, item.URL, userAgent) {
			row := emptyRow(item.URL, item.Depth, "robots_disallowed")
			return row, nil
		}
	}

	ttl := op.opts.CacheTTL
	var result crawlmodel.CrawlResult
	var fromCache bool

	if op.opts.Cache && op.cache != nil {
		entries, err := op.cache.BatchGet(ctx, []string{item.URL}, ttl)
		if err == nil {
			if entry, ok := entries[item.URL]; ok {
				result = crawlmodel.CrawlResult{
					URL:            item.URL,
					FinalURL:       item.URL,
					Status:         entry.Status,
					ContentType:    entry.ContentType,
					Body:           entry.Body,
					Error:          entry.Error,
					ResponseTimeMs: entry.ResponseTimeMs,
					Depth:          item.Depth,
				}
				fromCache = true
			}
		}
	}

	if !fromCache {
		req := crawlmodel.CrawlRequest{
			URL:        item.URL,
			UserAgent:  userAgent,
			Timeout:    op.requestTimeout(),
			AcceptGzip: true,
		}
		req = secretsutil.ApplyTo(req, op.pc.Secrets.Lookup(secretsutil.Scope{URL: item.URL}))

		start := time.Now()
		resp, _ := fetch.FetchWithBackoff(ctx, op.pc.Pool, req, maxFetchRetries, retryBackoffCap)
		elapsed := time.Since(start).Milliseconds()

		result = crawlmodel.CrawlResult{
			URL:            item.URL,
			FinalURL:       resp.FinalURL,
			Status:         resp.Status,
			ContentType:    resp.ContentType,
			Body:           resp.Body,
			ResponseTimeMs: elapsed,
			Depth:          item.Depth,
			RedirectCount:  resp.RedirectCount,
			ETag:           resp.ETag,
			LastModified:   resp.LastModified,
			ContentLength:  resp.ContentLength,
			RetryAfter:     resp.RetryAfter,
			ServerDate:     resp.ServerDate,
		}
		if resp.Err != nil {
			result.Error = string(resp.Class)
		}

		if op.opts.Cache && op.cache != nil {
			_ = op.cache.Put(ctx, crawlmodel.CacheEntry{
				URL:            item.URL,
				Status:         result.Status,
				ContentType:    result.ContentType,
				Body:           result.Body,
				Error:          result.Error,
				ResponseTimeMs: result.ResponseTimeMs,
				CachedAt:       time.Now(),
			})
		}
	}

	var links []extract.Link
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
		if op.opts.Follow != "" && res.Doc != nil {
			links = extract.ExtractLinksSelector(res.Doc, result.FinalURL, op.opts.Follow)
		}
	} else if result.Body != "" {
		htmlRecord = crawlmodel.HtmlRecord{Document: result.Body}
	}

	if op.opts.StateTable != "" && op.state != nil {
		_ = op.state.Append(ctx, op.opts.StateTable, crawlmodel.StateEntry{
			URL:          item.URL,
			HTTPStatus:   result.Status,
			Extracted:    extractJSON,
			CrawledAt:    time.Now(),
			ETag:         result.ETag,
			LastModified: result.LastModified,
		})
	}

	row := hostabi.Row{
		"url":              result.URL,
		"status":           result.Status,
		"content_type":     result.ContentType,
		"html":             htmlRecord,
		"error":            result.Error,
		"extract":          extractJSON,
		"response_time_ms": result.ResponseTimeMs,
		"depth":            result.Depth,
	}
	return row, links
}

func (op *Operator) requestTimeout() time.Duration {
	if op.opts.Timeout > 0 {
		return op.opts.Timeout
	}
	return op.pc.Defaults.Timeout
}

// waitForDelay enforces the configured per-domain delay between requests
// to the same host, sleeping (interruptibly) if the last fetch to that
// domain was too recent.
func (op *Operator) waitForDelay(ctx context.Context, rawURL string) {
	delay := op.opts.Delay
	if delay <= 0 {
		delay = op.pc.Defaults.DefaultDelay
	}
	if delay <= 0 {
		return
	}
	domain := urlutil.ExtractDomain(rawURL)
	if domain == "" {
		return
	}

	op.lastMu.Lock()
	last, ok := op.lastFetch[domain]
	op.lastMu.Unlock()

	if ok {
		wait := delay - time.Since(last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	op.lastMu.Lock()
	op.lastFetch[domain] = time.Now()
	op.lastMu.Unlock()
}

// Close implements hostabi.TableFunction; crawlop holds no resources
// beyond what procctx already owns process-wide, so Close just latches
// the operator against further Next calls.
func (op *Operator) Close() error {
	op.closed = true
	return nil
}

func emptyRow(url string, depth int, errMsg string) hostabi.Row {
	return hostabi.Row{
		"url":              url,
		"status":           0,
		"content_type":     "",
		"html":             crawlmodel.HtmlRecord{},
		"error":            errMsg,
		"extract":          "",
		"response_time_ms": int64(0),
		"depth":            depth,
	}
}
