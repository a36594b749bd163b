// Package sitemap implements the sitemap(url, ...) table function: it
// fetches a sitemap XML document, yields one row per <url> entry (url,
// lastmod, changefreq, priority), and -- when the document is a
// <sitemapindex> rather than a <urlset> -- follows each child <sitemap>
// location and flattens its entries into the same row stream, bounded by
// a depth guard the way internal/crawlop bounds link-following. It
// implements internal/hostabi.TableFunction, generalizing the one-sitemap
// "seed discovery" step the teacher's own crawler kept private into a
// first-class, nesting-aware operator.
package sitemap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"raito/internal/fetch"
	"raito/internal/hostabi"
	"raito/internal/procctx"
	"raito/internal/secretsutil"

	"raito/internal/crawlmodel"
)

// Options are the recognized keyword arguments of the `sitemap(...)` SQL
// surface.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxDepth   int   // sitemapindex nesting depth; 0 means "unbounded" (guarded at maxIndexDepth)
	MaxResults int64
}

// maxIndexDepth is the hard ceiling on <sitemapindex> nesting this
// operator will follow regardless of Options.MaxDepth, protecting against
// a misconfigured or adversarial sitemap index cycle.
const maxIndexDepth = 8

// entry is one flattened <url> record, whichever nesting level it came
// from.
type entry struct {
	URL        string
	LastMod    string
	ChangeFreq string
	Priority   string
}

// Operator is one invocation's mutable state: the queue of sitemap
// locations still to fetch (seeded with the root URL, grown by
// <sitemapindex> children) and the buffer of flattened <url> entries
// ready to emit.
type Operator struct {
	pc   *procctx.Context
	opts Options

	queue   []queueItem
	buffer  []entry
	emitted int64
	closed  bool
}

type queueItem struct {
	URL   string
	Depth int
}

// New constructs an Operator for the sitemap at rootURL.
func New(pc *procctx.Context, rootURL string, opts Options) *Operator {
	return &Operator{
		pc:    procctx.Resolve(pc),
		opts:  opts,
		queue: []queueItem{{URL: rootURL, Depth: 1}},
	}
}

// Init implements hostabi.TableFunction. Sitemap discovery has no
// separate warm-up phase -- the first Next call performs the first fetch.
func (op *Operator) Init(ctx context.Context) error { return nil }

// EstimatedCardinality reports the unknown-cardinality sentinel: the
// number of <url> entries isn't knowable before the document (or, for a
// sitemapindex, documents) are fetched.
func (op *Operator) EstimatedCardinality() int64 { return hostabi.UnknownCardinality }

// Next drains the buffered entries from the most recently fetched
// document one row at a time; once the buffer empties it fetches and
// parses the next queued sitemap location, pushing any <sitemapindex>
// children onto the queue (depth-guarded) rather than buffering them.
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

		if len(op.buffer) > 0 {
			e := op.buffer[0]
			op.buffer = op.buffer[1:]
			op.emitted++
			return rowFor(e), hostabi.HaveMoreOutput, nil
		}

		if len(op.queue) == 0 {
			return nil, hostabi.Done, nil
		}

		item := op.queue[0]
		op.queue = op.queue[1:]

		entries, children, err := op.fetchAndParse(ctx, item.URL)
		if err != nil {
			row := hostabi.Row{"url": item.URL, "lastmod": "", "changefreq": "", "priority": "", "error": err.Error()}
			op.emitted++
			return row, hostabi.HaveMoreOutput, nil
		}

		op.buffer = entries

		limit := op.opts.MaxDepth
		if limit <= 0 || limit > maxIndexDepth {
			limit = maxIndexDepth
		}
		if item.Depth < limit {
			for _, c := range children {
				op.queue = append(op.queue, queueItem{URL: c, Depth: item.Depth + 1})
			}
		}
	}
}

// Close implements hostabi.TableFunction.
func (op *Operator) Close() error {
	op.closed = true
	return nil
}

func rowFor(e entry) hostabi.Row {
	return hostabi.Row{
		"url":        e.URL,
		"lastmod":    e.LastMod,
		"changefreq": e.ChangeFreq,
		"priority":   e.Priority,
		"error":      "",
	}
}

// fetchAndParse downloads rawURL and parses it as either a <urlset> (the
// common case, returning entries) or a <sitemapindex> (returning child
// sitemap locations to queue). A gzipped sitemap (the ".xml.gz"
// convention) is transparently inflated before parsing.
func (op *Operator) fetchAndParse(ctx context.Context, rawURL string) ([]entry, []string, error) {
	userAgent := op.opts.UserAgent
	if userAgent == "" {
		userAgent = op.pc.Defaults.UserAgent
	}
	timeout := op.opts.Timeout
	if timeout <= 0 {
		timeout = op.pc.Defaults.Timeout
	}

	req := crawlmodel.CrawlRequest{URL: rawURL, UserAgent: userAgent, Timeout: timeout, AcceptGzip: true}
	req = secretsutil.ApplyTo(req, op.pc.Secrets.Lookup(secretsutil.Scope{URL: rawURL}))

	resp := fetch.Fetch(ctx, op.pc.Pool, req)
	if resp.Err != nil {
		return nil, nil, fmt.Errorf("sitemap: fetch %s: %w", rawURL, resp.Err)
	}
	if !resp.Success() {
		return nil, nil, fmt.Errorf("sitemap: fetch %s: status %d", rawURL, resp.Status)
	}

	doc, err := xmlquery.Parse(strings.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("sitemap: parse %s: %w", rawURL, err)
	}

	if idx := xmlquery.FindOne(doc, "//sitemapindex"); idx != nil {
		var children []string
		for _, n := range xmlquery.Find(doc, "//sitemapindex/sitemap/loc") {
			if loc := strings.TrimSpace(n.InnerText()); loc != "" {
				children = append(children, loc)
			}
		}
		return nil, children, nil
	}

	var entries []entry
	for _, n := range xmlquery.Find(doc, "//urlset/url") {
		loc := strings.TrimSpace(textOf(n, "loc"))
		if loc == "" {
			continue
		}
		entries = append(entries, entry{
			URL:        loc,
			LastMod:    strings.TrimSpace(textOf(n, "lastmod")),
			ChangeFreq: strings.TrimSpace(textOf(n, "changefreq")),
			Priority:   normalizePriority(textOf(n, "priority")),
		})
	}
	return entries, nil, nil
}

func textOf(n *xmlquery.Node, tag string) string {
	if c := xmlquery.FindOne(n, tag); c != nil {
		return c.InnerText()
	}
	return ""
}

// normalizePriority round-trips the <priority> text through float
// parsing so malformed values degrade to "" rather than propagating
// garbage into the output row.
func normalizePriority(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
