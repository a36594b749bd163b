// Package robotsutil fetches and evaluates robots.txt, grounded on the
// teacher's crawler.fetchRobots (same github.com/temoto/robotstxt
// dependency), generalized here into a small cached-by-host fetcher so a
// BFS crawl of many pages on one domain does not refetch robots.txt per
// request.
package robotsutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	robotstxt "github.com/temoto/robotstxt"

	"raito/internal/crawlmodel"
)

// Checker fetches robots.txt once per host and caches the parsed result
// for the lifetime of the process (or until Reset).
type Checker struct {
	httpClient *http.Client
	mu         sync.Mutex
	byHost     map[string]*robotstxt.RobotsData
}

// NewChecker constructs a Checker using client for robots.txt fetches. A
// nil client gets a bare http.Client with no special timeout handling --
// callers running inside the crawl operator should pass one built the same
// way as the fetch façade's pool clients.
func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{}
	}
	return &Checker{httpClient: client, byHost: make(map[string]*robotstxt.RobotsData)}
}

// Allowed reports whether userAgent may fetch rawURL according to the
// target host's robots.txt. A robots.txt fetch failure (transport error,
// timeout) or a 4xx status such as 404 is treated as "allowed" -- absence
// of a robots.txt imposes no restriction, matching the teacher's own
// fetchRobots behavior of swallowing the error and proceeding
// unrestricted. A 5xx status disallows every path, per
// robotstxt.FromStatusAndBytes.
func (c *Checker) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	data, err := c.robotsFor(ctx, rawURL, userAgent)
	if err != nil || data == nil {
		return true
	}
	group := data.FindGroup(userAgent)
	return group.Test(rawURL)
}

func (c *Checker) robotsFor(ctx context.Context, rawURL, userAgent string) (*robotstxt.RobotsData, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	hostKey := strings.ToLower(u.Scheme + "://" + u.Host)

	c.mu.Lock()
	if data, ok := c.byHost[hostKey]; ok {
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.store(hostKey, nil)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.store(hostKey, nil)
		return nil, err
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.store(hostKey, nil)
		return nil, fmt.Errorf("robotsutil: parse %s: %w", robotsURL.String(), err)
	}
	c.store(hostKey, data)
	return data, nil
}

func (c *Checker) store(hostKey string, data *robotstxt.RobotsData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHost[hostKey] = data
}

// Reset clears the per-host cache, used by long-lived processes that want
// to pick up a changed robots.txt, and by tests.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byHost = make(map[string]*robotstxt.RobotsData)
}

// Default is the process-scope checker used when no explicit Checker is
// threaded through via internal/procctx.
var Default = NewChecker(nil)

// DisallowedClass is the error class the crawl operator reports in a
// CrawlResult's Error field when robots.txt forbids a fetch (spec.md §7).
const DisallowedClass = "robots_disallowed"

// CheckRequest wraps Allowed around a crawlmodel.CrawlRequest for
// call-site convenience in the crawl/lateral operators.
func (c *Checker) CheckRequest(ctx context.Context, req crawlmodel.CrawlRequest) bool {
	return c.Allowed(ctx, req.URL, req.UserAgent)
}
