// Package fetch implements the HTTP fetch façade (spec.md §4.C): a single
// Fetch operation built on a shared, pooled http.Client, plus the error
// classification taxonomy of §7. Fetch itself never retries; FetchWithBackoff
// wraps it with the Fibonacci backoff retry policy (internal/urlutil.FibBackoff)
// that the crawl operators use between attempts.
package fetch

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"raito/internal/crawlmodel"
	"raito/internal/urlutil"
)

const (
	defaultTotalTimeout   = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	maxRedirects          = 10
	poolCap               = 100
)

// Response is what the façade returns for one request.
type Response struct {
	Status        int // 0 on transport failure
	FinalURL      string
	RedirectCount int
	Body          string
	ContentType   string
	RetryAfter    string
	ServerDate    string
	ETag          string
	LastModified  string
	ContentLength int64
	Err           error
	Class         Class
}

// Success reports status in [200,300) or 304.
func (r Response) Success() bool {
	return r.Status == 304 || (r.Status >= 200 && r.Status < 300)
}

// Pool holds cleared *http.Client handles keyed by a proxy signature so
// that requests sharing the same proxy configuration reuse connections.
// Acquire/Release are guarded by a single mutex; returns are LIFO and
// capped at poolCap per key, matching spec.md §4.C's pooling discipline.
type Pool struct {
	mu      chan struct{} // binary semaphore used as a mutex
	clients map[string][]*http.Client
}

// NewPool constructs an empty, ready-to-use Pool.
func NewPool() *Pool {
	p := &Pool{
		mu:      make(chan struct{}, 1),
		clients: make(map[string][]*http.Client),
	}
	p.mu <- struct{}{}
	return p
}

func (p *Pool) lock()   { <-p.mu }
func (p *Pool) unlock() { p.mu <- struct{}{} }

func (p *Pool) acquire(key string, connectTimeout time.Duration, proxy *crawlmodel.ProxyConfig) *http.Client {
	p.lock()
	defer p.unlock()

	stack := p.clients[key]
	if n := len(stack); n > 0 {
		c := stack[n-1]
		p.clients[key] = stack[:n-1]
		return c
	}
	return newClient(connectTimeout, proxy)
}

func (p *Pool) release(key string, c *http.Client) {
	p.lock()
	defer p.unlock()

	stack := p.clients[key]
	if len(stack) >= poolCap {
		return // discard; pool is at capacity
	}
	p.clients[key] = append(stack, c)
}

func newClient(connectTimeout time.Duration, proxy *crawlmodel.ProxyConfig) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:     dialer.DialContext,
		TLSClientConfig: &tls.Config{},
	}
	if proxy != nil && proxy.Endpoint != "" {
		if proxyURL, err := url.Parse(proxy.Endpoint); err == nil {
			if proxy.User != "" {
				proxyURL.User = url.UserPassword(proxy.User, proxy.Pass)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func proxyKey(proxy *crawlmodel.ProxyConfig) string {
	if proxy == nil {
		return ""
	}
	return proxy.Endpoint + "|" + proxy.User
}

// Fetch applies the request's URL, user agent, timeout, optional gzip
// accept-encoding, and optional conditional-request headers, and returns a
// Response. A transport failure yields Status == 0 with Err populated and
// classified; it is not itself a returned error — the caller always gets a
// Response to translate into a crawl row.
func Fetch(ctx context.Context, pool *Pool, req crawlmodel.CrawlRequest) Response {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTotalTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	key := proxyKey(req.Proxy)
	client := pool.acquire(key, defaultConnectTimeout, req.Proxy)
	defer pool.release(key, client)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return transportFailure(err)
	}

	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	} else {
		httpReq.Header.Set("User-Agent", "raito-crawler/1.0")
	}
	if req.AcceptGzip {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	if req.IfNoneMatch != "" {
		httpReq.Header.Set("If-None-Match", req.IfNoneMatch)
	}
	if req.IfModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.IfModified)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return transportFailure(err)
	}

	contentType := resp.Header.Get("Content-Type")
	body := string(bodyBytes)
	if urlutil.IsGzipped(bodyBytes) {
		if decoded := urlutil.DecompressGzip(bodyBytes); decoded != "" {
			body = decoded
		}
	}
	body = urlutil.DecodeBody([]byte(body), contentType)

	redirects := 0
	if resp.Request != nil && resp.Request.URL != nil {
		if resp.Request.URL.String() != req.URL {
			redirects = 1
		}
	}

	return Response{
		Status:        resp.StatusCode,
		FinalURL:      finalURL(resp, req.URL),
		RedirectCount: redirects,
		Body:          body,
		ContentType:   contentType,
		RetryAfter:    resp.Header.Get("Retry-After"),
		ServerDate:    urlutil.ParseHTTPDate(resp.Header.Get("Date")),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: parseContentLength(resp.Header.Get("Content-Length")),
	}
}

// FetchWithBackoff calls Fetch, making at most maxRetries attempts while
// the failure is a retryable transport failure, with Fibonacci backoff (internal/urlutil.FibBackoff,
// clamped to backoffCap) between attempts. It returns the last Response and
// the number of attempts made. Once maxRetries is exhausted on a still-failing
// retryable response, the returned Response's Class is overwritten with
// ClassMaxRetriesExceeded so callers can surface that taxonomy value
// directly. A maxRetries of 0 or 1 performs no retries.
func FetchWithBackoff(ctx context.Context, pool *Pool, req crawlmodel.CrawlRequest, maxRetries int, backoffCap time.Duration) (Response, int) {
	attempt := 1
	for {
		resp := Fetch(ctx, pool, req)
		if resp.Err == nil || !Retryable(resp.Class) || attempt >= maxRetries {
			if resp.Err != nil && Retryable(resp.Class) && attempt >= maxRetries && maxRetries > 1 {
				resp.Class = ClassMaxRetriesExceeded
			}
			return resp, attempt
		}

		wait := urlutil.FibBackoff(attempt, backoffCap)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resp, attempt
		case <-timer.C:
		}
		attempt++
	}
}

func finalURL(resp *http.Response, fallback string) string {
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return fallback
}

func parseContentLength(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func transportFailure(err error) Response {
	class := Classify(0, err.Error())
	return Response{Status: 0, Err: err, Class: class}
}
