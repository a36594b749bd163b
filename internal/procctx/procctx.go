// Package procctx bundles the process-wide singletons the crawl pipeline
// needs -- the HTTP pool, the pipeline-limit registry, default
// crawler_* settings, a robots checker, and a secrets provider -- into one
// struct operators accept, per spec.md §9's "preferable design": own
// these as fields of a process context, falling back to a default
// process-scope instance when a field is not provided. This mirrors the
// teacher's own package-level default clients (e.g.
// scraper.NewHTTPScraper's embedded *http.Client), generalized to be
// swappable for tests.
package procctx

import (
	"time"

	"raito/internal/fetch"
	"raito/internal/pipelinelimit"
	"raito/internal/robotsutil"
	"raito/internal/secretsutil"
)

// Defaults holds the process-wide settings a host configures once
// (spec.md §6's "process-wide settings"), used whenever a per-call option
// is not given.
type Defaults struct {
	UserAgent     string
	DefaultDelay  time.Duration
	Timeout       time.Duration
	RespectRobots bool
	Proxy         *ProxyDefaults
}

// ProxyDefaults is the process-wide proxy configuration, overridable
// per-URL by secretsutil.Provider.
type ProxyDefaults struct {
	Endpoint string
	Username string
	Password string
}

// Context bundles everything an operator needs beyond its own per-call
// options. A nil *Context is valid everywhere it's accepted; operators
// fall back to the package-level Default.
type Context struct {
	Pool     *fetch.Pool
	Limits   *pipelinelimit.Registry
	Robots   *robotsutil.Checker
	Secrets  secretsutil.Provider
	Defaults Defaults
}

// defaultDefaults mirrors spec.md §4.C/§4.E's own fallback constants so a
// nil *Context behaves identically to an explicit zero-value one.
var defaultDefaults = Defaults{
	UserAgent:     "raito-crawler/1.0",
	DefaultDelay:  0,
	Timeout:       30 * time.Second,
	RespectRobots: false,
}

// Default is the process-scope context used when operators are
// constructed with a nil *Context.
var Default = &Context{
	Pool:     fetch.NewPool(),
	Limits:   pipelinelimit.Default,
	Robots:   robotsutil.Default,
	Secrets:  secretsutil.NewStaticProvider(secretsutil.Secrets{}),
	Defaults: defaultDefaults,
}

// Resolve returns Default for a nil c; otherwise it returns c, or a copy of
// c whose nil Pool, Limits, Robots and Secrets fields are taken from
// Default. Every operator constructor calls this once so the rest of the
// operator never has to nil-check.
func Resolve(c *Context) *Context {
	if c == nil {
		return Default
	}
	if c.Pool != nil && c.Limits != nil && c.Robots != nil && c.Secrets != nil {
		return c
	}
	r := *c
	if r.Pool == nil {
		r.Pool = Default.Pool
	}
	if r.Limits == nil {
		r.Limits = Default.Limits
	}
	if r.Robots == nil {
		r.Robots = Default.Robots
	}
	if r.Secrets == nil {
		r.Secrets = Default.Secrets
	}
	return &r
}
