// Package secretsutil defines the consuming interface for the host's
// secret manager (spec.md §6: a per-URL-scoped bearer_token,
// extra_http_headers, and proxy credential overrides) plus a static,
// config-backed default implementation. The teacher's internal/config
// holds secrets (OIDCAuthConfig, AnthropicConfig) as plain fields without
// inventing a secret-manager abstraction, because it only ever had one
// tenant of secrets; this spec explicitly names a host-provided,
// per-URL-scoped lookup, so this package adds the seam the teacher never
// needed.
package secretsutil

import "raito/internal/crawlmodel"

// Scope is the lookup key a Provider resolves secrets for: the URL about
// to be fetched. Implementations typically match by hostname or path
// prefix.
type Scope struct {
	URL string
}

// Secrets is what a Provider returns for a Scope: a bearer token folded
// into an Authorization header, extra headers merged into the request,
// and an optional proxy override.
type Secrets struct {
	BearerToken       string
	ExtraHTTPHeaders  map[string]string
	Proxy             *crawlmodel.ProxyConfig
}

// Provider resolves secrets for a URL scope. Implementations must be safe
// for concurrent use; the crawl and per-row operators call it once per
// request.
type Provider interface {
	Lookup(scope Scope) Secrets
}

// StaticProvider returns the same Secrets for every scope, the default
// implementation for deployments with one set of process-wide
// credentials rather than a per-tenant secret manager.
type StaticProvider struct {
	secrets Secrets
}

// NewStaticProvider constructs a StaticProvider that always returns
// secrets.
func NewStaticProvider(secrets Secrets) *StaticProvider {
	return &StaticProvider{secrets: secrets}
}

// Lookup ignores scope and returns the configured secrets unconditionally.
func (p *StaticProvider) Lookup(scope Scope) Secrets {
	return p.secrets
}

// ApplyTo merges secrets into req: a bearer token is folded into the
// Authorization header (only if req does not already carry one),
// extra headers are merged (request-specific headers win), and a proxy
// override replaces req.Proxy entirely when present.
func ApplyTo(req crawlmodel.CrawlRequest, secrets Secrets) crawlmodel.CrawlRequest {
	if secrets.BearerToken != "" {
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		if _, exists := req.Headers["Authorization"]; !exists {
			req.Headers["Authorization"] = "Bearer " + secrets.BearerToken
		}
	}
	if len(secrets.ExtraHTTPHeaders) > 0 {
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		for k, v := range secrets.ExtraHTTPHeaders {
			if _, exists := req.Headers[k]; !exists {
				req.Headers[k] = v
			}
		}
	}
	if secrets.Proxy != nil {
		req.Proxy = secrets.Proxy
	}
	return req
}
