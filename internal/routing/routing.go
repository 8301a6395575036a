// Package routing resolves an inbound HTTP request to the public_id of
// the tunnel that should serve it, per spec.md §4.1. Two resolution
// strategies are supported: subdomain-based (the primary form) and a
// legacy path-prefixed form kept for compatibility with older clients.
package routing

import "strings"

// Resolution describes how a request was mapped to a tunnel.
type Resolution struct {
	// PublicID is the resolved tunnel handle, empty if the request
	// targets the base domain rather than any tunnel.
	PublicID string
	// Path is the request path the tunnel should see: unchanged for
	// subdomain routing, with the leading /<public_id> segment
	// stripped for legacy path routing.
	Path string
}

// ResolveHost extracts a public_id from a Host header against
// baseDomain, e.g. "abc123xy.wormhole.app" with base "wormhole.app"
// yields "abc123xy". A bare base domain, or a host that isn't a direct
// subdomain of it, yields an empty PublicID so the caller falls through
// to the base-domain handlers.
func ResolveHost(host, baseDomain string) Resolution {
	hostWithoutPort, _, _ := strings.Cut(host, ":")

	if hostWithoutPort == "" || baseDomain == "" || hostWithoutPort == baseDomain {
		return Resolution{}
	}

	suffix := "." + baseDomain
	if !strings.HasSuffix(hostWithoutPort, suffix) {
		return Resolution{}
	}

	publicID := strings.TrimSuffix(hostWithoutPort, suffix)
	if publicID == "" || strings.Contains(publicID, ".") {
		// a further subdomain level (foo.bar.base.com) is not a tunnel label.
		return Resolution{}
	}
	return Resolution{PublicID: publicID}
}

// ResolvePath implements the legacy /<public_id>/<rest> routing form:
// the first path segment names the tunnel and the remainder becomes
// the path forwarded to it. An empty or missing first segment yields
// an empty PublicID.
func ResolvePath(requestPath string) Resolution {
	trimmed := strings.TrimPrefix(requestPath, "/")
	if trimmed == "" {
		return Resolution{}
	}

	publicID, rest, found := strings.Cut(trimmed, "/")
	if publicID == "" {
		return Resolution{}
	}

	path := "/"
	if found {
		path = "/" + rest
	}
	return Resolution{PublicID: publicID, Path: path}
}

// Resolve picks host-based or path-based routing per spec.md §4.1:
// "selection between host-based and path-based is a deployment config
// choice", not a per-request fallback. An empty baseDomain means
// host-based routing is disabled (spec.md §6: empty or "localhost"),
// so every request is resolved via the legacy path-based scheme.
func Resolve(host, requestPath, baseDomain string) Resolution {
	if baseDomain == "" {
		return ResolvePath(requestPath)
	}
	r := ResolveHost(host, baseDomain)
	r.Path = requestPath
	return r
}
