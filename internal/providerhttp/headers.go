// Package providerhttp implements the base HTTP provider adapter: the
// per-request state machine every provider specializes (spec.md §4.3).
package providerhttp

import "net/http"

// hopByHop lists the headers stripped from both directions per spec.md
// §4.3: connection-management headers that must never be forwarded
// verbatim between hops.
var hopByHop = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Content-Encoding",
	"Connection",
	"Upgrade",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
}

// clientOnly lists headers that must never leak upstream even though
// they're not hop-by-hop: a client's own auth material and request-id.
var clientOnly = []string{
	"Authorization",
	"X-Api-Key",
	"X-Request-Id",
}

// FilterRequestHeaders returns a copy of h with hop-by-hop headers and any
// pre-existing client authorization/x-api-key/x-request-id removed, so the
// provider's own Prepare step starts from a clean slate.
func FilterRequestHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range hopByHop {
		out.Del(k)
	}
	for _, k := range clientOnly {
		out.Del(k)
	}
	return out
}

// FilterResponseHeaders returns a copy of h with hop-by-hop headers
// removed before the response is relayed to the client.
func FilterResponseHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range hopByHop {
		out.Del(k)
	}
	return out
}
