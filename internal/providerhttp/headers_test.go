package providerhttp

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterRequestHeadersDropsHopByHopAndClientAuth(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer client-token")
	h.Set("X-Api-Key", "client-key")
	h.Set("X-Request-Id", "abc")
	h.Set("Connection", "keep-alive")
	h.Set("Content-Type", "application/json")

	out := FilterRequestHeaders(h)

	assert.Empty(t, out.Get("Authorization"))
	assert.Empty(t, out.Get("X-Api-Key"))
	assert.Empty(t, out.Get("X-Request-Id"))
	assert.Empty(t, out.Get("Connection"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))

	// original untouched
	assert.Equal(t, "Bearer client-token", h.Get("Authorization"))
}

func TestFilterResponseHeadersDropsHopByHopOnly(t *testing.T) {
	h := http.Header{}
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Type", "application/json")

	out := FilterResponseHeaders(h)
	assert.Empty(t, out.Get("Transfer-Encoding"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}
