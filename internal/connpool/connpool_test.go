package connpool

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientResult struct {
	client *http.Client
	err    error
}

func TestGetClientDedupesOnConcurrentCreation(t *testing.T) {
	p := New(Config{})
	key := Key{BaseURL: "https://api.anthropic.com"}

	const n = 50
	var wg sync.WaitGroup
	results := make([]*clientResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.GetClient(key)
			results[i] = &clientResult{client: c, err: err}
		}(i)
	}
	wg.Wait()

	require.NoError(t, results[0].err)
	for _, r := range results {
		require.NoError(t, r.err)
		assert.Same(t, results[0].client, r.client)
	}
	assert.Equal(t, 1, p.Size())
}

func TestStreamingClientIsDistinctFromDefaultClient(t *testing.T) {
	p := New(Config{Timeout: 5 * time.Second, StreamTimeout: 10 * time.Second})
	key := Key{BaseURL: "https://chatgpt.com/backend-api"}

	def, err := p.GetClient(key)
	require.NoError(t, err)
	stream, err := p.GetStreamingClient(key)
	require.NoError(t, err)

	assert.NotSame(t, def, stream)
	assert.Equal(t, 5*time.Second, def.Timeout)
	assert.Equal(t, 10*time.Second, stream.Timeout)
	assert.Equal(t, 2, p.Size())
}

func TestCloseAllDoesNotPanicOnEmptyPool(t *testing.T) {
	p := New(Config{})
	p.CloseAll()
}

func TestGetClientWrapsTransportWhenRateConfigured(t *testing.T) {
	p := New(Config{RatePerSecond: 5, RateBurst: 1})
	c, err := p.GetClient(Key{BaseURL: "https://api.githubcopilot.com"})
	require.NoError(t, err)

	_, ok := c.Transport.(*rateLimitedTransport)
	assert.True(t, ok, "expected transport to be wrapped with a rate limiter")
}

func TestGetClientLeavesTransportUnwrappedByDefault(t *testing.T) {
	p := New(Config{})
	c, err := p.GetClient(Key{BaseURL: "https://api.anthropic.com"})
	require.NoError(t, err)

	_, wrapped := c.Transport.(*rateLimitedTransport)
	assert.False(t, wrapped, "expected no rate limiter wrapper when RatePerSecond is unset")
}
