// Package connpool provides a keyed cache of HTTP clients, one per
// upstream target, so every provider adapter shares connection reuse and
// timeout configuration instead of constructing its own http.Client.
package connpool

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const (
	// DefaultPoolSize is the default max-keepalive-connections per client.
	DefaultPoolSize = 100

	// DefaultTimeout is the default non-streaming request timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultStreamTimeout is the default streaming request (header phase) timeout.
	DefaultStreamTimeout = 300 * time.Second

	// keepAliveExpiry is how long idle connections are kept warm.
	keepAliveExpiry = 30 * time.Second
)

// Key deterministically identifies one HTTP client configuration.
// Two calls with equal keys always share the same *http.Client.
type Key struct {
	BaseURL string
	Timeout time.Duration
	Proxy   string
	Verify  bool
}

// Config configures pool-wide defaults. Zero values fall back to package
// defaults.
type Config struct {
	PoolSize      int
	Timeout       time.Duration
	StreamTimeout time.Duration

	// RatePerSecond, if positive, caps outbound requests per client at a
	// steady rate via a local token bucket — a safety valve for the
	// gateway's own socket budget, not an enforcement of any upstream's
	// rate limit (spec.md §5 Non-goals). Zero disables limiting.
	RatePerSecond float64
	RateBurst     int
}

// Pool is a keyed cache of *http.Client. It is safe for concurrent use.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	clients map[Key]*http.Client
}

// New creates a connection pool with the given configuration.
func New(cfg Config) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = DefaultStreamTimeout
	}
	return &Pool{
		cfg:     cfg,
		clients: make(map[Key]*http.Client),
	}
}

// GetClient returns the client for key, building one on first use.
// Concurrent callers requesting the same key are deduplicated: only one
// client is ever constructed per key.
func (p *Pool) GetClient(key Key) (*http.Client, error) {
	return p.getOrCreate(key, p.cfg.Timeout)
}

// GetStreamingClient is like GetClient but keys on the pool's streaming
// timeout instead of the default one, so streaming and non-streaming
// calls to the same base URL get distinct (and independently tunable)
// clients.
func (p *Pool) GetStreamingClient(key Key) (*http.Client, error) {
	key.Timeout = p.cfg.StreamTimeout
	return p.getOrCreate(key, p.cfg.StreamTimeout)
}

func (p *Pool) getOrCreate(key Key, timeout time.Duration) (*http.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	c, err := p.buildClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("connpool: build client for %+v: %w", key, err)
	}
	p.clients[key] = c
	return c, nil
}

func (p *Pool) buildClient(timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        p.cfg.PoolSize * 2,
		MaxIdleConnsPerHost: p.cfg.PoolSize,
		MaxConnsPerHost:     p.cfg.PoolSize * 2,
		IdleConnTimeout:     keepAliveExpiry,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		// HTTP/2 is best-effort; fall back to net/http's built-in HTTP/2
		// negotiation on the same transport.
		transport.ForceAttemptHTTP2 = true
	}

	var rt http.RoundTripper = transport
	if p.cfg.RatePerSecond > 0 {
		burst := p.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		rt = &rateLimitedTransport{
			base:    transport,
			limiter: rate.NewLimiter(rate.Limit(p.cfg.RatePerSecond), burst),
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
		// The base adapter owns redirect handling; no implicit following.
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// rateLimitedTransport wraps an http.RoundTripper with a local token
// bucket (golang.org/x/time/rate), applied per pooled client (i.e. per
// upstream base URL): it throttles the gateway's own outbound rate, it
// never rejects a request on the client's behalf.
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("connpool: rate limiter wait: %w", err)
	}
	return t.base.RoundTrip(req)
}

// CloseAll closes every idle connection held by every pooled client, in
// parallel. It does not remove entries from the pool; a subsequent
// GetClient/GetStreamingClient call for an existing key still returns the
// same (now idle-drained) client.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := make([]*http.Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *http.Client) {
			defer wg.Done()
			rt := c.Transport
			if rl, ok := rt.(*rateLimitedTransport); ok {
				rt = rl.base
			}
			if t, ok := rt.(*http.Transport); ok {
				t.CloseIdleConnections()
			}
		}(c)
	}
	wg.Wait()
}

// Size reports how many distinct clients are currently cached.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
