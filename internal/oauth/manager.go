// Package oauth defines the shared token-manager contract every provider
// implements identically (spec.md §4.5): load/save credentials, expiry
// checks, refresh-on-use access-token retrieval, and profile derivation,
// with an at-most-one-concurrent-refresh guarantee per manager. The
// per-provider flows (device-code for Claude/Copilot, PKCE for Codex) live
// in the claude, codex, and copilot subpackages; this package holds the
// pieces common to all three.
package oauth

import (
	"context"
	"sync"
	"time"
)

// Profile is the account information a manager can derive from its stored
// credentials, either from JWT claims (Codex) or from a provider API
// (Copilot's user endpoint), cached for the manager's process lifetime and
// invalidated on every successful refresh.
type Profile struct {
	Email            string
	AccountID        string
	Plan             string
	SubscriptionType string
	Scopes           []string
}

// Manager is the identical contract every provider's token manager
// satisfies.
type Manager interface {
	// GetAccessToken returns the current access token, refreshing first if
	// the credential is expired and refreshable; if not refreshable it
	// returns the stored value unchanged and lets the upstream reject it.
	GetAccessToken(ctx context.Context) (string, error)
	// GetAccessTokenWithRefresh is GetAccessToken's stricter sibling: it
	// returns an error on any refresh failure instead of a stale token.
	GetAccessTokenWithRefresh(ctx context.Context) (string, error)
	// Refresh forces a token refresh, serialized so concurrent callers
	// share one in-flight refresh's outcome.
	Refresh(ctx context.Context) error
	// IsExpired reports whether the loaded credential needs a refresh.
	IsExpired() bool
	// Profile derives account info, using the process-lifetime cache
	// unless refresh has invalidated it.
	Profile(ctx context.Context) (Profile, error)
	// ProfileQuick returns the cached profile without deriving it fresh,
	// or the zero Profile if nothing has been derived yet.
	ProfileQuick() (Profile, bool)
}

// RefreshFunc performs the provider-specific refresh-token HTTP exchange.
type RefreshFunc func(ctx context.Context) error

// SingleFlightRefresher collapses concurrent Refresh calls on one manager
// into exactly one in-flight refresh HTTP round trip: callers that arrive
// while a refresh is already running never invoke fn themselves, they wait
// on the leader's own call and share its result (spec.md §8 — "the refresh
// endpoint is called exactly once"). There's no golang.org/x/sync/singleflight
// in the example pack's dependency set, so this is hand-rolled on top of
// the plain sync.Mutex idiom the pack already uses for shared mutable state
// (e.g. the router's stats-map mutex).
type SingleFlightRefresher struct {
	mu       sync.Mutex
	fn       RefreshFunc
	inFlight *refreshCall
	lastAt   time.Time
}

// refreshCall is the single in-flight (or just-completed) execution of fn
// that every concurrent caller waits on.
type refreshCall struct {
	done chan struct{}
	err  error
}

// NewSingleFlightRefresher wraps fn so concurrent Do calls collapse into a
// single execution.
func NewSingleFlightRefresher(fn RefreshFunc) *SingleFlightRefresher {
	return &SingleFlightRefresher{fn: fn}
}

// Do runs the wrapped refresh function, or waits for and returns the result
// of a refresh already in flight without invoking fn a second time. Refresh
// is deliberately not context-cancellable per request: once started it
// always runs to completion so other waiters benefit, even if the caller
// that triggered it disconnects.
func (r *SingleFlightRefresher) Do(ctx context.Context) error {
	r.mu.Lock()
	if r.inFlight != nil {
		call := r.inFlight
		r.mu.Unlock()
		<-call.done
		return call.err
	}

	call := &refreshCall{done: make(chan struct{})}
	r.inFlight = call
	r.mu.Unlock()

	call.err = r.fn(context.WithoutCancel(ctx))

	r.mu.Lock()
	r.inFlight = nil
	r.lastAt = time.Now()
	r.mu.Unlock()

	close(call.done)
	return call.err
}
