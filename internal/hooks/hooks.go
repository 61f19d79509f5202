// Package hooks implements the fan-out event bus that every pipeline stage
// publishes to, so that observability concerns (metrics, tracing, logging)
// subscribe instead of being sprinkled through business logic.
package hooks

import (
	"context"
	"sync"
)

// Event names published across a request's lifecycle. Observers match on
// these strings rather than a closed enum so plugins can define their own.
const (
	EventRequestReceived  = "request.received"
	EventRequestConverted = "request.converted"
	EventProviderPrepared = "request.provider_prepared"
	EventUpstreamDispatch = "request.upstream_dispatch"
	EventResponseConverted = "response.converted"
	EventRequestComplete  = "request.complete"
	EventStreamStart      = "stream.start"
	EventStreamChunk      = "stream.chunk"
	EventStreamEnd        = "stream.end"
	EventTokenRefresh     = "oauth.token_refresh"
)

// Payload carries whatever data is relevant to the event; handlers type
// assert on the concrete shape they expect for a given event name.
type Payload struct {
	Event     string
	RequestID string
	Provider  string
	Route     string
	Data      any
}

// Handler observes one event. Handlers must not block significantly: they
// run inline on the publishing goroutine, with no bus lock held.
type Handler func(ctx context.Context, p Payload)

// Bus is a registry-wide, append-mostly fan-out of handlers per event
// name. Registration is serialized by a mutex and replaces the handler
// slice copy-on-write; Publish holds the same mutex only long enough to
// read the current slice, then invokes handlers with no lock held.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// New creates an empty hook bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On registers handler for event. Safe to call concurrently with Publish
// and with other On calls.
func (b *Bus) On(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.handlers[event]
	next := make([]Handler, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = h
	b.handlers[event] = next
}

// Publish invokes every handler registered for event, in registration
// order, synchronously on the calling goroutine. A panicking handler is
// recovered and does not affect sibling handlers or the caller.
func (b *Bus) Publish(ctx context.Context, p Payload) {
	b.mu.Lock()
	hs := b.handlers[p.Event]
	b.mu.Unlock()

	for _, h := range hs {
		invokeSafely(ctx, h, p)
	}
}

func invokeSafely(ctx context.Context, h Handler, p Payload) {
	defer func() {
		_ = recover()
	}()
	h(ctx, p)
}
