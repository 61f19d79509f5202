// Package format implements the format chain: the registry of adapters
// that translate request/response payloads between wire dialects, and the
// chain-walking logic that composes adapters for a multi-hop route.
package format

import (
	"fmt"

	json "github.com/goccy/go-json"

	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
)

// Dialect names a wire representation of a chat/completion request or
// response.
type Dialect string

const (
	DialectOpenAIChatCompletions Dialect = "openai.chat_completions"
	DialectOpenAIResponses      Dialect = "openai.responses"
	DialectAnthropicMessages     Dialect = "anthropic.messages"
)

// Adapter translates between two adjacent dialects in a format chain.
// Every operation is a total function over decoded JSON: it returns a new
// payload rather than mutating its input, and never persists state between
// calls (spec.md §3 "Format adapter").
type Adapter interface {
	// ConvertRequest maps a request body in the adapter's "from" dialect to
	// its "to" dialect.
	ConvertRequest(body json.RawMessage) (json.RawMessage, error)
	// ConvertResponse maps a response body in the adapter's "from" dialect
	// to its "to" dialect. When an adapter is registered under a reversed
	// key for the response-stage traversal, "from" there means "the
	// upstream's dialect" and "to" means "the client's dialect".
	ConvertResponse(body json.RawMessage) (json.RawMessage, error)
	// ConvertError maps an upstream error body the same way ConvertResponse
	// does, for upstream status codes >= 400.
	ConvertError(statusCode int, body json.RawMessage) (json.RawMessage, error)
}

// pairKey identifies one (from, to) registry entry.
type pairKey struct {
	From Dialect
	To   Dialect
}

// ErrAdapterMissing is returned when no adapter is registered for a given
// (from, to) pair. RequestStage wraps it as an AdapterForward error (400);
// ResponseStage wraps it as an AdapterReverse error (502).
type ErrAdapterMissing struct {
	From Dialect
	To   Dialect
}

func (e *ErrAdapterMissing) Error() string {
	return fmt.Sprintf("format: no adapter registered for %s -> %s", e.From, e.To)
}

// Registry is a mapping (from, to) -> Adapter. It is built once at startup
// and read concurrently thereafter; Register is not safe to call after the
// registry is handed to request-serving goroutines.
type Registry struct {
	adapters map[pairKey]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[pairKey]Adapter)}
}

// Register stores adapter under the (from, to) key. A later call with the
// same key overwrites the earlier one.
func (r *Registry) Register(from, to Dialect, adapter Adapter) {
	r.adapters[pairKey{From: from, To: to}] = adapter
}

// Get looks up the adapter for (from, to), or returns ErrAdapterMissing.
func (r *Registry) Get(from, to Dialect) (Adapter, error) {
	a, ok := r.adapters[pairKey{From: from, To: to}]
	if !ok {
		return nil, &ErrAdapterMissing{From: from, To: to}
	}
	return a, nil
}

// Chain is an ordered list of dialects describing one route's translation
// path, e.g. [openai.chat_completions, anthropic.messages] for the
// OpenAI-shaped Claude route.
type Chain []Dialect

// RequestStage walks the chain left to right, applying ConvertRequest at
// each hop. A single-element chain (no translation needed) returns body
// unchanged. Adapter failures are wrapped as AdapterForward errors (400).
func (r *Registry) RequestStage(chain Chain, provider, model string, body json.RawMessage) (json.RawMessage, error) {
	if len(chain) < 2 {
		return body, nil
	}

	cur := body
	for i := 0; i < len(chain)-1; i++ {
		adapter, err := r.Get(chain[i], chain[i+1])
		if err != nil {
			return nil, ccerrors.NewAdapterForwardError(provider, model, err)
		}
		next, err := adapter.ConvertRequest(cur)
		if err != nil {
			return nil, ccerrors.NewAdapterForwardError(provider, model, err)
		}
		cur = next
	}
	return cur, nil
}

// ResponseStage walks the chain right to left, looking up the *reversed*
// key (chain[i+1], chain[i]) at each hop and applying ConvertResponse (or
// ConvertError, when statusCode >= 400). Failures are wrapped as
// AdapterReverse errors (502).
func (r *Registry) ResponseStage(chain Chain, provider, model string, statusCode int, body json.RawMessage) (json.RawMessage, error) {
	if len(chain) < 2 {
		return body, nil
	}

	cur := body
	for i := len(chain) - 2; i >= 0; i-- {
		adapter, err := r.Get(chain[i+1], chain[i])
		if err != nil {
			return nil, ccerrors.NewAdapterReverseError(provider, model, err)
		}

		var next json.RawMessage
		if statusCode >= 400 {
			next, err = adapter.ConvertError(statusCode, cur)
		} else {
			next, err = adapter.ConvertResponse(cur)
		}
		if err != nil {
			return nil, ccerrors.NewAdapterReverseError(provider, model, err)
		}
		cur = next
	}
	return cur, nil
}

// ComposeFromChain returns a single synthetic Adapter equivalent to walking
// the whole chain forward (for ConvertRequest) or backward (for
// ConvertResponse/ConvertError), so callers that only care about the
// endpoints don't need to hold the chain themselves.
func (r *Registry) ComposeFromChain(chain Chain, provider, model string) Adapter {
	return &composedAdapter{registry: r, chain: chain, provider: provider, model: model}
}

type composedAdapter struct {
	registry *Registry
	chain    Chain
	provider string
	model    string
}

func (c *composedAdapter) ConvertRequest(body json.RawMessage) (json.RawMessage, error) {
	return c.registry.RequestStage(c.chain, c.provider, c.model, body)
}

func (c *composedAdapter) ConvertResponse(body json.RawMessage) (json.RawMessage, error) {
	return c.registry.ResponseStage(c.chain, c.provider, c.model, 0, body)
}

func (c *composedAdapter) ConvertError(statusCode int, body json.RawMessage) (json.RawMessage, error) {
	return c.registry.ResponseStage(c.chain, c.provider, c.model, statusCode, body)
}
