package providerhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/format"
	"github.com/ccproxy/ccproxy/internal/hooks"
	"github.com/ccproxy/ccproxy/internal/streaming"
	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
)

// DefaultDispatchTimeout is the per-request upstream timeout for the
// non-streaming dispatch step (spec.md §4.3 state 5).
const DefaultDispatchTimeout = 120 * time.Second

// Preparer is the provider-specific "provider prepare" virtual method: it
// attaches authentication, sets Content-Type, applies payload mutations,
// and returns the final body/headers to send upstream.
type Preparer interface {
	Prepare(ctx context.Context, body []byte, headers http.Header) ([]byte, http.Header, error)
	// TargetURL returns the absolute upstream URL for this request.
	TargetURL(ctx context.Context, r *http.Request) (string, error)
}

// ForcesUpstreamStreaming is implemented by providers whose upstream only
// accepts streaming responses (Codex): the base adapter always dispatches
// with stream:true upstream and falls back to the buffered pathway when
// the client itself did not ask for streaming.
type ForcesUpstreamStreaming interface {
	ForcesUpstreamStreaming() bool
}

// ResponsePostProcessor lets a provider rewrite the converted response
// body before it reaches the client (e.g. Copilot's normalization, which
// falls back to the original body on failure).
type ResponsePostProcessor interface {
	PostProcessResponse(body []byte) ([]byte, error)
}

// Adapter is the per-request state machine shared by every provider.
type Adapter struct {
	Provider string
	Model    func(body []byte) string

	Pool     *connpool.Pool
	Format   *format.Registry
	Hooks    *hooks.Bus
	Stream   *streaming.Handler
	Preparer Preparer

	// Chain is this route's format chain; a single-element chain means no
	// translation is needed.
	Chain format.Chain

	DispatchTimeout time.Duration

	// NewCollector builds a fresh provider-specific metrics collector for
	// one request's streaming.Request (spec.md §4.6.1). Nil disables cost
	// tracking for this route.
	NewCollector func() streaming.Collector
}

// ServeHTTP implements the state machine documented in spec.md §4.3:
// receive -> stream-decision -> [streaming-pipeline | request-convert ->
// provider-prepare -> dispatch -> response-process -> response-convert].
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, ccerrors.NewInvalidRequestError(a.Provider, "", "failed to read request body"))
		return
	}
	defer r.Body.Close()

	var probe struct {
		Stream bool `json:"stream"`
	}
	_ = json.Unmarshal(rawBody, &probe)
	model := ""
	if a.Model != nil {
		model = a.Model(rawBody)
	}

	a.publish(ctx, hooks.EventRequestReceived, model, rawBody)

	clientWantsStream := streaming.ShouldStreamResponse(r.Header, probe.Stream)
	forceUpstreamStream := false
	if fs, ok := a.Preparer.(ForcesUpstreamStreaming); ok {
		forceUpstreamStream = fs.ForcesUpstreamStreaming()
	}

	convertedBody, cerr := a.Format.RequestStage(a.Chain, a.Provider, model, rawBody)
	if cerr != nil {
		a.writeLLMError(w, cerr)
		return
	}
	a.publish(ctx, hooks.EventRequestConverted, model, convertedBody)

	reqHeaders := FilterRequestHeaders(r.Header)
	finalBody, finalHeaders, perr := a.Preparer.Prepare(ctx, convertedBody, reqHeaders)
	if perr != nil {
		// A provider's Preparer (e.g. Copilot's re-authentication-required
		// case) may raise a typed LLMError of its own; that carries its own
		// status/kind and must not be folded into a generic 400.
		if le, ok := perr.(*ccerrors.LLMError); ok {
			a.writeError(w, le)
			return
		}
		a.writeError(w, ccerrors.NewAdapterForwardError(a.Provider, model, perr))
		return
	}
	a.publish(ctx, hooks.EventProviderPrepared, model, finalBody)

	targetURL, uerr := a.Preparer.TargetURL(ctx, r)
	if uerr != nil {
		a.writeError(w, ccerrors.NewInternalError(a.Provider, model, uerr.Error()))
		return
	}

	client, dispatchCtx, cancel, derr := a.dispatchClient(ctx, targetURL, forceUpstreamStream || clientWantsStream)
	if derr != nil {
		a.writeError(w, ccerrors.NewInternalError(a.Provider, model, derr.Error()))
		return
	}
	defer cancel()
	a.publish(dispatchCtx, hooks.EventUpstreamDispatch, model, nil)

	streamReq := streaming.Request{
		Method:   r.Method,
		URL:      targetURL,
		Headers:  finalHeaders,
		Body:     finalBody,
		Client:   client,
		Chain:    a.Chain,
		Provider: a.Provider,
		Model:    model,
	}
	if a.NewCollector != nil {
		streamReq.Collector = a.NewCollector()
	}

	switch {
	case forceUpstreamStream && !clientWantsStream:
		status, body, err := a.Stream.HandleBufferedStreamingRequest(dispatchCtx, streamReq)
		if err != nil {
			a.writeError(w, ccerrors.NewUpstreamTransportError(a.Provider, model, err))
			return
		}
		a.writeResponse(w, status, body)
	case clientWantsStream:
		if err := a.Stream.HandleStreamingRequest(dispatchCtx, streamReq, w); err != nil {
			// Headers may already be sent; best effort is to stop here.
			return
		}
	default:
		a.dispatchSync(dispatchCtx, w, streamReq, model)
	}
}

func (a *Adapter) dispatchSync(ctx context.Context, w http.ResponseWriter, req streaming.Request, model string) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		a.writeError(w, ccerrors.NewInternalError(a.Provider, model, err.Error()))
		return
	}
	httpReq.Header = req.Headers

	resp, err := req.Client.Do(httpReq)
	if err != nil {
		a.writeError(w, ccerrors.NewUpstreamTransportError(a.Provider, model, err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.writeError(w, ccerrors.NewUpstreamTransportError(a.Provider, model, err))
		return
	}

	converted, cerr := a.Format.ResponseStage(a.Chain, a.Provider, model, resp.StatusCode, body)
	if cerr != nil {
		a.writeLLMError(w, cerr)
		return
	}

	if pp, ok := a.Preparer.(ResponsePostProcessor); ok {
		if post, err := pp.PostProcessResponse(converted); err == nil {
			converted = post
		}
		// On failure, the original converted body is kept unchanged
		// (spec.md §9, Copilot normalization fallback behaviour).
	}

	a.publish(ctx, hooks.EventResponseConverted, model, converted)

	for k, vv := range FilterResponseHeaders(resp.Header) {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	a.writeResponse(w, resp.StatusCode, converted)
	a.publish(ctx, hooks.EventRequestComplete, model, nil)
}

func (a *Adapter) dispatchClient(ctx context.Context, targetURL string, streamingCall bool) (*http.Client, context.Context, context.CancelFunc, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse target url: %w", err)
	}

	key := connpool.Key{BaseURL: u.Scheme + "://" + u.Host}

	var client *http.Client
	if streamingCall {
		client, err = a.Pool.GetStreamingClient(key)
	} else {
		client, err = a.Pool.GetClient(key)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	timeout := a.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if streamingCall {
		// Streaming timeout only bounds the header phase; the body is
		// unbounded per spec.md §5, so we don't additionally wrap ctx here
		// beyond what the pooled client's own Timeout enforces.
		dctx, cancel := context.WithCancel(ctx)
		return client, dctx, cancel, nil
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	return client, dctx, cancel, nil
}

func (a *Adapter) writeResponse(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (a *Adapter) writeError(w http.ResponseWriter, err *ccerrors.LLMError) {
	_ = ccerrors.WriteJSON(w, err)
}

func (a *Adapter) writeLLMError(w http.ResponseWriter, err error) {
	if le, ok := err.(*ccerrors.LLMError); ok {
		a.writeError(w, le)
		return
	}
	a.writeError(w, ccerrors.NewInternalError(a.Provider, "", err.Error()))
}

func (a *Adapter) publish(ctx context.Context, event, model string, data any) {
	if a.Hooks == nil {
		return
	}
	a.Hooks.Publish(ctx, hooks.Payload{
		Event:    event,
		Provider: a.Provider,
		Data:     data,
	})
	_ = model
}

// NewRequestID generates a fresh request identifier for contexts that
// don't already carry one (spec.md §4.3 state 1).
func NewRequestID() string {
	return uuid.NewString()
}
