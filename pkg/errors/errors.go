// Package errors defines the unified error shape used across the gateway
// pipeline. Every stage — adapters, providers, the streaming handler, OAuth
// managers — raises an *LLMError, and a single pair of encoders (WriteJSON,
// WriteAnthropicJSON) renders it onto the wire in the route's own dialect.
package errors

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// LLMError is a standardized error carrying everything the HTTP layer,
// logging, and metrics need: an HTTP status, a client-facing message, a
// Kind identifying which stage raised it, and the provider/model in play.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`

	// Param and Code populate the optional OpenAI-envelope fields when set
	// (e.g. Param="model" for an unsupported-model validation failure).
	Param string `json:"-"`
	Code  string `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Kind, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the HTTP status to answer the client with.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Kind identifies which pipeline stage raised an error, per the error
// handling table: it drives both the client-visible envelope's "type" field
// and whether the stage that produced it is allowed to retry locally.
type Kind string

const (
	// KindBadClientRequest covers JSON parse failures, schema mismatches,
	// and request-size limits. Never retried; always 400.
	KindBadClientRequest Kind = "invalid_request_error"
	// KindValidationCapability covers vision/function-calling/response-schema
	// capability checks the model card says the target model can't do.
	KindValidationCapability Kind = "unsupported_feature"
	// KindAuthMissing means no credentials exist and none can be obtained.
	KindAuthMissing Kind = "authentication_error"
	// KindAuthExpiredRecoverable means the token expired but a refresh
	// token is usable; the caller retries the request once after refresh.
	KindAuthExpiredRecoverable Kind = "authentication_expired_recoverable"
	// KindAuthExpiredFatal means refresh failed or no refresh token exists.
	KindAuthExpiredFatal Kind = "authentication_error"
	// KindUpstreamTransport covers network/DNS/TLS failures reaching the
	// upstream; never retried against the same request.
	KindUpstreamTransport Kind = "server_error"
	// KindUpstreamHTTP means the upstream answered with a body, which gets
	// converted via the reverse format chain's convert_error step.
	KindUpstreamHTTP Kind = "upstream_error"
	// KindAdapterErrorForward means request-stage conversion raised.
	KindAdapterErrorForward Kind = "invalid_request_error"
	// KindAdapterErrorReverse means response-stage conversion raised.
	KindAdapterErrorReverse Kind = "server_error"
	// KindStreamingInterrupted means the client disconnected mid-stream;
	// never surfaced as a response body, only as a closed connection.
	KindStreamingInterrupted Kind = "streaming_interrupted"
	// KindInternalInvariant means an assertion failed — a typed bug.
	KindInternalInvariant Kind = "server_error"
)

// Legacy aliases kept for call sites and tests written against the
// pre-expansion error-type names; they map onto the Kind taxonomy above.
const (
	TypeAuthentication     = KindAuthMissing
	TypeRateLimit          = Kind("rate_limit_error")
	TypeInvalidRequest     = KindBadClientRequest
	TypeNotFound           = Kind("not_found_error")
	TypeTimeout            = Kind("timeout_error")
	TypeServiceUnavailable = Kind("service_unavailable_error")
	TypeInternalError      = KindInternalInvariant
	TypeContextLength      = Kind("context_length_exceeded")
	TypeContentPolicy      = Kind("content_policy_violation")
)

func newError(status int, kind Kind, provider, model, message string, retryable bool) *LLMError {
	return &LLMError{
		StatusCode: status,
		Message:    message,
		Kind:       kind,
		Provider:   provider,
		Model:      model,
		Retryable:  retryable,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *LLMError {
	return newError(http.StatusUnauthorized, KindAuthMissing, provider, model, message, false)
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *LLMError {
	return newError(http.StatusTooManyRequests, TypeRateLimit, provider, model, message, true)
}

// NewInvalidRequestError creates a bad-client-request error (400).
func NewInvalidRequestError(provider, model, message string) *LLMError {
	return newError(http.StatusBadRequest, KindBadClientRequest, provider, model, message, false)
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, model, message string) *LLMError {
	return newError(http.StatusNotFound, TypeNotFound, provider, model, message, false)
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *LLMError {
	return newError(http.StatusRequestTimeout, TypeTimeout, provider, model, message, true)
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return newError(http.StatusServiceUnavailable, TypeServiceUnavailable, provider, model, message, true)
}

// NewInternalError creates an internal invariant error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return newError(http.StatusInternalServerError, KindInternalInvariant, provider, model, message, false)
}

// NewValidationCapabilityError creates a 400 for a model-card capability
// check failing (e.g. a vision block sent to a text-only model). param
// names the offending request field.
func NewValidationCapabilityError(provider, model, message, param string) *LLMError {
	e := newError(http.StatusBadRequest, KindValidationCapability, provider, model, message, false)
	e.Param = param
	return e
}

// NewAuthExpiredRecoverableError marks a token as expired but refreshable;
// callers retry the request once after a successful refresh. It never
// reaches the client — a successful refresh+retry replaces it.
func NewAuthExpiredRecoverableError(provider, model, message string) *LLMError {
	return newError(http.StatusUnauthorized, KindAuthExpiredRecoverable, provider, model, message, true)
}

// NewAuthExpiredFatalError creates a 401 for a refresh that failed or had no
// refresh token to use.
func NewAuthExpiredFatalError(provider, model, message string) *LLMError {
	return newError(http.StatusUnauthorized, KindAuthExpiredFatal, provider, model, message, false)
}

// NewUpstreamTransportError wraps a network/DNS/TLS failure reaching the
// upstream as a 502.
func NewUpstreamTransportError(provider, model string, cause error) *LLMError {
	return newError(http.StatusBadGateway, KindUpstreamTransport, provider, model, cause.Error(), false)
}

// NewUpstreamHTTPError wraps an upstream HTTP error response, preserving
// its original status code so the reverse format chain can convert the body
// while keeping the status the client sees.
func NewUpstreamHTTPError(provider, model string, statusCode int, message string) *LLMError {
	return newError(statusCode, KindUpstreamHTTP, provider, model, message, false)
}

// NewAdapterForwardError creates a 400 for a failed request-stage
// conversion.
func NewAdapterForwardError(provider, model string, cause error) *LLMError {
	return newError(http.StatusBadRequest, KindAdapterErrorForward, provider, model, cause.Error(), false)
}

// NewAdapterReverseError creates a 502 for a failed response-stage
// conversion.
func NewAdapterReverseError(provider, model string, cause error) *LLMError {
	return newError(http.StatusBadGateway, KindAdapterErrorReverse, provider, model, cause.Error(), false)
}

// NewStreamingInterruptedError marks a stream abandoned because the client
// disconnected; it is never written to the wire, only used internally to
// short-circuit the remaining pipeline.
func NewStreamingInterruptedError(provider, model string) *LLMError {
	return newError(0, KindStreamingInterrupted, provider, model, "client disconnected", false)
}

// IsCooldownRequired determines if a deployment should be cooled down based on error.
// Rate limits, auth errors, timeouts, and not found errors trigger cooldown.
// Other 4xx errors do not trigger cooldown as they are likely client errors.
func IsCooldownRequired(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case http.StatusTooManyRequests, // 429
			http.StatusUnauthorized,   // 401
			http.StatusRequestTimeout, // 408
			http.StatusNotFound:       // 404
			return true
		default:
			return false
		}
	}
	// All 5xx errors trigger cooldown
	return statusCode >= 500
}

// envelope is the OpenAI-convention error body:
// {"error": {"message", "type", "param?", "code?"}}.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Message string `json:"message"`
	Type    Kind   `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// WriteJSON renders err in the OpenAI error-envelope shape, the default for
// every route except Anthropic's native /v1/messages.
func WriteJSON(w http.ResponseWriter, err *LLMError) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatusCode())
	return json.NewEncoder(w).Encode(envelope{Error: envelopeBody{
		Message: err.Message,
		Type:    err.Kind,
		Param:   err.Param,
		Code:    err.Code,
	}})
}

// anthropicEnvelope is Anthropic's native error shape:
// {"type": "error", "error": {"type", "message"}}.
type anthropicEnvelope struct {
	Type  string            `json:"type"`
	Error anthropicErrBody  `json:"error"`
}

type anthropicErrBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicErrorType maps an internal Kind onto one of Anthropic's
// documented error type strings.
func anthropicErrorType(k Kind) string {
	switch k {
	case KindBadClientRequest: // same value as KindAdapterErrorForward
		return "invalid_request_error"
	case KindValidationCapability:
		return "invalid_request_error"
	case KindAuthMissing: // same value as KindAuthExpiredFatal
		return "authentication_error"
	case TypeRateLimit:
		return "rate_limit_error"
	case KindUpstreamHTTP:
		return "api_error"
	default:
		return "api_error"
	}
}

// WriteAnthropicJSON renders err in Anthropic's native error shape, used on
// /v1/messages after the reverse format chain has already run (or failed to
// run, in which case this is the fallback).
func WriteAnthropicJSON(w http.ResponseWriter, err *LLMError) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatusCode())
	return json.NewEncoder(w).Encode(anthropicEnvelope{
		Type: "error",
		Error: anthropicErrBody{
			Type:    anthropicErrorType(err.Kind),
			Message: err.Message,
		},
	})
}
