// Package copilot implements the Copilot provider's request preparation:
// two-stage auth (the token manager's Copilot service token), configured
// editor/plugin header injection, and response normalisation across both
// the Chat Completions and Responses shapes (spec.md §4.4.3).
package copilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	copilotoauth "github.com/ccproxy/ccproxy/internal/oauth/copilot"
	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
)

// TokenManager is the subset of oauth.Manager the preparer needs. Its
// GetAccessToken returns the Copilot *service* token (exchanged from the
// outer GitHub OAuth token), not the OAuth token itself.
type TokenManager interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// DefaultHeaders are the configured editor/plugin identification strings
// Copilot's own clients send on every request (spec.md §4.4.3 "Header
// injection"). Operators override these via Config.Headers.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Editor-Version":        "vscode/1.95.0",
		"Editor-Plugin-Version": "copilot-chat/0.23.0",
		"Copilot-Integration-Id": "vscode-chat",
		"User-Agent":            "GitHubCopilotChat/0.23.0",
	}
}

// Preparer implements providerhttp.Preparer for the Copilot upstream.
type Preparer struct {
	Auth    TokenManager
	Headers map[string]string
	BaseURL string
}

// NewPreparer constructs a Copilot Preparer. A nil headers map falls back
// to DefaultHeaders.
func NewPreparer(auth TokenManager, headers map[string]string, baseURL string) *Preparer {
	if headers == nil {
		headers = DefaultHeaders()
	}
	return &Preparer{Auth: auth, Headers: headers, BaseURL: baseURL}
}

// Prepare attaches the Copilot service-token bearer auth, the configured
// editor/plugin headers, and a fresh x-request-id.
func (p *Preparer) Prepare(ctx context.Context, body []byte, headers http.Header) ([]byte, http.Header, error) {
	token, err := p.Auth.GetAccessToken(ctx)
	if err != nil {
		if errors.Is(err, copilotoauth.ErrReauthenticationRequired) {
			return nil, nil, ccerrors.NewAuthenticationError("copilot", "", "re-authentication required: run the copilot login flow again")
		}
		return nil, nil, fmt.Errorf("copilot: get access token: %w", err)
	}

	out := headers.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set("Authorization", "Bearer "+token)
	out.Set("Content-Type", "application/json")
	out.Set("X-Request-Id", uuid.NewString())
	for k, v := range p.Headers {
		out.Set(k, v)
	}

	return body, out, nil
}

// TargetURL returns the absolute Copilot chat completions endpoint.
func (p *Preparer) TargetURL(_ context.Context, _ *http.Request) (string, error) {
	return p.BaseURL + "/chat/completions", nil
}

// PostProcessResponse implements providerhttp.ResponsePostProcessor: it
// normalises the upstream body (patching a missing `created` timestamp on
// chat-completion bodies, or rebuilding Responses-API fields when the body
// looks like one), falling back to the unmodified body whenever
// normalizeResponse returns an error (spec.md §9 — preserve the fallback so
// partially-valid provider responses still reach clients). The rebuilt
// payload is not validated against a schema: whatever normalizeResponse
// returns without error is passed on as is.
func (p *Preparer) PostProcessResponse(body []byte) ([]byte, error) {
	normalized, err := normalizeResponse(body)
	if err != nil {
		return body, nil //nolint:nilerr // fallback-to-original is intentional, see spec.md §9
	}
	return normalized, nil
}

var _ interface {
	Prepare(ctx context.Context, body []byte, headers http.Header) ([]byte, http.Header, error)
	TargetURL(ctx context.Context, r *http.Request) (string, error)
} = (*Preparer)(nil)
