// Package claude implements the Claude provider's request preparation:
// OAuth auth attachment, CLI fingerprint overlay, system prompt injection,
// cache-control budget enforcement, and metadata scrubbing (spec.md §4.4.1).
package claude

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/pkg/types"
)

// InjectionMode selects how much of the captured system prompt the
// preparer prepends to an outgoing request.
type InjectionMode string

const (
	// InjectionNone prepends nothing.
	InjectionNone InjectionMode = "none"
	// InjectionMinimal prepends only the first captured block.
	InjectionMinimal InjectionMode = "minimal"
	// InjectionFull prepends every captured block.
	InjectionFull InjectionMode = "full"
)

// DefaultAnthropicVersion is the API version header every request carries
// unless the caller's own payload already set one upstream of the adapter.
const DefaultAnthropicVersion = "2023-06-01"

// TokenManager is the subset of oauth.Manager the preparer needs.
type TokenManager interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// FingerprintSource supplies the captured CLI fingerprint, if one has been
// captured yet.
type FingerprintSource interface {
	Current() (Fingerprint, bool)
}

// Preparer implements providerhttp.Preparer for the Claude REST upstream.
type Preparer struct {
	Auth        TokenManager
	Fingerprint FingerprintSource
	Injection   InjectionMode
	BaseURL     string
}

// NewPreparer constructs a Preparer with InjectionFull as the default mode,
// matching the real CLI's own behaviour of always sending its full system
// prompt.
func NewPreparer(auth TokenManager, fp FingerprintSource, baseURL string) *Preparer {
	return &Preparer{
		Auth:        auth,
		Fingerprint: fp,
		Injection:   InjectionFull,
		BaseURL:     baseURL,
	}
}

// Prepare attaches bearer auth, overlays the captured fingerprint's
// non-sensitive headers, injects the captured system prompt, enforces the
// cache-control budget, and scrubs ccproxy's own injection markers before
// the payload leaves the process.
func (p *Preparer) Prepare(ctx context.Context, body []byte, headers http.Header) ([]byte, http.Header, error) {
	token, err := p.Auth.GetAccessToken(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("claude: get access token: %w", err)
	}

	out := headers.Clone()
	if out == nil {
		out = make(http.Header)
	}

	if fp, ok := p.Fingerprint.Current(); ok {
		for k, v := range fp.Headers {
			lk := http.CanonicalHeaderKey(k)
			if lk == "Authorization" || lk == "X-Api-Key" {
				continue
			}
			if out.Get(k) == "" {
				out.Set(k, v)
			}
		}
	}

	out.Set("Authorization", "Bearer "+token)
	out.Set("Content-Type", "application/json")
	if out.Get("anthropic-version") == "" {
		out.Set("anthropic-version", DefaultAnthropicVersion)
	}

	body, err = p.injectSystemPrompt(body)
	if err != nil {
		return nil, nil, fmt.Errorf("claude: inject system prompt: %w", err)
	}

	body, err = LimitCacheControlBlocks(body)
	if err != nil {
		return nil, nil, fmt.Errorf("claude: limit cache control blocks: %w", err)
	}

	body, err = ScrubInjectedMetadata(body)
	if err != nil {
		return nil, nil, fmt.Errorf("claude: scrub metadata: %w", err)
	}

	return body, out, nil
}

// TargetURL returns the absolute Claude REST endpoint for r.
func (p *Preparer) TargetURL(_ context.Context, r *http.Request) (string, error) {
	return p.BaseURL + "/v1/messages", nil
}

// injectSystemPrompt prepends the captured system-prompt blocks ahead of
// whatever the request already carries, tagging each injected block so the
// cache-control limiter always retains its marker and the metadata
// scrubber always strips the tag again before the payload leaves ccproxy.
func (p *Preparer) injectSystemPrompt(body []byte) ([]byte, error) {
	if p.Injection == InjectionNone || p.Fingerprint == nil {
		return body, nil
	}
	fp, ok := p.Fingerprint.Current()
	if !ok || len(fp.System) == 0 {
		return body, nil
	}

	var req types.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	injected := fp.System
	if p.Injection == InjectionMinimal {
		injected = fp.System[:1]
	}

	tagged := make([]types.Block, len(injected))
	for i, b := range injected {
		b.Injected = true
		tagged[i] = b
	}

	existing, err := types.BlocksFromAnthropic(req.System)
	if err != nil {
		existing = nil
	}

	merged := append(append([]types.Block{}, tagged...), existing...)
	encoded, err := types.ToAnthropicBlocks(merged)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	req.System = raw

	return json.Marshal(req)
}
