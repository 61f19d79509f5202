package codex

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ccproxy/ccproxy/internal/oauth"
)

// TokenManager is the subset of oauth.Manager the preparer needs.
type TokenManager interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// ProfileSource supplies the cached OAuth profile, used to derive the
// chatgpt-account-id header.
type ProfileSource interface {
	ProfileQuick() (oauth.Profile, bool)
}

// FingerprintSource supplies the captured mandatory system instruction.
type FingerprintSource interface {
	Current() (Fingerprint, bool)
}

// Preparer implements providerhttp.Preparer for the Codex (ChatGPT backend)
// upstream. It always forces stream:true, drops token-limit fields the
// upstream rejects, attaches session identity headers, and prepends the
// mandatory system instruction.
type Preparer struct {
	Auth        TokenManager
	Profile     ProfileSource
	Fingerprint FingerprintSource
	BaseURL     string
}

// NewPreparer constructs a Codex Preparer.
func NewPreparer(auth TokenManager, profile ProfileSource, fp FingerprintSource, baseURL string) *Preparer {
	return &Preparer{Auth: auth, Profile: profile, Fingerprint: fp, BaseURL: baseURL}
}

// ForcesUpstreamStreaming reports true: the Codex upstream only accepts
// streaming responses (spec.md §4.4.2), so the base adapter always
// dispatches with stream:true and falls back to the buffered pathway when
// the client itself did not ask for streaming.
func (p *Preparer) ForcesUpstreamStreaming() bool { return true }

// Prepare attaches bearer auth, session identity headers, forces the
// upstream's streaming contract, strips unsupported token-limit fields, and
// prepends the mandatory system instruction.
func (p *Preparer) Prepare(ctx context.Context, body []byte, headers http.Header) ([]byte, http.Header, error) {
	token, err := p.Auth.GetAccessToken(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("codex: get access token: %w", err)
	}

	out := headers.Clone()
	if out == nil {
		out = make(http.Header)
	}
	out.Set("Authorization", "Bearer "+token)
	out.Set("Content-Type", "application/json")

	if out.Get("session_id") == "" {
		out.Set("session_id", uuid.NewString())
	}
	if out.Get("conversation_id") == "" {
		out.Set("conversation_id", uuid.NewString())
	}
	if p.Profile != nil {
		if prof, ok := p.Profile.ProfileQuick(); ok && prof.AccountID != "" {
			out.Set("chatgpt-account-id", prof.AccountID)
		}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("codex: decode request body: %w", err)
	}

	streamTrue, _ := json.Marshal(true)
	storeFalse, _ := json.Marshal(false)
	payload["stream"] = streamTrue
	payload["store"] = storeFalse
	delete(payload, "max_output_tokens")
	delete(payload, "max_completion_tokens")

	if p.Fingerprint != nil {
		if fp, ok := p.Fingerprint.Current(); ok && fp.Instruction != "" {
			instruction := fp.Instruction
			if existingRaw, hasInstructions := payload["instructions"]; hasInstructions {
				var existing string
				if err := json.Unmarshal(existingRaw, &existing); err == nil && existing != "" {
					instruction = fp.Instruction + "\n\n" + existing
				}
			}
			encoded, err := json.Marshal(instruction)
			if err != nil {
				return nil, nil, fmt.Errorf("codex: encode mandatory instruction: %w", err)
			}
			payload["instructions"] = encoded
		}
	}

	newBody, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("codex: encode prepared body: %w", err)
	}

	return newBody, out, nil
}

// TargetURL returns the absolute Codex Responses endpoint.
func (p *Preparer) TargetURL(_ context.Context, _ *http.Request) (string, error) {
	return p.BaseURL + "/backend-api/codex/responses", nil
}
