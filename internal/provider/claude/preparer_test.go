package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ccproxy/ccproxy/pkg/types"
)

type fakeTokenManager struct{ token string }

func (f fakeTokenManager) GetAccessToken(context.Context) (string, error) {
	return f.token, nil
}

type fakeFingerprintSource struct {
	fp Fingerprint
	ok bool
}

func (f fakeFingerprintSource) Current() (Fingerprint, bool) { return f.fp, f.ok }

func TestPreparerAttachesAuthAndVersionHeader(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "secret-token"}, fakeFingerprintSource{}, "https://api.anthropic.com")

	body := []byte(`{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	outBody, outHeaders, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if got := outHeaders.Get("Authorization"); got != "Bearer secret-token" {
		t.Fatalf("expected bearer auth header, got %q", got)
	}
	if got := outHeaders.Get("anthropic-version"); got != DefaultAnthropicVersion {
		t.Fatalf("expected default anthropic-version, got %q", got)
	}
	if outHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type json")
	}

	var decoded map[string]any
	if err := json.Unmarshal(outBody, &decoded); err != nil {
		t.Fatalf("decode prepared body: %v", err)
	}
	if decoded["model"] != "claude-3-5-sonnet-20241022" {
		t.Fatalf("expected model preserved, got %v", decoded["model"])
	}
}

func TestPreparerNeverOverwritesAuthFromFingerprint(t *testing.T) {
	fp := Fingerprint{
		CLIVersion: "1.0.0",
		Headers: map[string]string{
			"authorization": "Bearer should-not-appear",
			"x-api-key":     "should-not-appear",
			"x-app":         "claude-cli",
		},
	}
	p := NewPreparer(fakeTokenManager{token: "real-token"}, fakeFingerprintSource{fp: fp, ok: true}, "https://api.anthropic.com")

	body := []byte(`{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	_, outHeaders, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if got := outHeaders.Get("Authorization"); got != "Bearer real-token" {
		t.Fatalf("fingerprint overwrote auth header: %q", got)
	}
	if got := outHeaders.Get("x-app"); got != "claude-cli" {
		t.Fatalf("expected fingerprint header overlaid, got %q", got)
	}
}

func TestPreparerInjectsSystemPromptFull(t *testing.T) {
	fp := Fingerprint{
		CLIVersion: "1.0.0",
		System: []types.Block{
			{Kind: types.BlockText, Text: "you are claude code"},
			{Kind: types.BlockText, Text: "be concise"},
		},
	}
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeFingerprintSource{fp: fp, ok: true}, "https://api.anthropic.com")
	p.Injection = InjectionFull

	body := []byte(`{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`)
	outBody, _, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var decoded struct {
		System []map[string]any `json:"system"`
	}
	if err := json.Unmarshal(outBody, &decoded); err != nil {
		t.Fatalf("decode prepared body: %v", err)
	}
	if len(decoded.System) != 2 {
		t.Fatalf("expected 2 injected system blocks after scrubbing, got %d", len(decoded.System))
	}
	for _, b := range decoded.System {
		if _, ok := b["_ccproxy_injected"]; ok {
			t.Fatal("expected injection marker scrubbed before leaving ccproxy")
		}
	}
}

func TestPreparerTargetURL(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeFingerprintSource{}, "https://api.anthropic.com")
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)

	url, err := p.TargetURL(context.Background(), req)
	if err != nil {
		t.Fatalf("TargetURL: %v", err)
	}
	if url != "https://api.anthropic.com/v1/messages" {
		t.Fatalf("unexpected target url: %q", url)
	}
}
