package codex

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ccproxy/ccproxy/internal/oauth"
)

type fakeTokenManager struct{ token string }

func (f fakeTokenManager) GetAccessToken(context.Context) (string, error) {
	return f.token, nil
}

type fakeProfileSource struct {
	profile oauth.Profile
	ok      bool
}

func (f fakeProfileSource) ProfileQuick() (oauth.Profile, bool) { return f.profile, f.ok }

type fakeFingerprintSource struct {
	fp Fingerprint
	ok bool
}

func (f fakeFingerprintSource) Current() (Fingerprint, bool) { return f.fp, f.ok }

// TestPreparerForcesStreamingAndStrips exercises scenario 3 from spec.md
// §8: the outgoing upstream request always carries stream:true, store:false,
// and drops the unsupported token-limit fields.
func TestPreparerForcesStreamingAndStrips(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeProfileSource{}, fakeFingerprintSource{}, "https://chatgpt.com")

	body := []byte(`{"model":"gpt-5-codex","input":"hi","stream":false,"max_output_tokens":100,"max_completion_tokens":50}`)
	out, headers, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode prepared body: %v", err)
	}

	if decoded["stream"] != true {
		t.Fatalf("expected stream forced true, got %v", decoded["stream"])
	}
	if decoded["store"] != false {
		t.Fatalf("expected store forced false, got %v", decoded["store"])
	}
	if _, ok := decoded["max_output_tokens"]; ok {
		t.Fatal("expected max_output_tokens stripped")
	}
	if _, ok := decoded["max_completion_tokens"]; ok {
		t.Fatal("expected max_completion_tokens stripped")
	}
	if headers.Get("Authorization") != "Bearer t" {
		t.Fatalf("expected bearer auth, got %q", headers.Get("Authorization"))
	}
}

func TestPreparerGeneratesSessionIdentityWhenAbsent(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeProfileSource{}, fakeFingerprintSource{}, "https://chatgpt.com")

	body := []byte(`{"model":"gpt-5-codex","input":"hi"}`)
	_, headers, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if headers.Get("session_id") == "" {
		t.Fatal("expected session_id to be generated")
	}
	if headers.Get("conversation_id") == "" {
		t.Fatal("expected conversation_id to be generated")
	}
}

func TestPreparerPreservesSessionIdentityWhenPresent(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeProfileSource{}, fakeFingerprintSource{}, "https://chatgpt.com")

	h := http.Header{}
	h.Set("session_id", "existing-session")
	h.Set("conversation_id", "existing-conversation")

	body := []byte(`{"model":"gpt-5-codex","input":"hi"}`)
	_, headers, err := p.Prepare(context.Background(), body, h)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if headers.Get("session_id") != "existing-session" {
		t.Fatalf("expected existing session_id preserved, got %q", headers.Get("session_id"))
	}
	if headers.Get("conversation_id") != "existing-conversation" {
		t.Fatalf("expected existing conversation_id preserved, got %q", headers.Get("conversation_id"))
	}
}

func TestPreparerAttachesAccountIDFromProfile(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeProfileSource{profile: oauth.Profile{AccountID: "acct-123"}, ok: true}, fakeFingerprintSource{}, "https://chatgpt.com")

	body := []byte(`{"model":"gpt-5-codex","input":"hi"}`)
	_, headers, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if headers.Get("chatgpt-account-id") != "acct-123" {
		t.Fatalf("expected account id header, got %q", headers.Get("chatgpt-account-id"))
	}
}

func TestPreparerPrependsMandatoryInstruction(t *testing.T) {
	fp := Fingerprint{CLIVersion: "1.0.0", Instruction: "you are codex"}
	p := NewPreparer(fakeTokenManager{token: "t"}, fakeProfileSource{}, fakeFingerprintSource{fp: fp, ok: true}, "https://chatgpt.com")

	body := []byte(`{"model":"gpt-5-codex","input":"hi","instructions":"be helpful"}`)
	out, _, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var decoded struct {
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode prepared body: %v", err)
	}
	if decoded.Instructions != "you are codex\n\nbe helpful" {
		t.Fatalf("unexpected instructions: %q", decoded.Instructions)
	}
}

func TestForcesUpstreamStreaming(t *testing.T) {
	p := &Preparer{}
	if !p.ForcesUpstreamStreaming() {
		t.Fatal("expected Codex preparer to force upstream streaming")
	}
}
