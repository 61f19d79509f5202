package copilot

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	copilotoauth "github.com/ccproxy/ccproxy/internal/oauth/copilot"
	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
)

type fakeTokenManager struct {
	token string
	err   error
}

func (f fakeTokenManager) GetAccessToken(context.Context) (string, error) {
	return f.token, f.err
}

func TestPreparerAttachesAuthAndHeaders(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "svc-tok"}, map[string]string{"Editor-Version": "vscode/1.0"}, "https://api.githubcopilot.com")

	body := []byte(`{"model":"gpt-4o","messages":[]}`)
	out, headers, err := p.Prepare(context.Background(), body, http.Header{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if string(out) != string(body) {
		t.Fatalf("expected body unchanged, got %s", out)
	}
	if headers.Get("Authorization") != "Bearer svc-tok" {
		t.Fatalf("expected bearer auth, got %q", headers.Get("Authorization"))
	}
	if headers.Get("Editor-Version") != "vscode/1.0" {
		t.Fatalf("expected configured header, got %q", headers.Get("Editor-Version"))
	}
	if headers.Get("X-Request-Id") == "" {
		t.Fatal("expected a fresh x-request-id")
	}
}

func TestPreparerSurfacesReauthenticationRequired(t *testing.T) {
	p := NewPreparer(fakeTokenManager{err: copilotoauth.ErrReauthenticationRequired}, nil, "https://api.githubcopilot.com")

	_, _, err := p.Prepare(context.Background(), []byte(`{}`), http.Header{})
	if err == nil {
		t.Fatal("expected an error")
	}
	le, ok := err.(*ccerrors.LLMError)
	if !ok {
		t.Fatalf("expected a typed *ccerrors.LLMError, got %T", err)
	}
	if le.HTTPStatusCode() != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", le.HTTPStatusCode())
	}
	if le.Kind != ccerrors.KindAuthMissing {
		t.Fatalf("expected authentication_error kind, got %q", le.Kind)
	}
}

func TestTargetURL(t *testing.T) {
	p := NewPreparer(fakeTokenManager{token: "t"}, nil, "https://api.githubcopilot.com")
	url, err := p.TargetURL(context.Background(), nil)
	if err != nil {
		t.Fatalf("TargetURL: %v", err)
	}
	if url != "https://api.githubcopilot.com/chat/completions" {
		t.Fatalf("unexpected target url: %s", url)
	}
}

func TestPostProcessResponsePatchesCreated(t *testing.T) {
	p := &Preparer{}
	body := []byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[]}`)

	out, err := p.PostProcessResponse(body)
	if err != nil {
		t.Fatalf("PostProcessResponse: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := decoded["created"]; !ok {
		t.Fatal("expected created timestamp to be patched in")
	}
}

func TestPostProcessResponseFallsBackOnUnknownShape(t *testing.T) {
	p := &Preparer{}
	body := []byte(`{"unexpected":"shape"}`)

	out, err := p.PostProcessResponse(body)
	if err != nil {
		t.Fatalf("PostProcessResponse: %v", err)
	}
	if string(out) != string(body) {
		t.Fatalf("expected fallback to original body, got %s", out)
	}
}
