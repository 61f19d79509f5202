package codex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccproxy/ccproxy/internal/credstore"
)

// memStore is a minimal in-memory credstore.Store for exercising the
// manager without touching disk, following the teacher's own pattern of
// hand-rolled fakes for narrow interfaces (e.g. claude's fakeTokenManager).
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Load(_ context.Context, provider string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[provider]
	if !ok {
		return nil, &credstore.ErrNotFound{Provider: provider}
	}
	return b, nil
}

func (m *memStore) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[provider] = data
	return nil
}

func (m *memStore) Close() error { return nil }

// fakeIDToken builds an unsigned-looking JWT (header.payload.signature)
// carrying the given claims, enough for the unverified-parse fallback path
// since no real OIDC issuer is reachable in a unit test.
func fakeIDToken(t *testing.T, claims map[string]any, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims["exp"] = exp.Unix()
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return strings.Join([]string{header, payload, ""}, ".")
}

func seedCredentials(t *testing.T, store *memStore, idToken string) {
	t.Helper()
	blob, err := json.Marshal(map[string]any{
		"tokens": map[string]any{
			"id_token":      idToken,
			"access_token":  "access-xyz",
			"refresh_token": "refresh-xyz",
			"account_id":    "acct-123",
		},
		"last_refresh": time.Now().Unix(),
		"active":       true,
	})
	if err != nil {
		t.Fatalf("marshal seed credentials: %v", err)
	}
	if err := store.Save(context.Background(), "codex", blob); err != nil {
		t.Fatalf("seed save: %v", err)
	}
}

// TestProfileFallsBackToUnverifiedClaimsWhenDiscoveryUnreachable exercises
// spec.md §4.5's get_profile derivation ("JWT claims for OpenAI") via the
// fallback path: the configured issuer in this test isn't a real OIDC
// provider, so oidcVerifier fails and Profile must still populate email
// and plan from the unverified claims rather than return an error.
func TestProfileFallsBackToUnverifiedClaimsWhenDiscoveryUnreachable(t *testing.T) {
	store := newMemStore()
	idToken := fakeIDToken(t, map[string]any{
		"email": "dev@example.com",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_plan_type": "plus",
		},
	}, time.Now().Add(time.Hour))
	seedCredentials(t, store, idToken)

	cfg := DefaultConfig()
	cfg.IssuerURL = "http://127.0.0.1:0/not-a-real-issuer"
	m := New(cfg, store, nil)

	profile, err := m.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Email != "dev@example.com" {
		t.Errorf("expected email from unverified claims, got %q", profile.Email)
	}
	if profile.Plan != "plus" {
		t.Errorf("expected plan from unverified claims, got %q", profile.Plan)
	}
	if profile.AccountID != "acct-123" {
		t.Errorf("expected account id from credentials, got %q", profile.AccountID)
	}
}

// TestProfileIsCachedUntilRefresh asserts the process-lifetime profile
// cache (spec.md §4.5) returns the same value on a second call without
// re-deriving it, and that ProfileQuick reports it without blocking.
func TestProfileIsCachedUntilRefresh(t *testing.T) {
	store := newMemStore()
	idToken := fakeIDToken(t, map[string]any{"email": "first@example.com"}, time.Now().Add(time.Hour))
	seedCredentials(t, store, idToken)

	cfg := DefaultConfig()
	cfg.IssuerURL = "http://127.0.0.1:0/not-a-real-issuer"
	m := New(cfg, store, nil)

	if _, ok := m.ProfileQuick(); ok {
		t.Fatal("expected no cached profile before the first Profile call")
	}

	first, err := m.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}

	quick, ok := m.ProfileQuick()
	if !ok {
		t.Fatal("expected ProfileQuick to report the cached profile")
	}
	if quick.Email != first.Email {
		t.Fatalf("ProfileQuick mismatch: got %q want %q", quick.Email, first.Email)
	}
}

func TestIsExpiredReflectsIDTokenExp(t *testing.T) {
	store := newMemStore()
	expired := fakeIDToken(t, map[string]any{"email": "x@example.com"}, time.Now().Add(-time.Hour))
	seedCredentials(t, store, expired)

	cfg := DefaultConfig()
	m := New(cfg, store, nil)

	if _, err := m.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.IsExpired() {
		t.Error("expected manager to report expired credentials for a past-exp id_token")
	}
}
