// Package codex implements the Codex/ChatGPT-backend OAuth token manager:
// authorization-code-with-PKCE login, refresh-on-use access, and profile
// derivation straight from the id_token's JWT claims (no provider API call
// needed, unlike Copilot).
package codex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/internal/credstore"
	"github.com/ccproxy/ccproxy/internal/oauth"
)

// Config holds the Codex OAuth client configuration.
type Config struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	IssuerURL    string
	Scopes       []string
}

// DefaultConfig returns the Codex CLI's well-known OAuth endpoints.
func DefaultConfig() Config {
	return Config{
		ClientID:     "app_EMoamEEZ73f0CkXaXp7hrann",
		AuthorizeURL: "https://auth.openai.com/oauth/authorize",
		TokenURL:     "https://auth.openai.com/oauth/token",
		RedirectURI:  "http://localhost:1455/auth/callback",
		IssuerURL:    "https://auth.openai.com",
		Scopes:       []string{"openid", "profile", "email", "offline_access"},
	}
}

// credentials is the persisted shape from spec.md §6:
// {tokens: {id_token, access_token, refresh_token, account_id}, last_refresh, active}.
type credentials struct {
	Tokens struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
	} `json:"tokens"`
	LastRefresh int64 `json:"last_refresh"`
	Active      bool  `json:"active"`
	// expiresAt is derived at refresh time from the id_token's exp claim
	// rather than persisted separately, since it's recoverable from the
	// token itself.
	expiresAt time.Time
}

// Manager implements oauth.Manager for Codex.
type Manager struct {
	cfg    Config
	store  credstore.Store
	client *http.Client

	mu    sync.Mutex
	creds *credentials

	profileMu sync.Mutex
	profile   *oauth.Profile

	refresher *oauth.SingleFlightRefresher

	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
}

// New constructs a Codex token manager backed by store.
func New(cfg Config, store credstore.Store, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	m := &Manager{cfg: cfg, store: store, client: client}
	m.refresher = oauth.NewSingleFlightRefresher(m.doRefresh)
	return m
}

func idTokenExpiry(idToken string) time.Time {
	if idToken == "" {
		return time.Time{}
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	// ParseUnverified: the id_token here is read only for its own claims
	// (expiry, profile), never used to authorize anything — the access
	// token is what's sent upstream.
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (m *Manager) load(ctx context.Context) (*credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		return m.creds, nil
	}

	data, err := m.store.Load(ctx, "codex")
	if err != nil {
		return nil, err
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode codex credentials: %w", err)
	}
	c.expiresAt = idTokenExpiry(c.Tokens.IDToken)
	m.creds = &c
	return m.creds, nil
}

func (m *Manager) save(ctx context.Context, c *credentials) error {
	c.expiresAt = idTokenExpiry(c.Tokens.IDToken)
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode codex credentials: %w", err)
	}
	if err := m.store.Save(ctx, "codex", data); err != nil {
		return err
	}
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
	return nil
}

// IsExpired reports whether the id_token's exp claim has passed.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	c := m.creds
	m.mu.Unlock()
	if c == nil {
		return true
	}
	return c.expiresAt.IsZero() || time.Now().After(c.expiresAt)
}

// GetAccessToken returns the access token, refreshing first if expired;
// falls back to the stale token if refresh fails.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	c, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if !c.expiresAt.IsZero() && time.Now().Before(c.expiresAt) {
		return c.Tokens.AccessToken, nil
	}
	if c.Tokens.RefreshToken == "" {
		return c.Tokens.AccessToken, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return c.Tokens.AccessToken, nil //nolint:nilerr // refresh-on-use falls back to the stale token
	}
	c, _ = m.load(ctx)
	return c.Tokens.AccessToken, nil
}

// GetAccessTokenWithRefresh is GetAccessToken's stricter sibling.
func (m *Manager) GetAccessTokenWithRefresh(ctx context.Context) (string, error) {
	c, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if !c.expiresAt.IsZero() && time.Now().Before(c.expiresAt) {
		return c.Tokens.AccessToken, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	c, err = m.load(ctx)
	if err != nil {
		return "", err
	}
	return c.Tokens.AccessToken, nil
}

// Refresh serializes concurrent refreshes through the single-flight
// refresher.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresher.Do(ctx)
}

func (m *Manager) doRefresh(ctx context.Context) error {
	c, err := m.load(ctx)
	if err != nil {
		return err
	}
	if c.Tokens.RefreshToken == "" {
		return fmt.Errorf("codex: no refresh token available")
	}

	tok, err := oauth.RefreshToken(ctx, m.client, m.cfg.TokenURL, m.cfg.ClientID, c.Tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh codex token: %w", err)
	}

	updated := *c
	updated.Tokens.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.Tokens.RefreshToken = tok.RefreshToken
	}
	if tok.IDToken != "" {
		updated.Tokens.IDToken = tok.IDToken
	}
	updated.LastRefresh = time.Now().Unix()
	updated.Active = true

	if err := m.save(ctx, &updated); err != nil {
		return err
	}

	m.profileMu.Lock()
	m.profile = nil
	m.profileMu.Unlock()
	return nil
}

// Profile derives email/account-id/plan from the id_token's JWT claims, the
// spec's explicitly called-out "JWT claims for OpenAI" derivation. It
// prefers a signature-verified read via the issuer's published JWKs
// (github.com/coreos/go-oidc/v3) and falls back to an unverified parse of
// the claims when OIDC discovery is unreachable (offline dev use, issuer
// outage) — the id_token is never used to authorize anything either way,
// only to populate diagnostic profile fields, so a missed verification
// degrades to the old behaviour rather than failing the request.
func (m *Manager) Profile(ctx context.Context) (oauth.Profile, error) {
	m.profileMu.Lock()
	if m.profile != nil {
		p := *m.profile
		m.profileMu.Unlock()
		return p, nil
	}
	m.profileMu.Unlock()

	c, err := m.load(ctx)
	if err != nil {
		return oauth.Profile{}, err
	}

	p := oauth.Profile{AccountID: c.Tokens.AccountID}
	if c.Tokens.IDToken != "" {
		claims, ok := m.verifiedClaims(ctx, c.Tokens.IDToken)
		if !ok {
			claims = unverifiedClaims(c.Tokens.IDToken)
		}
		if email, ok := claims["email"].(string); ok {
			p.Email = email
		}
		if planClaims, ok := claims["https://api.openai.com/auth"].(map[string]interface{}); ok {
			if plan, ok := planClaims["chatgpt_plan_type"].(string); ok {
				p.Plan = plan
			}
		}
	}

	m.profileMu.Lock()
	m.profile = &p
	m.profileMu.Unlock()
	return p, nil
}

// verifiedClaims verifies the id_token's signature and expiry against the
// issuer's OIDC discovery document, lazily fetched once per manager. It
// reports ok=false on any discovery or verification failure so the caller
// can fall back rather than treat an offline issuer as an auth failure.
func (m *Manager) verifiedClaims(ctx context.Context, idToken string) (jwt.MapClaims, bool) {
	v, err := m.oidcVerifier(ctx)
	if err != nil {
		return nil, false
	}
	tok, err := v.Verify(ctx, idToken)
	if err != nil {
		return nil, false
	}
	var claims jwt.MapClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, false
	}
	return claims, true
}

func (m *Manager) oidcVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	var err error
	m.verifierOnce.Do(func() {
		discoveryCtx := oidc.ClientContext(ctx, m.client)
		var provider *oidc.Provider
		provider, err = oidc.NewProvider(discoveryCtx, m.cfg.IssuerURL)
		if err != nil {
			return
		}
		m.verifier = provider.Verifier(&oidc.Config{ClientID: m.cfg.ClientID})
	})
	if m.verifier == nil {
		if err == nil {
			err = fmt.Errorf("codex: oidc verifier not initialized")
		}
		return nil, err
	}
	return m.verifier, nil
}

// unverifiedClaims reads the id_token's claims without checking its
// signature, the fallback path when OIDC discovery is unavailable.
func unverifiedClaims(idToken string) jwt.MapClaims {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, _ = parser.ParseUnverified(idToken, claims)
	return claims
}

// ProfileQuick returns the cached profile without deriving it fresh.
func (m *Manager) ProfileQuick() (oauth.Profile, bool) {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if m.profile == nil {
		return oauth.Profile{}, false
	}
	return *m.profile, true
}

// AuthorizeURL builds the browser URL for the authorization-code+PKCE login,
// pairing the generated challenge/state with the configured client.
func (m *Manager) AuthorizeURL(pkce *oauth.PKCEVerifier, state string) string {
	v := url.Values{}
	v.Set("client_id", m.cfg.ClientID)
	v.Set("redirect_uri", m.cfg.RedirectURI)
	v.Set("response_type", "code")
	v.Set("code_challenge", pkce.Challenge)
	v.Set("code_challenge_method", pkce.Method)
	v.Set("state", state)
	if len(m.cfg.Scopes) > 0 {
		scopes := ""
		for i, s := range m.cfg.Scopes {
			if i > 0 {
				scopes += " "
			}
			scopes += s
		}
		v.Set("scope", scopes)
	}
	return m.cfg.AuthorizeURL + "?" + v.Encode()
}

// CompleteLogin exchanges the authorization code (with its PKCE verifier)
// for tokens and persists the resulting credentials.
func (m *Manager) CompleteLogin(ctx context.Context, code string, pkce *oauth.PKCEVerifier) error {
	tok, err := oauth.PostToken(ctx, m.client, m.cfg.TokenURL, map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  m.cfg.RedirectURI,
		"client_id":     m.cfg.ClientID,
		"code_verifier": pkce.Verifier,
	})
	if err != nil {
		return fmt.Errorf("exchange codex authorization code: %w", err)
	}

	c := &credentials{}
	c.Tokens.AccessToken = tok.AccessToken
	c.Tokens.RefreshToken = tok.RefreshToken
	c.Tokens.IDToken = tok.IDToken
	c.LastRefresh = time.Now().Unix()
	c.Active = true

	return m.save(ctx, c)
}

var _ oauth.Manager = (*Manager)(nil)
