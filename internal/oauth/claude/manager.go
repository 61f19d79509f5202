// Package claude implements the Claude provider's OAuth token manager:
// device-code login against the Anthropic console, and refresh-on-use
// access to the resulting access token.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/internal/credstore"
	"github.com/ccproxy/ccproxy/internal/oauth"
)

// Config holds the Claude OAuth client configuration. Defaults match the
// publicly documented endpoints the Claude CLI itself uses; deployments can
// override any of them for testing or for an enterprise proxy.
type Config struct {
	ClientID              string
	DeviceAuthorizeURL    string
	TokenURL              string
	Scopes                []string
}

// DefaultConfig returns the Claude CLI's well-known OAuth endpoints.
func DefaultConfig() Config {
	return Config{
		ClientID:           "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
		DeviceAuthorizeURL: "https://console.anthropic.com/v1/oauth/device/code",
		TokenURL:           "https://console.anthropic.com/v1/oauth/token",
		Scopes:             []string{"org:create_api_key", "user:profile", "user:inference"},
	}
}

// credentials is the persisted shape from spec.md §6:
// {claudeAiOauth: {accessToken, refreshToken, expiresAt (ms), scopes, subscriptionType}}.
type credentials struct {
	ClaudeAIOAuth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"`
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

// Manager implements oauth.Manager for Claude.
type Manager struct {
	cfg    Config
	store  credstore.Store
	client *http.Client

	mu   sync.Mutex
	creds *credentials

	profileMu sync.Mutex
	profile   *oauth.Profile

	refresher *oauth.SingleFlightRefresher
}

// New constructs a Claude token manager backed by store.
func New(cfg Config, store credstore.Store, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	m := &Manager{cfg: cfg, store: store, client: client}
	m.refresher = oauth.NewSingleFlightRefresher(m.doRefresh)
	return m
}

func (m *Manager) load(ctx context.Context) (*credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds != nil {
		return m.creds, nil
	}

	data, err := m.store.Load(ctx, "claude")
	if err != nil {
		return nil, err
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode claude credentials: %w", err)
	}
	m.creds = &c
	return m.creds, nil
}

func (m *Manager) save(ctx context.Context, c *credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode claude credentials: %w", err)
	}
	if err := m.store.Save(ctx, "claude", data); err != nil {
		return err
	}
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
	return nil
}

// IsExpired reports whether the loaded access token has passed expiresAt.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	c := m.creds
	m.mu.Unlock()
	if c == nil {
		return true
	}
	return time.Now().UnixMilli() >= c.ClaudeAIOAuth.ExpiresAt
}

// GetAccessToken returns the access token, refreshing first if expired and
// a refresh token is available; otherwise returns the stored value
// unchanged, letting the upstream reject it.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	c, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if time.Now().UnixMilli() < c.ClaudeAIOAuth.ExpiresAt {
		return c.ClaudeAIOAuth.AccessToken, nil
	}
	if c.ClaudeAIOAuth.RefreshToken == "" {
		return c.ClaudeAIOAuth.AccessToken, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return c.ClaudeAIOAuth.AccessToken, nil //nolint:nilerr // refresh-on-use falls back to the stale token
	}
	c, _ = m.load(ctx)
	return c.ClaudeAIOAuth.AccessToken, nil
}

// GetAccessTokenWithRefresh is GetAccessToken's stricter sibling: any
// refresh failure is returned to the caller instead of a stale token.
func (m *Manager) GetAccessTokenWithRefresh(ctx context.Context) (string, error) {
	c, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if time.Now().UnixMilli() < c.ClaudeAIOAuth.ExpiresAt {
		return c.ClaudeAIOAuth.AccessToken, nil
	}
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	c, err = m.load(ctx)
	if err != nil {
		return "", err
	}
	return c.ClaudeAIOAuth.AccessToken, nil
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
	if c.ClaudeAIOAuth.RefreshToken == "" {
		return fmt.Errorf("claude: no refresh token available")
	}

	tok, err := oauth.RefreshToken(ctx, m.client, m.cfg.TokenURL, m.cfg.ClientID, c.ClaudeAIOAuth.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh claude token: %w", err)
	}

	updated := *c
	updated.ClaudeAIOAuth.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.ClaudeAIOAuth.RefreshToken = tok.RefreshToken
	}
	updated.ClaudeAIOAuth.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli()

	if err := m.save(ctx, &updated); err != nil {
		return err
	}

	m.profileMu.Lock()
	m.profile = nil
	m.profileMu.Unlock()
	return nil
}

// Profile derives profile information from the stored credential's scopes
// and subscription type — Claude's own access token is opaque, so there
// are no JWT claims to decode; the profile is whatever the credential file
// itself records from the original login.
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

	p := oauth.Profile{
		SubscriptionType: c.ClaudeAIOAuth.SubscriptionType,
		Scopes:           c.ClaudeAIOAuth.Scopes,
	}
	m.profileMu.Lock()
	m.profile = &p
	m.profileMu.Unlock()
	return p, nil
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

// StartLogin begins the device-code flow against the Claude console.
func (m *Manager) StartLogin(ctx context.Context) (*oauth.DeviceAuthorization, error) {
	return oauth.StartDeviceFlow(ctx, m.client, m.cfg.DeviceAuthorizeURL, m.cfg.ClientID, m.cfg.Scopes)
}

// CompleteLogin polls the device flow to completion and persists the
// resulting credentials: poll -> save, the Claude half of spec.md §4.5's
// complete_authorization composition (Claude has no separate
// service-token exchange stage, unlike Copilot).
func (m *Manager) CompleteLogin(ctx context.Context, auth *oauth.DeviceAuthorization) error {
	tok, outcome, err := oauth.PollForToken(ctx, m.client, m.cfg.TokenURL, m.cfg.ClientID, auth.DeviceCode, auth.Interval, auth.ExpiresIn)
	if err != nil {
		return fmt.Errorf("poll claude device flow: %w", err)
	}
	switch outcome {
	case oauth.DevicePollExpired:
		return fmt.Errorf("claude device code expired before authorization")
	case oauth.DevicePollDenied:
		return fmt.Errorf("claude device authorization denied")
	}

	c := &credentials{}
	c.ClaudeAIOAuth.AccessToken = tok.AccessToken
	c.ClaudeAIOAuth.RefreshToken = tok.RefreshToken
	c.ClaudeAIOAuth.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli()
	c.ClaudeAIOAuth.Scopes = m.cfg.Scopes

	return m.save(ctx, c)
}

var _ oauth.Manager = (*Manager)(nil)
