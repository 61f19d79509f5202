// Package copilot implements the Copilot provider's two-stage OAuth token
// manager: a GitHub device-code login produces a long-lived OAuth token,
// which is exchanged on demand for a short-lived (<1h) Copilot service
// token that's what actually gets sent upstream.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/internal/credstore"
	"github.com/ccproxy/ccproxy/internal/oauth"
)

// ErrReauthenticationRequired is returned when the long-lived GitHub OAuth
// token itself has expired — there's nothing left to refresh, and the
// caller needs to run the device flow again.
var ErrReauthenticationRequired = errors.New("copilot: re-authentication required")

// Config holds the Copilot OAuth client configuration.
type Config struct {
	ClientID            string
	DeviceAuthorizeURL  string
	TokenURL            string
	CopilotTokenURL     string
	UserURL             string
	Scopes              []string
}

// DefaultConfig returns GitHub's well-known device-flow endpoints and the
// Copilot internal token-exchange/user endpoints the CLI uses.
func DefaultConfig() Config {
	return Config{
		ClientID:           "Iv1.b507a08c87ecfe98",
		DeviceAuthorizeURL: "https://github.com/login/device/code",
		TokenURL:           "https://github.com/login/oauth/access_token",
		CopilotTokenURL:    "https://api.github.com/copilot_internal/v2/token",
		UserURL:            "https://api.github.com/user",
		Scopes:             []string{"read:user"},
	}
}

// credentials is the persisted shape from spec.md §6:
// {oauth_token: {...}, copilot_token?: {...}, account_type?, created_at, updated_at}.
type credentials struct {
	OAuthToken struct {
		AccessToken string `json:"access_token"`
		// GitHub OAuth device-flow tokens don't expire on a fixed
		// schedule; ExpiresAt stays zero unless GitHub ever starts
		// returning one, matching the "long-lived" contract spec.md
		// describes for the outer token.
		ExpiresAt int64 `json:"expires_at,omitempty"`
	} `json:"oauth_token"`
	CopilotToken *struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"copilot_token,omitempty"`
	AccountType string `json:"account_type,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Manager implements oauth.Manager for Copilot. Its GetAccessToken returns
// the *Copilot service token*, not the outer GitHub OAuth token — that's
// the credential every request actually needs.
type Manager struct {
	cfg    Config
	store  credstore.Store
	client *http.Client

	mu    sync.Mutex
	creds *credentials

	profileMu sync.Mutex
	profile   *oauth.Profile

	refresher *oauth.SingleFlightRefresher
}

// New constructs a Copilot token manager backed by store.
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
	data, err := m.store.Load(ctx, "copilot")
	if err != nil {
		return nil, err
	}
	var c credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode copilot credentials: %w", err)
	}
	m.creds = &c
	return m.creds, nil
}

func (m *Manager) save(ctx context.Context, c *credentials) error {
	c.UpdatedAt = time.Now().Unix()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode copilot credentials: %w", err)
	}
	if err := m.store.Save(ctx, "copilot", data); err != nil {
		return err
	}
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
	return nil
}

func oauthTokenExpired(c *credentials) bool {
	return c.OAuthToken.ExpiresAt > 0 && time.Now().Unix() >= c.OAuthToken.ExpiresAt
}

func copilotTokenExpired(c *credentials) bool {
	return c.CopilotToken == nil || time.Now().Unix() >= c.CopilotToken.ExpiresAt
}

// IsExpired reports whether the Copilot service token needs re-exchange.
// It does not report the outer OAuth token's state — that's surfaced
// through ErrReauthenticationRequired instead, since it can't be silently
// refreshed.
func (m *Manager) IsExpired() bool {
	m.mu.Lock()
	c := m.creds
	m.mu.Unlock()
	if c == nil {
		return true
	}
	return copilotTokenExpired(c)
}

// GetAccessToken returns the Copilot service token, exchanging for a fresh
// one if missing or expired (and the OAuth token is still valid); if the
// OAuth token itself expired, returns ErrReauthenticationRequired.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	c, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if !copilotTokenExpired(c) {
		return c.CopilotToken.Token, nil
	}
	if oauthTokenExpired(c) {
		return "", ErrReauthenticationRequired
	}
	if err := m.Refresh(ctx); err != nil {
		return "", err
	}
	c, err = m.load(ctx)
	if err != nil {
		return "", err
	}
	return c.CopilotToken.Token, nil
}

// GetAccessTokenWithRefresh behaves identically to GetAccessToken for
// Copilot: there is no "return stale token" fallback here, since an expired
// service token is always useless to the upstream.
func (m *Manager) GetAccessTokenWithRefresh(ctx context.Context) (string, error) {
	return m.GetAccessToken(ctx)
}

// Refresh exchanges the OAuth token for a fresh Copilot service token,
// serialized through the single-flight refresher.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresher.Do(ctx)
}

func (m *Manager) doRefresh(ctx context.Context) error {
	c, err := m.load(ctx)
	if err != nil {
		return err
	}
	if oauthTokenExpired(c) {
		return ErrReauthenticationRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.CopilotTokenURL, nil)
	if err != nil {
		return fmt.Errorf("build copilot token exchange request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.OAuthToken.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("copilot token exchange: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode copilot token exchange response: %w", err)
	}

	updated := *c
	updated.CopilotToken = &struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}{Token: payload.Token, ExpiresAt: payload.ExpiresAt}

	if err := m.save(ctx, &updated); err != nil {
		return err
	}

	m.profileMu.Lock()
	m.profile = nil
	m.profileMu.Unlock()
	return nil
}

// Profile fetches account info from GitHub's user API (the one provider of
// the three that derives profile from an API call rather than JWT claims).
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

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.UserURL, nil)
	if err != nil {
		return oauth.Profile{}, fmt.Errorf("build github user request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.OAuthToken.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return oauth.Profile{}, fmt.Errorf("fetch github user profile: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Login string `json:"login"`
		Email string `json:"email"`
		Plan  struct {
			Name string `json:"name"`
		} `json:"plan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oauth.Profile{}, fmt.Errorf("decode github user profile: %w", err)
	}

	p := oauth.Profile{
		AccountID: payload.Login,
		Email:     payload.Email,
		Plan:      payload.Plan.Name,
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

// StartLogin begins the GitHub device-code flow.
func (m *Manager) StartLogin(ctx context.Context) (*oauth.DeviceAuthorization, error) {
	return oauth.StartDeviceFlow(ctx, m.client, m.cfg.DeviceAuthorizeURL, m.cfg.ClientID, m.cfg.Scopes)
}

// CompleteLogin polls the device flow, saves the GitHub OAuth token,
// exchanges it for the Copilot service token (doRefresh), then fetches the
// user profile. The OAuth token is saved before the exchange because
// doRefresh reads it back from the store.
func (m *Manager) CompleteLogin(ctx context.Context, auth *oauth.DeviceAuthorization) error {
	tok, outcome, err := oauth.PollForToken(ctx, m.client, m.cfg.TokenURL, m.cfg.ClientID, auth.DeviceCode, auth.Interval, auth.ExpiresIn)
	if err != nil {
		return fmt.Errorf("poll copilot device flow: %w", err)
	}
	switch outcome {
	case oauth.DevicePollExpired:
		return fmt.Errorf("copilot device code expired before authorization")
	case oauth.DevicePollDenied:
		return fmt.Errorf("copilot device authorization denied")
	}

	c := &credentials{CreatedAt: time.Now().Unix()}
	c.OAuthToken.AccessToken = tok.AccessToken

	if err := m.save(ctx, c); err != nil {
		return err
	}
	if err := m.doRefresh(ctx); err != nil {
		return fmt.Errorf("exchange for copilot service token: %w", err)
	}
	if _, err := m.Profile(ctx); err != nil {
		return fmt.Errorf("fetch copilot user profile: %w", err)
	}
	return nil
}

var _ oauth.Manager = (*Manager)(nil)
