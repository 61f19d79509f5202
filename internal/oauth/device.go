package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// DeviceAuthorization is the response to starting a device-code flow:
// the code the caller polls with, the code the user types at
// VerificationURI, and how long the whole flow stays valid.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       time.Duration
	Interval        time.Duration
}

// DevicePollOutcome is the terminal result of PollForToken.
type DevicePollOutcome int

const (
	DevicePollSuccess DevicePollOutcome = iota
	DevicePollExpired
	DevicePollDenied
)

// DeviceTokenResponse is the raw token payload from a successful device-flow
// poll.
type DeviceTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type deviceErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// slowDownIncrement is the amount RFC 8628's "slow_down" response adds to
// the poll interval; authorization_pending leaves the interval unchanged.
// Carried over from the original implementation's device-flow client
// (ccproxy/auth/oauth/protocol.py and its Copilot/Claude subclasses) since
// spec.md is silent on the exact backoff numbers.
const slowDownIncrement = 5 * time.Second

// StartDeviceFlow posts to a device-authorization endpoint and parses the
// standard RFC 8628 response.
func StartDeviceFlow(ctx context.Context, client *http.Client, endpoint, clientID string, scopes []string) (*DeviceAuthorization, error) {
	form := url.Values{"client_id": {clientID}}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build device authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device authorization request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode device authorization response: %w", err)
	}

	interval := time.Duration(payload.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &DeviceAuthorization{
		DeviceCode:      payload.DeviceCode,
		UserCode:        payload.UserCode,
		VerificationURI: payload.VerificationURI,
		ExpiresIn:       time.Duration(payload.ExpiresIn) * time.Second,
		Interval:        interval,
	}, nil
}

// PollForToken polls a device-flow token endpoint until success, expiry, or
// denial, honouring authorization_pending (poll again at the same interval)
// and slow_down (poll again after interval+5s, and keep that wider interval
// for subsequent polls).
func PollForToken(ctx context.Context, client *http.Client, endpoint, clientID, deviceCode string, interval, expiry time.Duration) (*DeviceTokenResponse, DevicePollOutcome, error) {
	deadline := time.Now().Add(expiry)

	for {
		if time.Now().After(deadline) {
			return nil, DevicePollExpired, nil
		}

		select {
		case <-ctx.Done():
			return nil, DevicePollExpired, ctx.Err()
		case <-time.After(interval):
		}

		form := url.Values{
			"client_id":   {clientID},
			"device_code": {deviceCode},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, 0, fmt.Errorf("build device token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("device token request: %w", err)
		}

		body := make(map[string]json.RawMessage)
		decErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if decErr != nil {
			return nil, 0, fmt.Errorf("decode device token response: %w", decErr)
		}

		if _, hasError := body["error"]; !hasError {
			var tok DeviceTokenResponse
			raw, _ := json.Marshal(body)
			if err := json.Unmarshal(raw, &tok); err != nil {
				return nil, 0, fmt.Errorf("decode device token payload: %w", err)
			}
			return &tok, DevicePollSuccess, nil
		}

		var errResp deviceErrorResponse
		raw, _ := json.Marshal(body)
		_ = json.Unmarshal(raw, &errResp)

		switch errResp.Error {
		case "authorization_pending":
			continue
		case "slow_down":
			interval += slowDownIncrement
			continue
		case "expired_token":
			return nil, DevicePollExpired, nil
		case "access_denied":
			return nil, DevicePollDenied, nil
		default:
			return nil, 0, fmt.Errorf("device token poll failed: %s: %s", errResp.Error, errResp.ErrorDescription)
		}
	}
}
