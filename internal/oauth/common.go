package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// TokenResponse is the standard OAuth token-endpoint JSON body shared by
// the refresh and authorization-code exchanges across all three providers.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// PostToken performs a application/x-www-form-urlencoded POST to a token
// endpoint and decodes a TokenResponse, the shared shape behind every
// provider's refresh_token and authorization_code/device_code exchanges.
func PostToken(ctx context.Context, client *http.Client, endpoint string, form map[string]string) (*TokenResponse, error) {
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tok, nil
}

// RefreshToken performs the standard refresh_token grant via
// golang.org/x/oauth2's TokenSource, the path the Claude and Codex
// managers' doRefresh use once a credential file holds a refresh token
// (Copilot's doRefresh instead exchanges its GitHub token; device-code
// and authorization-code+PKCE exchanges still go through PostToken, since
// those grants carry provider-specific extra parameters PostToken already
// handles uniformly).
func RefreshToken(ctx context.Context, client *http.Client, tokenURL, clientID, refreshToken string) (*TokenResponse, error) {
	cfg := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IDToken:      idTokenFromExtra(tok),
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return resp, nil
}

func idTokenFromExtra(tok *oauth2.Token) string {
	if v, ok := tok.Extra("id_token").(string); ok {
		return v
	}
	return ""
}
