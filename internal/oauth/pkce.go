package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCEVerifier is a generated authorization-code-flow-with-PKCE pair, the
// same code_verifier/code_challenge shape the teacher's session package
// carries as OIDCState.CodeVerifier for its browser-login flow.
type PKCEVerifier struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCEVerifier generates a fresh RFC 7636 S256 verifier/challenge pair
// using golang.org/x/oauth2's PKCE helpers rather than hand-rolling the
// base64/sha256 plumbing.
func NewPKCEVerifier() (*PKCEVerifier, error) {
	verifier := oauth2.GenerateVerifier()
	return &PKCEVerifier{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    "S256",
	}, nil
}

// State is an opaque CSRF-protection value for the authorization-code
// redirect, generated the same way as the verifier.
func NewState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
