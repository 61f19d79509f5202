package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(StubFetcher{}, "")
	require.NoError(t, r.Refresh(nil))
	return r
}

func TestValidateAcceptsRequestWithinContextWindow(t *testing.T) {
	r := newTestRegistry(t)
	body := []byte(`{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"user","content":"hi"}]}`)

	card, _, errOut := Validate("claude", body, r)
	require.NotNil(t, card)
	assert.Nil(t, errOut)
}

func TestValidateRejectsUnsupportedVisionContent(t *testing.T) {
	r := newTestRegistry(t)
	body := []byte(`{"model":"claude-3-5-haiku-20241022","messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,abc"}}]}]}`)

	_, _, errOut := Validate("claude", body, r)
	require.NotNil(t, errOut)
	assert.Equal(t, "unsupported_content_type", errOut.Code)
}

func TestValidateRejectsMaxTokensExceeded(t *testing.T) {
	r := newTestRegistry(t)
	body := []byte(`{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}],"max_tokens":99999}`)

	_, _, errOut := Validate("claude", body, r)
	require.NotNil(t, errOut)
	assert.Equal(t, "max_tokens_exceeded", errOut.Code)
}

func TestValidateSkipsWhenProviderAmbiguous(t *testing.T) {
	r := newTestRegistry(t)
	body := []byte(`{"model":"unknown-model","messages":[{"role":"user","content":"hi"}]}`)

	card, warning, errOut := Validate("", body, r)
	assert.Nil(t, card)
	assert.Empty(t, warning)
	assert.Nil(t, errOut)
}

func TestInferProviderMatchesPathSubstrings(t *testing.T) {
	assert.Equal(t, "claude", InferProvider("/v1/messages"))
	assert.Equal(t, "codex", InferProvider("/v1/responses/codex"))
	assert.Equal(t, "copilot", InferProvider("/copilot/chat/completions"))
	assert.Equal(t, "", InferProvider("/v1/chat/completions"))
}
