package types //nolint:revive // package name is intentional

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EmbeddingInput is the polymorphic input shape of an embedding request:
// a single string, an array of strings, or (token-based) an array of
// token IDs or an array of token-ID arrays. Exactly one field is set at a
// time; UnmarshalJSON infers which from the wire shape.
type EmbeddingInput struct {
	Text       *string  `json:"-"`
	Texts      []string `json:"-"`
	Tokens     []int    `json:"-"`
	TokensList [][]int  `json:"-"`
}

// UnmarshalJSON infers the input shape in order string -> []string ->
// []int -> [][]int.
func (e *EmbeddingInput) UnmarshalJSON(data []byte) error {
	e.Text, e.Texts, e.Tokens, e.TokensList = nil, nil, nil, nil

	if string(data) == "null" {
		return fmt.Errorf("input cannot be null")
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Text = &s
		return nil
	}

	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		e.Texts = ss
		return nil
	}

	var tokens []int
	if err := json.Unmarshal(data, &tokens); err == nil {
		e.Tokens = tokens
		return nil
	}

	var tokensList [][]int
	if err := json.Unmarshal(data, &tokensList); err == nil {
		e.TokensList = tokensList
		return nil
	}

	return fmt.Errorf("input must be string, []string, []int, or [][]int")
}

// NewEmbeddingInputFromString wraps a single string input.
func NewEmbeddingInputFromString(s string) *EmbeddingInput {
	return &EmbeddingInput{Text: &s}
}

// NewEmbeddingInputFromStrings wraps a batch of string inputs.
func NewEmbeddingInputFromStrings(ss []string) *EmbeddingInput {
	return &EmbeddingInput{Texts: ss}
}

// EmbeddingRequest is an OpenAI-compatible embedding request. ccproxy has
// no embedding route of its own (out of spec scope); this exists so the
// shared token-counting package can estimate embedding-input tokens for
// any plugin that wants it, the same way the teacher's tokenizer does.
type EmbeddingRequest struct {
	Model          string          `json:"model"`
	Input          *EmbeddingInput `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	User           string          `json:"user,omitempty"`
	Dimensions     int             `json:"dimensions,omitempty"`
}
