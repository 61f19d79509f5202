package format

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthroughChainRoundTripIsIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register(DialectOpenAIChatCompletions, DialectAnthropicMessages, PassthroughAdapter{})
	r.Register(DialectAnthropicMessages, DialectOpenAIChatCompletions, PassthroughAdapter{})

	chain := Chain{DialectOpenAIChatCompletions, DialectAnthropicMessages}
	body := json.RawMessage(`{"hello":"world"}`)

	converted, err := r.RequestStage(chain, "claude", "claude-3-5-sonnet", body)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(converted))

	back, err := r.ResponseStage(chain, "claude", "claude-3-5-sonnet", 200, converted)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(back))
}

func TestMissingAdapterFailsTyped(t *testing.T) {
	r := NewRegistry()
	chain := Chain{DialectOpenAIChatCompletions, DialectAnthropicMessages}

	_, err := r.RequestStage(chain, "claude", "claude-3-5-sonnet", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestChatAnthropicRequestConversionMergesSystemAndPreservesModel(t *testing.T) {
	r := NewRegistry()
	r.Register(DialectOpenAIChatCompletions, DialectAnthropicMessages, ChatAnthropicAdapter{})

	input := json.RawMessage(`{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"system","content":"x"},{"role":"user","content":"hi"}],"max_tokens":100,"stream":false}`)

	chain := Chain{DialectOpenAIChatCompletions, DialectAnthropicMessages}
	out, err := r.RequestStage(chain, "claude", "claude-3-5-sonnet-20241022", input)
	require.NoError(t, err)

	var req struct {
		Model     string `json:"model"`
		System    string `json:"system"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(out, &req))

	assert.Equal(t, "claude-3-5-sonnet-20241022", req.Model)
	assert.Equal(t, "x", req.System)
	assert.Equal(t, 100, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestChatAnthropicResponseConversionMapsStopReasonAndContent(t *testing.T) {
	r := NewRegistry()
	r.Register(DialectAnthropicMessages, DialectOpenAIChatCompletions, ChatAnthropicAdapter{})

	input := json.RawMessage(`{"content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn"}`)
	chain := Chain{DialectOpenAIChatCompletions, DialectAnthropicMessages}

	out, err := r.ResponseStage(chain, "claude", "claude-3-5-sonnet-20241022", 200, input)
	require.NoError(t, err)

	var resp struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}
