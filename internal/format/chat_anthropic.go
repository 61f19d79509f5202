package format

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/pkg/types"
)

// ChatAnthropicAdapter translates between OpenAI Chat Completions and
// Anthropic Messages. Register it at both (chat_completions, messages) for
// the request stage and (messages, chat_completions) for the response
// stage — spec.md §4.2 treats the two directions as independent registry
// entries even though one Go type implements both here.
type ChatAnthropicAdapter struct{}

// ConvertRequest maps an OpenAI chat-completions request into an Anthropic
// Messages request: the system message (if any) is merged into Anthropic's
// top-level "system" field, model and max_tokens pass through unchanged
// (a missing max_tokens becomes 4096, since Anthropic requires one), and
// every other message becomes an Anthropic message with normalized content
// blocks.
func (ChatAnthropicAdapter) ConvertRequest(body json.RawMessage) (json.RawMessage, error) {
	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat_completions request: %w", err)
	}

	out := types.AnthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
		TopP:      req.TopP,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}
	if len(req.Stop) > 0 {
		out.StopSequences = req.Stop
	}

	var systemParts []string
	messages := make([]types.AnthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			blocks, err := types.BlocksFromOpenAIContent(m.Content)
			if err != nil {
				return nil, fmt.Errorf("decode system message content: %w", err)
			}
			systemParts = append(systemParts, types.TextOfBlocks(blocks))
			continue
		}

		blocks, err := types.BlocksFromOpenAIContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("decode message content: %w", err)
		}
		anthropicBlocks, err := types.ToAnthropicBlocks(blocks)
		if err != nil {
			return nil, fmt.Errorf("encode anthropic blocks: %w", err)
		}
		content, err := json.Marshal(anthropicBlocks)
		if err != nil {
			return nil, fmt.Errorf("marshal anthropic content: %w", err)
		}
		messages = append(messages, types.AnthropicMessage{Role: m.Role, Content: content})
	}
	out.Messages = messages

	if len(systemParts) > 0 {
		systemJSON, err := json.Marshal(strings.Join(systemParts, "\n\n"))
		if err != nil {
			return nil, fmt.Errorf("marshal system field: %w", err)
		}
		out.System = systemJSON
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, types.AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return json.Marshal(out)
}

// ConvertResponse maps an Anthropic Messages response into an OpenAI
// chat-completions response: content blocks flatten to the assistant
// message's content string, stop_reason maps to finish_reason, and usage
// carries input/output token counts across.
func (ChatAnthropicAdapter) ConvertResponse(body json.RawMessage) (json.RawMessage, error) {
	var resp types.AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var textParts []string
	var toolCalls []types.ToolCall
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			textParts = append(textParts, b.Text)
		case "tool_use":
			args, _ := json.Marshal(b.Input)
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      b.Name,
					Arguments: string(args),
				},
			})
		}
	}

	content, err := json.Marshal(strings.Join(textParts, ""))
	if err != nil {
		return nil, fmt.Errorf("marshal response content: %w", err)
	}

	finishReason := mapAnthropicStopReasonToOpenAI(resp.StopReason)

	out := types.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Model:   resp.Model,
		Choices: []types.Choice{{
			Index: 0,
			Message: types.ChatMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: finishReason,
		}},
	}
	if resp.Usage != nil {
		out.Usage = &types.Usage{
			PromptTokens:        resp.Usage.InputTokens,
			CompletionTokens:    resp.Usage.OutputTokens,
			TotalTokens:         resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CachedTokens:        resp.Usage.CacheReadInputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		}
	}

	return json.Marshal(out)
}

// ConvertError maps an Anthropic error body into the OpenAI error envelope
// shape. Malformed upstream bodies still produce a well-formed envelope
// carrying the raw text as the message.
func (ChatAnthropicAdapter) ConvertError(statusCode int, body json.RawMessage) (json.RawMessage, error) {
	var anthropicErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	errType := "server_error"
	if err := json.Unmarshal(body, &anthropicErr); err == nil && anthropicErr.Error.Message != "" {
		message = anthropicErr.Error.Message
		errType = anthropicErr.Error.Type
	}

	out := struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}{}
	out.Error.Message = message
	out.Error.Type = errType
	return json.Marshal(out)
}

func mapAnthropicStopReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
