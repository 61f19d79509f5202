package types //nolint:revive // package name is intentional

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// AnthropicRequest is the wire shape of an Anthropic Messages API request
// (POST /v1/messages).
type AnthropicRequest struct {
	Model         string                     `json:"model"`
	Messages      []AnthropicMessage         `json:"messages"`
	System        json.RawMessage            `json:"system,omitempty"`
	MaxTokens     int                        `json:"max_tokens"`
	Temperature   *float64                   `json:"temperature,omitempty"`
	TopP          *float64                   `json:"top_p,omitempty"`
	TopK          *int                       `json:"top_k,omitempty"`
	StopSequences []string                   `json:"stop_sequences,omitempty"`
	Stream        bool                       `json:"stream,omitempty"`
	Tools         []AnthropicTool            `json:"tools,omitempty"`
	ToolChoice    json.RawMessage            `json:"tool_choice,omitempty"`
	Metadata      map[string]json.RawMessage `json:"metadata,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// AnthropicMessage is one turn in an Anthropic Messages conversation. Content
// may be a bare string or an array of content blocks and is kept raw;
// BlocksFromAnthropic decodes it into the normalized Block union.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// AnthropicTool describes a tool the model may call. CacheControl lets a
// tool definition itself carry a cache-control marker, one of the three
// locations (system/messages/tools) the cache-control budget spans.
type AnthropicTool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// AnthropicResponse is the wire shape of an Anthropic Messages API response.
type AnthropicResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Model        string            `json:"model"`
	Content      []AnthropicBlock  `json:"content"`
	StopReason   string            `json:"stop_reason,omitempty"`
	StopSequence string            `json:"stop_sequence,omitempty"`
	Usage        *AnthropicUsage   `json:"usage,omitempty"`
}

// AnthropicUsage reports Anthropic's token accounting, including the two
// cache-specific counters that the base cost calculation needs.
type AnthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// AnthropicBlock is the wire shape of one Anthropic content block, covering
// every variant the gateway needs to read or write (text, tool_use,
// tool_result, image, thinking). CacheControl and the private injection
// marker travel with any block type.
type AnthropicBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Source       json.RawMessage `json:"source,omitempty"`
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	Thinking     string          `json:"thinking,omitempty"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`

	// CCProxyInjected marks a block that the system prompt injection stage
	// added itself, so the cache-control limiter always keeps its marker.
	CCProxyInjected bool `json:"_ccproxy_injected,omitempty"`
}

// AnthropicStreamEvent is one Server-Sent Event payload from an Anthropic
// Messages stream. Only the fields relevant to a given event "type" are
// populated; the rest are the zero value.
type AnthropicStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	ContentBlock *AnthropicBlock `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`
	Usage        *AnthropicUsage `json:"usage,omitempty"`
}

// BlockKind tags the normalized content-block union used by format adapters
// when translating between wire dialects, per the "dynamic attribute lookup
// on decoded bodies" design note: each dialect decodes into this sum type
// and adapters pattern-match on Kind instead of probing map[string]any.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
	BlockThinking   BlockKind = "thinking"
	// BlockPassthrough preserves a block shape no known dialect mapping
	// understands, so unrecognized content survives a round trip unchanged.
	BlockPassthrough BlockKind = "passthrough"
)

// Block is the tagged-union content-block representation shared by every
// format adapter. Exactly the fields relevant to Kind are meaningful; the
// rest are the zero value. Raw carries the original decoded bytes for the
// Passthrough kind.
type Block struct {
	Kind BlockKind

	Text string

	ToolUseID   string
	ToolName    string
	ToolInput   json.RawMessage
	ToolResult  json.RawMessage
	ToolIsError bool

	ImageSource json.RawMessage

	Injected     bool
	CacheControl json.RawMessage

	Raw json.RawMessage
}

// BlocksFromAnthropic decodes an Anthropic message's raw content (string or
// block array) into the normalized Block union.
func BlocksFromAnthropic(content json.RawMessage) ([]Block, error) {
	if len(content) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return []Block{{Kind: BlockText, Text: text}}, nil
	}

	var raw []AnthropicBlock
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("decode anthropic content: %w", err)
	}

	blocks := make([]Block, 0, len(raw))
	for _, b := range raw {
		switch b.Type {
		case "text":
			blocks = append(blocks, Block{Kind: BlockText, Text: b.Text, Injected: b.CCProxyInjected, CacheControl: b.CacheControl})
		case "tool_use":
			blocks = append(blocks, Block{Kind: BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input, CacheControl: b.CacheControl})
		case "tool_result":
			blocks = append(blocks, Block{Kind: BlockToolResult, ToolUseID: b.ToolUseID, ToolResult: b.Content, ToolIsError: b.IsError, CacheControl: b.CacheControl})
		case "image":
			blocks = append(blocks, Block{Kind: BlockImage, ImageSource: b.Source, CacheControl: b.CacheControl})
		case "thinking":
			blocks = append(blocks, Block{Kind: BlockThinking, Text: b.Thinking, CacheControl: b.CacheControl})
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("re-encode unknown anthropic block: %w", err)
			}
			blocks = append(blocks, Block{Kind: BlockPassthrough, Raw: encoded})
		}
	}
	return blocks, nil
}

// ToAnthropicBlocks renders the normalized Block union back into Anthropic's
// wire shape.
func ToAnthropicBlocks(blocks []Block) ([]AnthropicBlock, error) {
	out := make([]AnthropicBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case BlockText:
			out = append(out, AnthropicBlock{Type: "text", Text: b.Text, CCProxyInjected: b.Injected, CacheControl: b.CacheControl})
		case BlockToolUse:
			out = append(out, AnthropicBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput, CacheControl: b.CacheControl})
		case BlockToolResult:
			out = append(out, AnthropicBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.ToolResult, IsError: b.ToolIsError, CacheControl: b.CacheControl})
		case BlockImage:
			out = append(out, AnthropicBlock{Type: "image", Source: b.ImageSource, CacheControl: b.CacheControl})
		case BlockThinking:
			out = append(out, AnthropicBlock{Type: "thinking", Thinking: b.Text, CacheControl: b.CacheControl})
		case BlockPassthrough:
			var ab AnthropicBlock
			if err := json.Unmarshal(b.Raw, &ab); err != nil {
				return nil, fmt.Errorf("decode passthrough block: %w", err)
			}
			out = append(out, ab)
		default:
			return nil, fmt.Errorf("unknown block kind %q", b.Kind)
		}
	}
	return out, nil
}

// BlocksFromOpenAIContent decodes an OpenAI chat-message content field
// (string or array of {type, text} parts) into the normalized Block union.
// OpenAI dialects only ever carry text and image_url parts on the request
// side; tool calls travel in the separate ToolCalls field.
func BlocksFromOpenAIContent(content json.RawMessage) ([]Block, error) {
	if len(content) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return []Block{{Kind: BlockText, Text: text}}, nil
	}

	var parts []struct {
		Type     string          `json:"type"`
		Text     string          `json:"text"`
		ImageURL json.RawMessage `json:"image_url,omitempty"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return nil, fmt.Errorf("decode openai content: %w", err)
	}

	blocks := make([]Block, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text", "":
			blocks = append(blocks, Block{Kind: BlockText, Text: p.Text})
		case "image_url":
			blocks = append(blocks, Block{Kind: BlockImage, ImageSource: p.ImageURL})
		default:
			encoded, err := json.Marshal(p)
			if err != nil {
				return nil, fmt.Errorf("re-encode unknown openai content part: %w", err)
			}
			blocks = append(blocks, Block{Kind: BlockPassthrough, Raw: encoded})
		}
	}
	return blocks, nil
}

// TextOfBlocks concatenates every text-bearing block, ignoring tool/image
// blocks — used wherever a dialect only needs a flat string (e.g. token
// counting, completions-style outputs).
func TextOfBlocks(blocks []Block) string {
	var out string
	for _, b := range blocks {
		if b.Kind == BlockText || b.Kind == BlockThinking {
			out += b.Text
		}
	}
	return out
}
