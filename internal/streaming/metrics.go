package streaming

import (
	"bytes"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/pkg/pricing"
)

// Metrics is the streaming side-channel record filled in as SSE events pass
// through a provider-specific Collector (spec.md §3 "Streaming metrics").
type Metrics struct {
	TokensInput      int
	TokensOutput     int
	CacheReadTokens  int
	CacheWriteTokens int
	ReasoningTokens  int
	CostUSD          float64
	Model            string
}

// Collector extracts Metrics from the raw SSE "data: ..." payloads of one
// streaming response. ProcessChunk returns true once this chunk completed
// the metrics record (the terminal usage-bearing frame); callers may keep
// calling it after that point, but no further fields will change.
type Collector interface {
	ProcessChunk(chunkData []byte) bool
	GetMetrics() Metrics
}

// finalizeCost fills in CostUSD from the pricing registry when both the
// model and a pricing service are known. Pricing errors are swallowed and
// logged, never surfaced to the caller (spec.md §4.6.1).
func finalizeCost(m *Metrics, provider string, pr *pricing.Registry, logger *slog.Logger) {
	if pr == nil || m.Model == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Warn("pricing calculation panicked", "recover", r)
			}
		}
	}()
	m.CostUSD = pr.Cost(m.Model, provider, pricing.Usage{
		InputTokens:         m.TokensInput,
		OutputTokens:        m.TokensOutput,
		CacheReadTokens:     m.CacheReadTokens,
		CacheCreationTokens: m.CacheWriteTokens,
		ReasoningTokens:     m.ReasoningTokens,
	})
}

// AnthropicCollector extracts usage from an Anthropic Messages SSE stream:
// input tokens and initial cache tokens from message_start, output tokens
// from message_delta.
type AnthropicCollector struct {
	pricing *pricing.Registry
	logger  *slog.Logger
	metrics Metrics
	done    bool
}

// NewAnthropicCollector creates a collector; pr may be nil to skip cost
// calculation.
func NewAnthropicCollector(pr *pricing.Registry, logger *slog.Logger) *AnthropicCollector {
	return &AnthropicCollector{pricing: pr, logger: logger}
}

// ProcessChunk implements Collector.
func (c *AnthropicCollector) ProcessChunk(chunkData []byte) bool {
	if c.done {
		return false
	}
	trimmed := bytes.TrimSpace(chunkData)
	if len(trimmed) == 0 {
		return false
	}

	var event struct {
		Type    string `json:"type"`
		Message struct {
			Model string `json:"model"`
			Usage struct {
				InputTokens              int `json:"input_tokens"`
				CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
				CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return false
	}

	switch event.Type {
	case "message_start":
		c.metrics.Model = event.Message.Model
		c.metrics.TokensInput = event.Message.Usage.InputTokens
		c.metrics.CacheWriteTokens = event.Message.Usage.CacheCreationInputTokens
		c.metrics.CacheReadTokens = event.Message.Usage.CacheReadInputTokens
		return false
	case "message_delta":
		if event.Usage.OutputTokens > 0 {
			c.metrics.TokensOutput = event.Usage.OutputTokens
		}
		if event.Delta.StopReason != "" {
			finalizeCost(&c.metrics, "anthropic", c.pricing, c.logger)
			c.done = true
			return true
		}
		return false
	default:
		return false
	}
}

// GetMetrics implements Collector.
func (c *AnthropicCollector) GetMetrics() Metrics {
	return c.metrics
}

// OpenAICollector extracts usage from an OpenAI-style chat.completion.chunk
// stream (terminal frame with non-null usage) or a Codex response.completed
// event, per spec.md §4.6.1.
type OpenAICollector struct {
	pricing *pricing.Registry
	logger  *slog.Logger
	metrics Metrics
	done    bool
}

// NewOpenAICollector creates a collector; pr may be nil to skip cost
// calculation.
func NewOpenAICollector(pr *pricing.Registry, logger *slog.Logger) *OpenAICollector {
	return &OpenAICollector{pricing: pr, logger: logger}
}

// ProcessChunk implements Collector.
func (c *OpenAICollector) ProcessChunk(chunkData []byte) bool {
	if c.done {
		return false
	}
	trimmed := bytes.TrimSpace(chunkData)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return false
	}

	var frame struct {
		Object string `json:"object"`
		Type   string `json:"type"`
		Model  string `json:"model"`
		Usage  *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			PromptTokensDetails *struct {
				CachedTokens int `json:"cached_tokens"`
			} `json:"prompt_tokens_details"`
			CompletionTokensDetails *struct {
				ReasoningTokens int `json:"reasoning_tokens"`
			} `json:"completion_tokens_details"`
		} `json:"usage"`
		Response *struct {
			Model string `json:"model"`
			Usage *struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
				InputTokensDetails *struct {
					CachedTokens int `json:"cached_tokens"`
				} `json:"input_tokens_details"`
				OutputTokensDetails *struct {
					ReasoningTokens int `json:"reasoning_tokens"`
				} `json:"output_tokens_details"`
			} `json:"usage"`
		} `json:"response"`
	}
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return false
	}

	if frame.Type == "response.completed" && frame.Response != nil && frame.Response.Usage != nil {
		u := frame.Response.Usage
		c.metrics.Model = frame.Response.Model
		c.metrics.TokensInput = u.InputTokens
		c.metrics.TokensOutput = u.OutputTokens
		if u.InputTokensDetails != nil {
			c.metrics.CacheReadTokens = u.InputTokensDetails.CachedTokens
		}
		if u.OutputTokensDetails != nil {
			c.metrics.ReasoningTokens = u.OutputTokensDetails.ReasoningTokens
		}
		finalizeCost(&c.metrics, "codex", c.pricing, c.logger)
		c.done = true
		return true
	}

	if frame.Object == "chat.completion.chunk" && frame.Usage != nil {
		c.metrics.Model = frame.Model
		c.metrics.TokensInput = frame.Usage.PromptTokens
		c.metrics.TokensOutput = frame.Usage.CompletionTokens
		if frame.Usage.PromptTokensDetails != nil {
			c.metrics.CacheReadTokens = frame.Usage.PromptTokensDetails.CachedTokens
		}
		if frame.Usage.CompletionTokensDetails != nil {
			c.metrics.ReasoningTokens = frame.Usage.CompletionTokensDetails.ReasoningTokens
		}
		finalizeCost(&c.metrics, "openai", c.pricing, c.logger)
		c.done = true
		return true
	}

	return false
}

// GetMetrics implements Collector.
func (c *OpenAICollector) GetMetrics() Metrics {
	return c.metrics
}
