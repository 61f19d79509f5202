package copilot

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// normalizeResponse dispatches to the chat-completions or Responses-API
// normaliser based on which shape body looks like, per spec.md §4.4.3.
func normalizeResponse(body []byte) ([]byte, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("copilot: decode response body: %w", err)
	}

	if _, hasOutput := probe["output"]; hasOutput {
		return normalizeResponsesAPI(probe)
	}
	if obj, ok := probe["object"]; ok {
		var objStr string
		if err := json.Unmarshal(obj, &objStr); err == nil && objStr == "response" {
			return normalizeResponsesAPI(probe)
		}
	}
	if _, hasChoices := probe["choices"]; hasChoices {
		return normalizeChatCompletion(probe)
	}
	return nil, fmt.Errorf("copilot: response body matches neither known shape")
}

// normalizeChatCompletion patches a missing `created` timestamp — Copilot's
// chat-completion responses sometimes omit it entirely (spec.md §4.4.3).
func normalizeChatCompletion(probe map[string]json.RawMessage) ([]byte, error) {
	if raw, ok := probe["created"]; ok {
		var created int64
		if err := json.Unmarshal(raw, &created); err == nil && created != 0 {
			return json.Marshal(probe)
		}
	}
	stamped, err := json.Marshal(time.Now().Unix())
	if err != nil {
		return nil, err
	}
	probe["created"] = stamped
	return json.Marshal(probe)
}

// responsesOutputPart is one content part of a Responses-API output item.
type responsesOutputPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// responsesOutputItem is one item of a Responses-API `output` array.
type responsesOutputItem struct {
	Type    string                `json:"type"`
	Role    string                `json:"role,omitempty"`
	Content []responsesOutputPart `json:"content,omitempty"`
}

// responsesUsage mirrors the canonical Responses-API usage shape, with the
// nested token-detail objects spec.md §4.4.3 calls out explicitly.
type responsesUsage struct {
	InputTokens         int                 `json:"input_tokens,omitempty"`
	OutputTokens        int                 `json:"output_tokens,omitempty"`
	TotalTokens         int                 `json:"total_tokens,omitempty"`
	InputTokensDetails  *inputTokenDetails  `json:"input_tokens_details,omitempty"`
	OutputTokensDetails *outputTokenDetails `json:"output_tokens_details,omitempty"`
}

type inputTokenDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type outputTokenDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// normalizeResponsesAPI rebuilds a Copilot Responses-API payload into the
// canonical shape: populates id, derives status from stop_reason, extracts
// cached/reasoning token counts into their nested detail objects, and
// coerces bare text output parts to "output_text".
func normalizeResponsesAPI(probe map[string]json.RawMessage) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(probe))
	for k, v := range probe {
		out[k] = v
	}

	if raw, ok := probe["id"]; !ok || isEmptyJSONString(raw) {
		id, err := json.Marshal(fmt.Sprintf("resp_%d", time.Now().UnixNano()))
		if err != nil {
			return nil, err
		}
		out["id"] = id
	}

	status := deriveStatus(probe)
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	out["status"] = statusJSON

	if raw, ok := probe["output"]; ok {
		var items []responsesOutputItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("copilot: decode responses output: %w", err)
		}
		for i := range items {
			for j := range items[i].Content {
				if items[i].Content[j].Type == "" || items[i].Content[j].Type == "text" {
					items[i].Content[j].Type = "output_text"
				}
			}
		}
		itemsJSON, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}
		out["output"] = itemsJSON
	}

	if raw, ok := probe["usage"]; ok {
		usage, err := normalizeUsage(raw)
		if err != nil {
			return nil, err
		}
		usageJSON, err := json.Marshal(usage)
		if err != nil {
			return nil, err
		}
		out["usage"] = usageJSON
	}

	return json.Marshal(out)
}

func isEmptyJSONString(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return true
	}
	return s == ""
}

// deriveStatus maps a chat-completion-style stop_reason onto the
// Responses-API status vocabulary; an explicit status already present on
// the body wins.
func deriveStatus(probe map[string]json.RawMessage) string {
	if raw, ok := probe["status"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}

	raw, ok := probe["stop_reason"]
	if !ok {
		return "completed"
	}
	var reason string
	if err := json.Unmarshal(raw, &reason); err != nil {
		return "completed"
	}
	switch reason {
	case "length", "max_tokens":
		return "incomplete"
	case "content_filter":
		return "incomplete"
	default:
		return "completed"
	}
}

// rawUsage is the loosely-typed shape a Copilot usage object may arrive in
// (either already nested, or flat chat-completion-style fields).
type rawUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`

	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`

	InputTokensDetails  *inputTokenDetails  `json:"input_tokens_details"`
	OutputTokensDetails *outputTokenDetails `json:"output_tokens_details"`
}

func normalizeUsage(raw json.RawMessage) (*responsesUsage, error) {
	var ru rawUsage
	if err := json.Unmarshal(raw, &ru); err != nil {
		return nil, fmt.Errorf("copilot: decode usage: %w", err)
	}

	input := ru.InputTokens
	if input == 0 {
		input = ru.PromptTokens
	}
	output := ru.OutputTokens
	if output == 0 {
		output = ru.CompletionTokens
	}
	total := ru.TotalTokens
	if total == 0 {
		total = input + output
	}

	cached := ru.PromptTokensDetails.CachedTokens
	if ru.InputTokensDetails != nil && ru.InputTokensDetails.CachedTokens > 0 {
		cached = ru.InputTokensDetails.CachedTokens
	}
	reasoning := ru.CompletionTokensDetails.ReasoningTokens
	if ru.OutputTokensDetails != nil && ru.OutputTokensDetails.ReasoningTokens > 0 {
		reasoning = ru.OutputTokensDetails.ReasoningTokens
	}

	return &responsesUsage{
		InputTokens:         input,
		OutputTokens:        output,
		TotalTokens:         total,
		InputTokensDetails:  &inputTokenDetails{CachedTokens: cached},
		OutputTokensDetails: &outputTokenDetails{ReasoningTokens: reasoning},
	}, nil
}
