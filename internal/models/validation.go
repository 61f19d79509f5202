package models

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
	"github.com/ccproxy/ccproxy/internal/pool"
	"github.com/ccproxy/ccproxy/internal/tokenizer"
	"github.com/ccproxy/ccproxy/pkg/types"
)

// WarningFraction is the default fraction of the context window at which
// requests get an X-Model-Warning header instead of being rejected.
const WarningFraction = 0.9

// InferProvider keys on path substrings exactly as the source's
// `_infer_provider` helper does: ambiguous paths fall through to "",
// causing validation to be skipped rather than erroring. This is a
// preserved "possibly-buggy" behaviour per spec.md §9 — do not make it
// stricter.
func InferProvider(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "codex"):
		return "codex"
	case strings.Contains(lower, "copilot"):
		return "copilot"
	case strings.Contains(lower, "claude"):
		return "claude"
	case strings.Contains(lower, "messages"):
		return "claude"
	case strings.Contains(lower, "openai"):
		return ""
	default:
		return ""
	}
}

// Validate decodes body once, borrowing the scratch *types.ChatRequest from
// the pool package the way the hot request path does, and enforces the
// five capability checks from spec.md §4.8 against the model card resolved
// for (provider, req.Model). When provider is "" (an ambiguous path) or no
// card is known for the model, validation is skipped entirely — this
// mirrors the source's documented fallthrough rather than failing closed.
//
// It returns the resolved card (nil if skipped), a warning header value
// (empty if none), and a non-nil *errors.LLMError on a capability
// violation. The decoded request itself is never returned: it is pooled
// and reset the moment Validate is done with it.
func Validate(provider string, body []byte, registry *Registry) (*Card, string, *ccerrors.LLMError) {
	req := pool.GetChatRequest()
	defer pool.PutChatRequest(req)
	return validateInto(provider, body, registry, req)
}

// validateInto decodes body into the caller-owned req (typically borrowed
// from the pool package's sync.Pool) and runs the five capability checks
// from spec.md §4.8 against the model card resolved for (provider,
// req.Model). The caller is responsible for the req's lifetime; once the
// caller returns it to the pool, nothing returned from here may read it
// again (Card, warning and the error are self-contained copies).
func validateInto(provider string, body []byte, registry *Registry, req *types.ChatRequest) (*Card, string, *ccerrors.LLMError) {
	if err := json.Unmarshal(body, req); err != nil {
		return nil, "", ccerrors.NewInvalidRequestError(provider, "", "malformed request body: "+err.Error())
	}

	if provider == "" {
		return nil, "", nil
	}

	card, ok := registry.Get(provider, req.Model)
	if !ok {
		return nil, "", nil
	}

	inputTokens := tokenizer.EstimatePromptTokens(req.Model, req)

	if card.MaxInputTokens > 0 && inputTokens > card.MaxInputTokens {
		e := ccerrors.NewInvalidRequestError(provider, req.Model, "input exceeds the model's context window")
		e.Code = "context_length_exceeded"
		return &card, "", e
	}

	if req.MaxTokens > 0 && card.MaxOutputTokens > 0 && req.MaxTokens > card.MaxOutputTokens {
		e := ccerrors.NewInvalidRequestError(provider, req.Model, "max_tokens exceeds the model's output limit")
		e.Code = "max_tokens_exceeded"
		e.Param = "max_tokens"
		return &card, "", e
	}

	if !card.SupportsVision && hasVisionContent(req.Messages) {
		e := ccerrors.NewValidationCapabilityError(provider, req.Model, "model does not support vision content", "messages")
		e.Code = "unsupported_content_type"
		return &card, "", e
	}

	if !card.SupportsFunctionCalling && len(req.Tools) > 0 {
		e := ccerrors.NewValidationCapabilityError(provider, req.Model, "model does not support function calling", "tools")
		e.Code = "unsupported_feature"
		return &card, "", e
	}

	if !card.SupportsResponseSchema && req.ResponseFormat != nil &&
		(req.ResponseFormat.Type == "json_object" || req.ResponseFormat.Type == "json_schema") {
		e := ccerrors.NewValidationCapabilityError(provider, req.Model, "model does not support structured response formats", "response_format")
		e.Code = "unsupported_feature"
		return &card, "", e
	}

	warning := ""
	if card.MaxInputTokens > 0 && float64(inputTokens) > WarningFraction*float64(card.MaxInputTokens) {
		warning = "input is approaching this model's context window limit"
	}

	return &card, warning, nil
}

func hasVisionContent(messages []types.ChatMessage) bool {
	for _, m := range messages {
		blocks, err := types.BlocksFromOpenAIContent(m.Content)
		if err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Kind == types.BlockImage {
				return true
			}
		}
	}
	return false
}

// WriteWarningHeader appends X-Model-Warning to w's headers, preserving
// any previously-set value (spec.md §4.8 "repeating permitted").
func WriteWarningHeader(w http.ResponseWriter, warning string) {
	if warning == "" {
		return
	}
	w.Header().Add("X-Model-Warning", warning)
}
