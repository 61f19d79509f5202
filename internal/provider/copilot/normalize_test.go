package copilot

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestNormalizeChatCompletionPatchesMissingCreated(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[],"created":0}`)

	out, err := normalizeResponse(body)
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["created"] == nil || decoded["created"].(float64) == 0 {
		t.Fatalf("expected created to be patched to a nonzero timestamp, got %v", decoded["created"])
	}
}

func TestNormalizeChatCompletionPreservesExistingCreated(t *testing.T) {
	body := []byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[],"created":12345}`)

	out, err := normalizeResponse(body)
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["created"].(float64) != 12345 {
		t.Fatalf("expected created to be preserved, got %v", decoded["created"])
	}
}

func TestNormalizeResponsesAPIPopulatesIDAndStatus(t *testing.T) {
	body := []byte(`{"object":"response","output":[{"type":"message","role":"assistant","content":[{"type":"text","text":"hi"}]}]}`)

	out, err := normalizeResponse(body)
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["id"] == "" || decoded["id"] == nil {
		t.Fatal("expected a generated id")
	}
	if decoded["status"] != "completed" {
		t.Fatalf("expected status completed, got %v", decoded["status"])
	}

	output := decoded["output"].([]any)
	content := output[0].(map[string]any)["content"].([]any)
	part := content[0].(map[string]any)
	if part["type"] != "output_text" {
		t.Fatalf("expected text coerced to output_text, got %v", part["type"])
	}
}

func TestNormalizeResponsesAPIStatusFromStopReason(t *testing.T) {
	cases := []struct {
		stopReason string
		want       string
	}{
		{"length", "incomplete"},
		{"max_tokens", "incomplete"},
		{"content_filter", "incomplete"},
		{"stop", "completed"},
	}

	for _, tc := range cases {
		body := []byte(`{"output":[],"stop_reason":"` + tc.stopReason + `"}`)
		out, err := normalizeResponse(body)
		if err != nil {
			t.Fatalf("normalizeResponse(%s): %v", tc.stopReason, err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(out, &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded["status"] != tc.want {
			t.Errorf("stop_reason=%s: expected status %s, got %v", tc.stopReason, tc.want, decoded["status"])
		}
	}
}

func TestNormalizeResponsesAPIExtractsUsageFromFlatShape(t *testing.T) {
	body := []byte(`{"output":[],"usage":{"prompt_tokens":100,"completion_tokens":20,"prompt_tokens_details":{"cached_tokens":30},"completion_tokens_details":{"reasoning_tokens":5}}}`)

	out, err := normalizeResponse(body)
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	usage := decoded["usage"].(map[string]any)
	if usage["input_tokens"].(float64) != 100 {
		t.Fatalf("expected input_tokens 100, got %v", usage["input_tokens"])
	}
	if usage["output_tokens"].(float64) != 20 {
		t.Fatalf("expected output_tokens 20, got %v", usage["output_tokens"])
	}
	details := usage["input_tokens_details"].(map[string]any)
	if details["cached_tokens"].(float64) != 30 {
		t.Fatalf("expected cached_tokens 30, got %v", details["cached_tokens"])
	}
	outDetails := usage["output_tokens_details"].(map[string]any)
	if outDetails["reasoning_tokens"].(float64) != 5 {
		t.Fatalf("expected reasoning_tokens 5, got %v", outDetails["reasoning_tokens"])
	}
}

func TestNormalizeResponsesAPIPrefersNestedUsageShape(t *testing.T) {
	body := []byte(`{"output":[],"usage":{"input_tokens":50,"output_tokens":10,"input_tokens_details":{"cached_tokens":7},"output_tokens_details":{"reasoning_tokens":2}}}`)

	out, err := normalizeResponse(body)
	if err != nil {
		t.Fatalf("normalizeResponse: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	usage := decoded["usage"].(map[string]any)
	if usage["total_tokens"].(float64) != 60 {
		t.Fatalf("expected computed total_tokens 60, got %v", usage["total_tokens"])
	}
}

func TestNormalizeResponseFallsBackOnUnknownShape(t *testing.T) {
	_, err := normalizeResponse([]byte(`{"foo":"bar"}`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized body shape")
	}
}

func TestNormalizeResponseErrorsOnInvalidJSON(t *testing.T) {
	_, err := normalizeResponse([]byte(`not json`))
	if err == nil {
		t.Fatal("expected an error for invalid json")
	}
}
