package claude

import (
	"encoding/json"
	"testing"
)

func TestScrubInjectedMetadataRemovesUnderscoreKeys(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"system": [{"type": "text", "text": "hi", "_ccproxy_injected": true}],
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "hello", "_internal": "x"}]}
		],
		"_trace_id": "abc"
	}`)

	out, err := ScrubInjectedMetadata(body)
	if err != nil {
		t.Fatalf("ScrubInjectedMetadata: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	if _, ok := decoded["_trace_id"]; ok {
		t.Fatal("expected top-level _trace_id to be scrubbed")
	}

	system := decoded["system"].([]any)
	sysBlock := system[0].(map[string]any)
	if _, ok := sysBlock["_ccproxy_injected"]; ok {
		t.Fatal("expected _ccproxy_injected to be scrubbed from system block")
	}
	if sysBlock["text"] != "hi" {
		t.Fatalf("expected text field preserved, got %v", sysBlock["text"])
	}

	messages := decoded["messages"].([]any)
	msg := messages[0].(map[string]any)
	content := msg["content"].([]any)
	contentBlock := content[0].(map[string]any)
	if _, ok := contentBlock["_internal"]; ok {
		t.Fatal("expected _internal to be scrubbed from message content block")
	}
}

func TestScrubInjectedMetadataIdempotent(t *testing.T) {
	body := []byte(`{"model": "x", "_a": 1, "nested": {"_b": 2, "c": 3}}`)

	once, err := ScrubInjectedMetadata(body)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := ScrubInjectedMetadata(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	var a, b map[string]any
	_ = json.Unmarshal(once, &a)
	_ = json.Unmarshal(twice, &b)

	if len(a) != len(b) {
		t.Fatalf("scrub not idempotent: %v vs %v", a, b)
	}
}

func TestScrubInjectedMetadataPreservesNonUnderscoreKeys(t *testing.T) {
	body := []byte(`{"model": "claude-3-5-sonnet-20241022", "max_tokens": 100}`)

	out, err := ScrubInjectedMetadata(body)
	if err != nil {
		t.Fatalf("ScrubInjectedMetadata: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if decoded["model"] != "claude-3-5-sonnet-20241022" {
		t.Fatalf("expected model preserved, got %v", decoded["model"])
	}
	if decoded["max_tokens"].(float64) != 100 {
		t.Fatalf("expected max_tokens preserved, got %v", decoded["max_tokens"])
	}
}
