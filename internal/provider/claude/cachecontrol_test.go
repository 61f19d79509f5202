package claude

import (
	"encoding/json"
	"testing"
)

func countCacheControlMarkers(t *testing.T, body []byte) int {
	t.Helper()
	var req struct {
		System   []map[string]any `json:"system"`
		Messages []struct {
			Content []map[string]any `json:"content"`
		} `json:"messages"`
		Tools []map[string]any `json:"tools"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	n := 0
	for _, b := range req.System {
		if b["cache_control"] != nil {
			n++
		}
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b["cache_control"] != nil {
				n++
			}
		}
	}
	for _, tl := range req.Tools {
		if tl["cache_control"] != nil {
			n++
		}
	}
	return n
}

// TestLimitCacheControlBlocksKeepsInjectedAndLargest exercises scenario 2
// from spec.md §8: six cache_control markers, two injected, expects
// exactly 4 remain: both injected plus the 2 largest non-injected.
func TestLimitCacheControlBlocksKeepsInjectedAndLargest(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"system": [
			{"type": "text", "text": "injected-small", "cache_control": {"type": "ephemeral"}, "_ccproxy_injected": true},
			{"type": "text", "text": "injected-also-small", "cache_control": {"type": "ephemeral"}, "_ccproxy_injected": true}
		],
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "short", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "this one is the longest block by far in the whole request", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "medium length text block here", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "tiny", "cache_control": {"type": "ephemeral"}}
			]}
		]
	}`)

	out, err := LimitCacheControlBlocks(body)
	if err != nil {
		t.Fatalf("LimitCacheControlBlocks: %v", err)
	}

	if n := countCacheControlMarkers(t, out); n != MaxCacheControlBlocks {
		t.Fatalf("expected %d markers remaining, got %d", MaxCacheControlBlocks, n)
	}

	var req struct {
		System []struct {
			Text         string `json:"text"`
			CacheControl any    `json:"cache_control"`
		} `json:"system"`
	}
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	for _, b := range req.System {
		if b.CacheControl == nil {
			t.Fatalf("injected block %q lost its cache_control marker", b.Text)
		}
	}
}

// TestLimitCacheControlBlocksIdempotent exercises the round-trip property
// from spec.md §8: applying the limiter twice yields the same payload.
func TestLimitCacheControlBlocksIdempotent(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "a", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "bbbbbbbbbb", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "ccccccccccccc", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "dddddddddddddddd", "cache_control": {"type": "ephemeral"}},
				{"type": "text", "text": "eeeeeeeeeeeeeeeeeeee", "cache_control": {"type": "ephemeral"}}
			]}
		]
	}`)

	once, err := LimitCacheControlBlocks(body)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := LimitCacheControlBlocks(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if string(once) != string(twice) {
		t.Fatalf("limiter not idempotent:\nfirst:  %s\nsecond: %s", once, twice)
	}
	if n := countCacheControlMarkers(t, twice); n > MaxCacheControlBlocks {
		t.Fatalf("expected at most %d markers, got %d", MaxCacheControlBlocks, n)
	}
}

// TestLimitCacheControlBlocksUnderBudgetUnchanged verifies a request with
// fewer than 4 markers passes through without losing any of them.
func TestLimitCacheControlBlocksUnderBudgetUnchanged(t *testing.T) {
	body := []byte(`{
		"model": "claude-3-5-sonnet-20241022",
		"max_tokens": 100,
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "one", "cache_control": {"type": "ephemeral"}}
			]}
		]
	}`)

	out, err := LimitCacheControlBlocks(body)
	if err != nil {
		t.Fatalf("LimitCacheControlBlocks: %v", err)
	}
	if n := countCacheControlMarkers(t, out); n != 1 {
		t.Fatalf("expected 1 marker to survive, got %d", n)
	}
}
