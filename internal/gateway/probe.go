package gateway

import json "github.com/goccy/go-json"

// ModelOf extracts the top-level "model" field shared by every wire
// dialect this gateway accepts (OpenAI Chat Completions, OpenAI Responses,
// Anthropic Messages all carry it at the same key), for the
// providerhttp.Adapter.Model hook. A malformed body yields "" rather than
// an error — the adapter's own Receive step surfaces the parse failure.
func ModelOf(body []byte) string {
	var probe struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Model
}
