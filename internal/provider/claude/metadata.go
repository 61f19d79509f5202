package claude

import json "github.com/goccy/go-json"

// ScrubInjectedMetadata removes every object key beginning with "_" from
// body, recursing into nested objects and arrays. It runs after cache
// control limiting and system prompt injection so internal bookkeeping
// (_ccproxy_injected and anything else ccproxy itself stamped onto the
// payload) never reaches the upstream API. Applying it twice is a no-op.
func ScrubInjectedMetadata(body []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return json.Marshal(scrubValue(v))
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if len(k) > 0 && k[0] == '_' {
				continue
			}
			out[k] = scrubValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = scrubValue(e)
		}
		return out
	default:
		return v
	}
}
