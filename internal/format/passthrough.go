package format

import json "github.com/goccy/go-json"

// PassthroughAdapter is the identity adapter: every operation returns its
// input unchanged. Useful for same-dialect hops and as the no-op fixture
// in the chain round-trip property test (spec.md §8).
type PassthroughAdapter struct{}

func (PassthroughAdapter) ConvertRequest(body json.RawMessage) (json.RawMessage, error) {
	return body, nil
}

func (PassthroughAdapter) ConvertResponse(body json.RawMessage) (json.RawMessage, error) {
	return body, nil
}

func (PassthroughAdapter) ConvertError(_ int, body json.RawMessage) (json.RawMessage, error) {
	return body, nil
}
