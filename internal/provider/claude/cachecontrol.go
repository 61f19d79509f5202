package claude

import (
	"sort"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/pkg/types"
)

// MaxCacheControlBlocks is the most cache_control markers Anthropic allows
// in a single request across system/messages/tools (spec.md §4.4.1).
const MaxCacheControlBlocks = 4

// ccMarker is one cache_control-bearing location in the decoded request.
// clear strips its marker in place; size/injected feed the pruning
// decision.
type ccMarker struct {
	size     int
	injected bool
	clear    func()
}

// LimitCacheControlBlocks enumerates every cache_control marker across
// system, messages, and tools, keeps every marker on a block ccproxy itself
// injected unconditionally, and from the rest keeps the largest-content
// markers up to the remaining budget, stripping the others. Size is
// approximated as summed character lengths of textual fields, matching the
// original implementation's str()-based estimator exactly (spec.md §9 — a
// possibly-buggy but deterministic behaviour, preserved rather than fixed).
//
// Applying this function twice to its own output is a no-op: once a
// request has ≤4 markers, nothing is left to strip.
func LimitCacheControlBlocks(body []byte) ([]byte, error) {
	var req types.AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	var markers []ccMarker

	var systemBlocks []types.Block
	hasSystemBlocks := looksLikeBlockArray(req.System)
	if hasSystemBlocks {
		blocks, err := types.BlocksFromAnthropic(req.System)
		if err != nil {
			return nil, err
		}
		systemBlocks = blocks
		for i := range systemBlocks {
			if systemBlocks[i].CacheControl == nil {
				continue
			}
			idx := i
			markers = append(markers, ccMarker{
				size:     blockSize(systemBlocks[idx]),
				injected: systemBlocks[idx].Injected,
				clear:    func() { systemBlocks[idx].CacheControl = nil },
			})
		}
	}

	messageBlocks := make([][]types.Block, len(req.Messages))
	for mi, m := range req.Messages {
		blocks, err := types.BlocksFromAnthropic(m.Content)
		if err != nil {
			continue
		}
		messageBlocks[mi] = blocks
		for bi := range blocks {
			if blocks[bi].CacheControl == nil {
				continue
			}
			midx, bidx := mi, bi
			markers = append(markers, ccMarker{
				size:     blockSize(messageBlocks[midx][bidx]),
				injected: messageBlocks[midx][bidx].Injected,
				clear:    func() { messageBlocks[midx][bidx].CacheControl = nil },
			})
		}
	}

	for ti := range req.Tools {
		if req.Tools[ti].CacheControl == nil {
			continue
		}
		idx := ti
		markers = append(markers, ccMarker{
			size:     len(req.Tools[idx].Description) + len(req.Tools[idx].InputSchema),
			injected: false,
			clear:    func() { req.Tools[idx].CacheControl = nil },
		})
	}

	pruneMarkers(markers)

	if hasSystemBlocks {
		encoded, err := types.ToAnthropicBlocks(systemBlocks)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(encoded)
		if err != nil {
			return nil, err
		}
		req.System = raw
	}
	for mi, blocks := range messageBlocks {
		if blocks == nil {
			continue
		}
		encoded, err := types.ToAnthropicBlocks(blocks)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(encoded)
		if err != nil {
			return nil, err
		}
		req.Messages[mi].Content = raw
	}

	return json.Marshal(req)
}

// pruneMarkers keeps every injected marker, then the largest-size
// non-injected markers up to the remaining budget, clearing the rest.
func pruneMarkers(markers []ccMarker) {
	injectedCount := 0
	for _, m := range markers {
		if m.injected {
			injectedCount++
		}
	}

	budget := MaxCacheControlBlocks - injectedCount
	if budget < 0 {
		budget = 0
	}

	nonInjected := make([]ccMarker, 0, len(markers))
	for _, m := range markers {
		if !m.injected {
			nonInjected = append(nonInjected, m)
		}
	}
	sort.SliceStable(nonInjected, func(i, j int) bool {
		return nonInjected[i].size > nonInjected[j].size
	})

	for i, m := range nonInjected {
		if i >= budget {
			m.clear()
		}
	}
}

// blockSize approximates spec.md §4.4.1's character-length estimator: text
// and thinking blocks count their text; tool_use counts its input; tool
// results count their content; images use their raw source field length.
func blockSize(b types.Block) int {
	switch b.Kind {
	case types.BlockText, types.BlockThinking:
		return len(b.Text)
	case types.BlockToolUse:
		return len(b.ToolInput)
	case types.BlockToolResult:
		return len(b.ToolResult)
	case types.BlockImage:
		return len(b.ImageSource)
	default:
		return len(b.Raw)
	}
}

// looksLikeBlockArray reports whether raw decodes as a JSON array (as
// opposed to Anthropic's bare-string system-prompt shorthand, which never
// carries cache_control markers).
func looksLikeBlockArray(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
