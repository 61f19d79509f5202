// Package pricing provides functionality for managing and retrieving model pricing information,
// and for turning a usage record (input/output/cache/reasoning tokens) into a cost in USD.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

//go:embed data/defaults.json
var defaultPrices []byte

// ModelPrice holds per-token pricing for one model, including the cache and
// reasoning token rates Anthropic and the OpenAI/Codex backend both report
// usage for.
type ModelPrice struct {
	Provider                string  `json:"litellm_provider"`
	InputCostPerToken       float64 `json:"input_cost_per_token"`
	OutputCostPerToken      float64 `json:"output_cost_per_token"`
	CacheReadCostPerToken   float64 `json:"cache_read_input_token_cost,omitempty"`
	CacheWriteCostPerToken  float64 `json:"cache_creation_input_token_cost,omitempty"`
	ReasoningCostPerToken   float64 `json:"reasoning_cost_per_token,omitempty"`
	Mode                    string  `json:"mode"`
}

// Usage is the token breakdown collected from a provider's terminal usage
// frame (Anthropic message_delta, or the OpenAI/Codex response.completed
// event), enough to price cache hits and reasoning tokens distinctly from
// ordinary input/output tokens.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	ReasoningTokens     int
}

// Registry is a concurrency-safe lookup of model pricing, seeded from an
// embedded defaults file and optionally overlaid from an operator-supplied
// file via Load.
type Registry struct {
	prices map[string]ModelPrice
	mu     sync.RWMutex
}

// NewRegistry returns a Registry pre-loaded with the embedded defaults.
func NewRegistry() *Registry {
	r := &Registry{
		prices: make(map[string]ModelPrice),
	}
	if err := r.loadBytes(defaultPrices); err != nil {
		// Embedded defaults should always be valid; fall back to an empty
		// registry rather than panic in library code.
		return r
	}
	return r
}

// Load overlays pricing entries from a JSON file, keyed the same way as the
// embedded defaults (either "model" or "provider/model").
func (r *Registry) Load(path string) error {
	// #nosec G304 -- path is operator-configured.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.loadBytes(data)
}

func (r *Registry) loadBytes(data []byte) error {
	var prices map[string]ModelPrice
	if err := json.Unmarshal(data, &prices); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range prices {
		r.prices[k] = v
	}
	return nil
}

// GetPrice looks up pricing for a model, trying "provider/model" then bare
// "model", then a wildcard suffix match (e.g. a registry entry for
// "claude-sonnet-4*" matching "claude-sonnet-4-20250514").
func (r *Registry) GetPrice(model, provider string) (ModelPrice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := fmt.Sprintf("%s/%s", provider, model)
	if p, ok := r.prices[key]; ok {
		return p, true
	}
	if p, ok := r.prices[model]; ok {
		return p, true
	}

	modelLower := strings.ToLower(model)
	var best ModelPrice
	var bestLen int
	found := false
	for pattern, p := range r.prices {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
			found = true
		}
	}
	return best, found
}

// AddPricing registers or overrides pricing for a single model key at
// runtime.
func (r *Registry) AddPricing(model string, p ModelPrice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[model] = p
}

// Cost returns the USD cost of a usage record for model/provider, or 0 if
// the model has no registered pricing. Unknown models cost 0 rather than
// erroring, since cost is an observability side channel, never something
// that should fail a request.
func (r *Registry) Cost(model, provider string, u Usage) float64 {
	p, ok := r.GetPrice(model, provider)
	if !ok {
		return 0
	}
	cost := float64(u.InputTokens)*p.InputCostPerToken + float64(u.OutputTokens)*p.OutputCostPerToken
	cost += float64(u.CacheReadTokens) * p.CacheReadCostPerToken
	cost += float64(u.CacheCreationTokens) * p.CacheWriteCostPerToken
	cost += float64(u.ReasoningTokens) * p.ReasoningCostPerToken
	return cost
}
