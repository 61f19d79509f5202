package models

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed data/default_cards.json
var defaultCardsJSON []byte

// StubFetcher satisfies Fetcher from a static embedded JSON snapshot, so
// the registry is exercisable without network access. Model-card fetching
// from a public URL is out of scope (spec.md §1); a real Fetcher belongs
// to the CLI layer that spec.md also excludes.
type StubFetcher struct{}

// Fetch implements Fetcher.
func (StubFetcher) Fetch(_ context.Context) ([]Card, error) {
	var cards []Card
	if err := json.Unmarshal(defaultCardsJSON, &cards); err != nil {
		return nil, fmt.Errorf("models: decode embedded default cards: %w", err)
	}
	return cards, nil
}
