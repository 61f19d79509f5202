// Package credstore persists provider OAuth credentials — the JSON blobs
// described in the persisted-state layout, one per provider ("claude",
// "codex", "copilot") — behind a pluggable Store so the default on-disk
// layout can be swapped for a shared backend (Vault) when the gateway runs
// as more than one replica.
package credstore

import "context"

// Store loads and atomically saves the raw JSON credential blob for a
// provider. Implementations never interpret the bytes; the oauth package
// owns the schema.
type Store interface {
	// Load returns the stored bytes for provider, or ErrNotFound if no
	// credentials have ever been saved.
	Load(ctx context.Context, provider string) ([]byte, error)
	// Save atomically replaces the stored bytes for provider.
	Save(ctx context.Context, provider string, data []byte) error
	Close() error
}

// ErrNotFound is returned by Load when no credentials exist yet for a
// provider — the normal state before the first OAuth login completes.
type ErrNotFound struct {
	Provider string
}

func (e *ErrNotFound) Error() string {
	return "credstore: no credentials for provider " + e.Provider
}
