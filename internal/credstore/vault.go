// Package credstore's Vault backend stores each provider's credential blob
// as a single "blob" field in a KV-v2 secret, adapted from the scheme-routing
// Vault secret provider used for static config secrets (which only reads —
// credentials need read and write, since the gateway itself produces them
// on login and on every refresh).
package credstore

import (
	"context"
	"fmt"
	"path"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig configures the Vault-backed credential store.
type VaultConfig struct {
	Address    string
	AuthMethod string // "approle", "cert"
	RoleID     string
	SecretID   string
	CACert     string
	ClientCert string
	ClientKey  string
	// MountPath is the KV-v2 mount holding credentials, e.g. "secret".
	// Credentials for provider "claude" are stored at
	// "<MountPath>/data/ccproxy/credentials/claude".
	MountPath string
}

// VaultStore implements Store against a HashiCorp Vault KV-v2 mount.
type VaultStore struct {
	client *vault.Client
	mount  string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewVaultStore logs into Vault with the given auth method and starts a
// background token-lifetime renewer for the duration of the store's life.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Address

	if cfg.ClientCert != "" || cfg.ClientKey != "" || cfg.CACert != "" {
		tlsConfig := &vault.TLSConfig{
			ClientCert: cfg.ClientCert,
			ClientKey:  cfg.ClientKey,
			CACert:     cfg.CACert,
		}
		if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("configure tls: %w", err)
		}
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	var secret *vault.Secret
	switch cfg.AuthMethod {
	case "cert":
		secret, err = client.Logical().Write("auth/cert/login", nil)
	case "approle", "":
		secret, err = client.Logical().Write("auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
	default:
		return nil, fmt.Errorf("unknown auth method: %s", cfg.AuthMethod)
	}
	if err != nil {
		return nil, fmt.Errorf("vault login (%s): %w", cfg.AuthMethod, err)
	}
	if secret == nil || secret.Auth == nil {
		return nil, fmt.Errorf("vault login returned no auth info")
	}
	client.SetToken(secret.Auth.ClientToken)

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	s := &VaultStore{
		client: client,
		mount:  mount,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.renewLoop(secret.Auth)
	return s, nil
}

func (s *VaultStore) kvPath(segment, provider string) string {
	return path.Join(s.mount, segment, "ccproxy", "credentials", provider)
}

// Load reads provider's credential blob from the KV-v2 "data" field.
func (s *VaultStore) Load(ctx context.Context, provider string) ([]byte, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.kvPath("data", provider))
	if err != nil {
		return nil, fmt.Errorf("read vault credentials for %s: %w", provider, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, &ErrNotFound{Provider: provider}
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	raw, ok := data["blob"]
	if !ok {
		return nil, &ErrNotFound{Provider: provider}
	}
	s2, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("credential blob for %s has unexpected type", provider)
	}
	return []byte(s2), nil
}

// Save writes provider's credential blob to the KV-v2 mount.
func (s *VaultStore) Save(ctx context.Context, provider string, data []byte) error {
	_, err := s.client.Logical().WriteWithContext(ctx, s.kvPath("data", provider), map[string]interface{}{
		"data": map[string]interface{}{
			"blob": string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("write vault credentials for %s: %w", provider, err)
	}
	return nil
}

// Close stops the token renewer and releases resources.
func (s *VaultStore) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *VaultStore) renewLoop(auth *vault.SecretAuth) {
	defer s.wg.Done()

	if !auth.Renewable {
		return
	}

	watcher, err := s.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: &vault.Secret{Auth: auth},
	})
	if err != nil {
		return
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-watcher.DoneCh():
			return
		case <-watcher.RenewCh():
		}
	}
}
