package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}

	if cfg.Stream.RecoveryMode != "retry" {
		t.Errorf("default recovery mode = %s, want retry", cfg.Stream.RecoveryMode)
	}

	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}

	if cfg.Vault.Enabled {
		t.Error("vault should be disabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
			},
			wantErr: false,
		},
		{
			name: "invalid port zero",
			cfg: &Config{
				Server: ServerConfig{Port: 0},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid port too high",
			cfg: &Config{
				Server: ServerConfig{Port: 70000},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
			},
			wantErr: true,
		},
		{
			name: "no providers",
			cfg: &Config{
				Server:    ServerConfig{Port: 8080},
				Providers: []ProviderConfig{},
			},
			wantErr: true,
		},
		{
			name: "provider missing name",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "", Type: "claude"},
				},
			},
			wantErr: true,
		},
		{
			name: "provider missing type",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: ""},
				},
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude", Timeout: -1},
				},
			},
			wantErr: true,
		},
		{
			name: "negative max_concurrent",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude", MaxConcurrent: -1},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid stream recovery mode",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Stream: StreamConfig{RecoveryMode: "explode"},
			},
			wantErr: true,
		},
		{
			name: "vault enabled missing address",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Vault: VaultConfig{Enabled: true, AuthMethod: "approle", RoleID: "r", SecretID: "s", MountPath: "secret"},
			},
			wantErr: true,
		},
		{
			name: "vault approle missing role/secret id",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Vault: VaultConfig{Enabled: true, Address: "https://vault:8200", AuthMethod: "approle", MountPath: "secret"},
			},
			wantErr: true,
		},
		{
			name: "vault cert missing client cert/key",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Vault: VaultConfig{Enabled: true, Address: "https://vault:8200", AuthMethod: "cert", MountPath: "secret"},
			},
			wantErr: true,
		},
		{
			name: "vault enabled missing mount path",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Vault: VaultConfig{Enabled: true, Address: "https://vault:8200", AuthMethod: "approle", RoleID: "r", SecretID: "s"},
			},
			wantErr: true,
		},
		{
			name: "vault enabled valid approle config",
			cfg: &Config{
				Server: ServerConfig{Port: 8080},
				Providers: []ProviderConfig{
					{Name: "claude", Type: "claude"},
				},
				Vault: VaultConfig{Enabled: true, Address: "https://vault:8200", AuthMethod: "approle", RoleID: "r", SecretID: "s", MountPath: "secret"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Run("valid yaml", func(t *testing.T) {
		content := `
server:
  port: 9090
  read_timeout: 10s
providers:
  - name: claude
    type: claude
    base_url: https://api.anthropic.com
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Server.Port != 9090 {
			t.Errorf("port = %d, want 9090", cfg.Server.Port)
		}

		if cfg.Server.ReadTimeout != 10*time.Second {
			t.Errorf("read_timeout = %v, want 10s", cfg.Server.ReadTimeout)
		}

		if len(cfg.Providers) != 1 {
			t.Fatalf("providers count = %d, want 1", len(cfg.Providers))
		}

		if cfg.Providers[0].Name != "claude" {
			t.Errorf("provider name = %s, want claude", cfg.Providers[0].Name)
		}
	})

	t.Run("environment variable expansion", func(t *testing.T) {
		os.Setenv("TEST_BASE_URL", "https://proxy.internal")
		defer os.Unsetenv("TEST_BASE_URL")

		content := `
server:
  port: 8080
providers:
  - name: claude
    type: claude
    base_url: ${TEST_BASE_URL}
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		cfg, err := LoadFromFile(path)
		if err != nil {
			t.Fatalf("LoadFromFile() error = %v", err)
		}

		if cfg.Providers[0].BaseURL != "https://proxy.internal" {
			t.Errorf("base_url = %s, want https://proxy.internal", cfg.Providers[0].BaseURL)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadFromFile("/nonexistent/path/config.yaml")
		if err == nil {
			t.Error("expected error for nonexistent file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		content := `
server:
  port: [invalid
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		_, err := LoadFromFile(path)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})

	t.Run("oauth-only config with no api keys boots clean", func(t *testing.T) {
		content := `
server:
  port: 8080
providers:
  - name: claude
    type: claude
  - name: codex
    type: codex
  - name: copilot
    type: copilot
`
		path := createTempFile(t, content)
		defer os.Remove(path)

		if _, err := LoadFromFile(path); err != nil {
			t.Fatalf("LoadFromFile() error = %v, want nil for an OAuth-only config", err)
		}
	})
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}
