// Package main is the entry point for the ccproxy gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccproxy/ccproxy/internal/cache/rediscache"
	"github.com/ccproxy/ccproxy/internal/cache/s3cache"
	"github.com/ccproxy/ccproxy/internal/config"
	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/credstore"
	"github.com/ccproxy/ccproxy/internal/gateway"
	"github.com/ccproxy/ccproxy/internal/hooks"
	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/models"
	"github.com/ccproxy/ccproxy/internal/observability"
	"github.com/ccproxy/ccproxy/internal/oauth/claude"
	"github.com/ccproxy/ccproxy/internal/oauth/codex"
	"github.com/ccproxy/ccproxy/internal/oauth/copilot"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
	"github.com/ccproxy/ccproxy/internal/secret"
	secretenv "github.com/ccproxy/ccproxy/internal/secret/env"
	secretvault "github.com/ccproxy/ccproxy/internal/secret/vault"
	"github.com/ccproxy/ccproxy/internal/streaming"
	"github.com/ccproxy/ccproxy/pkg/pricing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	credDir := flag.String("cred-dir", "", "directory for on-disk OAuth credential files (defaults to $HOME/.ccproxy)")
	flag.Parse()

	obsLogger := observability.NewLogger(observability.LoggerConfig{
		Level:      slog.LevelInfo,
		JSONFormat: true,
	}, observability.NewRedactor())
	logger := obsLogger.Slog()
	slog.SetDefault(logger)
	logger.Info("starting ccproxy gateway", "version", "0.1.0")

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer func() { _ = cfgManager.Close() }()
	cfg := cfgManager.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if watchErr := cfgManager.Watch(ctx); watchErr != nil {
		logger.Warn("config hot-reload disabled", "error", watchErr)
	}

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	store, err := newCredStore(cfg, *credDir)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	secretMgr := newSecretManager(cfg)
	defer func() { _ = secretMgr.Close() }()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	claudeMgr := claude.New(claude.DefaultConfig(), store, httpClient)
	codexMgr := codex.New(codex.DefaultConfig(), store, httpClient)
	copilotMgr := copilot.New(copilot.DefaultConfig(), store, httpClient)

	pool := connpool.New(connpool.Config{
		PoolSize:      providerMaxConcurrent(cfg, 64),
		Timeout:       30 * time.Second,
		StreamTimeout: 10 * time.Minute,
	})
	defer pool.CloseAll()

	hookBus := hooks.New()
	formatRegistry := gateway.NewFormatRegistry()
	streamHandler := &streaming.Handler{Hooks: hookBus, Logger: logger, Registry: formatRegistry}

	modelCacheDir := os.Getenv("CCPROXY_MODEL_CACHE_DIR")
	cacheBackend, cerr := newModelCacheBackend(ctx, cfg)
	if cerr != nil {
		logger.Warn("shared model cache backend unavailable, falling back to the on-disk cache", "error", cerr)
	}
	modelRegistry := models.NewRegistryWithBackend(models.StubFetcher{}, modelCacheDir, cacheBackend)
	if rerr := modelRegistry.Refresh(ctx); rerr != nil {
		logger.Warn("initial model card refresh failed, serving from embedded defaults", "error", rerr)
	}
	go modelRegistry.Watch(ctx, func(err error) {
		logger.Warn("background model card refresh failed", "error", err)
	})

	pricingRegistry := pricing.NewRegistry()
	if cfg.PricingFile != "" {
		if lerr := pricingRegistry.Load(cfg.PricingFile); lerr != nil {
			logger.Warn("failed to load pricing file, using embedded defaults", "error", lerr, "path", cfg.PricingFile)
		}
	}

	services := &gateway.Services{
		Pool:    pool,
		Hooks:   hookBus,
		Format:  formatRegistry,
		Stream:  streamHandler,
		Models:  modelRegistry,
		Pricing: pricingRegistry,
		Logger:  logger,
	}

	providers := []gateway.ProviderFactory{
		{
			Manifest: gateway.ClaudeManifest,
			Factory: func() pluginsys.Runtime {
				return gateway.NewClaudePlugin(claudeMgr, providerBaseURL(ctx, secretMgr, cfg, "claude", "https://api.anthropic.com"))
			},
		},
		{
			Manifest: gateway.CodexManifest,
			Factory: func() pluginsys.Runtime {
				return gateway.NewCodexPlugin(codexMgr, codexMgr, providerBaseURL(ctx, secretMgr, cfg, "codex", "https://chatgpt.com"))
			},
		},
		{
			Manifest: gateway.CopilotManifest,
			Factory: func() pluginsys.Runtime {
				return gateway.NewCopilotPlugin(copilotMgr, providerHeaders(ctx, secretMgr, cfg, "copilot"), providerBaseURL(ctx, secretMgr, cfg, "copilot", "https://api.githubcopilot.com"))
			},
		},
	}

	router, err := gateway.NewRouter(ctx, services, providers...)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	var httpHandler http.Handler = router.Handler()
	httpHandler = metrics.Middleware(httpHandler)
	httpHandler = observability.RequestIDMiddleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if lerr := server.ListenAndServe(); lerr != nil && lerr != http.ErrServerClosed {
			serverErr <- lerr
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutting down server...")
	case lerr := <-serverErr:
		return fmt.Errorf("server error: %w", lerr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", "error", serr)
	}
	router.Shutdown(shutdownCtx)

	if tracerProvider != nil {
		if terr := tracerProvider.Shutdown(shutdownCtx); terr != nil {
			logger.Error("tracer shutdown error", "error", terr)
		}
	}

	logger.Info("server stopped")
	return nil
}

// newModelCacheBackend builds the shared model.CacheBackend selected by
// cfg.Cache.Type. A nil, nil return means "local" — the registry falls back
// to its own on-disk cache dir.
func newModelCacheBackend(ctx context.Context, cfg *config.Config) (models.CacheBackend, error) {
	switch cfg.Cache.Type {
	case "", "local":
		return nil, nil
	case "redis":
		return rediscache.New(rediscache.Config{
			Addr:         cfg.Cache.Redis.Addr,
			Password:     cfg.Cache.Redis.Password,
			DB:           cfg.Cache.Redis.DB,
			Namespace:    "ccproxy",
			DialTimeout:  cfg.Cache.Redis.DialTimeout,
			ReadTimeout:  cfg.Cache.Redis.ReadTimeout,
			WriteTimeout: cfg.Cache.Redis.WriteTimeout,
			PoolSize:     cfg.Cache.Redis.PoolSize,
		})
	case "s3":
		return s3cache.New(ctx, s3cache.Config{
			Bucket:          cfg.Cache.S3.Bucket,
			Prefix:          cfg.Cache.S3.Prefix,
			Region:          cfg.Cache.S3.Region,
			Endpoint:        cfg.Cache.S3.Endpoint,
			AccessKeyID:     cfg.Cache.S3.AccessKeyID,
			SecretAccessKey: cfg.Cache.S3.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown cache.type %q", cfg.Cache.Type)
	}
}

// newCredStore picks the OAuth credential backend: Vault-backed when
// cfg.Vault.Enabled, otherwise the on-disk file store under credDir (or
// $HOME/.ccproxy when credDir is empty).
func newCredStore(cfg *config.Config, credDir string) (credstore.Store, error) {
	if cfg.Vault.Enabled {
		return credstore.NewVaultStore(credstore.VaultConfig{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			RoleID:     cfg.Vault.RoleID,
			SecretID:   cfg.Vault.SecretID,
			CACert:     cfg.Vault.CACert,
			ClientCert: cfg.Vault.ClientCert,
			ClientKey:  cfg.Vault.ClientKey,
			MountPath:  cfg.Vault.MountPath,
		})
	}

	dir := credDir
	if dir == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			home = "."
		}
		dir = home + "/.ccproxy"
	}
	return credstore.NewFileStore(dir)
}

// newSecretManager registers the env provider unconditionally and the
// Vault provider (wrapped with an in-memory cache, since header/base-URL
// resolution happens once per route construction at startup, not per
// request) only when cfg.Vault.Enabled — config values referencing
// "env://VAR" or "vault://path" are resolved through whichever scheme
// the operator actually configured.
func newSecretManager(cfg *config.Config) *secret.Manager {
	mgr := secret.NewManager()
	mgr.Register("env", secretenv.New())

	if cfg.Vault.Enabled {
		vp, err := secretvault.New(secretvault.Config{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			RoleID:     cfg.Vault.RoleID,
			SecretID:   cfg.Vault.SecretID,
			CACert:     cfg.Vault.CACert,
			ClientCert: cfg.Vault.ClientCert,
			ClientKey:  cfg.Vault.ClientKey,
		})
		if err != nil {
			slog.Warn("vault secret provider unavailable, vault:// config values will fail to resolve", "error", err)
		} else {
			mgr.Register("vault", secret.NewCachedProvider(vp, 5*time.Minute))
		}
	}

	return mgr
}

// providerBaseURL looks up a configured base_url override for the named
// provider type, falling back to the vendor's well-known API host. The
// configured value is resolved through secrets (env://, vault://) before
// use; a bare literal base URL passes through unchanged.
func providerBaseURL(ctx context.Context, secrets *secret.Manager, cfg *config.Config, providerType, fallback string) string {
	for _, p := range cfg.Providers {
		if p.Type == providerType && p.BaseURL != "" {
			resolved, err := secrets.Get(ctx, p.BaseURL)
			if err != nil {
				slog.Warn("failed to resolve provider base_url secret, using configured literal", "provider", providerType, "error", err)
				return p.BaseURL
			}
			return resolved
		}
	}
	return fallback
}

func providerHeaders(ctx context.Context, secrets *secret.Manager, cfg *config.Config, providerType string) map[string]string {
	for _, p := range cfg.Providers {
		if p.Type == providerType && len(p.Headers) > 0 {
			resolved := make(map[string]string, len(p.Headers))
			for k, v := range p.Headers {
				val, err := secrets.Get(ctx, v)
				if err != nil {
					slog.Warn("failed to resolve provider header secret, using configured literal", "provider", providerType, "header", k, "error", err)
					val = v
				}
				resolved[k] = val
			}
			return resolved
		}
	}
	return nil
}

func providerMaxConcurrent(cfg *config.Config, fallback int) int {
	total := 0
	for _, p := range cfg.Providers {
		if p.MaxConcurrent > 0 {
			total += p.MaxConcurrent
		}
	}
	if total == 0 {
		return fallback
	}
	return total
}
