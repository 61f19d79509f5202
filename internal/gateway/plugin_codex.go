package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/format"
	codexprovider "github.com/ccproxy/ccproxy/internal/provider/codex"
	"github.com/ccproxy/ccproxy/internal/providerhttp"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
	"github.com/ccproxy/ccproxy/internal/streaming"
)

// CodexManifest is the plugin manifest for the Codex/ChatGPT-backend
// upstream: both inbound paths serve the OpenAI Responses dialect
// unconverted, since the upstream itself speaks that dialect (spec.md §6's
// routes table lists no conversion step for either Codex route).
var CodexManifest = pluginsys.Manifest{
	Name:        "codex",
	Version:     "1.0.0",
	Description: "Codex (ChatGPT backend) upstream via PKCE OAuth, stream-only, with buffered-client fallback",
	IsProvider:  true,
	Routes: []pluginsys.RouteSpec{
		{Method: http.MethodPost, Path: "/v1/responses", Chain: []string{string(format.DialectOpenAIResponses)}},
		{Method: http.MethodPost, Path: "/codex/responses", Chain: []string{string(format.DialectOpenAIResponses)}},
	},
}

// CodexPlugin is the pluginsys.Runtime for the Codex provider.
type CodexPlugin struct {
	Auth    codexprovider.TokenManager
	Profile codexprovider.ProfileSource
	BaseURL string

	detection *codexprovider.DetectionService
	adapters  map[string]*providerhttp.Adapter
}

// NewCodexPlugin constructs the runtime.
func NewCodexPlugin(auth codexprovider.TokenManager, profile codexprovider.ProfileSource, baseURL string) *CodexPlugin {
	return &CodexPlugin{Auth: auth, Profile: profile, BaseURL: baseURL}
}

func (p *CodexPlugin) Manifest() pluginsys.Manifest { return CodexManifest }

// OnInitialize captures the mandatory system instruction (best-effort, as
// with Claude's fingerprint) and builds one Adapter per route.
func (p *CodexPlugin) OnInitialize(ctx context.Context, services *pluginsys.ServiceBag) error {
	pool, ok := services.Get(ServicePool)
	if !ok {
		return fmt.Errorf("codex: connection pool service missing")
	}
	hb, _ := services.Get(ServiceHooks)
	fr, ok := services.Get(ServiceFormat)
	if !ok {
		return fmt.Errorf("codex: format registry service missing")
	}
	sh, ok := services.Get(ServiceStreaming)
	if !ok {
		return fmt.Errorf("codex: streaming handler service missing")
	}
	pr, _ := services.Get(ServicePricing)
	lg, _ := services.Get(ServiceLogger)

	p.detection = codexprovider.NewDetectionService("", nil)
	if v, err := detectCLIVersion("codex"); err == nil {
		_, _ = p.detection.Capture(ctx, v)
	}

	preparer := codexprovider.NewPreparer(p.Auth, p.Profile, p.detection, p.BaseURL)

	p.adapters = make(map[string]*providerhttp.Adapter, len(CodexManifest.Routes))
	for _, route := range CodexManifest.Routes {
		chain := make(format.Chain, len(route.Chain))
		for i, d := range route.Chain {
			chain[i] = format.Dialect(d)
		}
		p.adapters[route.Method+" "+route.Path] = &providerhttp.Adapter{
			Provider: "codex",
			Model:    ModelOf,
			Pool:     pool.(*connpool.Pool),
			Format:   fr.(*format.Registry),
			Hooks:    hooksOrNil(hb),
			Stream:   sh.(*streaming.Handler),
			Preparer: preparer,
			Chain:    chain,
			NewCollector: func() streaming.Collector {
				return streaming.NewOpenAICollector(pricingOrNil(pr), loggerOrNil(lg))
			},
		}
	}
	return nil
}

func (p *CodexPlugin) OnShutdown(context.Context) error { return nil }

func (p *CodexPlugin) HealthDetails() pluginsys.Health {
	_, captured := p.detection.Current()
	return pluginsys.Health{
		Initialized: p.adapters != nil,
		Enabled:     true,
		Type:        "provider",
		Extra: map[string]any{
			"base_url":               p.BaseURL,
			"instruction_captured":   captured,
			"forces_upstream_stream": true,
		},
	}
}

// HandlerFor implements RouteHandler.
func (p *CodexPlugin) HandlerFor(route pluginsys.RouteSpec) (http.Handler, bool) {
	a, ok := p.adapters[route.Method+" "+route.Path]
	return a, ok
}

var _ pluginsys.Runtime = (*CodexPlugin)(nil)
