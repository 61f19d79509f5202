package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/format"
	copilotprovider "github.com/ccproxy/ccproxy/internal/provider/copilot"
	"github.com/ccproxy/ccproxy/internal/providerhttp"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
	"github.com/ccproxy/ccproxy/internal/streaming"
)

// CopilotManifest is the plugin manifest for the GitHub Copilot upstream.
var CopilotManifest = pluginsys.Manifest{
	Name:        "copilot",
	Version:     "1.0.0",
	Description: "GitHub Copilot upstream via two-stage OAuth (GitHub token -> Copilot service token)",
	IsProvider:  true,
	Routes: []pluginsys.RouteSpec{
		{Method: http.MethodPost, Path: "/copilot/chat/completions", Chain: []string{string(format.DialectOpenAIChatCompletions)}},
	},
}

// CopilotPlugin is the pluginsys.Runtime for the Copilot provider. Unlike
// Claude/Codex it has no CLI fingerprint capture — spec.md §4.4.3 only
// specifies configured static headers, no vendor-CLI snapshot.
type CopilotPlugin struct {
	Auth    copilotprovider.TokenManager
	Headers map[string]string
	BaseURL string

	adapter *providerhttp.Adapter
}

// NewCopilotPlugin constructs the runtime.
func NewCopilotPlugin(auth copilotprovider.TokenManager, headers map[string]string, baseURL string) *CopilotPlugin {
	return &CopilotPlugin{Auth: auth, Headers: headers, BaseURL: baseURL}
}

func (p *CopilotPlugin) Manifest() pluginsys.Manifest { return CopilotManifest }

func (p *CopilotPlugin) OnInitialize(_ context.Context, services *pluginsys.ServiceBag) error {
	pool, ok := services.Get(ServicePool)
	if !ok {
		return fmt.Errorf("copilot: connection pool service missing")
	}
	hb, _ := services.Get(ServiceHooks)
	fr, ok := services.Get(ServiceFormat)
	if !ok {
		return fmt.Errorf("copilot: format registry service missing")
	}
	sh, ok := services.Get(ServiceStreaming)
	if !ok {
		return fmt.Errorf("copilot: streaming handler service missing")
	}
	pr, _ := services.Get(ServicePricing)
	lg, _ := services.Get(ServiceLogger)

	preparer := copilotprovider.NewPreparer(p.Auth, p.Headers, p.BaseURL)
	route := CopilotManifest.Routes[0]
	chain := make(format.Chain, len(route.Chain))
	for i, d := range route.Chain {
		chain[i] = format.Dialect(d)
	}

	p.adapter = &providerhttp.Adapter{
		Provider: "copilot",
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
	return nil
}

func (p *CopilotPlugin) OnShutdown(context.Context) error { return nil }

func (p *CopilotPlugin) HealthDetails() pluginsys.Health {
	return pluginsys.Health{
		Initialized: p.adapter != nil,
		Enabled:     true,
		Type:        "provider",
		Extra: map[string]any{
			"base_url": p.BaseURL,
		},
	}
}

// HandlerFor implements RouteHandler.
func (p *CopilotPlugin) HandlerFor(route pluginsys.RouteSpec) (http.Handler, bool) {
	if p.adapter == nil || route.Method != CopilotManifest.Routes[0].Method || route.Path != CopilotManifest.Routes[0].Path {
		return nil, false
	}
	return p.adapter, true
}

var _ pluginsys.Runtime = (*CopilotPlugin)(nil)
