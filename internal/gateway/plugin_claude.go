package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/format"
	"github.com/ccproxy/ccproxy/internal/hooks"
	claudeprovider "github.com/ccproxy/ccproxy/internal/provider/claude"
	"github.com/ccproxy/ccproxy/internal/providerhttp"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
	"github.com/ccproxy/ccproxy/internal/streaming"
	"github.com/ccproxy/ccproxy/pkg/pricing"
)

// ClaudeManifest is the plugin manifest for the Claude REST provider,
// serving both the native Anthropic route and the OpenAI-shaped one
// converted through the chat_completions<->anthropic.messages adapter
// (spec.md §6's routes table).
var ClaudeManifest = pluginsys.Manifest{
	Name:        "claude",
	Version:     "1.0.0",
	Description: "Claude REST upstream via OAuth, serving /v1/messages natively and /v1/chat/completions converted",
	IsProvider:  true,
	Adapters: []pluginsys.FormatAdapterSpec{
		{From: string(format.DialectOpenAIChatCompletions), To: string(format.DialectAnthropicMessages)},
		{From: string(format.DialectAnthropicMessages), To: string(format.DialectOpenAIChatCompletions)},
	},
	Routes: []pluginsys.RouteSpec{
		{Method: http.MethodPost, Path: "/v1/messages", Chain: []string{string(format.DialectAnthropicMessages)}},
		{Method: http.MethodPost, Path: "/v1/chat/completions", Chain: []string{string(format.DialectOpenAIChatCompletions), string(format.DialectAnthropicMessages)}},
	},
}

// ClaudePlugin is the pluginsys.Runtime for the Claude provider: it owns
// the OAuth manager, the CLI fingerprint detection service, and one
// providerhttp.Adapter per route (routes differ only in their Chain).
type ClaudePlugin struct {
	Auth    claudeprovider.TokenManager
	BaseURL string

	detection *claudeprovider.DetectionService
	cliRunner claudeprovider.CLIRunner

	adapters map[string]*providerhttp.Adapter
}

// NewClaudePlugin constructs the runtime. auth and baseURL are supplied by
// the composition root after the OAuth manager and config have been
// loaded; detection starts empty and captures on OnInitialize.
func NewClaudePlugin(auth claudeprovider.TokenManager, baseURL string) *ClaudePlugin {
	return &ClaudePlugin{Auth: auth, BaseURL: baseURL}
}

func (p *ClaudePlugin) Manifest() pluginsys.Manifest { return ClaudeManifest }

// OnInitialize builds the detection service, runs the one-shot fingerprint
// capture (best-effort: a failure here is logged, never fatal, since the
// preparer works without a fingerprint — it just sends no overlay headers
// and no injected system prompt), and constructs one Adapter per route.
func (p *ClaudePlugin) OnInitialize(ctx context.Context, services *pluginsys.ServiceBag) error {
	pool, ok := services.Get(ServicePool)
	if !ok {
		return fmt.Errorf("claude: connection pool service missing")
	}
	hb, _ := services.Get(ServiceHooks)
	fr, ok := services.Get(ServiceFormat)
	if !ok {
		return fmt.Errorf("claude: format registry service missing")
	}
	sh, ok := services.Get(ServiceStreaming)
	if !ok {
		return fmt.Errorf("claude: streaming handler service missing")
	}
	pr, _ := services.Get(ServicePricing)
	lg, _ := services.Get(ServiceLogger)

	p.detection = claudeprovider.NewDetectionService("", p.cliRunner)
	if v, err := claudeCLIVersion(); err == nil {
		// Best-effort: a missing/unreachable CLI must not block startup,
		// the preparer degrades gracefully without a fingerprint.
		if _, cerr := p.detection.Capture(ctx, v); cerr != nil {
			if l := loggerOrNil(lg); l != nil {
				l.Warn("claude fingerprint capture failed", "cli_version", v, "error", cerr)
			}
		}
	}

	preparer := claudeprovider.NewPreparer(p.Auth, p.detection, p.BaseURL)

	p.adapters = make(map[string]*providerhttp.Adapter, len(ClaudeManifest.Routes))
	for _, route := range ClaudeManifest.Routes {
		chain := make(format.Chain, len(route.Chain))
		for i, d := range route.Chain {
			chain[i] = format.Dialect(d)
		}
		p.adapters[route.Method+" "+route.Path] = &providerhttp.Adapter{
			Provider: "claude",
			Model:    ModelOf,
			Pool:     pool.(*connpool.Pool),
			Format:   fr.(*format.Registry),
			Hooks:    hooksOrNil(hb),
			Stream:   sh.(*streaming.Handler),
			Preparer: preparer,
			Chain:    chain,
			NewCollector: func() streaming.Collector {
				return streaming.NewAnthropicCollector(pricingOrNil(pr), loggerOrNil(lg))
			},
		}
	}
	return nil
}

func (p *ClaudePlugin) OnShutdown(context.Context) error { return nil }

// HealthDetails reports whether a fingerprint has been captured alongside
// the base lifecycle fields spec.md §4.1 requires.
func (p *ClaudePlugin) HealthDetails() pluginsys.Health {
	_, captured := p.detection.Current()
	return pluginsys.Health{
		Initialized: p.adapters != nil,
		Enabled:     true,
		Type:        "provider",
		Extra: map[string]any{
			"base_url":             p.BaseURL,
			"fingerprint_captured": captured,
		},
	}
}

// HandlerFor implements RouteHandler.
func (p *ClaudePlugin) HandlerFor(route pluginsys.RouteSpec) (http.Handler, bool) {
	a, ok := p.adapters[route.Method+" "+route.Path]
	return a, ok
}

func hooksOrNil(v any) *hooks.Bus {
	if v == nil {
		return nil
	}
	b, _ := v.(*hooks.Bus)
	return b
}

func pricingOrNil(v any) *pricing.Registry {
	if v == nil {
		return nil
	}
	p, _ := v.(*pricing.Registry)
	return p
}

func loggerOrNil(v any) *slog.Logger {
	if v == nil {
		return nil
	}
	l, _ := v.(*slog.Logger)
	return l
}

// claudeCLIVersion shells out to `claude --version`; any failure (binary
// missing, non-zero exit) is treated as "no CLI available" by the caller.
func claudeCLIVersion() (string, error) {
	return detectCLIVersion("claude")
}

var _ pluginsys.Runtime = (*ClaudePlugin)(nil)
