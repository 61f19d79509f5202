// Package gateway is the composition root: it wires the plugin registry,
// connection pool, hook bus, OAuth token managers, model registry, and the
// per-provider HTTP adapters into one servable mux (spec.md §2's data flow
// from "client" through to "upstream"). cmd/server is the only caller.
package gateway

import (
	"log/slog"

	"github.com/ccproxy/ccproxy/internal/connpool"
	"github.com/ccproxy/ccproxy/internal/format"
	"github.com/ccproxy/ccproxy/internal/hooks"
	"github.com/ccproxy/ccproxy/internal/models"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
	"github.com/ccproxy/ccproxy/internal/streaming"
	"github.com/ccproxy/ccproxy/pkg/pricing"
)

// Service names the plugin context bag keys providers look up via
// pluginsys.ServiceBag.Get, so plugins can fetch "the HTTP client" (or any
// other shared service) by name without naming its concrete type.
const (
	ServicePool      = "connpool"
	ServiceHooks     = "hooks"
	ServiceFormat    = "format"
	ServiceStreaming = "streaming"
	ServiceModels    = "models"
	ServicePricing   = "pricing"
	ServiceLogger    = "logger"
)

// Services bundles the leaf dependencies built once at startup (in
// leaves-first order: connection pool -> hook bus ->
// OAuth managers -> model registry -> format adapters -> streaming handler
// -> provider HTTP adapter -> plugin runtime -> registry) and exposes them
// both directly and through a pluginsys.ServiceBag for InitializeAll.
type Services struct {
	Pool    *connpool.Pool
	Hooks   *hooks.Bus
	Format  *format.Registry
	Stream  *streaming.Handler
	Models  *models.Registry
	Pricing *pricing.Registry
	Logger  *slog.Logger
}

// Bag projects Services into the typed-by-name lookup pluginsys.Runtime's
// OnInitialize receives.
func (s *Services) Bag() *pluginsys.ServiceBag {
	b := pluginsys.NewServiceBag()
	b.Set(ServicePool, s.Pool)
	b.Set(ServiceHooks, s.Hooks)
	b.Set(ServiceFormat, s.Format)
	b.Set(ServiceStreaming, s.Stream)
	b.Set(ServiceModels, s.Models)
	b.Set(ServicePricing, s.Pricing)
	b.Set(ServiceLogger, s.Logger)
	return b
}

// NewFormatRegistry builds the format registry every route's chain draws
// from: the chat_completions<->anthropic.messages adapter in both
// directions. Routes whose dialect travels unconverted declare a
// single-element chain, which RequestStage/ResponseStage return unchanged
// through their len(chain) < 2 guard, so no passthrough entries are
// registered for them.
func NewFormatRegistry() *format.Registry {
	r := format.NewRegistry()
	adapter := format.ChatAnthropicAdapter{}
	r.Register(format.DialectOpenAIChatCompletions, format.DialectAnthropicMessages, adapter)
	r.Register(format.DialectAnthropicMessages, format.DialectOpenAIChatCompletions, adapter)
	return r
}
