// Package pluginsys is the provider plugin registry and runtime (spec.md
// §4.1): it discovers plugin factories, resolves a dependency order,
// constructs and initializes runtimes once, and exposes each plugin's
// format adapters, routes, and health snapshot to the rest of the gateway.
package pluginsys

import "context"

// FormatAdapterSpec names one (from, to) directed adapter a plugin
// contributes to the format registry.
type FormatAdapterSpec struct {
	From string
	To   string
}

// RouteSpec names one inbound HTTP route a plugin serves.
type RouteSpec struct {
	Method string
	Path   string
	// Chain is the format chain this route's requests flow through, e.g.
	// ["openai.chat_completions", "anthropic.messages"].
	Chain []string
}

// Manifest describes a plugin's identity, its position in the dependency
// graph, and what it contributes (adapters, routes) — read by the Registry
// before any runtime is constructed.
type Manifest struct {
	Name        string
	Version     string
	Description string
	// IsProvider marks a plugin that serves inbound routes and dispatches
	// to an upstream, as opposed to a pure cross-cutting plugin (metrics,
	// tracing) that only observes the hook bus.
	IsProvider bool
	// Dependencies must be initialized before this plugin; a missing
	// dependency makes InitializeAll fail.
	Dependencies []string
	// OptionalRequires is carried in the manifest only: the Registry does
	// not read it, so it neither orders nor blocks initialization.
	OptionalRequires []string
	Adapters         []FormatAdapterSpec
	Routes           []RouteSpec
}

// State is a plugin runtime's lifecycle state.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateInitialized  State = "initialized"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
)

// Health is the synchronous snapshot every plugin must expose, per spec.md
// §4.1: "at least {initialized, enabled, type}", with provider-specific
// extras layered into Extra.
type Health struct {
	Initialized bool
	Enabled     bool
	Type        string
	Extra       map[string]any
}

// Runtime is the live instance a Factory constructs. Factories build one
// per process; the registry drives it through on_initialize and
// on_shutdown.
type Runtime interface {
	Manifest() Manifest
	// OnInitialize runs once, after every dependency's OnInitialize has
	// returned successfully. ctx carries the process lifetime, not a
	// single request.
	OnInitialize(ctx context.Context, services *ServiceBag) error
	// OnShutdown runs once, in reverse topological order, best-effort:
	// the registry logs but never propagates an error from this.
	OnShutdown(ctx context.Context) error
	// HealthDetails returns the synchronous health snapshot.
	HealthDetails() Health
}

// Factory constructs a fresh Runtime for its manifest.
type Factory func() Runtime

// ServiceBag is the by-name service lookup every plugin's OnInitialize
// receives, populated by internal/gateway (called from cmd/server) before
// InitializeAll runs — config, connection pool, hook bus, credential
// store, and so on.
type ServiceBag struct {
	values map[string]any
}

// NewServiceBag returns an empty bag.
func NewServiceBag() *ServiceBag {
	return &ServiceBag{values: make(map[string]any)}
}

// Set registers a named service.
func (b *ServiceBag) Set(name string, value any) {
	b.values[name] = value
}

// Get retrieves a named service, or false if absent.
func (b *ServiceBag) Get(name string) (any, bool) {
	v, ok := b.values[name]
	return v, ok
}
