package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccproxy/ccproxy/internal/metrics"
	"github.com/ccproxy/ccproxy/internal/pluginsys"
)

// ProviderPlugin is satisfied by every provider runtime this package
// builds (ClaudePlugin, CodexPlugin, CopilotPlugin); the router only needs
// the pluginsys.Runtime lifecycle plus the route-handler lookup.
type ProviderPlugin interface {
	pluginsys.Runtime
	RouteHandler
}

// Router owns the plugin registry and the net/http mux built from each
// provider's declared Routes, plus the synthetic endpoints (model list,
// metrics, health) that sit outside any single provider's manifest.
type Router struct {
	Registry *pluginsys.Registry
	Services *Services
	mux      *http.ServeMux
}

// NewRouter constructs the plugin registry, registers the given provider
// factories, initializes them against services, and builds the mux. It
// mirrors the teacher's composition-root pattern of building the registry
// once at startup and handing callers a ready http.Handler.
func NewRouter(ctx context.Context, services *Services, providers ...ProviderFactory) (*Router, error) {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := pluginsys.NewRegistry(logger)
	for _, pf := range providers {
		if err := reg.Register(pf.Manifest, pf.Factory); err != nil {
			return nil, err
		}
	}

	if err := reg.InitializeAll(ctx, services.Bag()); err != nil {
		return nil, err
	}

	rt := &Router{Registry: reg, Services: services}
	rt.build()
	return rt, nil
}

// ProviderFactory pairs a manifest with the pluginsys.Factory that builds
// its runtime; callers assemble these from NewClaudePlugin/NewCodexPlugin/
// NewCopilotPlugin before calling NewRouter.
type ProviderFactory struct {
	Manifest pluginsys.Manifest
	Factory  pluginsys.Factory
}

func (rt *Router) build() {
	mux := http.NewServeMux()

	for _, m := range rt.Registry.ListManifests() {
		if !m.IsProvider {
			continue
		}
		runtime, ok := rt.Registry.Get(m.Name)
		if !ok {
			continue
		}
		routeHandler, ok := runtime.(RouteHandler)
		if !ok {
			continue
		}
		for _, route := range m.Routes {
			h, ok := routeHandler.HandlerFor(route)
			if !ok {
				continue
			}
			mux.Handle(route.Path, rt.wrap(m.Name, route.Method, h))
		}
	}

	mux.HandleFunc("/v1/models", rt.handleModels)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", rt.handleHealthz)

	rt.mux = mux
}

// wrap enforces the route's declared method, runs model-capability
// validation, and records Prometheus request/latency metrics under the
// owning provider's name and the request's model field.
func (rt *Router) wrap(provider, method string, next http.Handler) http.Handler {
	validated := ValidationMiddleware(rt.Services.Models, provider, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		model := ""
		if body, err := peekBody(r); err == nil {
			model = ModelOf(body)
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		validated.ServeHTTP(sr, r)
		metrics.RecordRequest(provider, model, sr.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.statusCode = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// handleModels serves an OpenAI-shaped models list (spec.md §6) built from
// whatever cards the model registry currently holds.
func (rt *Router) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var cards []modelEntry
	if rt.Services.Models != nil {
		for _, c := range rt.Services.Models.List() {
			cards = append(cards, modelEntry{ID: c.ID, Object: "model", OwnedBy: c.Owner})
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   cards,
	})
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rt.Registry.HealthSnapshot())
}

// Handler returns the built mux, ready to pass to http.Server.
func (rt *Router) Handler() http.Handler { return rt.mux }

// Shutdown tears down every provider runtime in reverse dependency order.
func (rt *Router) Shutdown(ctx context.Context) {
	rt.Registry.ShutdownAll(ctx)
}
