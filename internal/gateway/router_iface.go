package gateway

import (
	"net/http"

	"github.com/ccproxy/ccproxy/internal/pluginsys"
)

// RouteHandler is implemented by provider plugin runtimes that serve one
// or more of their manifest's declared Routes. The router asks each
// initialized provider runtime for a handler per RouteSpec rather than
// assuming a single adapter per plugin, since a provider may serve several
// routes with different format chains (Claude's native vs. OpenAI-shaped
// endpoints).
type RouteHandler interface {
	HandlerFor(route pluginsys.RouteSpec) (http.Handler, bool)
}
