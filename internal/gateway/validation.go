package gateway

import (
	"bytes"
	"io"
	"net/http"

	"github.com/ccproxy/ccproxy/internal/models"
	ccerrors "github.com/ccproxy/ccproxy/pkg/errors"
)

// ValidationMiddleware wraps a provider route's handler with spec.md
// §4.8's model-capability checks: it decodes the request body once,
// resolves the model card for (provider, req.Model), enforces the five
// capability checks, and either rejects with a typed 400 (never touching
// the upstream HTTP pool, per spec.md §8's testable property) or restores
// the body and forwards to next unchanged. provider is supplied by the
// caller (the route already knows which provider it belongs to), not
// inferred from the path.
func ValidationMiddleware(registry *models.Registry, provider string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if registry == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := peekBody(r)
		if err != nil {
			_ = ccerrors.WriteJSON(w, ccerrors.NewInvalidRequestError(provider, "", "failed to read request body"))
			return
		}

		card, warning, verr := models.Validate(provider, body, registry)
		if verr != nil {
			_ = ccerrors.WriteJSON(w, verr)
			return
		}
		if warning != "" {
			w.Header().Add("X-Model-Warning", warning)
		}
		_ = card

		next.ServeHTTP(w, r)
	})
}

// peekBody reads r.Body in full and replaces it with a fresh reader over
// the same bytes so downstream handlers can still consume it.
func peekBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
