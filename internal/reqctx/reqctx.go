// Package reqctx defines a per-request context type (spec.md §3 "Request
// context"). No other package in this module imports it: nothing creates,
// attaches or fills a Context, and the ingress, validation, provider and
// streaming code pass request data through their own arguments instead.
package reqctx

import (
	"github.com/ccproxy/ccproxy/internal/format"
	"github.com/ccproxy/ccproxy/internal/models"
	"github.com/ccproxy/ccproxy/pkg/pricing"
)

// Context carries a request's identifying metadata plus fields describing
// its progress through the pipeline.
type Context struct {
	RequestID string
	Endpoint  string
	Provider  string

	FormatChain format.Chain

	// ModelMetadata is the resolved model card for this request.
	ModelMetadata *models.Card

	// PromptTokens is the request's prompt token count.
	PromptTokens int

	// Pricing is the shared pricing registry used to cost a completed
	// request.
	Pricing *pricing.Registry
}
