package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy/ccproxy/internal/format"
)

func TestShouldStreamResponse(t *testing.T) {
	h := make(http.Header)
	assert.False(t, ShouldStreamResponse(h, false))
	assert.True(t, ShouldStreamResponse(h, true))

	h.Set("Accept", "text/event-stream")
	assert.True(t, ShouldStreamResponse(h, false))
}

func sseUpstream(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
	}))
}

func TestHandleStreamingRequestForwardsFramesVerbatimWithoutChain(t *testing.T) {
	upstream := sseUpstream(t, []string{`{"choices":[{"delta":{"content":"hi"}}]}`, "[DONE]"})
	defer upstream.Close()

	h := &Handler{Registry: format.NewRegistry()}
	rec := httptest.NewRecorder()

	err := h.HandleStreamingRequest(context.Background(), Request{
		Method: http.MethodPost,
		URL:    upstream.URL,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Client: upstream.Client(),
	}, rec)
	require.NoError(t, err)

	assert.Contains(t, rec.Body.String(), `"content":"hi"`)
	assert.Contains(t, rec.Body.String(), "[DONE]")
}

func TestHandleBufferedStreamingRequestAssemblesSingleResponse(t *testing.T) {
	upstream := sseUpstream(t, []string{
		`{"choices":[{"delta":{"content":"hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
		"[DONE]",
	})
	defer upstream.Close()

	h := &Handler{Registry: format.NewRegistry()}
	status, body, err := h.HandleBufferedStreamingRequest(context.Background(), Request{
		Method: http.MethodPost,
		URL:    upstream.URL,
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Client: upstream.Client(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "hello")
	assert.Contains(t, string(body), "stop")
}
