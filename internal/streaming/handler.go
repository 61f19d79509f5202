package streaming

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ccproxy/ccproxy/internal/format"
	"github.com/ccproxy/ccproxy/internal/hooks"
)

// scanBufferSize is the initial per-line scan buffer handed to bufio.Scanner
// for every upstream SSE body; scanBufferPool reuses these across requests
// instead of allocating one per call, since under load every streaming
// route goes through HandleStreamingRequest or assembleChatCompletion.
const scanBufferSize = 64 * 1024

var scanBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, scanBufferSize)
		return &buf
	},
}

func getScanBuffer() *[]byte  { return scanBufferPool.Get().(*[]byte) }
func putScanBuffer(b *[]byte) { *b = (*b)[:0]; scanBufferPool.Put(b) }

// ShouldStreamResponse implements spec.md §4.6's streaming decision
// function: true when the Accept header asks for SSE or the decoded body
// carries stream: true.
func ShouldStreamResponse(header http.Header, bodyWantsStream bool) bool {
	if bodyWantsStream {
		return true
	}
	return strings.Contains(header.Get("Accept"), "text/event-stream")
}

// Handler dispatches a streaming upstream call, optionally reverse-converts
// each SSE event through a format chain, and either forwards the result to
// the client as SSE (HandleStreamingRequest) or buffers it into a single
// response (HandleBufferedStreamingRequest) per spec.md §4.4.2.
type Handler struct {
	Hooks    *hooks.Bus
	Logger   *slog.Logger
	Registry *format.Registry
}

// Request bundles what the handler needs to make and reverse-convert one
// upstream streaming call.
type Request struct {
	Method   string
	URL      string
	Headers  http.Header
	Body     []byte
	Client   *http.Client
	Chain    format.Chain
	Provider string
	Model    string
	Collector Collector
}

// HandleStreamingRequest performs the upstream call and streams the
// (optionally reverse-converted) SSE response to w. It returns once the
// stream completes, the client disconnects, or dispatch itself fails.
func (h *Handler) HandleStreamingRequest(ctx context.Context, req Request, w http.ResponseWriter) error {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("streaming: build request: %w", err)
	}
	httpReq.Header = req.Headers

	resp, err := req.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("streaming: dispatch: %w", err)
	}
	defer resp.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	h.publish(ctx, hooks.EventStreamStart, req, nil)

	scanner := bufio.NewScanner(resp.Body)
	buf := getScanBuffer()
	defer putScanBuffer(buf)
	scanner.Buffer(*buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		out, err := h.convertLine(req, line)
		if err != nil {
			h.writeTerminalError(w, flusher, err)
			return err
		}
		if req.Collector != nil && bytes.HasPrefix(bytes.TrimSpace(line), []byte("data:")) {
			req.Collector.ProcessChunk(bytes.TrimPrefix(bytes.TrimSpace(line), []byte("data:")))
		}

		fmt.Fprintf(w, "%s\n", out)
		flusher.Flush()
		h.publish(ctx, hooks.EventStreamChunk, req, out)
	}

	var metrics Metrics
	if req.Collector != nil {
		metrics = req.Collector.GetMetrics()
	}
	h.publish(ctx, hooks.EventStreamEnd, req, metrics)

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("streaming: scan upstream body: %w", err)
	}
	return nil
}

// HandleBufferedStreamingRequest calls the upstream in streaming mode but
// accumulates the chunks internally, applies the reverse chain to the
// assembled body, and returns a single non-streaming *http.Response-shaped
// result — the Codex "client did not ask for streaming" pathway
// (spec.md §4.4.2).
func (h *Handler) HandleBufferedStreamingRequest(ctx context.Context, req Request) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return 0, nil, fmt.Errorf("buffered streaming: build request: %w", err)
	}
	httpReq.Header = req.Headers

	resp, err := req.Client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("buffered streaming: dispatch: %w", err)
	}
	defer resp.Body.Close()

	h.publish(ctx, hooks.EventStreamStart, req, nil)

	assembled, finishReason, usage, err := assembleChatCompletion(resp.Body, req.Collector)
	if err != nil {
		return 0, nil, fmt.Errorf("buffered streaming: assemble: %w", err)
	}

	var metrics Metrics
	if req.Collector != nil {
		metrics = req.Collector.GetMetrics()
	}
	h.publish(ctx, hooks.EventStreamEnd, req, metrics)

	body, err := json.Marshal(assembledResponse{
		Content:      assembled,
		FinishReason: finishReason,
		Usage:        usage,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("buffered streaming: marshal assembled body: %w", err)
	}

	if len(req.Chain) >= 2 {
		converted, err := h.Registry.ResponseStage(req.Chain, req.Provider, req.Model, resp.StatusCode, body)
		if err != nil {
			return 0, nil, err
		}
		return resp.StatusCode, converted, nil
	}
	return resp.StatusCode, body, nil
}

type assembledResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        any    `json:"usage,omitempty"`
}

// assembleChatCompletion drains an SSE byte stream, concatenating every
// delta's text content and tracking the final usage/finish_reason frame.
func assembleChatCompletion(r io.Reader, collector Collector) (string, string, any, error) {
	scanner := bufio.NewScanner(r)
	buf := getScanBuffer()
	defer putScanBuffer(buf)
	scanner.Buffer(*buf, 1024*1024)

	var content strings.Builder
	var finishReason string
	var usage any

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(data, []byte("[DONE]")) || len(data) == 0 {
			continue
		}

		if collector != nil {
			collector.ProcessChunk(data)
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage any `json:"usage"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		for _, c := range frame.Choices {
			content.WriteString(c.Delta.Content)
			if c.FinishReason != "" {
				finishReason = c.FinishReason
			}
		}
		if frame.Usage != nil {
			usage = frame.Usage
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", nil, err
	}
	return content.String(), finishReason, usage, nil
}

// convertLine applies the reverse format chain to one SSE line, per
// spec.md §4.6's SSE processing contract: only "data: ..." lines are
// decoded/converted; everything else (event:, empty lines, [DONE]) passes
// through verbatim; lines that fail to parse pass through unchanged.
func (h *Handler) convertLine(req Request, line []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return line, nil
	}
	data := bytes.TrimSpace(bytes.TrimPrefix(trimmed, []byte("data:")))
	if bytes.Equal(data, []byte("[DONE]")) || len(data) == 0 {
		return line, nil
	}

	if len(req.Chain) < 2 {
		return line, nil
	}

	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return line, nil
	}

	converted, err := h.Registry.ResponseStage(req.Chain, req.Provider, req.Model, 0, data)
	if err != nil {
		return nil, err
	}
	return append([]byte("data: "), converted...), nil
}

func (h *Handler) writeTerminalError(w http.ResponseWriter, flusher http.Flusher, cause error) {
	msg, _ := json.Marshal(map[string]any{"error": map[string]string{"message": cause.Error(), "type": "server_error"}})
	fmt.Fprintf(w, "data: %s\n\n", msg)
	flusher.Flush()
}

func (h *Handler) publish(ctx context.Context, event string, req Request, data any) {
	if h.Hooks == nil {
		return
	}
	h.Hooks.Publish(ctx, hooks.Payload{
		Event:    event,
		Provider: req.Provider,
		Data:     data,
	})
}
