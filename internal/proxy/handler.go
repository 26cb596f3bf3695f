// Package proxy implements the OpenAI-compatible forwarding handlers.
//
// Each route accepts an opaque JSON body, forwards it verbatim to the
// configured upstream client, and relays the response back to the caller,
// buffered or as server-sent events depending on the body's stream flag.
// The handlers never interpret the payload beyond that flag (and the model
// field, which Azure needs for deployment-scoped URLs).
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spanflow/spanflow/internal/api/openai"
	"github.com/spanflow/spanflow/internal/server"
)

// CassetteNameHeader carries the test-fixture recording identifier. It is
// propagated unchanged to the upstream call so recorded interactions can be
// correlated with their cassette.
const CassetteNameHeader = "X-Cassette-Name"

type Handler struct {
	client *openai.Client
	logger *slog.Logger
}

func NewHandler(client *openai.Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// Register mounts all proxy routes on the router. The Azure-style
// deployment-scoped paths accept the same bodies as the /v1 paths; the
// deployment path segment overrides the body's model for upstream URL
// construction.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleHealth)

	type route struct {
		op         openai.Operation
		streamable bool
	}
	for suffix, rt := range map[string]route{
		"chat/completions":   {openai.OpChatCompletions, true},
		"completions":        {openai.OpCompletions, true},
		"embeddings":         {openai.OpEmbeddings, false},
		"images/generations": {openai.OpImageGenerations, false},
	} {
		r.Post("/v1/"+suffix, h.handle(rt.op, rt.streamable))
		r.Post("/openai/deployments/{deployment}/"+suffix, h.handle(rt.op, rt.streamable))
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// envelope is the only part of the request body the proxy looks at.
type envelope struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (h *Handler) handle(op openai.Operation, streamable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		server.AddLogField(ctx, "operation", string(op))

		body, err := io.ReadAll(r.Body)
		if err != nil {
			server.AddError(ctx, err)
			writeError(w, err)
			return
		}

		// Bodies are opaque; a body that doesn't decode is still forwarded
		// and left for the upstream to reject.
		var env envelope
		_ = json.Unmarshal(body, &env)

		deployment := chi.URLParam(r, "deployment")
		if deployment == "" {
			deployment = env.Model
		}

		var extra http.Header
		if cassette := r.Header.Get(CassetteNameHeader); cassette != "" {
			extra = http.Header{}
			extra.Set(CassetteNameHeader, cassette)
			server.AddLogField(ctx, "cassette", cassette)
		}

		if streamable && env.Stream {
			h.relayStream(w, r, op, deployment, body, extra)
			return
		}

		resp, err := h.client.Forward(ctx, op, deployment, body, extra)
		if err != nil {
			server.AddError(ctx, err)
			writeError(w, err)
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	}
}

func (h *Handler) relayStream(w http.ResponseWriter, r *http.Request, op openai.Operation, deployment string, body []byte, extra http.Header) {
	ctx := r.Context()

	// Check the writer can stream before opening the upstream call: once
	// ForwardStream succeeds its reader goroutine blocks until the events
	// are drained, and once SSE headers go out writeError can no longer
	// produce a clean error response.
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming not supported"))
		return
	}

	events, err := h.client.ForwardStream(ctx, op, deployment, body, extra)
	if err != nil {
		server.AddError(ctx, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range events {
		if event.Err != nil {
			// Mid-stream failure: terminate without the sentinel so the
			// caller sees a truncated stream rather than a clean end.
			h.logger.Warn("stream relay aborted",
				slog.String("operation", string(op)),
				slog.String("error", event.Err.Error()))
			server.AddError(ctx, event.Err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", event.Data)
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeError relays upstream API errors verbatim (status, headers, body)
// and reports everything else as a generic 500 with a JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var statusErr *openai.StatusError
	if errors.As(err, &statusErr) {
		for k, vals := range statusErr.Header {
			// Let the HTTP layer recompute framing headers for our write.
			if k == "Content-Length" || k == "Transfer-Encoding" {
				continue
			}
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(statusErr.StatusCode)
		w.Write(statusErr.Body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
