package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vocoip/mcp-test/internal/core"
	"github.com/vocoip/mcp-test/internal/dispatch"
	"github.com/vocoip/mcp-test/internal/observability"
)

// Handler holds the HTTP handlers.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	recorder   *observability.Recorder
}

// NewHandler creates a handler over the given dispatcher.
func NewHandler(d *dispatch.Dispatcher, rec *observability.Recorder) *Handler {
	return &Handler{
		dispatcher: d,
		recorder:   rec,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListModels handles GET /models.
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"models": h.dispatcher.Models(),
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.recorder.Stats().Snapshot())
}

// Generate handles POST /generate/:model.
func (h *Handler) Generate(c echo.Context) error {
	model := c.Param("model")

	var req core.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Prompt == "" {
		return badRequest(c, "prompt is required")
	}

	ctx := c.Request().Context()

	if req.Stream {
		chunks, err := h.dispatcher.GenerateStream(ctx, model, req.Prompt)
		if err != nil {
			h.recorder.Observe("generate_stream", model, time.Now(), true)
			return handleError(c, err)
		}
		return h.writeSSE(c, "generate_stream", model, chunks)
	}

	start := time.Now()
	text, err := h.dispatcher.Generate(ctx, model, req.Prompt)
	h.recorder.Observe("generate", model, start, err != nil)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"response": text})
}

// GenerateAll handles POST /generate_all: concurrent fan-out to every
// registered model, one entry per model regardless of failures.
func (h *Handler) GenerateAll(c echo.Context) error {
	var req core.GenerationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Prompt == "" {
		return badRequest(c, "prompt is required")
	}

	ctx := c.Request().Context()

	if req.Stream {
		chunks := h.dispatcher.GenerateAllStream(ctx, req.Prompt)
		return h.writeSSE(c, "generate_all_stream", "all", chunks)
	}

	start := time.Now()
	resp := h.dispatcher.GenerateAll(ctx, req.Prompt)
	h.recorder.Observe("generate_all", "all", start, false)

	return c.JSON(http.StatusOK, resp)
}

// Conversation handles POST /conversation.
func (h *Handler) Conversation(c echo.Context) error {
	var req core.ConversationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if req.Stream {
		return h.converseStream(c, req)
	}

	ctx := c.Request().Context()
	start := time.Now()

	if req.ShowReasoning {
		result, err := h.dispatcher.ConverseWithReasoning(ctx, req.Model, req.Turns)
		h.recorder.Observe("conversation", req.Model, start, err != nil)
		if err != nil {
			return handleError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}

	text, err := h.dispatcher.Converse(ctx, req.Model, req.Turns)
	h.recorder.Observe("conversation", req.Model, start, err != nil)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, core.ConversationResult{Response: text})
}

// ConversationStream handles POST /conversation_stream, rendering the
// per-origin chunk stream as server-sent events.
func (h *Handler) ConversationStream(c echo.Context) error {
	var req core.ConversationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	return h.converseStream(c, req)
}

// converseStream serves the streaming form of a conversation, with the
// reasoning instruction injected when requested.
func (h *Handler) converseStream(c echo.Context, req core.ConversationRequest) error {
	ctx := c.Request().Context()

	var chunks <-chan core.ResultChunk
	var err error
	if req.ShowReasoning {
		chunks, err = h.dispatcher.ConverseStreamWithReasoning(ctx, req.Model, req.Turns)
	} else {
		chunks, err = h.dispatcher.ConverseStream(ctx, req.Model, req.Turns)
	}
	if err != nil {
		h.recorder.Observe("conversation_stream", req.Model, time.Now(), true)
		return handleError(c, err)
	}

	return h.writeSSE(c, "conversation_stream", req.Model, chunks)
}

// writeSSE drains the chunk channel into a text/event-stream response,
// one data event per chunk, ending with a [DONE] sentinel. Once headers
// are written, stream errors can only be reflected in the event payloads.
func (h *Handler) writeSSE(c echo.Context, operation, model string, chunks <-chan core.ResultChunk) error {
	start := time.Now()
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	failed := false
	for chunk := range chunks {
		if chunk.Kind == core.ChunkError {
			failed = true
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", payload); err != nil {
			// Client went away; the request context cancellation
			// unwinds the producers.
			h.recorder.Observe(operation, model, start, true)
			return nil
		}
		c.Response().Flush()
	}

	_, _ = fmt.Fprint(c.Response(), "data: [DONE]\n\n")
	c.Response().Flush()

	h.recorder.Observe(operation, model, start, failed)
	return nil
}

// badRequest renders a caller error without dispatching.
func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"kind":    "invalid_request",
			"message": message,
		},
	})
}

// handleError converts gateway errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"kind":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
