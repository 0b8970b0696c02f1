package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocoip/mcp-test/internal/core"
	"github.com/vocoip/mcp-test/internal/dispatch"
	"github.com/vocoip/mcp-test/internal/observability"
)

// fakeAdapter backs the server tests without network access.
type fakeAdapter struct {
	id    string
	reply string
	err   error
	// gotTurns records what the conversation methods received.
	gotTurns []core.Message
}

func (f *fakeAdapter) Identifier() string     { return f.id }
func (f *fakeAdapter) Timeout() time.Duration { return 0 }

func (f *fakeAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAdapter) Converse(ctx context.Context, turns []core.Message) (string, error) {
	f.gotTurns = turns
	return f.Generate(ctx, "")
}

func (f *fakeAdapter) GenerateStream(ctx context.Context, prompt string) (<-chan core.ResultChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan core.ResultChunk, 2)
	ch <- core.ResultChunk{Origin: f.id, Seq: 0, Kind: core.ChunkDelta, Content: f.reply}
	ch <- core.ResultChunk{Origin: f.id, Seq: 1, Kind: core.ChunkFinal, Content: f.reply, Terminal: true}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) ConverseStream(ctx context.Context, turns []core.Message) (<-chan core.ResultChunk, error) {
	f.gotTurns = turns
	return f.GenerateStream(ctx, "")
}

type fakeLookup struct {
	adapters []*fakeAdapter
}

func (l *fakeLookup) Resolve(model string) (core.Adapter, error) {
	for _, a := range l.adapters {
		if a.id == model {
			return a, nil
		}
	}
	return nil, core.NewUnknownModelError(model)
}

func (l *fakeLookup) List() []string {
	ids := make([]string, len(l.adapters))
	for i, a := range l.adapters {
		ids[i] = a.id
	}
	return ids
}

func testServer(adapters ...*fakeAdapter) *Server {
	d := dispatch.New(&fakeLookup{adapters: adapters})
	return New(d, observability.NewRecorder(), &Config{})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, testServer(&fakeAdapter{id: "a"}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListModels(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1"}, &fakeAdapter{id: "claude"})
	rec := doJSON(t, srv, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Models []string `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"dsr1", "claude"}, body.Models)
}

func TestGenerate(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello"})
	rec := doJSON(t, srv, http.MethodPost, "/generate/dsr1", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello", body["response"])
}

func TestGenerateUnknownModel(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello"})
	rec := doJSON(t, srv, http.MethodPost, "/generate/nope", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown_model", body["error"]["kind"])
}

func TestGenerateMissingPrompt(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1"})
	rec := doJSON(t, srv, http.MethodPost, "/generate/dsr1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateBackendFailure(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", err: errors.New("boom")})
	rec := doJSON(t, srv, http.MethodPost, "/generate/dsr1", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGenerateAll(t *testing.T) {
	srv := testServer(
		&fakeAdapter{id: "a", reply: "alpha"},
		&fakeAdapter{id: "b", err: errors.New("boom")},
	)
	rec := doJSON(t, srv, http.MethodPost, "/generate_all", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]struct {
		Response string `json:"response"`
		Error    *struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "alpha", body["a"].Response)
	require.NotNil(t, body["b"].Error)
	assert.Equal(t, "backend_error", body["b"].Error.Kind)
}

func TestConversation(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello there"})
	rec := doJSON(t, srv, http.MethodPost, "/conversation",
		`{"model_name":"dsr1","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body core.ConversationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello there", body.Response)
	assert.Empty(t, body.Reasoning)
}

func TestConversationWithReasoning(t *testing.T) {
	srv := testServer(&fakeAdapter{
		id:    "dsr1",
		reply: "Thinking: a greeting.\n\nAnswer: hello",
	})
	rec := doJSON(t, srv, http.MethodPost, "/conversation",
		`{"model_name":"dsr1","messages":[{"role":"user","content":"hi"}],"show_reasoning":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body core.ConversationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello", body.Response)
	assert.Equal(t, "a greeting.", body.Reasoning)
}

func TestConversationInvalidTurns(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "x"})
	rec := doJSON(t, srv, http.MethodPost, "/conversation",
		`{"model_name":"dsr1","messages":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_turns", body["error"]["kind"])
}

func TestConversationStream(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello"})
	rec := doJSON(t, srv, http.MethodPost, "/conversation_stream",
		`{"model_name":"dsr1","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, core.ChunkDelta, events[0].Kind)
	assert.True(t, events[1].Terminal)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(rec.Body.String()), "data: [DONE]"))
}

func TestConversationStreamFlag(t *testing.T) {
	// stream:true on /conversation serves SSE, same as /conversation_stream.
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello"})
	rec := doJSON(t, srv, http.MethodPost, "/conversation",
		`{"model_name":"dsr1","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Terminal)
}

func TestConversationStreamWithReasoning(t *testing.T) {
	adapter := &fakeAdapter{id: "dsr1", reply: "Thinking: x\n\nAnswer: y"}
	srv := testServer(adapter)
	rec := doJSON(t, srv, http.MethodPost, "/conversation_stream",
		`{"model_name":"dsr1","messages":[{"role":"user","content":"hi"}],"show_reasoning":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, adapter.gotTurns, 2)
	assert.Equal(t, core.RoleSystem, adapter.gotTurns[0].Role)
	assert.Contains(t, adapter.gotTurns[0].Content, "Thinking:")
}

func TestGenerateStreamEndpoint(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "hello"})
	rec := doJSON(t, srv, http.MethodPost, "/generate/dsr1", `{"prompt":"hi","stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
}

func TestGenerateAllStreamEndpoint(t *testing.T) {
	srv := testServer(
		&fakeAdapter{id: "a", reply: "x"},
		&fakeAdapter{id: "b", err: errors.New("dial failed")},
	)
	rec := doJSON(t, srv, http.MethodPost, "/generate_all", `{"prompt":"hi","stream":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	perOrigin := map[string][]core.ResultChunk{}
	for _, ev := range parseSSE(t, rec.Body.String()) {
		perOrigin[ev.Origin] = append(perOrigin[ev.Origin], ev)
	}

	assert.Len(t, perOrigin["a"], 2)
	require.Len(t, perOrigin["b"], 1)
	assert.Equal(t, core.ChunkError, perOrigin["b"][0].Kind)
}

func TestStats(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "x"})

	doJSON(t, srv, http.MethodPost, "/generate/dsr1", `{"prompt":"hi"}`)
	rec := doJSON(t, srv, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap observability.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.TotalRequests)
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(&fakeAdapter{id: "dsr1", reply: "x"})

	t.Run("generated when absent", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/health", "")
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	})

	t.Run("echoed when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-Id", "req-123")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	})
}

// parseSSE decodes the data events of an SSE body, skipping the [DONE]
// sentinel.
func parseSSE(t *testing.T, body string) []core.ResultChunk {
	t.Helper()
	var events []core.ResultChunk
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var c core.ResultChunk
		require.NoError(t, json.Unmarshal([]byte(payload), &c))
		events = append(events, c)
	}
	return events
}
