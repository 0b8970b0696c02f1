package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vocoip/mcp-test/config"
	"github.com/vocoip/mcp-test/internal/core"
)

func testAdapter(serverURL string) *Adapter {
	return New(config.BackendConfig{
		ID:      "dsr1",
		Type:    "openaicompat",
		BaseURL: serverURL,
		APIKey:  "sk-test",
		Model:   "deepseek-r1",
	})
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	text, err := testAdapter(server.URL).Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "hello" {
		t.Errorf("Generate() = %q", text)
	}
}

func TestGenerateBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded","type":"rate_limit"}}`)
	}))
	defer server.Close()

	_, err := testAdapter(server.URL).Generate(context.Background(), "hi")

	var ge *core.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("error type = %T", err)
	}
	if ge.Kind != core.ErrBackend {
		t.Errorf("Kind = %q, want backend_error", ge.Kind)
	}
	if ge.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", ge.Status)
	}
	if ge.Message != "rate limit exceeded" {
		t.Errorf("Message = %q", ge.Message)
	}
}

func TestGenerateMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"choices": [`},
		{"no choices", `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := testAdapter(server.URL).Generate(context.Background(), "hi")

			var ge *core.GatewayError
			if !errors.As(err, &ge) || ge.Kind != core.ErrMalformed {
				t.Fatalf("error = %v, want malformed", err)
			}
		})
	}
}

func TestConverseValidatesTurns(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	_, err := testAdapter(server.URL).Converse(context.Background(), nil)

	var ge *core.GatewayError
	if !errors.As(err, &ge) || ge.Kind != core.ErrInvalidTurns {
		t.Fatalf("error = %v, want invalid_turns", err)
	}
	if called {
		t.Error("backend was contacted despite invalid turns")
	}
}

func TestGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	chunks, err := testAdapter(server.URL).GenerateStream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var collected []core.ResultChunk
	for c := range chunks {
		collected = append(collected, c)
	}

	if len(collected) != 3 {
		t.Fatalf("got %d chunks, want 3", len(collected))
	}
	if collected[0].Content != "hel" || collected[1].Content != "lo" {
		t.Errorf("deltas = %q, %q", collected[0].Content, collected[1].Content)
	}
	for i, c := range collected {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
		if c.Origin != "dsr1" {
			t.Errorf("chunk %d origin = %q", i, c.Origin)
		}
	}
	final := collected[2]
	if !final.Terminal || final.Kind != core.ChunkFinal || final.Content != "hello" {
		t.Errorf("final chunk = %+v", final)
	}
}

func TestGenerateStreamReasoningContent(t *testing.T) {
	// DeepSeek reasoning models stream the thinking section under
	// reasoning_content; those deltas must flow too.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"thinking \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"answer\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	chunks, err := testAdapter(server.URL).GenerateStream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var collected []core.ResultChunk
	for c := range chunks {
		collected = append(collected, c)
	}

	if len(collected) != 3 {
		t.Fatalf("got %d chunks, want 3", len(collected))
	}
	if collected[0].Content != "thinking " {
		t.Errorf("first delta = %q", collected[0].Content)
	}
	if collected[2].Content != "thinking answer" {
		t.Errorf("final content = %q", collected[2].Content)
	}
}

func TestGenerateStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer server.Close()

	_, err := testAdapter(server.URL).GenerateStream(context.Background(), "hi")

	var ge *core.GatewayError
	if !errors.As(err, &ge) || ge.Kind != core.ErrBackend {
		t.Fatalf("error = %v, want backend_error", err)
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	// Point at a closed server so the dial fails.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := testAdapter(server.URL).Generate(context.Background(), "hi")

	var ge *core.GatewayError
	if !errors.As(err, &ge) || ge.Kind != core.ErrBackend {
		t.Fatalf("error = %v, want backend_error", err)
	}
}
