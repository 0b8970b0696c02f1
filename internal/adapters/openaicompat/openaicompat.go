// Package openaicompat provides an adapter for OpenAI-compatible
// chat-completions backends (DeepSeek, VolcEngine Ark, OpenAI itself).
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vocoip/mcp-test/config"
	"github.com/vocoip/mcp-test/internal/adapters"
	"github.com/vocoip/mcp-test/internal/core"
	"github.com/vocoip/mcp-test/internal/httpclient"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	// Self-register with the factory.
	adapters.Register("openaicompat", func(cfg config.BackendConfig) (core.Adapter, error) {
		return New(cfg), nil
	})
}

// Adapter implements core.Adapter for OpenAI-compatible backends.
type Adapter struct {
	cfg        config.BackendConfig
	httpClient *http.Client
}

// New creates an adapter for the given backend configuration.
func New(cfg config.BackendConfig) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{
		cfg:        cfg,
		httpClient: httpclient.NewDefaultHTTPClient(),
	}
}

// NewWithHTTPClient creates an adapter with a custom HTTP client.
func NewWithHTTPClient(cfg config.BackendConfig, client *http.Client) *Adapter {
	a := New(cfg)
	a.httpClient = client
	return a
}

// Identifier returns the stable model identifier this adapter serves.
func (a *Adapter) Identifier() string { return a.cfg.ID }

// Timeout returns the per-backend deadline override, or 0 for none.
func (a *Adapter) Timeout() time.Duration { return a.cfg.Timeout.Std() }

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
}

// chatResponse is the subset of the chat-completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate produces a completion for a single prompt.
func (a *Adapter) Generate(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, []core.Message{{Role: core.RoleUser, Content: prompt}})
}

// Converse produces a completion for a multi-turn conversation.
func (a *Adapter) Converse(ctx context.Context, turns []core.Message) (string, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return "", err
	}
	return a.complete(ctx, turns)
}

// GenerateStream produces an incremental completion for a single prompt.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string) (<-chan core.ResultChunk, error) {
	return a.completeStream(ctx, []core.Message{{Role: core.RoleUser, Content: prompt}})
}

// ConverseStream is the streaming form of Converse.
func (a *Adapter) ConverseStream(ctx context.Context, turns []core.Message) (<-chan core.ResultChunk, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return nil, err
	}
	return a.completeStream(ctx, turns)
}

func (a *Adapter) complete(ctx context.Context, messages []core.Message) (string, error) {
	respBody, err := a.post(ctx, chatRequest{Model: a.cfg.Model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = respBody.Close()
	}()

	data, err := io.ReadAll(respBody)
	if err != nil {
		return "", core.WrapTransportError(a.cfg.ID, err)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", core.NewMalformedError(a.cfg.ID, "failed to parse backend response: "+err.Error(), err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewMalformedError(a.cfg.ID, "backend response contains no choices", nil)
	}

	return resp.Choices[0].Message.Content, nil
}

func (a *Adapter) completeStream(ctx context.Context, messages []core.Message) (<-chan core.ResultChunk, error) {
	respBody, err := a.post(ctx, chatRequest{Model: a.cfg.Model, Messages: messages, Stream: true})
	if err != nil {
		return nil, err
	}

	ch := make(chan core.ResultChunk)
	go a.readStream(ctx, respBody, ch)
	return ch, nil
}

// post sends the request body and returns the raw response body on 2xx.
// Non-2xx responses and transport failures are normalized; the caller owns
// closing the returned body.
func (a *Adapter) post(ctx context.Context, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.NewBackendError(a.cfg.ID, http.StatusInternalServerError, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewBackendError(a.cfg.ID, http.StatusInternalServerError, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	if requestID := core.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Client-Request-Id", requestID)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, core.WrapTransportError(a.cfg.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		return nil, core.ParseBackendError(a.cfg.ID, resp.StatusCode, errBody)
	}

	return resp.Body, nil
}

// readStream converts the SSE response into ResultChunk values and closes
// ch after emitting exactly one terminal chunk. A stream that the context
// cancels mid-flight still attempts a terminal chunk, but never blocks on
// a consumer that has gone away.
func (a *Adapter) readStream(ctx context.Context, body io.ReadCloser, ch chan<- core.ResultChunk) {
	defer close(ch)
	defer func() {
		_ = body.Close()
	}()

	seq := 0
	var full strings.Builder

	emit := func(c core.ResultChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			emit(core.ResultChunk{
				Origin:   a.cfg.ID,
				Seq:      seq,
				Kind:     core.ChunkError,
				Err:      core.WrapTransportError(a.cfg.ID, ctx.Err()),
				Terminal: true,
			})
			return
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		// DeepSeek reasoning models stream the thinking section as
		// reasoning_content before the answer deltas.
		delta := gjson.Get(payload, "choices.0.delta.content")
		if !delta.Exists() || delta.String() == "" {
			delta = gjson.Get(payload, "choices.0.delta.reasoning_content")
		}
		if delta.String() == "" {
			continue
		}

		full.WriteString(delta.String())
		if !emit(core.ResultChunk{
			Origin:  a.cfg.ID,
			Seq:     seq,
			Kind:    core.ChunkDelta,
			Content: delta.String(),
		}) {
			return
		}
		seq++
	}

	if err := scanner.Err(); err != nil {
		emit(core.ResultChunk{
			Origin:   a.cfg.ID,
			Seq:      seq,
			Kind:     core.ChunkError,
			Err:      core.WrapTransportError(a.cfg.ID, err),
			Terminal: true,
		})
		return
	}

	emit(core.ResultChunk{
		Origin:   a.cfg.ID,
		Seq:      seq,
		Kind:     core.ChunkFinal,
		Content:  full.String(),
		Terminal: true,
	})
}
