// Package anthropic provides an adapter for the Anthropic messages API.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; this matches the common SDK default.
	defaultMaxTokens = 4096
)

func init() {
	// Self-register with the factory.
	adapters.Register("anthropic", func(cfg config.BackendConfig) (core.Adapter, error) {
		return New(cfg), nil
	})
}

// Adapter implements core.Adapter for Anthropic backends.
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

// messagesRequest is the Anthropic messages API request body.
type messagesRequest struct {
	Model     string         `json:"model"`
	Messages  []core.Message `json:"messages"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system,omitempty"`
	Stream    bool           `json:"stream,omitempty"`
}

// messagesResponse is the subset of the messages API response we consume.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// toMessagesRequest converts uniform turns into the Anthropic shape:
// system turns move into the dedicated system field.
func (a *Adapter) toMessagesRequest(turns []core.Message, stream bool) messagesRequest {
	req := messagesRequest{
		Model:     a.cfg.Model,
		Messages:  make([]core.Message, 0, len(turns)),
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	for _, turn := range turns {
		if turn.Role == core.RoleSystem {
			req.System = turn.Content
			continue
		}
		req.Messages = append(req.Messages, turn)
	}
	return req
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

func (a *Adapter) complete(ctx context.Context, turns []core.Message) (string, error) {
	respBody, err := a.post(ctx, a.toMessagesRequest(turns, false))
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

	var resp messagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", core.NewMalformedError(a.cfg.ID, "failed to parse backend response: "+err.Error(), err)
	}
	if len(resp.Content) == 0 {
		return "", core.NewMalformedError(a.cfg.ID, "backend response contains no content blocks", nil)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func (a *Adapter) completeStream(ctx context.Context, turns []core.Message) (<-chan core.ResultChunk, error) {
	respBody, err := a.post(ctx, a.toMessagesRequest(turns, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan core.ResultChunk)
	go a.readStream(ctx, respBody, ch)
	return ch, nil
}

func (a *Adapter) post(ctx context.Context, body messagesRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, core.NewBackendError(a.cfg.ID, http.StatusInternalServerError, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, core.NewBackendError(a.cfg.ID, http.StatusInternalServerError, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

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

// readStream converts Anthropic's event-typed SSE stream into ResultChunk
// values; only content_block_delta events carry text we forward.
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

		switch gjson.Get(payload, "type").String() {
		case "content_block_delta":
			text := gjson.Get(payload, "delta.text").String()
			if text == "" {
				continue
			}
			full.WriteString(text)
			if !emit(core.ResultChunk{
				Origin:  a.cfg.ID,
				Seq:     seq,
				Kind:    core.ChunkDelta,
				Content: text,
			}) {
				return
			}
			seq++

		case "error":
			msg := gjson.Get(payload, "error.message").String()
			if msg == "" {
				msg = "backend reported a stream error"
			}
			emit(core.ResultChunk{
				Origin:   a.cfg.ID,
				Seq:      seq,
				Kind:     core.ChunkError,
				Err:      core.NewBackendError(a.cfg.ID, http.StatusBadGateway, msg, nil),
				Terminal: true,
			})
			return

		case "message_stop":
			emit(core.ResultChunk{
				Origin:   a.cfg.ID,
				Seq:      seq,
				Kind:     core.ChunkFinal,
				Content:  full.String(),
				Terminal: true,
			})
			return
		}
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

	// Stream ended without message_stop; treat what we have as complete.
	emit(core.ResultChunk{
		Origin:   a.cfg.ID,
		Seq:      seq,
		Kind:     core.ChunkFinal,
		Content:  full.String(),
		Terminal: true,
	})
}
