// Package dispatch implements the request dispatch and
// streaming-aggregation engine: it resolves model identifiers through the
// registry, invokes adapters with per-call deadlines, fans out across all
// registered backends, and normalizes outcomes.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocoip/mcp-test/internal/core"
)

// DefaultTimeout is the per-call deadline applied when neither the call
// nor the backend configuration overrides it.
const DefaultTimeout = 30 * time.Second

// Dispatcher routes requests to adapters via the registry. It owns the
// per-call timeout and error-normalization policy; retry policy belongs to
// the surrounding layer.
type Dispatcher struct {
	lookup         core.Lookup
	defaultTimeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultTimeout overrides the dispatcher-wide default deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.defaultTimeout = d
		}
	}
}

// New creates a dispatcher over the given lookup.
func New(lookup core.Lookup, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		lookup:         lookup,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CallOption adjusts a single dispatch call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the deadline for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// deadline picks the effective deadline: per-call override, then the
// backend's configured timeout, then the dispatcher default.
func (d *Dispatcher) deadline(a core.Adapter, opts callOptions) time.Duration {
	if opts.timeout > 0 {
		return opts.timeout
	}
	if t := a.Timeout(); t > 0 {
		return t
	}
	return d.defaultTimeout
}

func applyCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Models returns the registered model identifiers in registry order.
func (d *Dispatcher) Models() []string {
	return d.lookup.List()
}

// Generate resolves the model and produces a completion for the prompt.
func (d *Dispatcher) Generate(ctx context.Context, model, prompt string, opts ...CallOption) (string, error) {
	a, err := d.lookup.Resolve(model)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deadline(a, applyCallOptions(opts)))
	defer cancel()

	text, err := a.Generate(callCtx, prompt)
	if err != nil {
		return "", core.WrapTransportError(a.Identifier(), err)
	}
	return text, nil
}

// Converse resolves the model and runs a multi-turn conversation. The turn
// sequence is validated before the backend is contacted.
func (d *Dispatcher) Converse(ctx context.Context, model string, turns []core.Message, opts ...CallOption) (string, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return "", err
	}

	a, err := d.lookup.Resolve(model)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deadline(a, applyCallOptions(opts)))
	defer cancel()

	text, err := a.Converse(callCtx, turns)
	if err != nil {
		return "", core.WrapTransportError(a.Identifier(), err)
	}
	return text, nil
}

// GenerateAll fans the prompt out to every registered backend
// concurrently. One goroutine per origin with its own deadline and result
// slot; a failing or timed-out origin never cancels or delays its
// siblings beyond their own deadlines. The response always contains one
// entry per registered model.
func (d *Dispatcher) GenerateAll(ctx context.Context, prompt string, opts ...CallOption) core.AggregatedResponse {
	ids := d.lookup.List()
	results := make([]core.ModelResult, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			text, err := d.Generate(ctx, id, prompt, opts...)
			if err != nil {
				slog.Warn("fan-out origin failed", "model", id, "error", err)
				results[i] = core.ModelResult{Err: toGatewayError(id, err)}
				return nil
			}
			results[i] = core.ModelResult{Text: text}
			return nil
		})
	}
	// Errors are captured per slot; Wait only joins the goroutines.
	_ = g.Wait()

	resp := make(core.AggregatedResponse, len(ids))
	for i, id := range ids {
		resp[id] = results[i]
	}
	return resp
}

// GenerateStream resolves the model and returns its chunk stream, wrapped
// so the per-call deadline is released once the stream terminates.
func (d *Dispatcher) GenerateStream(ctx context.Context, model, prompt string, opts ...CallOption) (<-chan core.ResultChunk, error) {
	a, err := d.lookup.Resolve(model)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deadline(a, applyCallOptions(opts)))
	chunks, err := a.GenerateStream(callCtx, prompt)
	if err != nil {
		cancel()
		return nil, core.WrapTransportError(a.Identifier(), err)
	}

	ag := NewAggregator([]Source{{Origin: a.Identifier(), Chunks: chunks, Ctx: callCtx, Cancel: cancel}})
	return ag.Start(ctx), nil
}

// ConverseStream is the streaming form of Converse.
func (d *Dispatcher) ConverseStream(ctx context.Context, model string, turns []core.Message, opts ...CallOption) (<-chan core.ResultChunk, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return nil, err
	}

	a, err := d.lookup.Resolve(model)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deadline(a, applyCallOptions(opts)))
	chunks, err := a.ConverseStream(callCtx, turns)
	if err != nil {
		cancel()
		return nil, core.WrapTransportError(a.Identifier(), err)
	}

	ag := NewAggregator([]Source{{Origin: a.Identifier(), Chunks: chunks, Ctx: callCtx, Cancel: cancel}})
	return ag.Start(ctx), nil
}

// GenerateAllStream fans the prompt out to every registered backend and
// merges the per-origin streams into one channel. Each origin's stream is
// established in its own goroutine, so a backend that stalls before
// sending response headers never delays a sibling's chunks. An origin
// whose stream cannot start contributes a single terminal error chunk;
// the others stream undisturbed.
func (d *Dispatcher) GenerateAllStream(ctx context.Context, prompt string, opts ...CallOption) <-chan core.ResultChunk {
	ids := d.lookup.List()
	sources := make([]Source, len(ids))
	for i, id := range ids {
		sources[i] = d.streamSource(ctx, id, prompt, opts)
	}
	return NewAggregator(sources).Start(ctx)
}

// streamSource returns immediately with a source whose chunks appear once
// the origin's stream is established; the blocking establishment call runs
// behind the bridge channel.
func (d *Dispatcher) streamSource(ctx context.Context, id, prompt string, opts []CallOption) Source {
	a, err := d.lookup.Resolve(id)
	if err != nil {
		return errorSource(id, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.deadline(a, applyCallOptions(opts)))
	bridge := make(chan core.ResultChunk)

	go func() {
		defer close(bridge)

		chunks, err := a.GenerateStream(callCtx, prompt)
		if err != nil {
			slog.Warn("fan-out stream origin failed to start", "model", id, "error", err)
			select {
			case bridge <- core.ResultChunk{
				Origin:   id,
				Seq:      0,
				Kind:     core.ChunkError,
				Err:      core.WrapTransportError(id, err),
				Terminal: true,
			}:
			case <-callCtx.Done():
			}
			return
		}

		for c := range chunks {
			select {
			case bridge <- c:
			case <-callCtx.Done():
				return
			}
		}
	}()

	return Source{Origin: id, Chunks: bridge, Ctx: callCtx, Cancel: cancel}
}

// toGatewayError coerces any adapter failure into the gateway taxonomy.
func toGatewayError(origin string, err error) *core.GatewayError {
	var ge *core.GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return core.WrapTransportError(origin, err)
}

// errorSource builds a one-chunk stream for an origin that failed before
// streaming could begin.
func errorSource(origin string, err error) Source {
	ch := make(chan core.ResultChunk, 1)
	ch <- core.ResultChunk{
		Origin:   origin,
		Seq:      0,
		Kind:     core.ChunkError,
		Err:      toGatewayError(origin, err),
		Terminal: true,
	}
	close(ch)
	return Source{Origin: origin, Chunks: ch}
}
