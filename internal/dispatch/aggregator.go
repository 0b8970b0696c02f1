package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/vocoip/mcp-test/internal/core"
)

// OriginState tracks one origin through the aggregated stream.
type OriginState string

const (
	// StatePending means no chunk has been observed from the origin yet.
	StatePending OriginState = "pending"
	// StateStreaming means at least one non-terminal chunk has flowed.
	StateStreaming OriginState = "streaming"
	// StateCompleted means the origin emitted a successful terminal chunk.
	StateCompleted OriginState = "completed"
	// StateFailed means the origin terminated with an error, was
	// cancelled, or its stream ended without a terminal chunk.
	StateFailed OriginState = "failed"
)

// terminal reports whether no further transitions may occur.
func (s OriginState) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Source is one per-origin chunk stream to be merged. Cancel, when set, is
// invoked as soon as the origin reaches a terminal state so its underlying
// call context is released promptly. Ctx is the origin's call context; its
// error classifies a stream that is torn down before delivering a terminal
// chunk (deadline vs. cancellation).
type Source struct {
	Origin string
	Chunks <-chan core.ResultChunk
	Ctx    context.Context
	Cancel context.CancelFunc
}

// Aggregator merges N independent per-origin chunk streams into a single
// output channel. Per-origin chunk order is preserved; across origins,
// chunks appear in whatever order they become available. The merged
// channel closes only once every origin has reached a terminal state.
//
// One forwarder goroutine per origin and one closer goroutine; the only
// shared state is the per-origin state table behind its own mutex.
type Aggregator struct {
	sources []Source

	mu     sync.Mutex
	states map[string]OriginState
}

// NewAggregator creates an aggregator over the given sources. Every
// origin starts in StatePending.
func NewAggregator(sources []Source) *Aggregator {
	states := make(map[string]OriginState, len(sources))
	for _, s := range sources {
		states[s.Origin] = StatePending
	}
	return &Aggregator{
		sources: sources,
		states:  states,
	}
}

// State returns the current state of an origin. Unknown origins report
// StateFailed.
func (ag *Aggregator) State(origin string) OriginState {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if s, ok := ag.states[origin]; ok {
		return s
	}
	return StateFailed
}

// States returns a snapshot of all origin states.
func (ag *Aggregator) States() map[string]OriginState {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	out := make(map[string]OriginState, len(ag.states))
	for k, v := range ag.states {
		out[k] = v
	}
	return out
}

// setState transitions an origin, ignoring transitions out of a terminal
// state.
func (ag *Aggregator) setState(origin string, next OriginState) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if cur, ok := ag.states[origin]; ok && cur.terminal() {
		return
	}
	ag.states[origin] = next
}

// Start launches the merge and returns the output channel. Cancelling ctx
// stops forwarding, releases every still-running origin (each reaches a
// terminal state), and closes the output after all forwarders exit. Start
// must be called at most once.
func (ag *Aggregator) Start(ctx context.Context) <-chan core.ResultChunk {
	out := make(chan core.ResultChunk)

	var wg sync.WaitGroup
	wg.Add(len(ag.sources))
	for _, src := range ag.sources {
		go ag.forward(ctx, src, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// forward copies one origin's chunks to the shared output until the
// origin's terminal chunk, the producer closing its channel, or ctx
// expiring. ctx is the merge (consumer) context, not the origin's call
// context: a per-origin deadline tears down the producer, and forward
// then owes the still-attached consumer the terminal chunk the producer
// never got to deliver.
func (ag *Aggregator) forward(ctx context.Context, src Source, out chan<- core.ResultChunk, wg *sync.WaitGroup) {
	defer wg.Done()
	if src.Cancel != nil {
		// Releasing the origin's call context also unblocks its
		// producer goroutine, so nothing is left running.
		defer src.Cancel()
	}

	lastSeq := -1
	for {
		select {
		case chunk, ok := <-src.Chunks:
			if !ok {
				// Producer closed without a terminal chunk: its call
				// context expired or it was cancelled mid-stream.
				ag.setState(src.Origin, StateFailed)
				ag.synthesizeTerminal(ctx, src, lastSeq+1, out)
				return
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				ag.setState(src.Origin, StateFailed)
				return
			}
			lastSeq = chunk.Seq

			if chunk.Terminal {
				if chunk.Kind == core.ChunkError {
					ag.setState(src.Origin, StateFailed)
				} else {
					ag.setState(src.Origin, StateCompleted)
				}
				return
			}
			ag.setState(src.Origin, StateStreaming)

		case <-ctx.Done():
			// Consumer cancelled the merge; nobody is reading anymore.
			ag.setState(src.Origin, StateFailed)
			return
		}
	}
}

// synthesizeTerminal delivers the terminal error chunk for an origin whose
// producer vanished before sending one, so the consumer still observes
// exactly one terminal chunk per origin. The origin's call context error
// classifies the failure (deadline expiry surfaces as a timeout).
func (ag *Aggregator) synthesizeTerminal(ctx context.Context, src Source, seq int, out chan<- core.ResultChunk) {
	cause := errors.New("stream ended before completion")
	if src.Ctx != nil && src.Ctx.Err() != nil {
		cause = src.Ctx.Err()
	}

	chunk := core.ResultChunk{
		Origin:   src.Origin,
		Seq:      seq,
		Kind:     core.ChunkError,
		Err:      core.WrapTransportError(src.Origin, cause),
		Terminal: true,
	}
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}
