package core

import (
	"context"
	"time"
)

// Adapter wraps one configured backend endpoint behind a uniform capability
// set. Implementations translate the uniform request shape into their
// vendor's wire format and normalize every failure into a GatewayError;
// vendor-specific error shapes never leak past this boundary.
//
// Adapters are stateless beyond their configuration and safe for concurrent
// use by multiple goroutines.
type Adapter interface {
	// Identifier returns the stable model identifier this adapter serves.
	Identifier() string

	// Timeout returns the per-backend deadline override, or 0 for none.
	Timeout() time.Duration

	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStream produces an incremental completion. The returned
	// channel is finite and closed by the adapter after exactly one
	// terminal chunk; failures after streaming begins surface as a
	// terminal error chunk, not an error return.
	GenerateStream(ctx context.Context, prompt string) (<-chan ResultChunk, error)

	// Converse produces a completion for a multi-turn conversation.
	Converse(ctx context.Context, turns []Message) (string, error)

	// ConverseStream is the streaming form of Converse, with the same
	// channel contract as GenerateStream.
	ConverseStream(ctx context.Context, turns []Message) (<-chan ResultChunk, error)
}

// Lookup resolves model identifiers to adapters. It decouples the
// dispatcher from the concrete registry implementation.
type Lookup interface {
	// Resolve returns the adapter for the identifier, or an
	// unknown_model error.
	Resolve(model string) (Adapter, error)

	// List returns all registered identifiers in insertion order.
	List() []string
}
