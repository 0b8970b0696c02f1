package core

import "fmt"

// Role values recognized in conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is a single-prompt request against one or all models.
type GenerationRequest struct {
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream,omitempty"`
}

// ConversationRequest is a multi-turn request against one model.
type ConversationRequest struct {
	Model         string    `json:"model_name"`
	Turns         []Message `json:"messages"`
	Stream        bool      `json:"stream,omitempty"`
	ShowReasoning bool      `json:"show_reasoning,omitempty"`
}

// ChunkKind tags the payload of a ResultChunk.
type ChunkKind string

const (
	// ChunkDelta carries an incremental text fragment.
	ChunkDelta ChunkKind = "delta"
	// ChunkFinal carries the completed text; always terminal.
	ChunkFinal ChunkKind = "final"
	// ChunkError carries a per-origin failure; always terminal.
	ChunkError ChunkKind = "error"
)

// ResultChunk is one element of a per-origin output stream.
// Seq is monotonic per origin starting at 0. Exactly one chunk per origin
// has Terminal set, and no chunk follows it.
type ResultChunk struct {
	Origin   string        `json:"origin"`
	Seq      int           `json:"seq"`
	Kind     ChunkKind     `json:"kind"`
	Content  string        `json:"content,omitempty"`
	Err      *GatewayError `json:"error,omitempty"`
	Terminal bool          `json:"terminal"`
}

// ModelResult is the per-origin outcome of a fan-out call: either a
// completed text or an error, never both.
type ModelResult struct {
	Text string        `json:"response,omitempty"`
	Err  *GatewayError `json:"error,omitempty"`
}

// OK reports whether the origin completed successfully.
func (r ModelResult) OK() bool { return r.Err == nil }

// AggregatedResponse maps each registered model identifier to its
// independent outcome. A fan-out call always yields one entry per model.
type AggregatedResponse map[string]ModelResult

// ConversationResult is the outcome of a reasoning-aware conversation:
// the final answer plus the model's extracted thinking section, if any.
type ConversationResult struct {
	Response  string `json:"response"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ValidateTurns checks a conversation turn sequence before any backend
// contact. The sequence must be non-empty and every role recognized.
func ValidateTurns(turns []Message) *GatewayError {
	if len(turns) == 0 {
		return NewInvalidTurnsError("conversation requires at least one turn")
	}
	for i, turn := range turns {
		switch turn.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return NewInvalidTurnsError(fmt.Sprintf("turn %d has unrecognized role %q", i, turn.Role))
		}
	}
	return nil
}
