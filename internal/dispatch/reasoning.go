package dispatch

import (
	"context"
	"strings"

	"github.com/vocoip/mcp-test/internal/core"
)

// reasoningSystemPrompt instructs the model to expose its thinking before
// the final answer, in a shape splitReasoning can parse back apart.
const reasoningSystemPrompt = "Think through the problem first: analyze it and show your reasoning, " +
	"then give the final answer. Use exactly this format:\n\n" +
	"Thinking: [your analysis and reasoning]\n\n" +
	"Answer: [your final answer]"

const (
	thinkingMarker = "Thinking:"
	answerMarker   = "Answer:"
)

// ConverseWithReasoning runs a conversation that asks the model to expose
// its reasoning, then splits the reply into the final answer and the
// thinking section. Models that ignore the instruction yield the whole
// reply as the answer with empty reasoning.
func (d *Dispatcher) ConverseWithReasoning(ctx context.Context, model string, turns []core.Message, opts ...CallOption) (core.ConversationResult, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return core.ConversationResult{}, err
	}

	full, err := d.Converse(ctx, model, injectReasoningPrompt(turns), opts...)
	if err != nil {
		return core.ConversationResult{}, err
	}

	answer, reasoning := splitReasoning(full)
	return core.ConversationResult{Response: answer, Reasoning: reasoning}, nil
}

// ConverseStreamWithReasoning is the streaming form of
// ConverseWithReasoning. The reasoning instruction is injected the same
// way; deltas flow through raw, so the thinking section streams inline
// ahead of the answer.
func (d *Dispatcher) ConverseStreamWithReasoning(ctx context.Context, model string, turns []core.Message, opts ...CallOption) (<-chan core.ResultChunk, error) {
	if err := core.ValidateTurns(turns); err != nil {
		return nil, err
	}
	return d.ConverseStream(ctx, model, injectReasoningPrompt(turns), opts...)
}

// injectReasoningPrompt returns a copy of turns with the reasoning system
// prompt in place: an existing system turn is replaced, otherwise one is
// prepended. The caller's slice is never mutated.
func injectReasoningPrompt(turns []core.Message) []core.Message {
	out := make([]core.Message, 0, len(turns)+1)

	replaced := false
	for _, turn := range turns {
		if turn.Role == core.RoleSystem && !replaced {
			out = append(out, core.Message{Role: core.RoleSystem, Content: reasoningSystemPrompt})
			replaced = true
			continue
		}
		out = append(out, turn)
	}
	if !replaced {
		out = append([]core.Message{{Role: core.RoleSystem, Content: reasoningSystemPrompt}}, out...)
	}
	return out
}

// splitReasoning separates a formatted reply into answer and reasoning.
// Replies missing either marker come back unchanged as the answer.
func splitReasoning(full string) (answer, reasoning string) {
	thinkIdx := strings.Index(full, thinkingMarker)
	answerIdx := strings.LastIndex(full, answerMarker)
	if thinkIdx == -1 || answerIdx == -1 || answerIdx < thinkIdx {
		return strings.TrimSpace(full), ""
	}

	reasoning = strings.TrimSpace(full[thinkIdx+len(thinkingMarker) : answerIdx])
	answer = strings.TrimSpace(full[answerIdx+len(answerMarker):])
	return answer, reasoning
}
