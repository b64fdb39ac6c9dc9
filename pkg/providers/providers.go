// Package providers defines the ChatCompletion/StreamingChatCompletion/
// Embedder abstractions spec.md §1 calls out as external collaborators,
// plus concrete OpenAI-compatible and Anthropic-backed implementations and
// a fallback composer. The interface shape is grounded on the teacher's
// LLMProvider/StreamingProvider split (pkg/providers/fallback_provider.go)
// but drops tool-calling entirely: spec.md's C12 composes a fixed message
// list with no function-calling surface.
package providers

import "context"

// ChatMessage is one role-tagged turn in a completion request. Name is set
// for user turns (spec.md §4.12 step 3) and empty for assistant turns.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Name    string
	Content string
}

// ChatOptions carries the per-call tuning spec.md §4.12/§6 names.
type ChatOptions struct {
	Temperature      float64
	MaxTokens        int
	ReasoningEffort  string // optional
	ProviderRouting  string // optional routing hint
	JSONMode         bool   // response_format: {type: "json_object"}
}

// ChatCompletion is a non-streaming chat-completion backend.
type ChatCompletion interface {
	Chat(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions) (string, error)
}

// StreamCallback receives each raw content delta as the provider's SSE
// stream is consumed; the caller (pkg/llmworker) owns line-splitting and
// thinking-tag filtering, not the provider.
type StreamCallback func(delta string)

// StreamingChatCompletion additionally supports token streaming.
type StreamingChatCompletion interface {
	ChatCompletion
	ChatStream(ctx context.Context, messages []ChatMessage, model string, opts ChatOptions, onDelta StreamCallback) (string, error)
}

// Embedder produces a fixed-dimension embedding for a text. C11 builds its
// memory section only when one is configured; the vectors stored and
// searched in the episodic store come from that store's own embedding
// function, not from this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
