// Package llm defines the Provider interface for the language models that
// phrase help desk replies.
//
// The request-understanding pipeline never depends on an LLM: classification,
// retrieval and escalation are decided before any completion is requested.
// A Provider only turns that structured outcome into prose, so callers must
// be prepared to fall back to a template when it fails.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package llm

import "context"

// CompletionRequest carries everything the model needs to produce a reply.
// At least one message is required.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation; the last one is usually the user's.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply to a CompletionRequest.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason, e.g. "stop" or "length".
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID identifies the backing model, e.g. "groq/llama-3.1-8b-instant".
	ModelID() string
}
