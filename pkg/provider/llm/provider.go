// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API and exposes a
// uniform interface for the generation actor to produce responses without
// coupling to any specific SDK. Sampling parameters are supplied per request;
// the generation layer keeps a fixed parameter set per conversation mode.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete performs a blocking chat completion and returns the full
	// response including usage counters.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion starts a streaming chat completion. The returned channel
	// yields incremental [Chunk] values and is closed when the stream ends.
	// The final chunk carries a non-empty FinishReason and, when the backend
	// reports it, the request's [Usage].
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// ModelID returns the backend model identifier (e.g., "gpt-4o-mini").
	ModelID() string
}
