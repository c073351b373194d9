package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// ResponseFormat selects the output shape requested from the model.
type ResponseFormat string

const (
	// FormatText requests plain-text output (the default).
	FormatText ResponseFormat = "text"

	// FormatJSON requests a JSON object response. Callers must still validate
	// the payload shape; backends only guarantee syntactic validity.
	FormatJSON ResponseFormat = "json_object"
)

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// TopP is the nucleus-sampling cutoff in (0.0, 1.0]. Zero means use the
	// provider default.
	TopP float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// FrequencyPenalty penalises tokens proportionally to their frequency so
	// far, in the range [-2.0, 2.0].
	FrequencyPenalty float64

	// PresencePenalty penalises tokens that have appeared at all, in the
	// range [-2.0, 2.0].
	PresencePenalty float64

	// Format requests a specific response shape. The zero value is treated as
	// [FormatText].
	Format ResponseFormat
}

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int

	// PromptCacheHitTokens is the number of prompt tokens served from the
	// backend's prompt cache. Zero when the backend does not report caching.
	PromptCacheHitTokens int

	// PromptCacheMissTokens is the number of prompt tokens not served from the
	// cache. Zero when the backend does not report caching.
	PromptCacheMissTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty when
	// the chunk carries only a FinishReason.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop", "length", "error", and "" for
	// non-final chunks.
	FinishReason string

	// Usage is populated on the final chunk when the backend reports token
	// accounting for streamed requests.
	Usage *Usage
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage holds the token accounting for this request.
	Usage Usage
}
