package resilience

import (
	"context"

	"github.com/MrWong99/solace/pkg/provider/embeddings"
)

// EmbeddingFallback implements [embeddings.Provider] with automatic failover
// across multiple embedding backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
//
// All backends in a group must produce vectors of the same dimensionality —
// mixing spaces silently corrupts similarity search.
type EmbeddingFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*EmbeddingFallback)(nil)

// NewEmbeddingFallback creates an [EmbeddingFallback] with primary as the
// preferred backend.
func NewEmbeddingFallback(primary embeddings.Provider, primaryName string, cbCfg CircuitBreakerConfig) *EmbeddingFallback {
	return &EmbeddingFallback{
		group: NewFallbackGroup(primary, primaryName, cbCfg),
	}
}

// AddFallback registers an additional embedding provider as a fallback.
func (f *EmbeddingFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed computes the embedding via the first healthy backend.
func (f *EmbeddingFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes a batch of embeddings via the first healthy backend.
func (f *EmbeddingFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the dimensionality of the primary backend. This does not
// participate in failover because the group is required to be homogeneous.
func (f *EmbeddingFallback) Dimensions() int {
	return f.group.entries[0].value.Dimensions()
}

// ModelID returns the model identifier of the primary backend.
func (f *EmbeddingFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
