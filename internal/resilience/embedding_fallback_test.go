package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/MrWong99/solace/pkg/provider/embeddings/mock"
)

func TestEmbeddingFallback_FailsOverOnPrimaryError(t *testing.T) {
	primary := &embmock.Provider{EmbedErr: errors.New("upstream down")}
	secondary := &embmock.Provider{EmbedResult: []float32{0.1, 0.2}, DimensionsValue: 2}

	fb := NewEmbeddingFallback(primary, "primary", CircuitBreakerConfig{FailureThreshold: 3})
	fb.AddFallback("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.1 {
		t.Fatalf("vec = %v, want the secondary's vector", vec)
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0] != "hello" {
		t.Fatalf("secondary calls = %v, want [hello]", calls)
	}
}

func TestEmbeddingFallback_EmbedBatch(t *testing.T) {
	primary := &embmock.Provider{EmbedResult: []float32{0.5}, DimensionsValue: 1}

	fb := NewEmbeddingFallback(primary, "primary", CircuitBreakerConfig{FailureThreshold: 3})

	vecs, err := fb.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	if calls := primary.Calls(); len(calls) != 3 {
		t.Fatalf("primary calls = %v, want one per text", calls)
	}
}

func TestEmbeddingFallback_PrimaryMetadata(t *testing.T) {
	primary := &embmock.Provider{DimensionsValue: 384, ModelIDValue: "test-embed-v1"}

	fb := NewEmbeddingFallback(primary, "primary", CircuitBreakerConfig{})
	if fb.Dimensions() != 384 {
		t.Fatalf("Dimensions() = %d, want 384", fb.Dimensions())
	}
	if fb.ModelID() != "test-embed-v1" {
		t.Fatalf("ModelID() = %q, want test-embed-v1", fb.ModelID())
	}
}
