package domain

import "context"

// EmbeddingResult holds an embedding vector and provider token usage.
type EmbeddingResult struct {
	Embedding   []float32
	TotalTokens int
}

// Embedder converts text into a fixed-dimensionality vector.
// Implementations assume a stable dimensionality per deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker is implemented by collaborators that can verify availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
