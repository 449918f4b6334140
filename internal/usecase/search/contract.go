package search

import (
	"context"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
	"github.com/fuseline/fuseline/internal/domain/search/request"
	"github.com/fuseline/fuseline/internal/domain/search/result"
)

// Embedder vectorizes the query, folding in conversation context when
// present. The boolean reports whether context was used.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string, conv request.Conversation) (domain.EmbeddingResult, bool, error)
}

// Expander produces the query variant list. Never fails; the original query
// is always the first variant.
type Expander interface {
	Expand(ctx context.Context, query string) []string
}

// Fuser merges per-signal hit lists into one ranked candidate list.
type Fuser interface {
	Fuse(lists map[domain.Signal][]hit.Hit, weights domain.Weights) []result.Fused
}

// Reranker permutes fused candidates. Set-preserving and fail-open.
type Reranker interface {
	Rerank(ctx context.Context, query string, fused []result.Fused) []result.Fused
}

// Cache is the multi-tier response cache keyed by request fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (*result.Response, result.Provenance, bool)
	Put(ctx context.Context, key string, resp *result.Response)
}
