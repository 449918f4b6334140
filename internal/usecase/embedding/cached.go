package embedding

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/metrics"
)

// DefaultCacheSize is the default embedding cache capacity.
const DefaultCacheSize = 4096

// Cached wraps an Embedder with an in-process LRU over the embedded text.
// Identical inputs within the cache window skip the provider round-trip;
// the cached result reports zero token usage.
type Cached struct {
	inner  domain.Embedder
	cache  *lru.Cache[string, []float32]
	logger *zap.Logger
}

// NewCached creates a caching decorator. size <= 0 uses DefaultCacheSize.
func NewCached(inner domain.Embedder, size int, logger *zap.Logger) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache, logger: logger}, nil
}

// Embed returns the cached vector for text when present, otherwise delegates
// and stores the result. Errors are never cached.
func (c *Cached) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := strconv.FormatUint(xxhash.Sum64String(text), 16)

	if vec, ok := c.cache.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	c.cache.Add(key, res.Embedding)
	return res, nil
}
