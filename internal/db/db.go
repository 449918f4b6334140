// Package db defines the storage interfaces consumed by the retrieval
// backends and the cache tiers. The engine never owns item data; it only
// queries indexes maintained by the upstream ingestion pipeline and keeps
// cache entries under its own key prefix.
package db

import (
	"context"
	"time"

	"github.com/fuseline/fuseline/internal/domain/search/filter"
)

// Store is the database facade combining all sub-interfaces.
// Consumers depend on the narrow sub-interfaces (ISP).
type Store interface {
	Pinger
	KVStore
	SetStore
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations, used by the cache tiers.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SetStore provides set operations, used by the cache reverse index
// (item ID -> cache keys referencing it).
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Searcher provides the three retrieval facets over FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchText(ctx context.Context, q *TextQuery) (*SearchResult, error)
	SearchPredicate(ctx context.Context, q *PredicateQuery) (*SearchResult, error)
}

// KNNQuery is the input for vector similarity search. Filters are pushed
// down as a native pre-filter, so hits come back already eligible.
type KNNQuery struct {
	IndexName string
	Filters   filter.Expression
	Vector    []float32
	K         int
}

// TextQuery is the input for full-text relevance search. The query string
// may contain quoted phrases and trailing-asterisk prefix terms.
type TextQuery struct {
	IndexName string
	Query     string
	Filters   filter.Expression
	TopK      int
}

// PredicateQuery is the input for structured predicate matching.
// TiebreakField optionally names a numeric field to order matches by,
// descending; matches are otherwise ordered by key.
type PredicateQuery struct {
	IndexName     string
	Filters       filter.Expression
	TiebreakField string
	Limit         int
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key   string
	Score float64
}
