// Package cache implements the multi-tier response cache: an in-process LRU
// (L1), a shared Redis keyspace with eager invalidation (L2), and a second
// Redis keyspace with a long TTL and lazy expiry only (L3). Entries are
// whole responses keyed by request fingerprint and are always replaced or
// evicted, never patched in place.
package cache

import (
	"context"
	"time"

	"github.com/fuseline/fuseline/internal/domain/search/result"
)

// Entry is one cached response with its write metadata.
type Entry struct {
	Key       string           `json:"key"`
	Response  *result.Response `json:"response"`
	CreatedAt time.Time        `json:"created_at"`
}

// Expired reports whether the entry outlived ttl at the given instant.
func (e *Entry) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Tier is one cache level. Get reports (entry, found, error); a tier error
// is treated as a miss by the multi-tier lookup, never as a request failure.
type Tier interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, e *Entry) error
	// Invalidate evicts every entry referencing any of the given item IDs.
	// Tiers without a reverse index may no-op and rely on TTL expiry.
	Invalidate(ctx context.Context, itemIDs []string) error
	Name() string
}

// Provenance maps a tier name to the response provenance label.
func Provenance(tier string) result.Provenance {
	switch tier {
	case "l1":
		return result.ProvenanceL1
	case "l2":
		return result.ProvenanceL2
	case "l3":
		return result.ProvenanceL3
	default:
		return result.ProvenanceComputed
	}
}
