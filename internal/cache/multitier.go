package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain/search/result"
	"github.com/fuseline/fuseline/internal/metrics"
)

// MultiTier chains cache tiers from fastest to slowest. Lookups walk the
// chain and promote hits back into the faster tiers; tier errors count as
// misses so a sick tier can never fail a request.
type MultiTier struct {
	tiers  []Tier
	logger *zap.Logger
}

// NewMultiTier creates the chained cache. Tiers are consulted in the given
// order.
func NewMultiTier(logger *zap.Logger, tiers ...Tier) *MultiTier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiTier{tiers: tiers, logger: logger}
}

// Get returns the cached response for the fingerprint key, with the
// provenance of the tier that served it. A hit found in a slower tier is
// promoted into every faster tier on the way back.
func (m *MultiTier) Get(ctx context.Context, key string) (*result.Response, result.Provenance, bool) {
	for i, tier := range m.tiers {
		e, found, err := tier.Get(ctx, key)
		if err != nil {
			metrics.CacheRequestsTotal.WithLabelValues(tier.Name(), "error").Inc()
			m.logger.Warn("Cache tier error, treating as miss",
				zap.String("tier", tier.Name()),
				zap.Error(err),
			)
			continue
		}
		if !found {
			metrics.CacheRequestsTotal.WithLabelValues(tier.Name(), "miss").Inc()
			continue
		}

		metrics.CacheRequestsTotal.WithLabelValues(tier.Name(), "hit").Inc()
		m.promote(ctx, e, i)
		return e.Response, Provenance(tier.Name()), true
	}
	return nil, result.ProvenanceComputed, false
}

// Put writes the response to every tier. A tier write failure is logged and
// skipped; the remaining tiers still receive the entry.
func (m *MultiTier) Put(ctx context.Context, key string, resp *result.Response) {
	e := &Entry{Key: key, Response: resp, CreatedAt: time.Now()}
	for _, tier := range m.tiers {
		if err := tier.Put(ctx, e); err != nil {
			m.logger.Warn("Cache tier write failed",
				zap.String("tier", tier.Name()),
				zap.Error(err),
			)
		}
	}
}

// Invalidate evicts entries referencing the given items from every tier
// that supports eager invalidation.
func (m *MultiTier) Invalidate(ctx context.Context, itemIDs []string) {
	if len(itemIDs) == 0 {
		return
	}
	for _, tier := range m.tiers {
		if err := tier.Invalidate(ctx, itemIDs); err != nil {
			m.logger.Warn("Cache tier invalidation failed",
				zap.String("tier", tier.Name()),
				zap.Error(err),
			)
			continue
		}
		metrics.CacheInvalidationsTotal.WithLabelValues(tier.Name()).Inc()
	}
}

// promote copies a hit into the tiers faster than the one that served it.
func (m *MultiTier) promote(ctx context.Context, e *Entry, foundAt int) {
	for i := foundAt - 1; i >= 0; i-- {
		if err := m.tiers[i].Put(ctx, e); err != nil {
			m.logger.Warn("Cache promotion failed",
				zap.String("tier", m.tiers[i].Name()),
				zap.Error(err),
			)
		}
	}
}
