// Package fuse merges per-signal ranked lists into a single candidate list
// via weighted Reciprocal Rank Fusion.
package fuse

import (
	"sort"

	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
	"github.com/fuseline/fuseline/internal/domain/search/result"
	"github.com/fuseline/fuseline/internal/metrics"
)

// DefaultK is the RRF smoothing constant (standard value from Cormack et al. 2009).
const DefaultK = 60

// Service performs weighted Reciprocal Rank Fusion.
type Service struct {
	k      int
	logger *zap.Logger
}

// New creates a fusion service. k <= 0 falls back to DefaultK.
func New(k int, logger *zap.Logger) *Service {
	if k <= 0 {
		k = DefaultK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{k: k, logger: logger}
}

// Fuse merges the per-signal hit lists into one descending-ranked list.
// score(item) = sum over signals of weight[signal] / (k + rank(item)).
// A zero weight suppresses the signal's contribution entirely. Malformed
// hits are dropped with a counted warning, never aborting the merge.
// Ties break by raw vector similarity, then by item ID, so equal-scored
// inputs always fuse into the same order.
func (s *Service) Fuse(lists map[domain.Signal][]hit.Hit, weights domain.Weights) []result.Fused {
	merged := make(map[string]*result.Fused)

	for _, sig := range domain.Signals() {
		w := weights[sig]
		if w == 0 {
			continue
		}
		for _, h := range lists[sig] {
			if !h.Valid() {
				metrics.MalformedHitsTotal.WithLabelValues(string(sig)).Inc()
				s.logger.Warn("Dropping malformed hit",
					zap.String("signal", string(sig)),
					zap.String("item_id", h.ItemID),
					zap.Int("rank", h.Rank),
				)
				continue
			}

			contribution := w / float64(s.k+h.Rank)
			if existing, ok := merged[h.ItemID]; ok {
				existing.Score += contribution
				existing.Hits = append(existing.Hits, h)
			} else {
				merged[h.ItemID] = &result.Fused{
					ItemID: h.ItemID,
					Score:  contribution,
					Hits:   []hit.Hit{h},
				}
			}
		}
	}

	fused := make([]result.Fused, 0, len(merged))
	for _, f := range merged {
		fused = append(fused, *f)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if vi, vj := fused[i].VectorScore(), fused[j].VectorScore(); vi != vj {
			return vi > vj
		}
		return fused[i].ItemID < fused[j].ItemID
	})

	for i := range fused {
		fused[i].Rank = i + 1
	}

	return fused
}
