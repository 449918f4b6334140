// Package rerank reorders fused candidates before the final cut. The stage
// is set-preserving: it may permute candidates but never adds or removes
// them, and any scorer failure falls back to fusion order.
package rerank

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/result"
	"github.com/fuseline/fuseline/internal/metrics"
)

// Heuristic blend weights. The fused score dominates; term overlap and
// multi-signal agreement nudge the order.
const (
	fusedWeight    = 0.6
	overlapWeight  = 0.3
	coverageWeight = 0.1
)

// Scorer grades candidate relevance externally. May be nil.
type Scorer interface {
	Score(ctx context.Context, query string, itemIDs []string) (map[string]float64, error)
}

// Config holds re-ranking settings.
type Config struct {
	Enabled bool
	Timeout time.Duration
}

// Service reorders fused candidates.
type Service struct {
	scorer  Scorer
	cfg     Config
	breaker *gobreaker.CircuitBreaker[map[string]float64]
	logger  *zap.Logger
}

// New creates a re-ranking service. scorer may be nil; the heuristic alone
// is used then.
func New(scorer Scorer, cfg Config, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[map[string]float64](gobreaker.Settings{
		Name:        "rerank-scorer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Service{scorer: scorer, cfg: cfg, breaker: breaker, logger: logger}
}

// Rerank returns a permutation of fused with ranks reassigned. When the
// stage is disabled the input is returned untouched. External scorer
// failures degrade to the heuristic alone; they never drop candidates.
func (s *Service) Rerank(ctx context.Context, query string, fused []result.Fused) []result.Fused {
	if !s.cfg.Enabled || len(fused) < 2 {
		return fused
	}

	scores := s.heuristicScores(query, fused)

	if s.scorer != nil {
		s.blendExternal(ctx, query, fused, scores)
	}

	out := make([]result.Fused, len(fused))
	copy(out, fused)
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ItemID] > scores[out[j].ItemID]
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// heuristicScores computes the local blend: normalized fused score, token
// overlap between query and item ID, and how many signals agreed on the item.
func (s *Service) heuristicScores(query string, fused []result.Fused) map[string]float64 {
	maxScore := fused[0].Score
	for _, f := range fused {
		if f.Score > maxScore {
			maxScore = f.Score
		}
	}

	queryTerms := tokenize(query)
	numSignals := float64(len(domain.Signals()))

	scores := make(map[string]float64, len(fused))
	for _, f := range fused {
		normalized := 0.0
		if maxScore > 0 {
			normalized = f.Score / maxScore
		}

		seen := make(map[domain.Signal]struct{}, len(f.Hits))
		for _, h := range f.Hits {
			seen[h.Signal] = struct{}{}
		}
		coverage := float64(len(seen)) / numSignals

		scores[f.ItemID] = fusedWeight*normalized +
			overlapWeight*overlap(queryTerms, tokenize(f.ItemID)) +
			coverageWeight*coverage
	}
	return scores
}

// blendExternal averages the external score into the heuristic for items the
// scorer graded. Errors and an open breaker leave the heuristic untouched.
func (s *Service) blendExternal(ctx context.Context, query string, fused []result.Fused, scores map[string]float64) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ItemID
	}

	external, err := s.breaker.Execute(func() (map[string]float64, error) {
		return s.scorer.Score(ctx, query, ids)
	})
	if err != nil {
		metrics.FallbacksTotal.WithLabelValues("rerank").Inc()
		s.logger.Warn("External rerank scoring failed, keeping heuristic order",
			zap.Int("candidates", len(fused)),
			zap.Error(err),
		)
		return
	}

	for id, ext := range external {
		if base, ok := scores[id]; ok {
			scores[id] = (base + ext) / 2
		}
	}
}

func tokenize(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		terms[f] = struct{}{}
	}
	return terms
}

func overlap(query, item map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var shared int
	for t := range query {
		if _, ok := item[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
