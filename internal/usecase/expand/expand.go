// Package expand generates alternative query phrasings. Expansion is an
// optional stage: any provider failure falls back to the original query
// alone, and a circuit breaker keeps a flapping provider from adding
// latency to every request.
package expand

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/metrics"
)

// DefaultMaxVariants bounds the total number of query variants, the
// original included. Each variant multiplies retrieval fan-out, so the cap
// is deliberately small.
const DefaultMaxVariants = 3

// Provider produces alternative phrasings for a query.
type Provider interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// Config holds expansion settings.
type Config struct {
	Enabled     bool
	Timeout     time.Duration
	MaxVariants int
}

// Service wraps a Provider with fail-open semantics.
type Service struct {
	provider Provider
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[[]string]
	logger   *zap.Logger
}

// New creates an expansion service. provider may be nil, which disables
// expansion regardless of cfg.Enabled.
func New(provider Provider, cfg Config, logger *zap.Logger) *Service {
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = DefaultMaxVariants
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        "query-expansion",
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

	return &Service{provider: provider, cfg: cfg, breaker: breaker, logger: logger}
}

// Expand returns the query variant list. The original query is always the
// first element; deduplicated alternates follow up to the configured cap.
// Expansion never fails: provider errors, timeouts, and an open breaker all
// degrade to the original query alone.
func (s *Service) Expand(ctx context.Context, query string) []string {
	variants := []string{query}
	if !s.cfg.Enabled || s.provider == nil {
		return variants
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	alternates, err := s.breaker.Execute(func() ([]string, error) {
		return s.provider.Expand(ctx, query)
	})
	if err != nil {
		metrics.FallbacksTotal.WithLabelValues("expand").Inc()
		s.logger.Warn("Query expansion failed, using original query",
			zap.String("query", query),
			zap.Error(err),
		)
		return variants
	}

	seen := map[string]struct{}{normalize(query): {}}
	for _, alt := range alternates {
		if len(variants) == s.cfg.MaxVariants {
			break
		}
		key := normalize(alt)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, strings.TrimSpace(alt))
	}

	return variants
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
