// Package search orchestrates the retrieval pipeline: cache lookup, query
// expansion, parallel per-signal retrieval, rank fusion, re-ranking, and the
// deadline budget that bounds the whole request.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
	"github.com/fuseline/fuseline/internal/domain/search/request"
	"github.com/fuseline/fuseline/internal/domain/search/result"
	"github.com/fuseline/fuseline/internal/logger"
	"github.com/fuseline/fuseline/internal/metrics"
)

// Default deadline budgets. The soft budget decides whether re-ranking still
// runs; the hard budget caps the whole request.
const (
	DefaultSoftBudget     = 800 * time.Millisecond
	DefaultHardBudget     = 2 * time.Second
	DefaultSignalTimeout  = 500 * time.Millisecond
	DefaultMaxConcurrency = 8
)

// Config holds orchestration settings.
type Config struct {
	SoftBudget     time.Duration
	HardBudget     time.Duration
	SignalTimeout  time.Duration
	MaxConcurrency int
}

// ApplyDefaults fills zero fields with the default budgets.
func (c *Config) ApplyDefaults() {
	if c.SoftBudget <= 0 {
		c.SoftBudget = DefaultSoftBudget
	}
	if c.HardBudget <= 0 {
		c.HardBudget = DefaultHardBudget
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
}

// Service runs search requests through the pipeline.
type Service struct {
	registry *backend.Registry
	embedder Embedder
	expander Expander
	fuser    Fuser
	reranker Reranker
	cache    Cache
	cfg      Config
}

// New creates the orchestrator. cache may be nil to disable caching.
func New(
	registry *backend.Registry, embedder Embedder, expander Expander,
	fuser Fuser, reranker Reranker, cache Cache, cfg Config,
) *Service {
	cfg.ApplyDefaults()
	return &Service{
		registry: registry,
		embedder: embedder,
		expander: expander,
		fuser:    fuser,
		reranker: reranker,
		cache:    cache,
		cfg:      cfg,
	}
}

// signalOutcome accumulates one signal's results across query variants.
type signalOutcome struct {
	lists      [][]hit.Hit
	successes  int
	failures   int
	contextual bool
	embedTime  time.Duration
}

// Search executes one request end to end. An empty result set is a valid
// response; ErrRetrievalUnavailable is returned only when every signal
// failed and there is nothing to rank.
func (s *Service) Search(ctx context.Context, req *request.Request) (*result.Response, error) {
	requestID := uuid.NewString()
	log := logger.FromContext(ctx).With(zap.String("request_id", requestID))

	key := req.Fingerprint()
	if s.cache != nil {
		if cached, prov, ok := s.cache.Get(ctx, key); ok {
			log.Debug("Cache hit", zap.String("tier", string(prov)))
			return cached.WithProvenance(prov), nil
		}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HardBudget)
	defer cancel()

	var breakdown result.Breakdown

	// Expansion. Fail-open: worst case we proceed with the original query.
	expandStart := time.Now()
	variants := s.expander.Expand(ctx, req.Query())
	breakdown.Expand = time.Since(expandStart)
	metrics.StageDuration.WithLabelValues("expand").Observe(breakdown.Expand.Seconds())

	// Fan-out: one task per (variant, signal). Tasks record their outcome
	// instead of returning errors so one sick signal cannot cancel the rest.
	retrieveStart := time.Now()
	outcomes := s.retrieve(ctx, log, req, variants)
	breakdown.Retrieve = time.Since(retrieveStart)
	metrics.StageDuration.WithLabelValues("retrieve").Observe(breakdown.Retrieve.Seconds())

	lists := make(map[domain.Signal][]hit.Hit)
	var degraded []domain.Signal
	contextual := false
	anyUsable := false
	for _, sig := range s.registry.Signals() {
		o := outcomes[sig]
		if o == nil {
			continue
		}
		contextual = contextual || o.contextual
		if o.embedTime > breakdown.Embed {
			breakdown.Embed = o.embedTime
		}
		if o.successes == 0 {
			degraded = append(degraded, sig)
			metrics.SignalFailuresTotal.WithLabelValues(string(sig)).Inc()
			continue
		}
		anyUsable = true
		lists[sig] = mergeVariants(o.lists)
	}

	if !anyUsable {
		// A hard-budget wipe-out is a timeout, not an infrastructure failure.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			metrics.DeadlineExceededTotal.Inc()
			log.Error("Hard budget exhausted before any signal answered",
				zap.String("query", req.Query()),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil, fmt.Errorf("hard budget exhausted with no results: %w", domain.ErrDeadlineExceeded)
		}
		log.Error("All retrieval signals failed", zap.String("query", req.Query()))
		return nil, fmt.Errorf("no retrieval signal available: %w", domain.ErrRetrievalUnavailable)
	}

	// Fusion.
	fuseStart := time.Now()
	fused := s.fuser.Fuse(lists, req.Weights())
	breakdown.Fuse = time.Since(fuseStart)
	metrics.StageDuration.WithLabelValues("fuse").Observe(breakdown.Fuse.Seconds())

	totalCandidates := len(fused)
	if len(fused) > req.TopK() {
		fused = fused[:req.TopK()]
	}

	// Re-ranking runs only while the soft budget holds; past it, fusion
	// order ships as-is with the truncation flag set.
	truncated := false
	if time.Since(start) < s.cfg.SoftBudget && ctx.Err() == nil {
		rerankStart := time.Now()
		fused = s.reranker.Rerank(ctx, req.Query(), fused)
		breakdown.Rerank = time.Since(rerankStart)
		metrics.StageDuration.WithLabelValues("rerank").Observe(breakdown.Rerank.Seconds())
	} else {
		truncated = true
		metrics.DeadlineExceededTotal.Inc()
		log.Warn("Deadline budget exhausted, skipping re-rank",
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	if len(fused) > req.Limit() {
		fused = fused[:req.Limit()]
	}

	breakdown.Total = time.Since(start)

	resp := &result.Response{
		Results:         fused,
		TotalCandidates: totalCandidates,
		Degraded:        degraded,
		Contextual:      contextual,
		Truncated:       truncated,
		Provenance:      result.ProvenanceComputed,
		Breakdown:       breakdown,
	}

	// Degraded responses are never cached: a missing signal would otherwise
	// pin partial results for the full TTL.
	if s.cache != nil && !resp.IsDegraded() {
		s.cache.Put(ctx, key, resp)
	}

	log.Info("Search completed",
		zap.Int("results", len(resp.Results)),
		zap.Int("candidates", totalCandidates),
		zap.Int("variants", len(variants)),
		zap.Bool("degraded", resp.IsDegraded()),
		zap.Duration("total", breakdown.Total),
	)
	return resp, nil
}

// retrieve fans out one bounded task per (variant, signal) and waits for
// all of them.
func (s *Service) retrieve(
	ctx context.Context, log *zap.Logger, req *request.Request, variants []string,
) map[domain.Signal]*signalOutcome {
	outcomes := make(map[domain.Signal]*signalOutcome)
	for _, sig := range s.registry.Signals() {
		if req.Weights()[sig] == 0 {
			continue
		}
		outcomes[sig] = &signalOutcome{}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)

	for sig, outcome := range outcomes {
		retriever, err := s.registry.Get(sig)
		if err != nil {
			continue
		}
		for i, variant := range variants {
			g.Go(func() error {
				hits, contextual, embedTime, err := s.searchOne(gctx, req, retriever, variant, i == 0)

				mu.Lock()
				defer mu.Unlock()
				outcome.contextual = outcome.contextual || contextual
				if embedTime > outcome.embedTime {
					outcome.embedTime = embedTime
				}
				if err != nil {
					outcome.failures++
					log.Warn("Signal retrieval failed",
						zap.String("signal", string(sig)),
						zap.Int("variant", i),
						zap.Error(err),
					)
					return nil
				}
				outcome.successes++
				outcome.lists = append(outcome.lists, hits)
				return nil
			})
		}
	}

	_ = g.Wait()
	return outcomes
}

// searchOne runs a single (variant, signal) retrieval under the per-signal
// timeout. The vector signal embeds its variant first; embedding failure
// degrades that task alone.
func (s *Service) searchOne(
	ctx context.Context, req *request.Request, retriever backend.Retriever,
	variant string, isOriginal bool,
) (hits []hit.Hit, contextual bool, embedTime time.Duration, err error) {
	sig := retriever.Signal()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()

	criteria := backend.Criteria{Query: variant, Filters: req.Filters()}
	if sig == domain.SignalVector {
		embStart := time.Now()
		emb, ctxUsed, embErr := s.embedder.EmbedQuery(ctx, variant, req.Conversation())
		embedTime = time.Since(embStart)
		if isOriginal {
			metrics.StageDuration.WithLabelValues("embed").Observe(embedTime.Seconds())
		}
		if embErr != nil {
			return nil, false, embedTime, fmt.Errorf("embed query: %w", embErr)
		}
		criteria.Vector = emb.Embedding
		contextual = ctxUsed
	}

	start := time.Now()
	hits, err = retriever.Search(ctx, criteria, req.TopK())
	metrics.SignalRequestDuration.WithLabelValues(string(sig)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, contextual, embedTime, err
	}
	return hits, contextual, embedTime, nil
}
