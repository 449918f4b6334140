package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/filter"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
	"github.com/fuseline/fuseline/internal/domain/search/request"
	"github.com/fuseline/fuseline/internal/domain/search/result"
	fuseuc "github.com/fuseline/fuseline/internal/usecase/fuse"
)

// --- Fakes ---

type fakeRetriever struct {
	sig   domain.Signal
	hits  []hit.Hit
	err   error
	calls atomic.Int32
}

func (f *fakeRetriever) Signal() domain.Signal { return f.sig }

func (f *fakeRetriever) Search(_ context.Context, _ backend.Criteria, _ int) ([]hit.Hit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type blockingRetriever struct {
	sig domain.Signal
}

func (b *blockingRetriever) Signal() domain.Signal { return b.sig }

func (b *blockingRetriever) Search(ctx context.Context, _ backend.Criteria, _ int) ([]hit.Hit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeEmbedder struct {
	err        error
	contextual bool
}

func (f *fakeEmbedder) EmbedQuery(
	_ context.Context, _ string, conv request.Conversation,
) (domain.EmbeddingResult, bool, error) {
	if f.err != nil {
		return domain.EmbeddingResult{}, false, f.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, f.contextual || !conv.IsEmpty(), nil
}

type fakeExpander struct {
	variants []string
}

func (f *fakeExpander) Expand(_ context.Context, query string) []string {
	if len(f.variants) == 0 {
		return []string{query}
	}
	return f.variants
}

type passReranker struct {
	calls atomic.Int32
}

func (p *passReranker) Rerank(_ context.Context, _ string, fused []result.Fused) []result.Fused {
	p.calls.Add(1)
	return fused
}

type fakeCache struct {
	entries map[string]*result.Response
	puts    int
}

func (f *fakeCache) Get(_ context.Context, key string) (*result.Response, result.Provenance, bool) {
	if r, ok := f.entries[key]; ok {
		return r, result.ProvenanceL1, true
	}
	return nil, result.ProvenanceComputed, false
}

func (f *fakeCache) Put(_ context.Context, key string, resp *result.Response) {
	f.puts++
	f.entries[key] = resp
}

// --- Helpers ---

func signalHits(sig domain.Signal, ids ...string) []hit.Hit {
	hits := make([]hit.Hit, len(ids))
	for i, id := range ids {
		hits[i] = hit.Hit{ItemID: id, Score: 1.0 - float64(i)*0.1, Signal: sig, Rank: i + 1}
	}
	return hits
}

func newRequest(t *testing.T, query string, turns []string) *request.Request {
	t.Helper()
	req, err := request.New(query, filter.Expression{}, request.NewConversation(turns), 0, 0, nil)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return &req
}

func newService(
	t *testing.T, retrievers []backend.Retriever, emb Embedder, exp Expander,
	rr Reranker, c Cache, cfg Config,
) *Service {
	t.Helper()
	registry, err := backend.NewRegistry(retrievers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(registry, emb, exp, fuseuc.New(60, nil), rr, c, cfg)
}

func threeSignals() (*fakeRetriever, *fakeRetriever, *fakeRetriever) {
	vec := &fakeRetriever{sig: domain.SignalVector, hits: signalHits(domain.SignalVector, "a", "b")}
	lex := &fakeRetriever{sig: domain.SignalLexical, hits: signalHits(domain.SignalLexical, "b", "c")}
	fil := &fakeRetriever{sig: domain.SignalFilter, hits: signalHits(domain.SignalFilter, "a", "c")}
	return vec, lex, fil
}

// --- Tests ---

func TestSearch_HappyPath(t *testing.T) {
	vec, lex, fil := threeSignals()
	c := &fakeCache{entries: map[string]*result.Response{}}
	rr := &passReranker{}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, rr, c, Config{})

	resp, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.IsDegraded() {
		t.Errorf("unexpected degradation: %+v", resp.Degraded)
	}
	if resp.Provenance != result.ProvenanceComputed {
		t.Errorf("provenance: got %q, want %q", resp.Provenance, result.ProvenanceComputed)
	}
	if rr.calls.Load() != 1 {
		t.Errorf("expected 1 rerank call, got %d", rr.calls.Load())
	}
	if c.puts != 1 {
		t.Errorf("expected healthy response to be cached, puts=%d", c.puts)
	}
	if resp.TotalCandidates != 3 {
		t.Errorf("total candidates: got %d, want 3", resp.TotalCandidates)
	}
}

func TestSearch_DegradedVectorSignal(t *testing.T) {
	vec := &fakeRetriever{sig: domain.SignalVector, err: errors.New("index down")}
	lex := &fakeRetriever{sig: domain.SignalLexical, hits: signalHits(domain.SignalLexical, "b", "c")}
	fil := &fakeRetriever{sig: domain.SignalFilter, hits: signalHits(domain.SignalFilter, "a")}
	c := &fakeCache{entries: map[string]*result.Response{}}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, c, Config{})

	resp, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Degraded) != 1 || resp.Degraded[0] != domain.SignalVector {
		t.Errorf("degraded: got %v, want [vector]", resp.Degraded)
	}
	if len(resp.Results) != 3 {
		t.Errorf("expected 3 results from surviving signals, got %d", len(resp.Results))
	}
	if c.puts != 0 {
		t.Error("degraded response must not be cached")
	}
}

func TestSearch_EmbeddingFailureDegradesVectorOnly(t *testing.T) {
	vec, lex, fil := threeSignals()
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{err: errors.New("provider down")}, &fakeExpander{}, &passReranker{}, nil, Config{})

	resp, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Degraded) != 1 || resp.Degraded[0] != domain.SignalVector {
		t.Errorf("degraded: got %v, want [vector]", resp.Degraded)
	}
	if vec.calls.Load() != 0 {
		t.Error("vector retriever must not be called when embedding fails")
	}
}

func TestSearch_AllSignalsFail(t *testing.T) {
	down := errors.New("down")
	vec := &fakeRetriever{sig: domain.SignalVector, err: down}
	lex := &fakeRetriever{sig: domain.SignalLexical, err: down}
	fil := &fakeRetriever{sig: domain.SignalFilter, err: down}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, nil, Config{})

	_, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestSearch_HardBudgetExhaustedReturnsDeadline(t *testing.T) {
	vec := &blockingRetriever{sig: domain.SignalVector}
	lex := &blockingRetriever{sig: domain.SignalLexical}
	fil := &blockingRetriever{sig: domain.SignalFilter}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, nil,
		Config{HardBudget: 30 * time.Millisecond, SignalTimeout: time.Second})

	_, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if !errors.Is(err, domain.ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}
	if errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Error("a hard-budget wipe-out must not be reported as retrieval unavailable")
	}
}

func TestSearch_CacheHitSkipsPipeline(t *testing.T) {
	vec, lex, fil := threeSignals()
	req := newRequest(t, "test query", nil)

	cached := &result.Response{
		Results:    []result.Fused{{ItemID: "cached", Score: 0.5, Rank: 1}},
		Provenance: result.ProvenanceComputed,
	}
	c := &fakeCache{entries: map[string]*result.Response{req.Fingerprint(): cached}}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, c, Config{})

	resp, err := svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.Provenance != result.ProvenanceL1 {
		t.Errorf("provenance: got %q, want %q", resp.Provenance, result.ProvenanceL1)
	}
	if resp.Results[0].ItemID != "cached" {
		t.Errorf("expected cached result, got %s", resp.Results[0].ItemID)
	}
	if vec.calls.Load()+lex.calls.Load()+fil.calls.Load() != 0 {
		t.Error("retrievers must not run on a cache hit")
	}
	// The shared cached response must not be mutated.
	if cached.Provenance != result.ProvenanceComputed {
		t.Error("cache hit mutated the stored response")
	}
}

func TestSearch_VariantsFanOutPerSignal(t *testing.T) {
	vec, lex, fil := threeSignals()
	exp := &fakeExpander{variants: []string{"test query", "alternate phrasing"}}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, exp, &passReranker{}, nil, Config{})

	if _, err := svc.Search(context.Background(), newRequest(t, "test query", nil)); err != nil {
		t.Fatalf("Search: %v", err)
	}

	for name, r := range map[string]*fakeRetriever{"vector": vec, "lexical": lex, "filter": fil} {
		if r.calls.Load() != 2 {
			t.Errorf("%s: expected 2 calls (one per variant), got %d", name, r.calls.Load())
		}
	}
}

func TestSearch_ContextualFlag(t *testing.T) {
	vec, lex, fil := threeSignals()
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, nil, Config{})

	resp, err := svc.Search(context.Background(),
		newRequest(t, "what about the second one", []string{"tell me about databases"}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Contextual {
		t.Error("expected contextual=true when conversation turns are present")
	}

	resp, err = svc.Search(context.Background(), newRequest(t, "plain query", nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Contextual {
		t.Error("expected contextual=false without conversation")
	}
}

func TestSearch_SoftBudgetSkipsRerank(t *testing.T) {
	vec, lex, fil := threeSignals()
	rr := &passReranker{}
	c := &fakeCache{entries: map[string]*result.Response{}}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, rr, c,
		Config{SoftBudget: time.Nanosecond, HardBudget: 2 * time.Second})

	resp, err := svc.Search(context.Background(), newRequest(t, "test query", nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !resp.Truncated {
		t.Error("expected truncated response past the soft budget")
	}
	if rr.calls.Load() != 0 {
		t.Error("rerank must be skipped past the soft budget")
	}
	if c.puts != 0 {
		t.Error("truncated response must not be cached")
	}
}

func TestSearch_LimitTruncation(t *testing.T) {
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = "item-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	vec := &fakeRetriever{sig: domain.SignalVector, hits: signalHits(domain.SignalVector, ids...)}
	lex := &fakeRetriever{sig: domain.SignalLexical, hits: signalHits(domain.SignalLexical, ids...)}
	fil := &fakeRetriever{sig: domain.SignalFilter, hits: signalHits(domain.SignalFilter, ids...)}
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, nil, Config{})

	req, err := request.New("test query", filter.Expression{}, request.Conversation{}, 5, 20, nil)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}

	resp, err := svc.Search(context.Background(), &req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 5 {
		t.Errorf("expected 5 results after limit, got %d", len(resp.Results))
	}
	if resp.TotalCandidates != 30 {
		t.Errorf("total candidates: got %d, want 30 (pre-truncation)", resp.TotalCandidates)
	}
}

func TestSearch_ZeroWeightSignalNotQueried(t *testing.T) {
	vec, lex, fil := threeSignals()
	svc := newService(t, []backend.Retriever{vec, lex, fil},
		&fakeEmbedder{}, &fakeExpander{}, &passReranker{}, nil, Config{})

	req, err := request.New("test query", filter.Expression{}, request.Conversation{}, 0, 0,
		domain.Weights{domain.SignalFilter: 0})
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}

	if _, err := svc.Search(context.Background(), &req); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fil.calls.Load() != 0 {
		t.Error("zero-weight signal must not be queried")
	}
}
