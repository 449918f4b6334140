package redisidx

import (
	"context"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/db"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Compile-time check: LexicalRetriever implements backend.Retriever.
var _ backend.Retriever = (*LexicalRetriever)(nil)

// LexicalRetriever serves the lexical signal via FT.SEARCH BM25 scoring.
type LexicalRetriever struct {
	searcher db.Searcher
	cfg      Config
}

// NewLexicalRetriever creates the lexical adapter.
func NewLexicalRetriever(searcher db.Searcher, cfg Config) (*LexicalRetriever, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &LexicalRetriever{searcher: searcher, cfg: cfg}, nil
}

// Signal returns the lexical signal label.
func (r *LexicalRetriever) Signal() domain.Signal { return domain.SignalLexical }

// Search runs full-text relevance matching. Quoted phrases and trailing-'*'
// prefix terms in the query pass through to the index.
func (r *LexicalRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	res, err := r.searcher.SearchText(ctx, &db.TextQuery{
		IndexName: r.cfg.IndexName,
		Query:     c.Query,
		Filters:   c.Filters,
		TopK:      limit,
	})
	if err != nil {
		return nil, domain.NewSignalError(domain.SignalLexical, err)
	}
	return toHits(r.cfg, domain.SignalLexical, res.Entries), nil
}
