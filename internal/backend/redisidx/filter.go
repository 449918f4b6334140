package redisidx

import (
	"context"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/db"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Compile-time check: FilterRetriever implements backend.Retriever.
var _ backend.Retriever = (*FilterRetriever)(nil)

// FilterRetriever serves the filter signal: structured predicate matching
// with no graded relevance. Every match scores 1.0; order comes from the
// configured tiebreak field.
type FilterRetriever struct {
	searcher db.Searcher
	cfg      Config
}

// NewFilterRetriever creates the filter adapter.
func NewFilterRetriever(searcher db.Searcher, cfg Config) (*FilterRetriever, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &FilterRetriever{searcher: searcher, cfg: cfg}, nil
}

// Signal returns the filter signal label.
func (r *FilterRetriever) Signal() domain.Signal { return domain.SignalFilter }

// Search returns the items matching the predicate expression. An empty
// expression matches everything up to limit.
func (r *FilterRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	res, err := r.searcher.SearchPredicate(ctx, &db.PredicateQuery{
		IndexName:     r.cfg.IndexName,
		Filters:       c.Filters,
		TiebreakField: r.cfg.TiebreakField,
		Limit:         limit,
	})
	if err != nil {
		return nil, domain.NewSignalError(domain.SignalFilter, err)
	}

	hits := make([]hit.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		h, herr := hit.New(r.cfg.itemID(e.Key), 1.0, domain.SignalFilter, len(hits)+1)
		if herr != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}
