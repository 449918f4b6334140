package redisidx

import (
	"context"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/db"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Compile-time check: VectorRetriever implements backend.Retriever.
var _ backend.Retriever = (*VectorRetriever)(nil)

// VectorRetriever serves the vector signal via FT.SEARCH KNN.
type VectorRetriever struct {
	searcher db.Searcher
	cfg      Config
}

// NewVectorRetriever creates the vector adapter.
func NewVectorRetriever(searcher db.Searcher, cfg Config) (*VectorRetriever, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &VectorRetriever{searcher: searcher, cfg: cfg}, nil
}

// Signal returns the vector signal label.
func (r *VectorRetriever) Signal() domain.Signal { return domain.SignalVector }

// Search runs KNN over the query embedding. Scores are cosine similarity in
// [0,1]; ranks come from the index ordering after native pre-filtering.
func (r *VectorRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	res, err := r.searcher.SearchKNN(ctx, &db.KNNQuery{
		IndexName: r.cfg.IndexName,
		Filters:   c.Filters,
		Vector:    c.Vector,
		K:         limit,
	})
	if err != nil {
		return nil, domain.NewSignalError(domain.SignalVector, err)
	}
	return toHits(r.cfg, domain.SignalVector, res.Entries), nil
}
