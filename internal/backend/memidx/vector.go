package memidx

import (
	"context"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// overFetchFactor compensates for post-filtering: the graph has no native
// predicate push-down, so we fetch extra neighbors and filter afterwards.
const overFetchFactor = 4

// Compile-time check: VectorRetriever implements backend.Retriever.
var _ backend.Retriever = (*VectorRetriever)(nil)

// VectorRetriever serves the vector signal from the HNSW graph. Hard filters
// are applied after the neighbor search and ranks are assigned over the
// surviving items, so rank 1 is the best eligible item.
type VectorRetriever struct {
	store *Store
}

// NewVectorRetriever creates the vector adapter.
func NewVectorRetriever(store *Store) *VectorRetriever {
	return &VectorRetriever{store: store}
}

// Signal returns the vector signal label.
func (r *VectorRetriever) Signal() domain.Signal { return domain.SignalVector }

// Search finds the nearest neighbors of the query embedding, drops items
// failing the filter expression, and returns up to limit ranked hits.
func (r *VectorRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	if len(c.Vector) != r.store.dims {
		return nil, domain.NewSignalError(domain.SignalVector, domain.ErrVectorDimMismatch)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if r.store.graph.Len() == 0 {
		return nil, nil
	}

	query := make([]float32, len(c.Vector))
	copy(query, c.Vector)
	normalize(query)

	k := limit * overFetchFactor
	if n := r.store.graph.Len(); k > n {
		k = n
	}
	nodes := r.store.graph.Search(query, k)

	hits := make([]hit.Hit, 0, limit)
	for _, node := range nodes {
		id, live := r.store.keyMap[node.Key]
		if !live {
			continue // lazily deleted
		}
		it, ok := r.store.item(id)
		if !ok {
			continue
		}
		if !c.Filters.Matches(it.Tags, it.Numerics) {
			continue
		}

		// Cosine distance in [0,2] maps to similarity in [0,1].
		dist := r.store.graph.Distance(query, node.Value)
		h, err := hit.New(id, float64(1.0-dist/2.0), domain.SignalVector, len(hits)+1)
		if err != nil {
			continue
		}
		hits = append(hits, h)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}
