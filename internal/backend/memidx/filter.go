package memidx

import (
	"context"
	"sort"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Compile-time check: FilterRetriever implements backend.Retriever.
var _ backend.Retriever = (*FilterRetriever)(nil)

// FilterRetriever serves the filter signal by linearly scanning the item
// table. Matches carry no graded relevance: every hit scores 1.0 and order
// comes from the configured numeric tiebreak field, descending, then ID.
type FilterRetriever struct {
	store         *Store
	tiebreakField string
}

// NewFilterRetriever creates the filter adapter. tiebreakField may be empty,
// in which case matches are ordered by item ID alone.
func NewFilterRetriever(store *Store, tiebreakField string) *FilterRetriever {
	return &FilterRetriever{store: store, tiebreakField: tiebreakField}
}

// Signal returns the filter signal label.
func (r *FilterRetriever) Signal() domain.Signal { return domain.SignalFilter }

// Search returns up to limit items matching the predicate expression. An
// empty expression matches everything.
func (r *FilterRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	r.store.mu.RLock()

	type match struct {
		id       string
		tiebreak float64
	}
	matches := make([]match, 0, len(r.store.items))
	for id, it := range r.store.items {
		if !c.Filters.Matches(it.Tags, it.Numerics) {
			continue
		}
		matches = append(matches, match{id: id, tiebreak: it.Numerics[r.tiebreakField]})
	}
	r.store.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].tiebreak != matches[j].tiebreak {
			return matches[i].tiebreak > matches[j].tiebreak
		}
		return matches[i].id < matches[j].id
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	hits := make([]hit.Hit, 0, len(matches))
	for _, m := range matches {
		h, err := hit.New(m.id, 1.0, domain.SignalFilter, len(hits)+1)
		if err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}
