// Package hit defines the unit of output of a single retrieval signal.
package hit

import "github.com/fuseline/fuseline/internal/domain"

// Hit is one item returned by one retrieval signal. Hits are produced by
// adapters and never mutated afterwards. Rank is 1-indexed within the
// signal's own list and is assigned after hard filtering, so rank 1 means
// "best among eligible items".
type Hit struct {
	ItemID string        `json:"item_id"`
	Score  float64       `json:"score"`
	Signal domain.Signal `json:"signal"`
	Rank   int           `json:"rank"`
}

// New creates a Hit. An empty item ID makes the hit malformed; adapters
// should skip it, and fusion drops it with a counted warning.
func New(itemID string, score float64, sig domain.Signal, rank int) (Hit, error) {
	h := Hit{ItemID: itemID, Score: score, Signal: sig, Rank: rank}
	if !h.Valid() {
		return Hit{}, domain.ErrMalformedHit
	}
	return h, nil
}

// Valid reports whether the hit carries an item ID, a known signal, and a
// positive rank.
func (h Hit) Valid() bool {
	return h.ItemID != "" && h.Signal.IsValid() && h.Rank > 0
}
