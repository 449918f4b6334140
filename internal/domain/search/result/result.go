// Package result defines the output side of the retrieval pipeline: fused
// candidates and the ranked response returned to callers. These are plain
// transfer values — they are JSON-serialized into cache entries — and are
// treated as immutable once written (replace-or-evict, never patch).
package result

import (
	"time"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Provenance records which cache tier (if any) served a response.
type Provenance string

const (
	// ProvenanceComputed marks a freshly computed response.
	ProvenanceComputed Provenance = "computed"
	// ProvenanceL1 marks a response served from the in-process tier.
	ProvenanceL1 Provenance = "l1"
	// ProvenanceL2 marks a response served from the shared tier.
	ProvenanceL2 Provenance = "l2"
	// ProvenanceL3 marks a response served from the edge tier.
	ProvenanceL3 Provenance = "l3"
)

// Fused is one item after rank fusion: its RRF score, final rank, and the
// per-signal hits that contributed to it (kept for explainability).
type Fused struct {
	ItemID string    `json:"item_id"`
	Score  float64   `json:"score"`
	Rank   int       `json:"rank"`
	Hits   []hit.Hit `json:"hits,omitempty"`
}

// VectorScore returns the best raw vector similarity among contributing hits,
// or 0 if the item was not seen by the vector signal. Used as a fusion
// tie-break.
func (f *Fused) VectorScore() float64 {
	best := 0.0
	for _, h := range f.Hits {
		if h.Signal == domain.SignalVector && h.Score > best {
			best = h.Score
		}
	}
	return best
}

// Breakdown records per-stage wall-clock latency for one request.
type Breakdown struct {
	Expand   time.Duration `json:"expand_ns"`
	Embed    time.Duration `json:"embed_ns"`
	Retrieve time.Duration `json:"retrieve_ns"`
	Fuse     time.Duration `json:"fuse_ns"`
	Rerank   time.Duration `json:"rerank_ns"`
	Total    time.Duration `json:"total_ns"`
}

// Response is the ordered, post-rerank answer to one search request.
type Response struct {
	Results []Fused `json:"results"`
	// TotalCandidates is the fused candidate count before truncation to the
	// request limit.
	TotalCandidates int `json:"total_candidates"`
	// Degraded lists signals that failed or timed out for this request.
	Degraded []domain.Signal `json:"degraded,omitempty"`
	// Contextual reports whether the vector branch used conversational
	// context when embedding the query.
	Contextual bool `json:"contextual"`
	// Truncated reports that the deadline fired after fusion and the
	// response skipped re-ranking.
	Truncated bool `json:"truncated,omitempty"`

	Provenance Provenance `json:"provenance"`
	Breakdown  Breakdown  `json:"breakdown"`
}

// IsDegraded reports whether any signal was lost for this response.
func (r *Response) IsDegraded() bool { return len(r.Degraded) > 0 || r.Truncated }

// ItemIDs returns the result item IDs in rank order.
func (r *Response) ItemIDs() []string {
	ids := make([]string, len(r.Results))
	for i := range r.Results {
		ids[i] = r.Results[i].ItemID
	}
	return ids
}

// WithProvenance returns a shallow copy of the response with the given cache
// provenance. Cached responses are shared; the copy keeps them immutable.
func (r *Response) WithProvenance(p Provenance) *Response {
	cp := *r
	cp.Provenance = p
	return &cp
}
