package request

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultLimit   = 10
	MaxLimit       = 100
	DefaultTopK    = 50
	MaxTopK        = 500
	// MaxConversationTurns bounds how much conversational context is carried.
	MaxConversationTurns = 16
)

// Conversation holds recent conversational turns, oldest first. It is an
// opaque context handle for the engine: only the turn texts matter.
type Conversation struct {
	turns []string
}

// NewConversation validates and creates a Conversation. Empty turns are
// dropped; only the most recent MaxConversationTurns are kept.
func NewConversation(turns []string) Conversation {
	kept := make([]string, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t) != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) > MaxConversationTurns {
		kept = kept[len(kept)-MaxConversationTurns:]
	}
	return Conversation{turns: kept}
}

// Turns returns the turn texts, oldest first.
func (c Conversation) Turns() []string { return c.turns }

// IsEmpty reports whether the conversation carries no turns.
func (c Conversation) IsEmpty() bool { return len(c.turns) == 0 }

// Request is a validated, immutable search request.
type Request struct {
	query        string
	filters      filter.Expression
	conversation Conversation
	limit        int
	topK         int
	weights      domain.Weights
}

// New validates and normalizes search parameters.
// Defaults: limit=10, topK=50. Limit is clamped to topK. weightOverrides may
// be nil; negative overrides are rejected.
func New(
	query string,
	filters filter.Expression,
	conversation Conversation,
	limit, topK int,
	weightOverrides domain.Weights,
) (Request, error) {
	if strings.TrimSpace(query) == "" {
		return Request{}, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidRequest, MaxQueryLength)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if limit > topK {
		limit = topK
	}
	for sig, v := range weightOverrides {
		if !sig.IsValid() {
			return Request{}, fmt.Errorf("%w: unknown signal %q in weights", domain.ErrInvalidRequest, sig)
		}
		if v < 0 {
			return Request{}, fmt.Errorf("%w: weight for %s must be >= 0", domain.ErrInvalidRequest, sig)
		}
	}

	return Request{
		query:        query,
		filters:      filters,
		conversation: conversation,
		limit:        limit,
		topK:         topK,
		weights:      domain.DefaultWeights().Merge(weightOverrides),
	}, nil
}

// Query returns the raw query text.
func (r *Request) Query() string { return r.query }

// Filters returns the hard filter expression.
func (r *Request) Filters() filter.Expression { return r.filters }

// Conversation returns the conversational context.
func (r *Request) Conversation() Conversation { return r.conversation }

// Limit returns the maximum results to return.
func (r *Request) Limit() int { return r.limit }

// TopK returns the per-signal candidate depth.
func (r *Request) TopK() int { return r.topK }

// Weights returns the effective per-signal fusion weights.
func (r *Request) Weights() domain.Weights { return r.weights }

// Fingerprint returns a deterministic hash of the normalized request, used as
// the cache key. Two requests that differ only in whitespace or letter case
// of the query share a fingerprint; conversational context participates, so a
// context-aware request never collides with a context-free one.
func (r *Request) Fingerprint() string {
	h := xxhash.New()

	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.Write([]byte{0})
		}
	}

	write("q", normalizeQuery(r.query))
	write("f", r.filters.Canonical())
	write("l", fmt.Sprintf("%d/%d", r.limit, r.topK))

	sigs := make([]string, 0, len(r.weights))
	for sig, v := range r.weights {
		sigs = append(sigs, fmt.Sprintf("%s=%g", sig, v))
	}
	sort.Strings(sigs)
	write("w", strings.Join(sigs, ","))

	for _, turn := range r.conversation.Turns() {
		write("c", normalizeQuery(turn))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

// normalizeQuery lowercases and collapses internal whitespace.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
