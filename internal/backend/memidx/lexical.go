package memidx

import (
	"context"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/fuseline/fuseline/internal/backend"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Compile-time check: LexicalRetriever implements backend.Retriever.
var _ backend.Retriever = (*LexicalRetriever)(nil)

// LexicalRetriever serves the lexical signal from the bleve index. Quoted
// phrases become exact phrase matches and trailing-'*' terms become prefix
// matches; everything else is plain term matching with BM25 scoring.
type LexicalRetriever struct {
	store *Store
}

// NewLexicalRetriever creates the lexical adapter.
func NewLexicalRetriever(store *Store) *LexicalRetriever {
	return &LexicalRetriever{store: store}
}

// Signal returns the lexical signal label.
func (r *LexicalRetriever) Signal() domain.Signal { return domain.SignalLexical }

// Search matches the query against item content, drops items failing the
// filter expression, and returns up to limit ranked hits.
func (r *LexicalRetriever) Search(ctx context.Context, c backend.Criteria, limit int) ([]hit.Hit, error) {
	q := buildQuery(c.Query)
	if q == nil {
		return nil, nil
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit * overFetchFactor

	res, err := r.store.text.SearchInContext(ctx, req)
	if err != nil {
		return nil, domain.NewSignalError(domain.SignalLexical, err)
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	hits := make([]hit.Hit, 0, limit)
	for _, m := range res.Hits {
		it, ok := r.store.item(m.ID)
		if !ok {
			continue
		}
		if !c.Filters.Matches(it.Tags, it.Numerics) {
			continue
		}
		h, herr := hit.New(m.ID, m.Score, domain.SignalLexical, len(hits)+1)
		if herr != nil {
			continue
		}
		hits = append(hits, h)
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// buildQuery parses quoted phrases and prefix terms out of the raw query and
// combines the pieces disjunctively. Returns nil for a blank query.
func buildQuery(raw string) query.Query {
	var parts []query.Query

	addTerms := func(s string) {
		for _, f := range strings.Fields(s) {
			if strings.HasSuffix(f, "*") && len(f) > 1 {
				pq := bleve.NewPrefixQuery(strings.ToLower(strings.TrimSuffix(f, "*")))
				pq.SetField("content")
				parts = append(parts, pq)
				continue
			}
			mq := bleve.NewMatchQuery(f)
			mq.SetField("content")
			parts = append(parts, mq)
		}
	}

	rest := raw
	for {
		open := strings.IndexByte(rest, '"')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open+1:], '"')
		if closing < 0 {
			break
		}
		addTerms(rest[:open])
		if phrase := strings.TrimSpace(rest[open+1 : open+1+closing]); phrase != "" {
			pq := bleve.NewMatchPhraseQuery(phrase)
			pq.SetField("content")
			parts = append(parts, pq)
		}
		rest = rest[open+closing+2:]
	}
	addTerms(rest)

	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	default:
		return bleve.NewDisjunctionQuery(parts...)
	}
}
