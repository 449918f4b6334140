// Package redisidx implements the retrieval adapters over a Redis FT index.
// All three signals query the same index; hard filters are pushed down
// natively, so ranks reflect eligibility without post-filtering.
package redisidx

import (
	"fmt"
	"strings"

	"github.com/fuseline/fuseline/internal/db"
	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Config holds the index parameters shared by the three adapters.
type Config struct {
	// IndexName is the FT index to query.
	IndexName string
	// KeyPrefix is stripped from document keys to recover item IDs.
	KeyPrefix string
	// TiebreakField optionally names the numeric field the predicate signal
	// orders matches by, descending.
	TiebreakField string
}

func (c Config) validate() error {
	if c.IndexName == "" {
		return fmt.Errorf("index name is required")
	}
	return nil
}

// itemID recovers the item ID from a document key.
func (c Config) itemID(key string) string {
	return strings.TrimPrefix(key, c.KeyPrefix)
}

// toHits converts search entries into ranked hits for a signal. Entries with
// empty keys are skipped; ranks stay dense over the kept entries.
func toHits(cfg Config, sig domain.Signal, entries []db.SearchEntry) []hit.Hit {
	hits := make([]hit.Hit, 0, len(entries))
	for _, e := range entries {
		h, err := hit.New(cfg.itemID(e.Key), e.Score, sig, len(hits)+1)
		if err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits
}
