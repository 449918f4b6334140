package search

import (
	"sort"

	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// mergeVariants collapses one signal's per-variant hit lists into a single
// ranked list. An item seen by several variants keeps its best (lowest)
// rank and best raw score, so expansion can only improve an item's standing.
// Ranks are reassigned densely over the merged order, keeping the output
// set-idempotent when every variant returns the same items.
func mergeVariants(lists [][]hit.Hit) []hit.Hit {
	if len(lists) == 1 {
		return lists[0]
	}

	best := make(map[string]hit.Hit)
	for _, list := range lists {
		for _, h := range list {
			cur, seen := best[h.ItemID]
			if !seen || h.Rank < cur.Rank || (h.Rank == cur.Rank && h.Score > cur.Score) {
				if seen && h.Score < cur.Score {
					h.Score = cur.Score
				}
				best[h.ItemID] = h
			}
		}
	}

	merged := make([]hit.Hit, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Rank != merged[j].Rank {
			return merged[i].Rank < merged[j].Rank
		}
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ItemID < merged[j].ItemID
	})
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}
