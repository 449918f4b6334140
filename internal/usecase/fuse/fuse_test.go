package fuse

import (
	"math"
	"math/rand"
	"testing"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

func mustHit(t *testing.T, id string, score float64, sig domain.Signal, rank int) hit.Hit {
	t.Helper()
	h, err := hit.New(id, score, sig, rank)
	if err != nil {
		t.Fatalf("hit.New(%q): %v", id, err)
	}
	return h
}

func TestFuse_HandComputedScores(t *testing.T) {
	svc := New(60, nil)

	lists := map[domain.Signal][]hit.Hit{
		domain.SignalVector: {
			mustHit(t, "a", 0.95, domain.SignalVector, 1),
			mustHit(t, "b", 0.90, domain.SignalVector, 2),
		},
		domain.SignalLexical: {
			mustHit(t, "b", 7.1, domain.SignalLexical, 1),
			mustHit(t, "c", 3.2, domain.SignalLexical, 2),
		},
	}
	weights := domain.Weights{
		domain.SignalVector:  0.4,
		domain.SignalLexical: 0.3,
	}

	fused := svc.Fuse(lists, weights)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused items, got %d", len(fused))
	}

	want := map[string]float64{
		"a": 0.4 / 61,
		"b": 0.4/62 + 0.3/61,
		"c": 0.3 / 62,
	}
	for _, f := range fused {
		if math.Abs(f.Score-want[f.ItemID]) > 1e-12 {
			t.Errorf("item %s: score %v, want %v", f.ItemID, f.Score, want[f.ItemID])
		}
	}

	// b has contributions from both signals and must rank first.
	if fused[0].ItemID != "b" || fused[0].Rank != 1 {
		t.Errorf("expected b at rank 1, got %s at rank %d", fused[0].ItemID, fused[0].Rank)
	}
	if len(fused[0].Hits) != 2 {
		t.Errorf("expected 2 contributing hits for b, got %d", len(fused[0].Hits))
	}
}

func TestFuse_ZeroWeightSuppressesSignal(t *testing.T) {
	svc := New(60, nil)

	lists := map[domain.Signal][]hit.Hit{
		domain.SignalVector: {mustHit(t, "a", 0.9, domain.SignalVector, 1)},
		domain.SignalFilter: {mustHit(t, "z", 1.0, domain.SignalFilter, 1)},
	}
	weights := domain.Weights{
		domain.SignalVector: 0.5,
		domain.SignalFilter: 0,
	}

	fused := svc.Fuse(lists, weights)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused item, got %d", len(fused))
	}
	if fused[0].ItemID != "a" {
		t.Errorf("expected only item a, got %s", fused[0].ItemID)
	}
}

func TestFuse_ZeroWeightEqualsAbsentSignal(t *testing.T) {
	svc := New(60, nil)
	rng := rand.New(rand.NewSource(7))

	randomList := func(sig domain.Signal) []hit.Hit {
		hits := make([]hit.Hit, 5+rng.Intn(15))
		for i := range hits {
			id := "item-" + string(rune('a'+rng.Intn(12)))
			hits[i] = mustHit(t, id, rng.Float64(), sig, i+1)
		}
		return hits
	}

	// For random weight vectors, muting a signal with weight zero must fuse
	// identically to leaving that signal's list out altogether.
	for trial := 0; trial < 25; trial++ {
		lists := make(map[domain.Signal][]hit.Hit)
		weights := make(domain.Weights)
		for _, sig := range domain.Signals() {
			lists[sig] = randomList(sig)
			weights[sig] = 0.1 + rng.Float64()
		}
		muted := domain.Signals()[trial%len(domain.Signals())]

		zeroed := make(domain.Weights, len(weights))
		for sig, w := range weights {
			zeroed[sig] = w
		}
		zeroed[muted] = 0

		without := make(map[domain.Signal][]hit.Hit, len(lists))
		for sig, l := range lists {
			if sig != muted {
				without[sig] = l
			}
		}

		got := svc.Fuse(lists, zeroed)
		want := svc.Fuse(without, weights)
		if len(got) != len(want) {
			t.Fatalf("trial %d (muted %s): %d items vs %d", trial, muted, len(got), len(want))
		}
		for i := range got {
			if got[i].ItemID != want[i].ItemID || math.Abs(got[i].Score-want[i].Score) > 1e-12 {
				t.Fatalf("trial %d (muted %s) position %d: %s (%v) vs %s (%v)",
					trial, muted, i, got[i].ItemID, got[i].Score, want[i].ItemID, want[i].Score)
			}
		}
	}
}

func TestFuse_TieBreakByVectorScoreThenID(t *testing.T) {
	svc := New(60, nil)

	// a and b get identical fused scores from equal ranks; a carries a higher
	// raw vector similarity and must win. c and d tie entirely and must order
	// by item ID.
	lists := map[domain.Signal][]hit.Hit{
		domain.SignalVector: {
			mustHit(t, "b", 0.70, domain.SignalVector, 1),
			mustHit(t, "a", 0.95, domain.SignalVector, 1),
		},
		domain.SignalLexical: {
			mustHit(t, "d", 1.0, domain.SignalLexical, 3),
			mustHit(t, "c", 1.0, domain.SignalLexical, 3),
		},
	}
	weights := domain.DefaultWeights()

	fused := svc.Fuse(lists, weights)
	if len(fused) != 4 {
		t.Fatalf("expected 4 fused items, got %d", len(fused))
	}
	if fused[0].ItemID != "a" || fused[1].ItemID != "b" {
		t.Errorf("vector tie-break: got %s, %s; want a, b", fused[0].ItemID, fused[1].ItemID)
	}
	if fused[2].ItemID != "c" || fused[3].ItemID != "d" {
		t.Errorf("ID tie-break: got %s, %s; want c, d", fused[2].ItemID, fused[3].ItemID)
	}
}

func TestFuse_Deterministic(t *testing.T) {
	svc := New(60, nil)
	rng := rand.New(rand.NewSource(42))

	lists := make(map[domain.Signal][]hit.Hit)
	for _, sig := range domain.Signals() {
		var hits []hit.Hit
		for i := 0; i < 50; i++ {
			id := string(rune('a' + rng.Intn(20)))
			hits = append(hits, mustHit(t, "item-"+id, rng.Float64(), sig, len(hits)+1))
		}
		lists[sig] = hits
	}
	weights := domain.DefaultWeights()

	first := svc.Fuse(lists, weights)
	for run := 0; run < 5; run++ {
		again := svc.Fuse(lists, weights)
		if len(again) != len(first) {
			t.Fatalf("run %d: length %d, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i].ItemID != first[i].ItemID || again[i].Rank != first[i].Rank {
				t.Fatalf("run %d: position %d differs: %s vs %s", run, i, again[i].ItemID, first[i].ItemID)
			}
		}
	}
}

func TestFuse_DropsMalformedHits(t *testing.T) {
	svc := New(60, nil)

	lists := map[domain.Signal][]hit.Hit{
		domain.SignalVector: {
			{ItemID: "", Score: 0.9, Signal: domain.SignalVector, Rank: 1},
			mustHit(t, "a", 0.8, domain.SignalVector, 2),
			{ItemID: "bad-rank", Score: 0.7, Signal: domain.SignalVector, Rank: 0},
		},
	}

	fused := svc.Fuse(lists, domain.DefaultWeights())
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused item, got %d", len(fused))
	}
	if fused[0].ItemID != "a" {
		t.Errorf("expected item a, got %s", fused[0].ItemID)
	}
}

func TestFuse_RanksAreDense(t *testing.T) {
	svc := New(0, nil) // falls back to DefaultK

	lists := map[domain.Signal][]hit.Hit{
		domain.SignalLexical: {
			mustHit(t, "x", 2.0, domain.SignalLexical, 1),
			mustHit(t, "y", 1.5, domain.SignalLexical, 2),
			mustHit(t, "z", 1.0, domain.SignalLexical, 3),
		},
	}

	fused := svc.Fuse(lists, domain.DefaultWeights())
	for i, f := range fused {
		if f.Rank != i+1 {
			t.Errorf("position %d: rank %d, want %d", i, f.Rank, i+1)
		}
	}
}

func TestFuse_EmptyInput(t *testing.T) {
	svc := New(60, nil)
	fused := svc.Fuse(nil, domain.DefaultWeights())
	if len(fused) != 0 {
		t.Errorf("expected empty result, got %d items", len(fused))
	}
}
