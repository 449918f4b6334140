// Package memidx implements the retrieval adapters over an in-process index:
// an HNSW graph for the vector signal, a bleve index for the lexical signal,
// and a linear item scan for the filter signal. It backs the memory driver
// used in development and tests, where no Redis index is available.
package memidx

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/coder/hnsw"

	"github.com/fuseline/fuseline/internal/domain"
)

// Item is one indexed document with everything the three signals need.
type Item struct {
	ID       string
	Content  string
	Vector   []float32
	Tags     map[string]string
	Numerics map[string]float64
}

// Store holds the in-process indexes. All methods are safe for concurrent
// use; writes take the exclusive lock, searches the shared one.
type Store struct {
	mu    sync.RWMutex
	dims  int
	items map[string]Item

	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	text bleve.Index
}

type textDoc struct {
	Content string `json:"content"`
}

// NewStore creates an empty in-memory store for vectors of the given
// dimensionality.
func NewStore(dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dims must be positive")
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	text, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}

	return &Store{
		dims:   dims,
		items:  make(map[string]Item),
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		text:   text,
	}, nil
}

// Upsert inserts or replaces items across all three indexes.
func (s *Store) Upsert(ctx context.Context, items ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("item ID is required")
		}
		if len(it.Vector) != s.dims {
			return fmt.Errorf("%w: want %d, got %d", domain.ErrVectorDimMismatch, s.dims, len(it.Vector))
		}
	}

	batch := s.text.NewBatch()
	for _, it := range items {
		// Replacing a vector uses lazy deletion: the old graph node is
		// orphaned rather than removed, which sidesteps graph repair.
		if oldKey, exists := s.idMap[it.ID]; exists {
			delete(s.keyMap, oldKey)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		normalize(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[it.ID] = key
		s.keyMap[key] = it.ID
		s.items[it.ID] = it

		if err := batch.Index(it.ID, textDoc{Content: it.Content}); err != nil {
			return fmt.Errorf("index item %s: %w", it.ID, err)
		}
	}

	if err := s.text.Batch(batch); err != nil {
		return fmt.Errorf("text index batch: %w", err)
	}
	return nil
}

// Delete removes items by ID. Unknown IDs are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.text.NewBatch()
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
		delete(s.items, id)
		batch.Delete(id)
	}

	if err := s.text.Batch(batch); err != nil {
		return fmt.Errorf("text index batch: %w", err)
	}
	return nil
}

// Count returns the number of live items.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Ping reports store liveness. Always healthy while the process runs.
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close releases the text index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.Close()
}

// item returns a live item by ID.
func (s *Store) item(id string) (Item, bool) {
	it, ok := s.items[id]
	return it, ok
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
