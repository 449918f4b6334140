package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultL1Size is the default in-process cache capacity.
const DefaultL1Size = 1024

// L1 is the in-process tier: an LRU with a TTL check on read and an eagerly
// maintained reverse index from item ID to the cache keys referencing it.
type L1 struct {
	ttl   time.Duration
	cache *lru.Cache[string, *Entry]

	mu sync.Mutex
	// byItem maps item ID -> set of cache keys whose responses contain it.
	byItem map[string]map[string]struct{}
}

// NewL1 creates the in-process tier. size <= 0 uses DefaultL1Size.
func NewL1(size int, ttl time.Duration) (*L1, error) {
	if size <= 0 {
		size = DefaultL1Size
	}

	t := &L1{ttl: ttl, byItem: make(map[string]map[string]struct{})}
	cache, err := lru.NewWithEvict[string, *Entry](size, t.onEvict)
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

// Name implements Tier.
func (t *L1) Name() string { return "l1" }

// Get implements Tier. Expired entries are evicted on read.
func (t *L1) Get(ctx context.Context, key string) (*Entry, bool, error) {
	e, ok := t.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.Expired(t.ttl, time.Now()) {
		t.cache.Remove(key)
		return nil, false, nil
	}
	return e, true, nil
}

// Put implements Tier.
func (t *L1) Put(ctx context.Context, e *Entry) error {
	t.mu.Lock()
	for _, id := range e.Response.ItemIDs() {
		keys, ok := t.byItem[id]
		if !ok {
			keys = make(map[string]struct{})
			t.byItem[id] = keys
		}
		keys[e.Key] = struct{}{}
	}
	t.mu.Unlock()

	t.cache.Add(e.Key, e)
	return nil
}

// Invalidate implements Tier: every entry referencing any given item is
// evicted whole.
func (t *L1) Invalidate(ctx context.Context, itemIDs []string) error {
	victims := make(map[string]struct{})

	t.mu.Lock()
	for _, id := range itemIDs {
		for key := range t.byItem[id] {
			victims[key] = struct{}{}
		}
	}
	t.mu.Unlock()

	for key := range victims {
		t.cache.Remove(key)
	}
	return nil
}

// Len returns the number of live entries.
func (t *L1) Len() int { return t.cache.Len() }

// onEvict drops the evicted key from the reverse index so the index never
// outgrows the cache.
func (t *L1) onEvict(key string, e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range e.Response.ItemIDs() {
		if keys, ok := t.byItem[id]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(t.byItem, id)
			}
		}
	}
}
