package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fuseline/fuseline/internal/db"
)

// Redis tier backing stores. L2 and L3 share the implementation and differ
// only in keyspace, TTL, and whether invalidation is eager.
type redisTier struct {
	name   string
	store  redisStore
	prefix string
	ttl    time.Duration
	// eager enables the reverse index and Invalidate. The lazy tier relies
	// on TTL expiry alone and serves slightly stale reads by contract.
	eager bool
}

type redisStore interface {
	db.KVStore
	db.SetStore
}

// NewL2 creates the shared Redis tier with eager write-invalidation.
func NewL2(store redisStore, ttl time.Duration) Tier {
	return &redisTier{
		name:   "l2",
		store:  store,
		prefix: "fuseline:cache:l2:",
		ttl:    ttl,
		eager:  true,
	}
}

// NewL3 creates the long-TTL Redis tier. No reverse index is kept; entries
// age out on TTL only.
func NewL3(store redisStore, ttl time.Duration) Tier {
	return &redisTier{
		name:   "l3",
		store:  store,
		prefix: "fuseline:cache:l3:",
		ttl:    ttl,
	}
}

func (t *redisTier) Name() string { return t.name }

func (t *redisTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := t.store.Get(ctx, t.prefix+key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s get: %w", t.name, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is unreadable forever; drop it.
		_ = t.store.Del(ctx, t.prefix+key)
		return nil, false, fmt.Errorf("%s decode: %w", t.name, err)
	}
	return &e, true, nil
}

func (t *redisTier) Put(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s encode: %w", t.name, err)
	}

	if err := t.store.SetWithTTL(ctx, t.prefix+e.Key, data, t.ttl); err != nil {
		return fmt.Errorf("%s put: %w", t.name, err)
	}

	if !t.eager {
		return nil
	}

	// Reverse index: item ID -> cache keys. Sets expire alongside the
	// entries they reference so stale index members age out too.
	for _, id := range e.Response.ItemIDs() {
		idxKey := t.itemKey(id)
		if err := t.store.SAdd(ctx, idxKey, e.Key); err != nil {
			return fmt.Errorf("%s index: %w", t.name, err)
		}
		if err := t.store.Expire(ctx, idxKey, t.ttl); err != nil {
			return fmt.Errorf("%s index expire: %w", t.name, err)
		}
	}
	return nil
}

func (t *redisTier) Invalidate(ctx context.Context, itemIDs []string) error {
	if !t.eager {
		return nil
	}

	victims := make(map[string]struct{})
	for _, id := range itemIDs {
		keys, err := t.store.SMembers(ctx, t.itemKey(id))
		if err != nil {
			return fmt.Errorf("%s index read: %w", t.name, err)
		}
		for _, k := range keys {
			victims[k] = struct{}{}
		}
	}
	if len(victims) == 0 {
		return nil
	}

	del := make([]string, 0, len(victims)+len(itemIDs))
	for k := range victims {
		del = append(del, t.prefix+k)
	}
	for _, id := range itemIDs {
		del = append(del, t.itemKey(id))
	}

	if err := t.store.Del(ctx, del...); err != nil {
		return fmt.Errorf("%s invalidate: %w", t.name, err)
	}
	return nil
}

func (t *redisTier) itemKey(itemID string) string {
	return t.prefix + "item:" + itemID
}
