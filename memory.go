package imagecache

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
)

// MemoryTierStats mirrors diskcache.Stats's shape for the bounded
// in-memory tier.
type MemoryTierStats struct {
	Hits       int64
	Misses     int64
	Cost       int64
	MaxCost    int64
	EntryCount int
	MaxEntries int
}

// MemoryTierOptions configures a MemoryTier.
type MemoryTierOptions struct {
	// MaxCost is the total-cost ceiling (default unlimited, zero).
	MaxCost int64
	// MaxEntries is the entry-count ceiling (default unlimited, zero).
	MaxEntries int
	// Metrics, when non-nil, observes policy-driven evictions.
	Metrics *Metrics
}

type memoryEntry struct {
	key   string
	image *DecodedImage
}

// MemoryTier is the bounded, cost-and-count-aware in-memory cache
// tier. It wraps dgraph-io/ristretto/v2 rather than reimplementing
// cost-aware eviction on top of a hand-rolled structure.
type MemoryTier struct {
	cache      *ristretto.Cache[string, *memoryEntry]
	maxEntries int
	metrics    *Metrics

	mu    sync.Mutex
	order []string
	live  map[string]struct{}
	count atomic.Int64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryTier constructs a MemoryTier per opts.
func NewMemoryTier(opts MemoryTierOptions) (*MemoryTier, error) {
	maxCost := opts.MaxCost
	if maxCost <= 0 {
		maxCost = math.MaxInt64 / 2
	}

	t := &MemoryTier{
		maxEntries: opts.MaxEntries,
		metrics:    opts.Metrics,
		live:       make(map[string]struct{}),
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *memoryEntry]{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
		OnEvict:     t.onEvict,
	})
	if err != nil {
		return nil, err
	}
	t.cache = cache
	return t, nil
}

func (t *MemoryTier) onEvict(item *ristretto.Item[*memoryEntry]) {
	if item == nil || item.Value == nil {
		return
	}
	t.untrack(item.Value.key)
	if t.metrics != nil {
		t.metrics.ObserveMemoryEviction()
	}
}

func (t *MemoryTier) untrack(key string) {
	t.mu.Lock()
	if _, ok := t.live[key]; ok {
		delete(t.live, key)
		t.removeFromOrderLocked(key)
		t.count.Add(-1)
	}
	t.mu.Unlock()
}

func (t *MemoryTier) removeFromOrderLocked(key string) {
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Get is the non-blocking read.
func (t *MemoryTier) Get(key string) (*DecodedImage, bool) {
	entry, ok := t.cache.Get(key)
	if !ok || entry == nil {
		t.misses.Add(1)
		return nil, false
	}
	t.hits.Add(1)
	return entry.image, true
}

// Put inserts image under key with the given cost, evicting per the
// cost and count ceilings when necessary.
func (t *MemoryTier) Put(key string, image *DecodedImage, cost uint64) {
	entry := &memoryEntry{key: key, image: image}

	t.mu.Lock()
	_, existed := t.live[key]
	if existed {
		t.removeFromOrderLocked(key)
	}
	t.order = append(t.order, key)
	if !existed {
		t.live[key] = struct{}{}
	}
	t.mu.Unlock()

	if !existed {
		t.count.Add(1)
	}

	t.cache.SetWithTTL(key, entry, int64(cost), 0)
	t.cache.Wait()

	t.enforceEntryLimit()
}

// enforceEntryLimit evicts the oldest tracked entries until the
// count ceiling is satisfied. ristretto enforces the cost ceiling on
// its own; it has no native hard entry-count cap, so that bound is
// layered on top here. Del is an explicit removal, not a
// policy-driven eviction, so OnEvict never fires for it; untrack is
// called directly rather than left to the callback, the same
// bookkeeping Remove does.
func (t *MemoryTier) enforceEntryLimit() {
	if t.maxEntries <= 0 {
		return
	}
	for {
		t.mu.Lock()
		if int(t.count.Load()) <= t.maxEntries || len(t.order) == 0 {
			t.mu.Unlock()
			return
		}
		oldest := t.order[0]
		t.mu.Unlock()

		t.cache.Del(oldest)
		t.untrack(oldest)
	}
}

// Remove evicts key if present. ristretto's OnEvict callback fires
// only on policy-driven eviction, never on an explicit Del, so the
// order/live/count bookkeeping is updated by hand here, the same way
// RemoveAll can't rely on the callback either.
func (t *MemoryTier) Remove(key string) {
	t.cache.Del(key)
	t.untrack(key)
}

// RemoveAll flushes the entire tier, used both for explicit clears and
// the memory-pressure purge.
func (t *MemoryTier) RemoveAll() {
	t.cache.Clear()
	t.mu.Lock()
	t.order = t.order[:0]
	t.live = make(map[string]struct{})
	t.mu.Unlock()
	t.count.Store(0)
}

// PurgeAll is the process-level memory-pressure hook; platform lifecycle
// wiring that invokes it is out of scope, but the hook itself lives here
// so a caller's platform glue has something to call.
func (t *MemoryTier) PurgeAll() {
	t.RemoveAll()
}

// Stats reports current tier occupancy.
func (t *MemoryTier) Stats() MemoryTierStats {
	m := t.cache.Metrics
	var cost int64
	if m != nil {
		cost = int64(m.CostAdded()) - int64(m.CostEvicted())
	}
	return MemoryTierStats{
		Hits:       t.hits.Load(),
		Misses:     t.misses.Load(),
		Cost:       cost,
		EntryCount: int(t.count.Load()),
		MaxEntries: t.maxEntries,
	}
}

// Close releases ristretto's background goroutines.
func (t *MemoryTier) Close() error {
	t.cache.Close()
	return nil
}
