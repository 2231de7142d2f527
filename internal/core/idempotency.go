package core

import (
	"container/list"
	"context"
	"time"

	"PoolLedger/internal/observability"
	"PoolLedger/internal/persistence"
	"PoolLedger/internal/state"

	"github.com/rs/zerolog"
)

// DBIdempotencyChecker is a durable dedup lookup.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// Tier is one durable lookup behind the in-memory cache, named for metrics.
type Tier struct {
	Name    string
	Checker DBIdempotencyChecker
}

// IdempotencyChecker implements tiered deduplication: an in-memory LRU, then
// each durable tier in order.
type IdempotencyChecker struct {
	lru     *IdempotencyLRU
	tiers   []Tier
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewIdempotencyChecker(capacity int, metrics *observability.Metrics, logger zerolog.Logger, tiers ...Tier) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     NewIdempotencyLRU(capacity),
		tiers:   tiers,
		metrics: metrics,
		log:     logger,
	}
}

// IsDuplicate checks if the event has been applied.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := state.ProcessedEventKey(eventType, idempotencyKey)

	if ic.lru.Contains(compositeKey) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	for _, tier := range ic.tiers {
		isDup, err := tier.Checker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// A failing tier never blocks processing; the next tier still answers.
			ic.log.Warn().Err(err).Str("tier", tier.Name).Str("key", compositeKey).Msg("dedup lookup failed")
			continue
		}
		if isDup {
			ic.recordDuplicate(eventType, tier.Name)
			ic.lru.Add(compositeKey)
			return true
		}
	}
	return false
}

// MarkProcessed adds the key to the LRU after a successful commit.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	before := ic.lru.Evictions()
	ic.lru.Add(state.ProcessedEventKey(eventType, idempotencyKey))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Size()))
		if ev := ic.lru.Evictions() - before; ev > 0 {
			ic.metrics.DedupLRUEvictions.Add(float64(ev))
		}
	}
}

// Warm preloads composite "type:key" entries, oldest first.
func (ic *IdempotencyChecker) Warm(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// StoreIdempotencyChecker looks up the processed-event markers committed with
// each event's effects.
type StoreIdempotencyChecker struct {
	store   persistence.Store
	timeout time.Duration
}

func NewStoreIdempotencyChecker(store persistence.Store) *StoreIdempotencyChecker {
	return &StoreIdempotencyChecker{store: store, timeout: 500 * time.Millisecond}
}

func (c *StoreIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	marker, err := persistence.LoadOrNil[state.ProcessedEvent](ctx, c.store, state.ProcessedEventKey(eventType, idempotencyKey))
	if err != nil {
		return false, err
	}
	return marker != nil, nil
}

// --- LRU ---

// IdempotencyLRU is an LRU set of composite keys.
// Not thread-safe; only the processor goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists and promotes it.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key or promotes it if present.
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.lruList.PushFront(key)
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem == nil {
		return
	}
	lru.lruList.Remove(elem)
	delete(lru.cache, elem.Value.(string))
	lru.evictions++
}

// WarmFromKeys loads keys without promoting existing ones.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		lru.cache[key] = lru.lruList.PushFront(key)
		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

func (lru *IdempotencyLRU) Size() int { return lru.lruList.Len() }

func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
