package core

import (
	"VesselLedger/internal/observability"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// in front of the persisted event log.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	prom      *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, prom *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		prom:      prom,
	}
}

// CompositeKey namespaces an idempotency key by command type.
func CompositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// IsDuplicate checks if a command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := CompositeKey(eventType, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	if ic.dbChecker == nil {
		return false
	}

	start := time.Now()
	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if ic.prom != nil {
		ic.prom.DedupTier2Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// A lookup failure must not stall the core; the unique index on the
		// event log still rejects the row if it really was a duplicate.
		if ic.prom != nil {
			ic.prom.DedupTier2Errors.Inc()
		}
		return false
	}

	if isDup {
		ic.recordDuplicate(eventType, "postgres")
		ic.lru.Add(key)
		return true
	}
	return false
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.prom != nil {
		ic.prom.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// MarkProcessed adds the key to the LRU once the command has an envelope.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	evicted := ic.lru.Add(CompositeKey(eventType, idempotencyKey))
	if ic.prom != nil {
		ic.prom.DedupLRUSize.Set(float64(ic.lru.Size()))
		if evicted {
			ic.prom.DedupLRUEvictions.Inc()
		}
	}
}

// IdempotencyLRU holds recent composite keys.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyLRU struct {
	cache *simplelru.LRU
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := simplelru.NewLRU(capacity, nil)
	if err != nil {
		panic(fmt.Sprintf("FATAL: idempotency lru: %v", err))
	}
	return &IdempotencyLRU{cache: cache}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	_, ok := lru.cache.Get(key)
	return ok
}

// Add inserts a key (or promotes if exists) and reports whether the oldest
// key was evicted to make room.
func (lru *IdempotencyLRU) Add(key string) bool {
	return lru.cache.Add(key, struct{}{})
}

// WarmFromKeys loads composite keys, oldest first, so the most recent key
// ends up most recently used.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.cache.Add(key, struct{}{})
	}
}

// Keys returns the cached keys from least to most recently used, the order
// WarmFromKeys expects.
func (lru *IdempotencyLRU) Keys() []string {
	raw := lru.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.cache.Len()
}
