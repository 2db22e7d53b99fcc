package core_test

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/observability"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type stubDB struct {
	dups map[string]bool
	err  error
}

func (s stubDB) IsDuplicate(eventType, key string) (bool, error) {
	return s.dups[core.CompositeKey(eventType, key)], s.err
}

func TestIdempotencyLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	if lru.Add("a") || lru.Add("b") {
		t.Fatal("adding below capacity must not evict")
	}
	if !lru.Contains("a") {
		t.Fatal("expected a to be present")
	}

	if !lru.Add("c") {
		t.Fatal("expected eviction when exceeding capacity")
	}
	if lru.Contains("b") {
		t.Error("b was least recently used and should have been evicted")
	}
	if got := lru.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("keys: got %v, want [a c]", got)
	}

	warm := core.NewIdempotencyLRU(2)
	warm.WarmFromKeys(lru.Keys())
	if !reflect.DeepEqual(warm.Keys(), lru.Keys()) {
		t.Errorf("warmed keys: got %v, want %v", warm.Keys(), lru.Keys())
	}
}

func TestIdempotencyChecker_PostgresTier(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	db := stubDB{dups: map[string]bool{"OpenVessel:k1": true}}
	ic := core.NewIdempotencyChecker(8, db, metrics)

	if !ic.IsDuplicate("OpenVessel", "k1") {
		t.Fatal("expected duplicate from postgres tier")
	}
	if n := promtest.ToFloat64(metrics.IdempotencyDuplicates.WithLabelValues("OpenVessel", "postgres")); n != 1 {
		t.Errorf("postgres tier hits: got %v, want 1", n)
	}

	// Promoted into the LRU after the first hit.
	if !ic.IsDuplicate("OpenVessel", "k1") {
		t.Fatal("expected duplicate on second lookup")
	}
	if n := promtest.ToFloat64(metrics.IdempotencyDuplicates.WithLabelValues("OpenVessel", "lru")); n != 1 {
		t.Errorf("lru tier hits: got %v, want 1", n)
	}

	if ic.IsDuplicate("OpenVessel", "k2") {
		t.Fatal("k2 has not been processed yet")
	}
	ic.MarkProcessed("OpenVessel", "k2")
	if !ic.IsDuplicate("OpenVessel", "k2") {
		t.Error("expected k2 to be a duplicate after MarkProcessed")
	}
}

func TestIdempotencyChecker_LookupErrorFallsThrough(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ic := core.NewIdempotencyChecker(8, stubDB{err: errors.New("conn refused")}, metrics)

	if ic.IsDuplicate("CloseVessel", "k") {
		t.Fatal("a failed lookup must not report a duplicate")
	}
	if n := promtest.ToFloat64(metrics.DedupTier2Errors); n != 1 {
		t.Errorf("tier-2 errors: got %v, want 1", n)
	}
}
