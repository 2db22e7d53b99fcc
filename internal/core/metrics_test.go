package core_test

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/event"
	"VesselLedger/internal/observability"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func newMeteredHarness(t *testing.T) (*harness, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	persist := make(chan core.CoreOutput, 1024)
	proj := make(chan core.CoreOutput, 1024)
	h := newHarness(t)
	h.c = core.NewDeterministicCore(core.DefaultConfig(), 0, persist, proj, nil, metrics)
	h.persist = persist
	return h, metrics
}

func TestMetrics_LiquidationCountedOnce(t *testing.T) {
	h, metrics := newMeteredHarness(t)
	h.setupAsset(2000)
	alice, bob, keeper := uuid.New(), uuid.New(), uuid.New()
	h.openVessel(alice, units(100), units(10000))
	h.provide(alice, units(10000))
	h.openVessel(bob, units(3), units(4000))

	h.setPrice(units(1500))
	h.mustApply(&event.Liquidate{Header: h.assetHeader(), Asset: weth, Borrower: bob, Liquidator: keeper})

	got := promtest.ToFloat64(metrics.VesselsLiquidated.WithLabelValues(weth, string(core.LiquidationNormal)))
	if got != 1 {
		t.Fatalf("vessels liquidated (normal): got %v, want 1", got)
	}
	if n := promtest.ToFloat64(metrics.CoreEventsApplied.WithLabelValues("Liquidate")); n != 1 {
		t.Errorf("applied Liquidate events: got %v, want 1", n)
	}
}

func TestMetrics_BatchLiquidationCountsEachVessel(t *testing.T) {
	h, metrics := newMeteredHarness(t)
	h.setupAsset(2000)
	alice, bob, carol, keeper := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.openVessel(alice, units(100), units(10000))
	h.provide(alice, units(10000))
	h.openVessel(bob, units(3), units(4000))
	h.openVessel(carol, units(3), units(4000))

	h.setPrice(units(1500))
	h.mustApply(&event.LiquidateVessels{Header: h.assetHeader(), Asset: weth, MaxVessels: 10, Liquidator: keeper})

	if got := promtest.ToFloat64(metrics.VesselsLiquidated.WithLabelValues(weth, string(core.LiquidationNormal))); got != 2 {
		t.Fatalf("vessels liquidated (normal): got %v, want 2", got)
	}
}

func TestMetrics_RedemptionCountedOnce(t *testing.T) {
	h, metrics := newMeteredHarness(t)
	h.setupAsset(2000)
	alice, bob, redeemer := uuid.New(), uuid.New(), uuid.New()
	h.openVessel(alice, units(10), units(5000))
	h.openVessel(bob, units(10), units(3000))
	h.transfer(bob, redeemer, units(1000))

	h.mustApply(&event.RedeemCollateral{Header: h.assetHeader(), Asset: weth, Redeemer: redeemer, Amount: units(1000)})

	if got := promtest.ToFloat64(metrics.Redemptions.WithLabelValues(weth)); got != 1 {
		t.Fatalf("redemptions: got %v, want 1", got)
	}
}

func TestMetrics_RejectedLiquidationNotCounted(t *testing.T) {
	h, metrics := newMeteredHarness(t)
	h.setupAsset(2000)
	alice, keeper := uuid.New(), uuid.New()
	h.openVessel(alice, units(10), units(5000))

	h.mustReject(&event.Liquidate{Header: h.assetHeader(), Asset: weth, Borrower: alice, Liquidator: keeper}, core.ErrNotLiquidatable)

	if got := promtest.CollectAndCount(metrics.VesselsLiquidated); got != 0 {
		t.Fatalf("liquidation series after a rejected command: got %d, want 0", got)
	}
}
