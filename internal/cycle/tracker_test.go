package cycle

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGetLockParamsAfterAccumulation(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "nfl-chi-gb", PairCostTarget: dec("0.98")})

	tr.RecordAccumulation(Side1, dec("10"), dec("0.42"))

	if !tr.NeedsLock() {
		t.Fatal("expected NeedsLock after one-sided accumulation")
	}

	params := tr.GetLockParams()
	if params.Side != Side2 {
		t.Errorf("lock side = %v, want Side2", params.Side)
	}
	if !params.Gap.Equal(dec("10")) {
		t.Errorf("lock gap = %v, want 10", params.Gap)
	}
	if !params.Price.Equal(dec("0.56")) {
		t.Errorf("lock price = %v, want 0.56", params.Price)
	}
}

func TestIsProfitLockedAndPairCost(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "nfl-chi-gb", PairCostTarget: dec("0.98")})

	tr.RecordAccumulation(Side1, dec("10"), dec("0.42"))
	tr.RecordAccumulation(Side2, dec("10"), dec("0.56"))

	if !tr.IsProfitLocked() {
		t.Fatal("expected profit locked at balanced 10/10 with combined cost 9.80")
	}
	if !tr.GetPairCost().Equal(dec("0.98")) {
		t.Errorf("pair cost = %v, want 0.98", tr.GetPairCost())
	}
	if tr.NeedsLock() {
		t.Error("balanced position should not need a lock")
	}
}

func TestCanAccumulateBeforeFirstAccumulation(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "m"})

	if !tr.CanAccumulate(Side1, dec("0.99")) {
		t.Error("any price should be accumulatable before the ceiling is set")
	}
}

func TestCanAccumulateRespectsDynamicCeiling(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "m"})

	tr.RecordAccumulation(Side1, dec("10"), dec("0.42"))

	snap := tr.Snapshot()
	if snap.InitialAccumPrice == nil || !snap.InitialAccumPrice.Equal(dec("0.42")) {
		t.Fatalf("initial accum price = %v, want 0.42", snap.InitialAccumPrice)
	}
	if snap.InitialAccumSide != string(Side1) {
		t.Errorf("initial accum side = %v, want %v", snap.InitialAccumSide, Side1)
	}
	if snap.ActiveAccumSide != string(Side1) {
		t.Errorf("active accum side = %v, want %v", snap.ActiveAccumSide, Side1)
	}
	if len(snap.Accumulations) != 1 {
		t.Fatalf("expected 1 accumulation entry, got %d", len(snap.Accumulations))
	}

	if tr.CanAccumulate(Side1, dec("0.43")) {
		t.Error("price above the initial accumulation price should not be accumulatable")
	}
	if !tr.CanAccumulate(Side1, dec("0.41")) {
		t.Error("price at or below the initial accumulation price should be accumulatable")
	}
	if !tr.CanAccumulate(Side1, dec("0.42")) {
		t.Error("price equal to the ceiling should be accumulatable")
	}
}

func TestStartNewCycleResetsState(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "m"})
	tr.RecordAccumulation(Side1, dec("5"), dec("0.3"))
	tr.StartNewCycle()

	snap := tr.Snapshot()
	if !snap.Side1Qty.IsZero() {
		t.Errorf("expected reset side1 qty, got %v", snap.Side1Qty)
	}
	if snap.CycleNumber != 2 {
		t.Errorf("expected cycle number 2, got %d", snap.CycleNumber)
	}
}

func TestHandleLockCompleteClearsTarget(t *testing.T) {
	t.Parallel()
	tr := New(Config{MarketSlug: "m", PairCostTarget: dec("0.98")})
	tr.RecordAccumulation(Side1, dec("10"), dec("0.42"))
	params := tr.GetLockParams()
	tr.SetLockTarget(params)

	tr.HandleLockComplete(params.Gap, params.Price)

	if tr.NeedsLock() {
		t.Error("should not need lock after completing it")
	}
	if !tr.IsProfitLocked() {
		t.Error("expected profit locked after lock fill")
	}
}
