package strategy

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sporthedge/internal/cycle"
	"sporthedge/internal/market"
	"sporthedge/internal/position"
	"sporthedge/internal/pricemonitor"
	"sporthedge/pkg/types"
)

func testLoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarketInfoForLoop() types.MarketInfo {
	return types.MarketInfo{
		ConditionID: "0xcond",
		Slug:        "nfl-chi-gb",
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		TickSize:    types.Tick001,
		EndDate:     time.Now().Add(24 * time.Hour),
	}
}

func newTestLoop(t *testing.T) *Loop {
	t.Helper()

	cfg := Config{
		Info:           testMarketInfoForLoop(),
		Sport:          "nfl",
		PairCostTarget: decimal.NewFromFloat(0.98),
		DryRun:         true,
	}
	book := market.NewBook(cfg.Info.ConditionID, cfg.Info.YesTokenID, cfg.Info.NoTokenID)
	posMgr := position.New(filepath.Join(t.TempDir(), "snap.json"), testLoopLogger())
	priceMon := pricemonitor.New(pricemonitor.Config{MarketSlug: cfg.Info.Slug}, nil, testLoopLogger())

	l := New(cfg, book, posMgr, priceMon, nil, nil, nil, nil, nil, testLoopLogger())
	if err := l.openPosition(context.Background()); err != nil {
		t.Fatalf("openPosition: %v", err)
	}
	return l
}

func TestResolveOutcomeMapsYesAndNo(t *testing.T) {
	t.Parallel()
	l := newTestLoop(t)

	idx, side, ok := l.resolveOutcome(l.cfg.Info.YesTokenID)
	if !ok || idx != 1 || side != cycle.Side1 {
		t.Errorf("YES token: idx=%d side=%v ok=%v", idx, side, ok)
	}

	idx, side, ok = l.resolveOutcome(l.cfg.Info.NoTokenID)
	if !ok || idx != 2 || side != cycle.Side2 {
		t.Errorf("NO token: idx=%d side=%v ok=%v", idx, side, ok)
	}

	if _, _, ok := l.resolveOutcome("unknown-token"); ok {
		t.Error("expected unknown token to not resolve")
	}
}

func TestHandleTradeRecordsAccumulationOnBuy(t *testing.T) {
	t.Parallel()
	l := newTestLoop(t)

	trade := types.WSTradeEvent{
		ID:      "trade-1",
		AssetID: l.cfg.Info.YesTokenID,
		Side:    string(types.BUY),
		Size:    "10",
		Price:   "0.45",
		Outcome: "Yes",
	}
	l.handleTrade(context.Background(), trade)

	snap := l.cycle.Snapshot()
	if !snap.Side1Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Side1Qty = %s, want 10", snap.Side1Qty)
	}

	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if pos == nil {
		t.Fatal("expected position to be tracked")
	}
	if !pos.Outcome1Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Outcome1Qty = %s, want 10", pos.Outcome1Qty)
	}
}

func TestHandleTradeCompletesActiveLock(t *testing.T) {
	t.Parallel()
	l := newTestLoop(t)

	// Seed an imbalance and set an active lock target on side 2.
	l.cycle.RecordAccumulation(cycle.Side1, decimal.NewFromInt(10), decimal.NewFromFloat(0.40))
	params := l.cycle.GetLockParams()
	l.cycle.SetLockTarget(params)

	trade := types.WSTradeEvent{
		ID:      "trade-2",
		AssetID: l.cfg.Info.NoTokenID,
		Side:    string(types.BUY),
		Size:    "10",
		Price:   params.Price.String(),
		Outcome: "No",
	}
	l.handleTrade(context.Background(), trade)

	snap := l.cycle.Snapshot()
	if snap.LockTarget != nil && snap.LockTarget.Active {
		t.Error("expected lock target to be cleared after fill")
	}
	if !snap.Side2Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Side2Qty = %s, want 10", snap.Side2Qty)
	}
}

func TestHandleTradeRecordsSaleOnSell(t *testing.T) {
	t.Parallel()
	l := newTestLoop(t)

	buy := types.WSTradeEvent{AssetID: l.cfg.Info.YesTokenID, Side: string(types.BUY), Size: "10", Price: "0.40"}
	l.handleTrade(context.Background(), buy)

	sell := types.WSTradeEvent{AssetID: l.cfg.Info.YesTokenID, Side: string(types.SELL), Size: "10", Price: "0.05"}
	l.handleTrade(context.Background(), sell)

	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if !pos.Outcome1Qty.IsZero() {
		t.Errorf("Outcome1Qty = %s, want 0 after full sale", pos.Outcome1Qty)
	}
	// Bought 10 @ 0.40 (cost 4.0), sold 10 @ 0.05 (proceeds 0.5): realized -3.5.
	if !pos.RealizedPnL.Equal(decimal.NewFromFloat(-3.5)) {
		t.Errorf("RealizedPnL = %s, want -3.5", pos.RealizedPnL)
	}
}

func TestEvaluateLockNoopInDryRun(t *testing.T) {
	t.Parallel()
	l := newTestLoop(t)

	l.cycle.RecordAccumulation(cycle.Side1, decimal.NewFromInt(10), decimal.NewFromFloat(0.40))
	// DryRun skips order submission entirely, so this must not panic even
	// with a nil executor.
	l.evaluateLock(context.Background())

	if l.cycle.Snapshot().LockTarget != nil {
		t.Error("expected no lock target to be set in dry run")
	}
}
