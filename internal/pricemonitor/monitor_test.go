package pricemonitor

import (
	"io"
	"log/slog"
	"testing"

	"sporthedge/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor() *Monitor {
	return New(Config{MarketSlug: "nfl-chi-gb"}, gateway.New(testLogger()), testLogger())
}

func TestCheckSellTriggerLatchesOncePerSide(t *testing.T) {
	t.Parallel()
	m := New(Config{MarketSlug: "nfl-chi-gb", SellThreshold: 0.25}, gateway.New(testLogger()), testLogger())

	m.UpdateOutcome1(0.30)
	m.UpdateOutcome1(0.22)
	triggered, losing, winning := m.CheckSellTrigger()
	if !triggered || losing != 1 || winning != 2 {
		t.Fatalf("expected trigger on outcome1, got triggered=%v losing=%d winning=%d", triggered, losing, winning)
	}

	// Second call should not re-trigger the same side until reset.
	triggered, _, _ = m.CheckSellTrigger()
	if triggered {
		t.Error("expected sell trigger to be latched on side 1 (no re-trigger)")
	}

	m.UpdateOutcome2(0.20)
	triggered, losing, winning = m.CheckSellTrigger()
	if !triggered || losing != 2 || winning != 1 {
		t.Fatalf("expected independent trigger on outcome2, got triggered=%v losing=%d winning=%d", triggered, losing, winning)
	}

	m.ResetSellTrigger()
	triggered, losing, winning = m.CheckSellTrigger()
	if !triggered || losing != 1 || winning != 2 {
		t.Fatalf("expected outcome1 to re-trigger after reset, got triggered=%v losing=%d winning=%d", triggered, losing, winning)
	}
}

func TestCheckSellTriggerIgnoresZeroPrice(t *testing.T) {
	t.Parallel()
	m := New(Config{MarketSlug: "m", SellThreshold: 0.25}, gateway.New(testLogger()), testLogger())

	triggered, _, _ := m.CheckSellTrigger()
	if triggered {
		t.Error("expected no trigger when no price has ever been observed")
	}
}

func TestCheckStopLossDisabledByDefault(t *testing.T) {
	t.Parallel()
	m := newTestMonitor()
	m.UpdateOutcome1(0.10)

	if m.CheckStopLoss(1, 0.50) {
		t.Error("stop loss should never trigger when disabled")
	}
}

func TestCheckStopLossWhenEnabled(t *testing.T) {
	t.Parallel()
	m := New(Config{MarketSlug: "m", StopLossEnabled: true, StopLossPct: 0.20}, gateway.New(testLogger()), testLogger())

	m.UpdateOutcome1(0.35) // entry 0.50, 30% drop exceeds 20% threshold
	if !m.CheckStopLoss(1, 0.50) {
		t.Error("expected stop loss to trigger on 30% drop with 20% threshold")
	}
}

func TestPricesReflectsLastUpdate(t *testing.T) {
	t.Parallel()
	m := newTestMonitor()
	m.UpdateOutcome1(0.42)
	m.UpdateOutcome2(0.56)

	o1, o2 := m.Prices()
	if o1 != 0.42 || o2 != 0.56 {
		t.Errorf("Prices() = (%v, %v), want (0.42, 0.56)", o1, o2)
	}
}
