// Package cycle implements the accumulate/lock bookkeeping for one
// market's hedging cycle: track how many shares of each outcome have been
// bought and at what cost, decide when a resting lock order is needed to
// pin down the guaranteed pair cost, and recognize when the cycle has
// become profit-locked regardless of which side the game ultimately lands
// on.
//
// A cycle accumulates one side (say UP) while its price stays under the
// accumulation ceiling. Once the position is imbalanced, the tracker
// computes a lock order on the opposite side (DOWN) sized to close the gap
// at a price that brings the combined pair cost under the target. Once
// both sides hold equal shares at a total cost below 1.00/share, the cycle
// is profit-locked: whichever side wins, the $1 payout on the winning
// shares exceeds what was paid for both legs combined.
package cycle

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sporthedge/pkg/types"
)

var (
	one        = decimal.NewFromInt(1)
	minLockPx  = decimal.NewFromFloat(0.01)
	defaultTgt = decimal.NewFromFloat(0.98)
)

// Side identifies one of the two outcome legs tracked by a cycle.
type Side string

const (
	Side1 Side = "SIDE1"
	Side2 Side = "SIDE2"
)

func (s Side) opposite() Side {
	if s == Side1 {
		return Side2
	}
	return Side1
}

// LockParams describes the resting order needed to close the current gap
// between the two legs and bring the cycle to (or below) the pair cost
// target.
type LockParams struct {
	Side  Side
	Gap   decimal.Decimal
	Price decimal.Decimal
}

// Tracker owns the CycleState for a single market and exposes the
// accumulate/lock decision operations the Per-Market Strategy Loop calls
// on every tick and fill.
type Tracker struct {
	mu sync.Mutex

	marketSlug     string
	pairCostTarget decimal.Decimal // target combined cost per locked pair

	state types.CycleState
}

// Config parameterizes a new Tracker.
type Config struct {
	MarketSlug     string
	PairCostTarget decimal.Decimal // e.g. 0.98 — zero value defaults to 0.98
}

// New creates a Tracker starting its first cycle.
func New(cfg Config) *Tracker {
	target := cfg.PairCostTarget
	if target.IsZero() {
		target = defaultTgt
	}
	return &Tracker{
		marketSlug:     cfg.MarketSlug,
		pairCostTarget: target,
		state: types.CycleState{
			MarketSlug:  cfg.MarketSlug,
			Side1Qty:    decimal.Zero,
			Side1Cost:   decimal.Zero,
			Side2Qty:    decimal.Zero,
			Side2Cost:   decimal.Zero,
			CycleNumber: 1,
			StartedAt:   time.Now(),
		},
	}
}

// CanAccumulate reports whether price is low enough to keep buying the
// given side without breaking the cycle's price ceiling. The ceiling isn't
// statically configured: it's fixed by the cycle's first accumulation
// (InitialAccumPrice) and stays in force for the rest of the cycle. Before
// any accumulation has happened, the ceiling is unset and any price is
// accepted.
func (t *Tracker) CanAccumulate(side Side, price decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.InitialAccumPrice == nil {
		return true
	}
	return price.LessThanOrEqual(*t.state.InitialAccumPrice)
}

// RecordAccumulation records a buy of shares at price on the given side. On
// the cycle's first accumulation, it also fixes InitialAccumPrice and
// InitialAccumSide — the permanent ceiling CanAccumulate compares against
// for the rest of the cycle.
func (t *Tracker) RecordAccumulation(side Side, shares, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.InitialAccumPrice == nil {
		p := price
		t.state.InitialAccumPrice = &p
		t.state.InitialAccumSide = string(side)
	}
	t.state.ActiveAccumSide = string(side)
	t.state.Accumulations = append(t.state.Accumulations, types.AccumulationEntry{
		Side:   string(side),
		Price:  price,
		Shares: shares,
		At:     time.Now(),
	})

	cost := shares.Mul(price)
	switch side {
	case Side1:
		t.state.Side1Qty = t.state.Side1Qty.Add(shares)
		t.state.Side1Cost = t.state.Side1Cost.Add(cost)
	case Side2:
		t.state.Side2Qty = t.state.Side2Qty.Add(shares)
		t.state.Side2Cost = t.state.Side2Cost.Add(cost)
	}
}

// NeedsLock reports whether the cycle is imbalanced (one side holds more
// shares than the other) and does not already have an active lock target.
func (t *Tracker) NeedsLock() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.LockTarget != nil && t.state.LockTarget.Active {
		return false
	}
	return !t.state.Side1Qty.Equal(t.state.Side2Qty)
}

// GetLockParams computes the lock order needed to close the current gap.
// The heavier side's average entry price determines how much room remains
// under the pair cost target: lockPrice = max(0.01, target - heavyAvgPrice).
func (t *Tracker) GetLockParams() LockParams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockParamsLocked()
}

func (t *Tracker) lockParamsLocked() LockParams {
	var light Side
	var heavyQty, heavyCost, lightQty decimal.Decimal

	if t.state.Side1Qty.GreaterThan(t.state.Side2Qty) {
		light = Side2
		heavyQty, heavyCost, lightQty = t.state.Side1Qty, t.state.Side1Cost, t.state.Side2Qty
	} else {
		light = Side1
		heavyQty, heavyCost, lightQty = t.state.Side2Qty, t.state.Side2Cost, t.state.Side1Qty
	}

	gap := heavyQty.Sub(lightQty)

	var heavyAvg decimal.Decimal
	if heavyQty.IsPositive() {
		heavyAvg = heavyCost.Div(heavyQty)
	}

	price := t.pairCostTarget.Sub(heavyAvg)
	if price.LessThan(minLockPx) {
		price = minLockPx
	}

	return LockParams{Side: light, Gap: gap, Price: price}
}

// SetLockTarget records that a lock order has been placed, so NeedsLock
// stops firing until it is cleared or completes.
func (t *Tracker) SetLockTarget(params LockParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LockTarget = &types.LockTarget{
		Side:   string(params.Side),
		Gap:    params.Gap,
		Price:  params.Price,
		SetAt:  time.Now(),
		Active: true,
	}
}

// UpdateLockTarget replaces the active lock target's price/gap, used when
// the book has moved enough that the resting order needs repricing.
func (t *Tracker) UpdateLockTarget(params LockParams) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.LockTarget == nil {
		t.state.LockTarget = &types.LockTarget{Active: true}
	}
	t.state.LockTarget.Side = string(params.Side)
	t.state.LockTarget.Gap = params.Gap
	t.state.LockTarget.Price = params.Price
	t.state.LockTarget.SetAt = time.Now()
}

// ClearLockTarget removes the active lock target without recording a fill
// (e.g. the order was cancelled).
func (t *Tracker) ClearLockTarget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LockTarget = nil
}

// HandleLockComplete records the fill of the lock order (closing the gap)
// and clears the lock target.
func (t *Tracker) HandleLockComplete(shares, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.LockTarget == nil {
		return
	}
	side := Side(t.state.LockTarget.Side)
	cost := shares.Mul(price)
	switch side {
	case Side1:
		t.state.Side1Qty = t.state.Side1Qty.Add(shares)
		t.state.Side1Cost = t.state.Side1Cost.Add(cost)
	case Side2:
		t.state.Side2Qty = t.state.Side2Qty.Add(shares)
		t.state.Side2Cost = t.state.Side2Cost.Add(cost)
	}
	t.state.LockTarget = nil
}

// IsProfitLocked reports whether the position is balanced (equal shares on
// both sides) and the combined cost of both legs is below the guaranteed
// $1/share payout of the winning side.
func (t *Tracker) IsProfitLocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Side1Qty.IsZero() || !t.state.Side1Qty.Equal(t.state.Side2Qty) {
		return false
	}
	totalCost := t.state.Side1Cost.Add(t.state.Side2Cost)
	payout := t.state.Side1Qty.Mul(one)
	return payout.GreaterThan(totalCost)
}

// GetPairCost returns the combined cost per locked pair: total cost of
// both legs divided by the smaller leg's share count. Returns zero if
// either leg is empty.
func (t *Tracker) GetPairCost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	minQty := t.state.Side1Qty
	if t.state.Side2Qty.LessThan(minQty) {
		minQty = t.state.Side2Qty
	}
	if minQty.IsZero() {
		return decimal.Zero
	}
	totalCost := t.state.Side1Cost.Add(t.state.Side2Cost)
	return totalCost.Div(minQty)
}

// StartNewCycle resets accumulation state and increments the cycle number.
func (t *Tracker) StartNewCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = types.CycleState{
		MarketSlug:  t.marketSlug,
		Side1Qty:    decimal.Zero,
		Side1Cost:   decimal.Zero,
		Side2Qty:    decimal.Zero,
		Side2Cost:   decimal.Zero,
		CycleNumber: t.state.CycleNumber + 1,
		StartedAt:   time.Now(),
	}
}

// Snapshot returns a copy of the current cycle state, for persistence and
// dashboard reporting.
func (t *Tracker) Snapshot() types.CycleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
