package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of a SportsPosition as it moves from
// discovery through settlement. Transitions:
//
//	pending_split -> holding -> partial_sold -> pending_settlement -> settled
//	                         \-> fully_sold (rare: both sides sold before game end)
type PositionState string

const (
	StatePendingSplit       PositionState = "pending_split"
	StateHolding            PositionState = "holding"
	StatePartialSold        PositionState = "partial_sold"
	StatePendingSettlement  PositionState = "pending_settlement"
	StateSettled            PositionState = "settled"
	StateFullySold          PositionState = "fully_sold"
)

// Position is a generic holding of one outcome token, shared by the
// arbitrage and sports position tables in the persistent store.
type Position struct {
	ID          int64           `json:"id"`
	MarketSlug  string          `json:"market_slug"`
	ConditionID string          `json:"condition_id"`
	TokenID     string          `json:"token_id"`
	OutcomeIdx  int             `json:"outcome_index"`
	Shares      decimal.Decimal `json:"shares"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ArbitragePosition records a cross-market hedge opened by the arbitrage
// side of the strategy loop (split collateral, hold both legs).
type ArbitragePosition struct {
	ID           int64           `json:"id"`
	ConditionID  string          `json:"condition_id"`
	NegRisk      bool            `json:"neg_risk"`
	SplitAmount  decimal.Decimal `json:"split_amount"`
	Outcome1Cost decimal.Decimal `json:"outcome1_cost"`
	Outcome2Cost decimal.Decimal `json:"outcome2_cost"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// ArbitrageTrade is one fill belonging to an ArbitragePosition.
type ArbitrageTrade struct {
	ID           int64           `json:"id"`
	PositionID   int64           `json:"position_id"`
	TokenID      string          `json:"token_id"`
	Side         Side            `json:"side"`
	Shares       decimal.Decimal `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// ScalpOrder is a resting lock order placed to capture the remaining gap
// between the two legs of a cycle (see CycleState.LockTarget).
type ScalpOrder struct {
	ID         int64           `json:"id"`
	MarketSlug string          `json:"market_slug"`
	TokenID    string          `json:"token_id"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Shares     decimal.Decimal `json:"shares"`
	OrderID    string          `json:"order_id"`
	PlacedAt   time.Time       `json:"placed_at"`
	FilledAt   *time.Time      `json:"filled_at,omitempty"`
}

// SportsPosition is the per-market record the Position Manager owns for
// the lifetime of a two-outcome sports cycle: how many shares of each
// outcome are held, their cost basis, and where the position sits in its
// state machine.
type SportsPosition struct {
	MarketSlug    string          `json:"market_slug"`
	ConditionID   string          `json:"condition_id"`
	Sport         string          `json:"sport"`
	Outcome1Token string          `json:"outcome1_token"`
	Outcome2Token string          `json:"outcome2_token"`
	Outcome1Qty   decimal.Decimal `json:"outcome1_qty"`
	Outcome2Qty   decimal.Decimal `json:"outcome2_qty"`
	Outcome1Cost  decimal.Decimal `json:"outcome1_cost"` // cumulative cost basis, not per-share
	Outcome2Cost  decimal.Decimal `json:"outcome2_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	State         PositionState   `json:"state"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

// UnrealizedPnL marks the position to the given current per-share prices
// for outcome1 and outcome2.
func (p *SportsPosition) UnrealizedPnL(price1, price2 decimal.Decimal) decimal.Decimal {
	value1 := p.Outcome1Qty.Mul(price1)
	value2 := p.Outcome2Qty.Mul(price2)
	cost := p.Outcome1Cost.Add(p.Outcome2Cost)
	return value1.Add(value2).Sub(cost)
}

// PnLSummary aggregates realized and unrealized PnL across all positions
// held by the Position Manager.
type PnLSummary struct {
	RealizedPnL      decimal.Decimal      `json:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal      `json:"unrealized_pnl"`
	TotalPnL         decimal.Decimal      `json:"total_pnl"`
	OpenPositions    int                  `json:"open_positions"`
	SettledPositions int                  `json:"settled_positions"`
	BySport          map[string]*SportPnL `json:"by_sport"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// SportPnL partitions realized PnL and win/loss counts over settled
// positions for a single sport.
type SportPnL struct {
	Sport       string          `json:"sport"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     float64         `json:"win_rate"` // wins / (wins+losses); 0 if none settled
}

// LockTarget describes the resting lock order the Cycle Tracker wants
// placed on the opposite side of an accumulation, sized to pin down a
// guaranteed pair cost once both legs fill.
type LockTarget struct {
	Side   string          `json:"side"` // the outcome token side being locked
	Gap    decimal.Decimal `json:"gap"`  // shares needed to balance the position
	Price  decimal.Decimal `json:"price"`
	SetAt  time.Time       `json:"set_at"`
	Active bool            `json:"active"`
}

// CycleState is the Cycle Tracker's bookkeeping for one market's current
// accumulate/lock cycle: how many shares of each side have been bought,
// their cumulative cost, and whether a lock order is currently resting.
//
// InitialAccumPrice is fixed by the first accumulation of the cycle and
// never changes afterward — it is the price ceiling every subsequent
// accumulation on the same cycle must stay at or under.
type CycleState struct {
	MarketSlug        string              `json:"market_slug"`
	Side1Qty          decimal.Decimal     `json:"side1_qty"`
	Side1Cost         decimal.Decimal     `json:"side1_cost"`
	Side2Qty          decimal.Decimal     `json:"side2_qty"`
	Side2Cost         decimal.Decimal     `json:"side2_cost"`
	CycleNumber       int                 `json:"cycle_number"`
	InitialAccumPrice *decimal.Decimal    `json:"initial_accum_price,omitempty"`
	InitialAccumSide  string              `json:"initial_accum_side,omitempty"`
	ActiveAccumSide   string              `json:"active_accum_side,omitempty"`
	Accumulations     []AccumulationEntry `json:"accumulations,omitempty"`
	LockTarget        *LockTarget         `json:"lock_target,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
}

// AccumulationEntry records one accumulation fill within a cycle, kept as
// history alongside the rolled-up per-side qty/cost totals.
type AccumulationEntry struct {
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Shares decimal.Decimal `json:"shares"`
	At     time.Time       `json:"at"`
}

// CapitalBaseline is the single-row (id=1) record of starting capital used
// to compute overall ROI across the lifetime of the bot.
type CapitalBaseline struct {
	ID              int             `json:"id"`
	StartingCapital decimal.Decimal `json:"starting_capital"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// Signal is an inbound trading-state update from the upstream signal
// source, bucketed into its 15-minute market window.
type Signal struct {
	ID          int64     `json:"id"`
	Timestamp   int64     `json:"timestamp"`   // unix seconds, as received
	MarketStart int64     `json:"market_start"` // unix millis, floored to the 15-minute window
	State       string    `json:"state"`
	ReceivedAt  time.Time `json:"received_at"`
}

// RedemptionTracking records redemption attempts for a condition so the
// Collateral Operations component can enforce the hard 2-attempt cap and
// avoid re-redeeming an already-settled condition.
type RedemptionTracking struct {
	ConditionID      string     `json:"condition_id"`
	Attempts         int        `json:"attempts"`
	Side1Redeemed    bool       `json:"side1_redeemed"`
	Side2Redeemed    bool       `json:"side2_redeemed"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	RedeemedAt       *time.Time `json:"redeemed_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// PriceHistoryEntry is one sampled price point, used by the Price Monitor's
// winner-drop logging and by post-hoc analysis.
type PriceHistoryEntry struct {
	MarketSlug string    `json:"market_slug"`
	TokenID    string    `json:"token_id"`
	Price      float64   `json:"price"`
	SampledAt  time.Time `json:"sampled_at"`
}

// UserFill is a durable record of a fill received over the user WebSocket
// channel, independent of which strategy component it belongs to.
type UserFill struct {
	ID         int64     `json:"id"`
	TradeID    string    `json:"trade_id"`
	MarketSlug string    `json:"market_slug"`
	TokenID    string    `json:"token_id"`
	Side       Side      `json:"side"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	FilledAt   time.Time `json:"filled_at"`
}
