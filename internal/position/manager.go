// Package position implements the Position Manager: an in-memory map of
// every market currently being worked, each with its own state machine
// (pending_split → holding → partial_sold/pending_settlement → settled),
// backed by periodic atomic JSON snapshots so a restart resumes rather than
// rediscovers positions. This mirrors the teacher's original JSON-file
// store (write-to-tmp, then rename) rather than putting live position state
// in the SQL store, which is reserved for durable history and signal state.
package position

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sporthedge/pkg/types"
)

// maxOpenPositions caps how many markets the bot works concurrently.
const maxOpenPositions = 50

// Manager owns every SportsPosition the bot is currently tracking, keyed
// by market slug.
type Manager struct {
	mu         sync.RWMutex
	positions  map[string]*types.SportsPosition
	logger     *slog.Logger
	snapshotAt string // path to the JSON snapshot file
}

// New creates an empty Manager that snapshots to snapshotPath.
func New(snapshotPath string, logger *slog.Logger) *Manager {
	return &Manager{
		positions:  make(map[string]*types.SportsPosition),
		logger:     logger.With("component", "position"),
		snapshotAt: snapshotPath,
	}
}

// Open opens (or creates) a Manager from any existing snapshot at path.
func Open(snapshotPath string, logger *slog.Logger) (*Manager, error) {
	m := New(snapshotPath, logger)
	loaded, err := loadSnapshot(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("load position snapshot: %w", err)
	}
	for slug, pos := range loaded {
		p := pos
		m.positions[slug] = &p
	}
	return m, nil
}

// ErrCapacityReached is returned when OpenPosition would exceed the
// maximum number of concurrently tracked markets.
var ErrCapacityReached = fmt.Errorf("position: at capacity (%d open positions)", maxOpenPositions)

// OpenPosition registers a new market for tracking in the pending_split
// state. Returns ErrCapacityReached if the manager is already at the cap.
func (m *Manager) OpenPosition(marketSlug, conditionID string) (*types.SportsPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.positions[marketSlug]; ok {
		return existing, nil
	}
	if len(m.positions) >= maxOpenPositions {
		return nil, ErrCapacityReached
	}

	pos := &types.SportsPosition{
		MarketSlug:  marketSlug,
		ConditionID: conditionID,
		State:       types.StatePendingSplit,
		OpenedAt:    time.Now(),
		UpdatedAt:   time.Now(),
	}
	m.positions[marketSlug] = pos
	return pos, nil
}

// Get returns the tracked position for a market, or nil if not tracked.
func (m *Manager) Get(marketSlug string) *types.SportsPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[marketSlug]
}

// All returns a snapshot slice of every tracked position.
func (m *Manager) All() []*types.SportsPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.SportsPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Count returns how many markets are currently tracked.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// Transition moves a position to a new state, validating the state machine.
func (m *Manager) Transition(marketSlug string, next types.PositionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketSlug]
	if !ok {
		return fmt.Errorf("position: unknown market %s", marketSlug)
	}
	if !validTransition(pos.State, next) {
		return fmt.Errorf("position: invalid transition %s -> %s for %s", pos.State, next, marketSlug)
	}
	pos.State = next
	pos.UpdatedAt = time.Now()
	return nil
}

func validTransition(from, to types.PositionState) bool {
	if from == to {
		return true
	}
	switch from {
	case types.StatePendingSplit:
		return to == types.StateHolding
	case types.StateHolding:
		return to == types.StatePartialSold || to == types.StatePendingSettlement
	case types.StatePartialSold:
		return to == types.StateFullySold || to == types.StatePendingSettlement
	case types.StatePendingSettlement:
		return to == types.StateSettled
	default:
		return false
	}
}

// RecordFill updates accumulated quantity/cost for a market after a fill,
// tagging which outcome index (1 or 2) was bought.
func (m *Manager) RecordFill(marketSlug string, outcomeIdx int, qty, cost decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketSlug]
	if !ok {
		return fmt.Errorf("position: unknown market %s", marketSlug)
	}
	switch outcomeIdx {
	case 1:
		pos.Outcome1Qty = pos.Outcome1Qty.Add(qty)
		pos.Outcome1Cost = pos.Outcome1Cost.Add(cost)
	case 2:
		pos.Outcome2Qty = pos.Outcome2Qty.Add(qty)
		pos.Outcome2Cost = pos.Outcome2Cost.Add(cost)
	default:
		return fmt.Errorf("position: invalid outcome index %d", outcomeIdx)
	}
	pos.UpdatedAt = time.Now()
	return nil
}

// ClosePosition removes a market from tracking once it has been fully
// settled and redeemed.
func (m *Manager) ClosePosition(marketSlug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, marketSlug)
}

// SetTokens records which sport and CLOB token IDs back a position, filled
// in once at market-discovery time alongside OpenPosition.
func (m *Manager) SetTokens(marketSlug, sport, outcome1Token, outcome2Token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketSlug]
	if !ok {
		return fmt.Errorf("position: unknown market %s", marketSlug)
	}
	pos.Sport = sport
	pos.Outcome1Token = outcome1Token
	pos.Outcome2Token = outcome2Token
	pos.UpdatedAt = time.Now()
	return nil
}

// RecordSale reduces held quantity for outcomeIdx by qty and realizes the
// proportional cost basis against proceeds, used when the losing side is
// dumped on a sell trigger or either side is sold before settlement.
func (m *Manager) RecordSale(marketSlug string, outcomeIdx int, qty, proceeds decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketSlug]
	if !ok {
		return fmt.Errorf("position: unknown market %s", marketSlug)
	}

	var heldQty, heldCost *decimal.Decimal
	switch outcomeIdx {
	case 1:
		heldQty, heldCost = &pos.Outcome1Qty, &pos.Outcome1Cost
	case 2:
		heldQty, heldCost = &pos.Outcome2Qty, &pos.Outcome2Cost
	default:
		return fmt.Errorf("position: invalid outcome index %d", outcomeIdx)
	}

	if qty.GreaterThan(*heldQty) {
		qty = *heldQty
	}
	var costRemoved decimal.Decimal
	if heldQty.IsPositive() {
		costRemoved = heldCost.Mul(qty).Div(*heldQty)
	}

	*heldQty = heldQty.Sub(qty)
	*heldCost = heldCost.Sub(costRemoved)
	pos.RealizedPnL = pos.RealizedPnL.Add(proceeds.Sub(costRemoved))
	pos.UpdatedAt = time.Now()
	return nil
}

// SettleRedemption records the $1/share payout collected for whatever
// shares remained at settlement and zeroes the position's residual cost
// basis, matching realized_pnl = total_sold_revenue + settlement_revenue -
// split_cost once every remaining share has been accounted for.
func (m *Manager) SettleRedemption(marketSlug string, settlementRevenue decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[marketSlug]
	if !ok {
		return fmt.Errorf("position: unknown market %s", marketSlug)
	}

	remainingCost := pos.Outcome1Cost.Add(pos.Outcome2Cost)
	pos.RealizedPnL = pos.RealizedPnL.Add(settlementRevenue.Sub(remainingCost))
	pos.Outcome1Qty, pos.Outcome2Qty = decimal.Zero, decimal.Zero
	pos.Outcome1Cost, pos.Outcome2Cost = decimal.Zero, decimal.Zero
	pos.State = types.StateSettled
	now := time.Now()
	pos.SettledAt = &now
	pos.UpdatedAt = now
	return nil
}

// Snapshot persists every tracked position to disk atomically (write to
// .tmp then rename), matching the crash-safety idiom used throughout this
// codebase for file-backed state.
func (m *Manager) Snapshot() error {
	m.mu.RLock()
	flat := make(map[string]types.SportsPosition, len(m.positions))
	for slug, p := range m.positions {
		flat[slug] = *p
	}
	m.mu.RUnlock()

	data, err := json.Marshal(flat)
	if err != nil {
		return fmt.Errorf("marshal position snapshot: %w", err)
	}

	if dir := filepath.Dir(m.snapshotAt); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmp := m.snapshotAt + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, m.snapshotAt)
}

// RunSnapshotLoop persists the position map every interval until done is
// closed, and once more on exit so the final state before shutdown is saved.
func (m *Manager) RunSnapshotLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Snapshot(); err != nil {
				m.logger.Error("position snapshot failed", "error", err)
			}
		case <-done:
			if err := m.Snapshot(); err != nil {
				m.logger.Error("final position snapshot failed", "error", err)
			}
			return
		}
	}
}

func loadSnapshot(path string) (map[string]types.SportsPosition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]types.SportsPosition{}, nil
		}
		return nil, err
	}
	var flat map[string]types.SportsPosition
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return flat, nil
}

// Summarize computes a PnLSummary across all tracked positions given the
// latest mid prices per market slug, keyed the same way as the position map.
func (m *Manager) Summarize(prices map[string][2]decimal.Decimal) types.PnLSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := types.PnLSummary{GeneratedAt: time.Now(), BySport: make(map[string]*types.SportPnL)}
	for slug, pos := range m.positions {
		summary.RealizedPnL = summary.RealizedPnL.Add(pos.RealizedPnL)
		if p, ok := prices[slug]; ok {
			summary.UnrealizedPnL = summary.UnrealizedPnL.Add(pos.UnrealizedPnL(p[0], p[1]))
		}
		if pos.State == types.StateSettled {
			summary.SettledPositions++

			sport := pos.Sport
			if sport == "" {
				sport = "unknown"
			}
			sp, ok := summary.BySport[sport]
			if !ok {
				sp = &types.SportPnL{Sport: sport}
				summary.BySport[sport] = sp
			}
			sp.RealizedPnL = sp.RealizedPnL.Add(pos.RealizedPnL)
			switch {
			case pos.RealizedPnL.IsPositive():
				sp.Wins++
			case pos.RealizedPnL.IsNegative():
				sp.Losses++
			}
		} else {
			summary.OpenPositions++
		}
	}
	for _, sp := range summary.BySport {
		if total := sp.Wins + sp.Losses; total > 0 {
			sp.WinRate = float64(sp.Wins) / float64(total)
		}
	}
	summary.TotalPnL = summary.RealizedPnL.Add(summary.UnrealizedPnL)
	return summary
}
