// Package pricemonitor tracks the latest known price for each outcome of a
// market, latches a one-shot sell trigger when a winner becomes apparent,
// and periodically probes the venue for a fresh, gateway-rate-limited price
// once the in-memory book might be stale near game end. It also logs any
// sudden drop in what looked like the winning side's price, which is the
// clearest signal something unexpected (a postponed game, a data glitch, a
// genuine reversal) happened.
package pricemonitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"sporthedge/internal/gateway"
)

// nearCertainThreshold is how high an outcome's price must climb before a
// subsequent sharp drop is logged as a winner-side reversal. This is purely
// informational and independent of the sell trigger.
const nearCertainThreshold = 0.97

// defaultSellThreshold is the sell-trigger threshold used when no per-sport
// or default value is configured.
const defaultSellThreshold = 0.25

// freshPriceInterval paces RunGameEndProbe at 10 fresh-price probes per
// second; each probe also waits on the shared Gateway DataAPI bucket.
const freshPriceInterval = 100 * time.Millisecond

// slot holds the latest known state for one outcome token.
type slot struct {
	price       float64
	lastUpdated time.Time
}

// Monitor tracks both outcome slots for one market.
type Monitor struct {
	mu sync.RWMutex

	marketSlug string
	outcome1   slot
	outcome2   slot

	sellThreshold   float64 // low, sport-specific/default threshold for CheckSellTrigger
	sellTriggered   [2]bool // per-side latch, indexed by outcome-1
	stopLossEnabled bool
	stopLossPct     float64

	http   *resty.Client
	gw     *gateway.Gateway
	logger *slog.Logger
}

// Config parameterizes a Monitor.
type Config struct {
	MarketSlug      string
	SellThreshold   float64 // low threshold below which a side's bid fires the sell trigger; zero value defaults to 0.25
	StopLossEnabled bool    // disabled by default per the venue's guidance
	StopLossPct     float64 // e.g. 0.20 means bail if price falls 20% from entry
	DataAPIBaseURL  string
}

// New creates a Monitor for one market.
func New(cfg Config, gw *gateway.Gateway, logger *slog.Logger) *Monitor {
	sellThreshold := cfg.SellThreshold
	if sellThreshold == 0 {
		sellThreshold = defaultSellThreshold
	}
	return &Monitor{
		marketSlug:      cfg.MarketSlug,
		sellThreshold:   sellThreshold,
		stopLossEnabled: cfg.StopLossEnabled,
		stopLossPct:     cfg.StopLossPct,
		http:            resty.New().SetBaseURL(cfg.DataAPIBaseURL).SetTimeout(5 * time.Second),
		gw:              gw,
		logger:          logger.With("component", "pricemonitor", "market", cfg.MarketSlug),
	}
}

// UpdateOutcome1 records a new observed price for outcome 1.
func (m *Monitor) UpdateOutcome1(price float64) {
	m.update(&m.outcome1, price)
}

// UpdateOutcome2 records a new observed price for outcome 2.
func (m *Monitor) UpdateOutcome2(price float64) {
	m.update(&m.outcome2, price)
}

func (m *Monitor) update(s *slot, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.lastUpdated.IsZero() {
		s.price = price
		s.lastUpdated = time.Now()
		return
	}

	// Winner-drop logging: a side that was near-certain (>= threshold)
	// dropping sharply is the clearest "something unexpected happened" signal.
	if s.price >= nearCertainThreshold && price < s.price-0.10 {
		m.logger.Warn("winner-side price dropped sharply",
			"from", s.price, "to", price)
	}

	s.price = price
	s.lastUpdated = time.Now()
}

// Prices returns the last known prices for both outcomes.
func (m *Monitor) Prices() (outcome1, outcome2 float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.outcome1.price, m.outcome2.price
}

// CheckSellTrigger latches (once per side) and reports whether either
// outcome's bid has fallen below the sell threshold while still positive,
// indicating that side is losing and any resting inventory on it should be
// dumped to lock in the profit building on the other leg. The two sides
// latch independently: one side crossing the threshold does not affect the
// other's ability to trigger later in the same cycle.
func (m *Monitor) CheckSellTrigger() (triggered bool, losingOutcome, winningOutcome int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.sellTriggered[0] && m.outcome1.price > 0 && m.outcome1.price < m.sellThreshold:
		m.sellTriggered[0] = true
		return true, 1, 2
	case !m.sellTriggered[1] && m.outcome2.price > 0 && m.outcome2.price < m.sellThreshold:
		m.sellTriggered[1] = true
		return true, 2, 1
	default:
		return false, 0, 0
	}
}

// ResetSellTrigger clears both sides' latches, used when a new cycle starts
// on the same market after a prior cycle's position was fully closed.
func (m *Monitor) ResetSellTrigger() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellTriggered[0] = false
	m.sellTriggered[1] = false
}

// CheckStopLoss reports whether the current price for outcomeIdx has
// fallen stopLossPct below entryPrice. Always false when stop-loss is
// disabled (the default).
func (m *Monitor) CheckStopLoss(outcomeIdx int, entryPrice float64) bool {
	if !m.stopLossEnabled {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var current float64
	switch outcomeIdx {
	case 1:
		current = m.outcome1.price
	case 2:
		current = m.outcome2.price
	default:
		return false
	}

	drop := (entryPrice - current) / entryPrice
	return drop >= m.stopLossPct
}

// freshPriceResponse is the subset of the data-api market response this
// monitor needs for its game-end price probe.
type freshPriceResponse struct {
	Outcome1Price float64 `json:"outcome1Price"`
	Outcome2Price float64 `json:"outcome2Price"`
}

// FetchFreshPrice probes the venue's data-api for a current price,
// bypassing the (possibly stale) local book mirror near game end. Each
// call waits on the shared gateway's DataAPI bucket.
func (m *Monitor) FetchFreshPrice(ctx context.Context, conditionID string) (outcome1, outcome2 float64, err error) {
	var result freshPriceResponse
	execErr := m.gw.Execute(ctx, gateway.DataAPI, "fetch_fresh_price:"+conditionID, func() error {
		resp, reqErr := m.http.R().
			SetContext(ctx).
			SetQueryParam("condition_id", conditionID).
			SetResult(&result).
			Get("/prices")
		if reqErr != nil {
			return reqErr
		}
		if resp.IsError() {
			return fmt.Errorf("fresh price probe: status %d", resp.StatusCode())
		}
		return nil
	})
	if execErr != nil {
		return 0, 0, execErr
	}

	m.UpdateOutcome1(result.Outcome1Price)
	m.UpdateOutcome2(result.Outcome2Price)
	return result.Outcome1Price, result.Outcome2Price, nil
}

// RunGameEndProbe polls FetchFreshPrice every freshPriceInterval until ctx
// is done, intended to run only during the narrow window around a game's
// scheduled end when the book may go stale faster than the WS feed updates.
func (m *Monitor) RunGameEndProbe(ctx context.Context, conditionID string) {
	ticker := time.NewTicker(freshPriceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := m.FetchFreshPrice(ctx, conditionID); err != nil {
				m.logger.Error("fresh price probe failed", "error", err)
			}
		}
	}
}
