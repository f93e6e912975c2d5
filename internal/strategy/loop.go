// Package strategy implements the Per-Market Strategy Loop: one logical
// task per tracked market, owning that market's CycleTracker and
// SportsPosition slot and driving it through accumulation, locking, the
// sell trigger, and settlement. Every state mutation for a market passes
// through this single goroutine's event queue — there is no other writer
// of a market's CycleTracker or SportsPosition.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sporthedge/internal/collateral"
	"sporthedge/internal/cycle"
	"sporthedge/internal/exchange"
	"sporthedge/internal/market"
	"sporthedge/internal/position"
	"sporthedge/internal/pricemonitor"
	"sporthedge/internal/risk"
	"sporthedge/pkg/types"
)

// priceTickInterval governs how often the loop samples its book for the
// sell-trigger and lock-repricing checks outside of fill-driven events.
const priceTickInterval = 2 * time.Second

// gameEndProbeWindow is how long before a market's scheduled end the loop
// starts calling checkGameEnded on every price tick, with no upper bound
// after the end. checkGameEnded only probes the rate-limited fresh price,
// instead of trusting the (possibly stale near game end) WS book mirror,
// once the scheduled end has passed.
const gameEndProbeWindow = 5 * time.Minute

// NotificationKind labels the payload carried by a Notification.
type NotificationKind string

const (
	NotifyFill      NotificationKind = "fill"
	NotifyOrder     NotificationKind = "order"
	NotifyPosition  NotificationKind = "position"
	NotifyKill      NotificationKind = "kill"
)

// Notification is the loop's outbound event for the dashboard relay. The
// engine translates these into api.DashboardEvent without this package
// needing to import the api package.
type Notification struct {
	Kind       NotificationKind
	MarketSlug string
	Trade      types.WSTradeEvent
	Order      types.WSOrderEvent
	Position   types.SportsPosition
	Reason     string
}

// Config parameterizes a Loop for one market.
type Config struct {
	Info           types.MarketInfo
	Sport          string
	SplitAmount    decimal.Decimal // USDC (atomic 6-decimal units) to split on discovery
	PairCostTarget decimal.Decimal
	DryRun         bool

	// Flow detection tuning, carried from config.StrategyConfig.
	FlowWindow              time.Duration
	FlowToxicityThreshold   float64
	FlowCooldownPeriod      time.Duration
	FlowMaxSpreadMultiplier float64
}

// Loop drives one market from discovery through settlement.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	book       *market.Book
	cycle      *cycle.Tracker
	posMgr     *position.Manager
	priceMon   *pricemonitor.Monitor
	flow       *FlowTracker
	executor   *exchange.Executor
	collateral *collateral.Ops
	client     *exchange.Client
	riskMgr    *risk.Manager

	events        chan Event
	notifications chan<- Notification

	// tradeMu serializes order submission so lock placement and the flip/sell
	// path never race each other for the same market, without blocking
	// inbound event delivery.
	tradeMu sync.Mutex
}

// EventKind labels an inbound Event's payload.
type EventKind int

const (
	EventTrade EventKind = iota
	EventOrder
	EventReconnect
)

// Event is the unit of work the loop's serialized queue processes.
type Event struct {
	Kind  EventKind
	Trade types.WSTradeEvent
	Order types.WSOrderEvent
}

// New constructs a Loop. The caller is responsible for registering the
// returned Loop's Push method with whatever routes WS events by token ID.
func New(cfg Config, book *market.Book, posMgr *position.Manager, priceMon *pricemonitor.Monitor, executor *exchange.Executor, ops *collateral.Ops, client *exchange.Client, riskMgr *risk.Manager, notifications chan<- Notification, logger *slog.Logger) *Loop {
	if cfg.FlowWindow == 0 {
		cfg.FlowWindow = 60 * time.Second
	}
	if cfg.FlowToxicityThreshold == 0 {
		cfg.FlowToxicityThreshold = 0.65
	}
	if cfg.FlowCooldownPeriod == 0 {
		cfg.FlowCooldownPeriod = 30 * time.Second
	}
	if cfg.FlowMaxSpreadMultiplier == 0 {
		cfg.FlowMaxSpreadMultiplier = 3.0
	}

	return &Loop{
		cfg:      cfg,
		logger:   logger.With("component", "strategy", "market", cfg.Info.Slug),
		book:     book,
		cycle: cycle.New(cycle.Config{
			MarketSlug:     cfg.Info.Slug,
			PairCostTarget: cfg.PairCostTarget,
		}),
		posMgr:        posMgr,
		priceMon:      priceMon,
		flow:          NewFlowTracker(cfg.FlowWindow, cfg.FlowToxicityThreshold, cfg.FlowCooldownPeriod, cfg.FlowMaxSpreadMultiplier),
		executor:      executor,
		collateral:    ops,
		client:        client,
		riskMgr:       riskMgr,
		events:        make(chan Event, 64),
		notifications: notifications,
	}
}

// Push enqueues an inbound WS event for this market. Non-blocking: a full
// queue drops the event and logs, since the venue's REST reconciliation on
// reconnect is the backstop against a missed fill.
func (l *Loop) Push(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// Run drives the market from discovery through settlement until ctx is
// cancelled. It performs the initial SPLIT synchronously before entering
// the event loop, matching "new market discovered -> request SPLIT; on
// success add the position and begin monitoring."
func (l *Loop) Run(ctx context.Context) {
	if err := l.openPosition(ctx); err != nil {
		l.logger.Error("failed to open position, abandoning market", "error", err)
		return
	}

	ticker := time.NewTicker(priceTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			l.handleEvent(ctx, ev)
		case <-ticker.C:
			l.checkPriceTick(ctx)
		}
	}
}

func (l *Loop) openPosition(ctx context.Context) error {
	info := l.cfg.Info
	pos, err := l.posMgr.OpenPosition(info.Slug, info.ConditionID)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	if err := l.posMgr.SetTokens(info.Slug, l.cfg.Sport, info.YesTokenID, info.NoTokenID); err != nil {
		l.logger.Warn("failed to record outcome tokens", "error", err)
	}

	if pos.State != types.StatePendingSplit {
		return nil // already past discovery, e.g. resumed from a snapshot
	}

	if !l.cfg.DryRun {
		amount := l.cfg.SplitAmount.BigInt()
		if _, err := l.collateral.Split(ctx, info.ConditionID, amount, info.NegRisk); err != nil {
			return fmt.Errorf("split: %w", err)
		}
	}

	if err := l.posMgr.Transition(info.Slug, types.StateHolding); err != nil {
		return fmt.Errorf("transition to holding: %w", err)
	}
	l.notify(Notification{Kind: NotifyPosition, MarketSlug: info.Slug, Position: *l.posMgr.Get(info.Slug)})
	return nil
}

func (l *Loop) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTrade:
		l.handleTrade(ctx, ev.Trade)
	case EventOrder:
		l.handleOrder(ev.Order)
	case EventReconnect:
		l.reconcile(ctx)
	}
}

// handleTrade updates the CycleTracker and Position Manager for a fill,
// adds it to the flow tracker for toxicity scoring, and evaluates whether
// the cycle now needs a new (or repriced) lock order.
func (l *Loop) handleTrade(ctx context.Context, trade types.WSTradeEvent) {
	price, _ := strconv.ParseFloat(trade.Price, 64)
	size, _ := strconv.ParseFloat(trade.Size, 64)
	dprice := decimal.NewFromFloat(price)
	dsize := decimal.NewFromFloat(size)

	side := types.Side(trade.Side)
	outcomeIdx, cycleSide, ok := l.resolveOutcome(trade.AssetID)
	if !ok {
		l.logger.Warn("fill for unknown token", "asset_id", trade.AssetID)
		return
	}

	l.flow.AddFill(Fill{
		Timestamp: time.Now(),
		Side:      side,
		TokenID:   trade.AssetID,
		Price:     price,
		Size:      size,
		TradeID:   trade.ID,
	})

	switch side {
	case types.BUY:
		lockTarget := l.cycle.Snapshot().LockTarget
		if lockTarget != nil && lockTarget.Active && cycle.Side(lockTarget.Side) == cycleSide {
			l.cycle.HandleLockComplete(dsize, dprice)
		} else {
			l.cycle.RecordAccumulation(cycleSide, dsize, dprice)
		}
		if err := l.posMgr.RecordFill(l.cfg.Info.Slug, outcomeIdx, dsize, dsize.Mul(dprice)); err != nil {
			l.logger.Error("record fill failed", "error", err)
		}
	case types.SELL:
		if err := l.posMgr.RecordSale(l.cfg.Info.Slug, outcomeIdx, dsize, dsize.Mul(dprice)); err != nil {
			l.logger.Error("record sale failed", "error", err)
		}
	}

	if pos := l.posMgr.Get(l.cfg.Info.Slug); pos != nil {
		l.notify(Notification{Kind: NotifyFill, MarketSlug: l.cfg.Info.Slug, Trade: trade, Position: *pos})
	}

	l.evaluateLock(ctx)
}

func (l *Loop) handleOrder(order types.WSOrderEvent) {
	l.notify(Notification{Kind: NotifyOrder, MarketSlug: l.cfg.Info.Slug, Order: order})
}

// resolveOutcome maps a CLOB token ID to this market's outcome index (1 for
// YES, 2 for NO) and the matching CycleTracker side.
func (l *Loop) resolveOutcome(tokenID string) (outcomeIdx int, side cycle.Side, ok bool) {
	switch tokenID {
	case l.cfg.Info.YesTokenID:
		return 1, cycle.Side1, true
	case l.cfg.Info.NoTokenID:
		return 2, cycle.Side2, true
	default:
		return 0, "", false
	}
}

func (l *Loop) tokenForSide(side cycle.Side) string {
	if side == cycle.Side1 {
		return l.cfg.Info.YesTokenID
	}
	return l.cfg.Info.NoTokenID
}

// evaluateLock places or reprices the resting lock order that closes the
// gap between the two legs, widening the lock price for observed toxic flow
// so a sweep doesn't walk straight through a thin lock order.
func (l *Loop) evaluateLock(ctx context.Context) {
	if !l.cycle.NeedsLock() || l.cfg.DryRun {
		return
	}

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	params := l.cycle.GetLockParams()
	if mult := l.flow.GetSpreadMultiplier(); mult > 1.0 {
		widened := params.Price.Sub(decimal.NewFromFloat((mult - 1.0) * 0.01))
		if widened.IsPositive() {
			params.Price = widened
		}
	}

	intent := exchange.OrderIntent{
		TokenID:   l.tokenForSide(params.Side),
		Side:      types.BUY,
		Shares:    toFloat(params.Gap),
		MaxPrice:  toFloat(params.Price),
		OrderType: types.OrderTypeGTC,
		TickSize:  l.cfg.Info.TickSize,
	}

	orderID, err := l.executor.PlaceLockOrder(ctx, intent)
	if err != nil {
		l.logger.Error("place lock order failed", "error", err)
		return
	}
	l.cycle.SetLockTarget(params)
	l.logger.Info("lock order placed", "order_id", orderID, "side", params.Side, "gap", params.Gap, "price", params.Price)
}

// checkPriceTick feeds the Price Monitor from the local book and reacts to
// the sell trigger and the game-end window.
func (l *Loop) checkPriceTick(ctx context.Context) {
	if bid, ask, ok := l.book.BestBidAskFor(l.cfg.Info.YesTokenID); ok {
		l.priceMon.UpdateOutcome1((bid + ask) / 2)
	}
	if bid, ask, ok := l.book.BestBidAskFor(l.cfg.Info.NoTokenID); ok {
		l.priceMon.UpdateOutcome2((bid + ask) / 2)
	}

	if triggered, losing, _ := l.priceMon.CheckSellTrigger(); triggered {
		l.sellLosingSide(ctx, losing)
	}

	if time.Until(l.cfg.Info.EndDate) <= gameEndProbeWindow {
		l.checkGameEnded(ctx)
	}

	l.reportRisk()
}

// sellLosingSide places an IOC sell of whatever is held on the outcome whose
// bid crossed the sell-trigger threshold.
func (l *Loop) sellLosingSide(ctx context.Context, losingIdx int) {
	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if pos == nil {
		return
	}
	qty := pos.Outcome1Qty
	tokenID := l.cfg.Info.YesTokenID
	if losingIdx == 2 {
		qty = pos.Outcome2Qty
		tokenID = l.cfg.Info.NoTokenID
	}
	if !qty.IsPositive() {
		return
	}

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	if l.cfg.DryRun {
		l.logger.Info("dry run: would sell losing side", "outcome", losingIdx, "qty", qty)
		return
	}

	intent := exchange.OrderIntent{
		TokenID:   tokenID,
		Side:      types.SELL,
		Shares:    toFloat(qty),
		MaxPrice:  0.01,
		OrderType: types.OrderTypeIOC,
		TickSize:  l.cfg.Info.TickSize,
	}
	result, err := l.executor.PreciseBuy(ctx, intent)
	if err != nil {
		l.logger.Error("sell losing side failed", "error", err)
		return
	}

	proceeds := decimal.NewFromFloat(result.FilledPrice).Mul(decimal.NewFromFloat(result.FilledSize))
	if err := l.posMgr.RecordSale(l.cfg.Info.Slug, losingIdx, decimal.NewFromFloat(result.FilledSize), proceeds); err != nil {
		l.logger.Error("record losing-side sale failed", "error", err)
	}
	_ = l.posMgr.Transition(l.cfg.Info.Slug, types.StatePartialSold)
}

// checkGameEnded probes the venue for a fresh price once the market's
// scheduled end has passed and, once one side has clearly settled near
// $1/$0, either merges a still-balanced position or moves to
// pending_settlement and redeems.
func (l *Loop) checkGameEnded(ctx context.Context) {
	if time.Now().Before(l.cfg.Info.EndDate) {
		return
	}

	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if pos == nil || pos.State == types.StateSettled || pos.State == types.StatePendingSettlement {
		return
	}

	o1, o2, err := l.priceMon.FetchFreshPrice(ctx, l.cfg.Info.ConditionID)
	if err != nil {
		l.logger.Warn("fresh price probe failed", "error", err)
		return
	}
	if o1 < 0.99 && o2 < 0.99 {
		return // no confirmed winner yet
	}

	l.tradeMu.Lock()
	defer l.tradeMu.Unlock()

	bothHeld := pos.Outcome1Qty.IsPositive() && pos.Outcome2Qty.IsPositive()
	if bothHeld && !l.cfg.DryRun {
		mergeAmount := pos.Outcome1Qty
		if pos.Outcome2Qty.LessThan(mergeAmount) {
			mergeAmount = pos.Outcome2Qty
		}
		if _, err := l.collateral.Merge(ctx, l.cfg.Info.ConditionID, mergeAmount.BigInt(), l.cfg.Info.NegRisk); err != nil {
			l.logger.Error("merge failed", "error", err)
			return
		}
		if err := l.posMgr.RecordSale(l.cfg.Info.Slug, 1, mergeAmount, mergeAmount); err != nil {
			l.logger.Error("record merge outcome1 failed", "error", err)
		}
		if err := l.posMgr.RecordSale(l.cfg.Info.Slug, 2, mergeAmount, decimal.Zero); err != nil {
			l.logger.Error("record merge outcome2 failed", "error", err)
		}
	}

	if err := l.posMgr.Transition(l.cfg.Info.Slug, types.StatePendingSettlement); err != nil {
		l.logger.Error("transition to pending_settlement failed", "error", err)
		return
	}

	if l.cfg.DryRun {
		return
	}

	go l.redeem(ctx)
}

func (l *Loop) redeem(ctx context.Context) {
	result, err := l.collateral.Redeem(ctx, l.cfg.Info.ConditionID, l.cfg.Info.NegRisk)
	if err != nil {
		l.logger.Error("redeem failed", "error", err, "attempts", result.Attempts)
		return
	}

	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if pos == nil {
		return
	}
	remaining := pos.Outcome1Qty.Add(pos.Outcome2Qty)
	settlementRevenue := remaining // $1/share payout
	if err := l.posMgr.SettleRedemption(l.cfg.Info.Slug, settlementRevenue); err != nil {
		l.logger.Error("settle redemption bookkeeping failed", "error", err)
		return
	}
	l.priceMon.ResetSellTrigger()
	if settled := l.posMgr.Get(l.cfg.Info.Slug); settled != nil {
		l.notify(Notification{Kind: NotifyPosition, MarketSlug: l.cfg.Info.Slug, Position: *settled})
	}
	l.logger.Info("redeemed", "tx_hash", result.TxHash)
}

// reconcile forces a position-state check against the venue's live open
// orders after a user-channel reconnect, so a fill that raced the
// disconnect isn't silently missed.
func (l *Loop) reconcile(ctx context.Context) {
	open, err := l.client.GetOpenOrders(ctx, l.cfg.Info.ConditionID)
	if err != nil {
		l.logger.Error("reconcile: failed to fetch open orders", "error", err)
		return
	}
	if len(open) == 0 {
		// No resting orders survived the gap; if the tracker still thinks a
		// lock is active, it was either filled or cancelled while disconnected.
		if snap := l.cycle.Snapshot(); snap.LockTarget != nil && snap.LockTarget.Active {
			l.cycle.ClearLockTarget()
			l.evaluateLock(ctx)
		}
	}
	l.logger.Info("reconciled open orders after reconnect", "count", len(open))
}

func (l *Loop) reportRisk() {
	if l.riskMgr == nil {
		return
	}
	pos := l.posMgr.Get(l.cfg.Info.Slug)
	if pos == nil {
		return
	}
	bid1, ask1, _ := l.book.BestBidAskFor(l.cfg.Info.YesTokenID)
	mid := (bid1 + ask1) / 2
	exposure := toFloat(pos.Outcome1Cost.Add(pos.Outcome2Cost))
	l.riskMgr.Report(risk.PositionReport{
		MarketID:      l.cfg.Info.ConditionID,
		YesQty:        toFloat(pos.Outcome1Qty),
		NoQty:         toFloat(pos.Outcome2Qty),
		MidPrice:      mid,
		ExposureUSD:   exposure,
		UnrealizedPnL: toFloat(pos.UnrealizedPnL(decimal.NewFromFloat(bid1), decimal.NewFromFloat(ask1))),
		RealizedPnL:   toFloat(pos.RealizedPnL),
		Timestamp:     time.Now(),
	})
}

func (l *Loop) notify(n Notification) {
	if l.notifications == nil {
		return
	}
	select {
	case l.notifications <- n:
	default:
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
