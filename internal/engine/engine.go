// Package engine is the central orchestrator of the hedging bot.
//
// It wires together all subsystems:
//
//  1. Scanner discovers tradeable sports markets on Polymarket.
//  2. Engine starts/stops a strategy.Loop goroutine per market (reconcileMarkets).
//  3. Each market gets a Book (order book mirror), a PriceMonitor, and a
//     strategy.Loop that drives it through split → accumulate → lock →
//     sell-trigger → merge/redeem, all against the shared Position Manager.
//  4. Two WebSocket feeds (market data + user fills) dispatch events to the
//     correct market slot.
//  5. Risk manager monitors all markets and can trigger a kill switch.
//  6. Balance Monitor and Collateral Operations track and move on-chain
//     USDC/outcome-token collateral behind a shared rate-limited Gateway.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"sporthedge/internal/api"
	"sporthedge/internal/balance"
	"sporthedge/internal/collateral"
	"sporthedge/internal/config"
	"sporthedge/internal/exchange"
	"sporthedge/internal/gateway"
	"sporthedge/internal/market"
	"sporthedge/internal/position"
	"sporthedge/internal/pricemonitor"
	"sporthedge/internal/risk"
	"sporthedge/internal/store"
	"sporthedge/internal/strategy"
	"sporthedge/pkg/types"
)

// marketSlot represents one actively-traded market: its book mirror, price
// monitor, and the strategy.Loop goroutine driving it. All position and
// cycle state lives inside the Loop and the shared Position Manager — the
// slot itself is just the handle the engine uses to route events and tear
// the market down.
type marketSlot struct {
	info     types.MarketInfo
	book     *market.Book
	priceMon *pricemonitor.Monitor
	loop     *strategy.Loop
	cancel   context.CancelFunc
}

// Engine orchestrates all components of the hedging system.
// It owns the lifecycle of all goroutines and manages market start/stop transitions.
type Engine struct {
	cfg        config.Config
	client     *exchange.Client
	auth       *exchange.Auth
	mktFeed    *exchange.WSFeed
	usrFeed    *exchange.WSFeed
	scanner    *market.Scanner
	riskMgr    *risk.Manager
	store      *store.Store
	posMgr     *position.Manager
	gw         *gateway.Gateway
	balanceMon *balance.Monitor
	collateral *collateral.Ops
	executor   *exchange.Executor
	logger     *slog.Logger

	// slots maps conditionID → running market. Protected by slotsMu.
	slots   map[string]*marketSlot
	slotsMu sync.RWMutex

	// tokenMap maps tokenID → conditionID so WS market events (keyed by token)
	// can be routed to the correct market slot (keyed by condition).
	tokenMap   map[string]string
	tokenMapMu sync.RWMutex

	// dashboardEvents is an optional channel for sending events to the dashboard.
	// Nil if dashboard is disabled.
	dashboardEvents chan api.DashboardEvent

	// notifications is the shared fan-in every market's strategy.Loop writes
	// to; consumeNotifications translates these into dashboard events.
	notifications chan strategy.Notification

	snapshotDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
// If L2 API credentials aren't configured, it derives them via L1 (EIP-712) auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)

	// Derive API key if not provided
	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1...")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	mktFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)
	scanner := market.NewScanner(cfg, logger)
	riskMgr := risk.NewManager(cfg.Risk, logger)

	st, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, err
	}

	posMgr, err := position.Open(cfg.Store.PositionSnapshotPath, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open position snapshot: %w", err)
	}

	gw := gateway.New(logger)

	var eth *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		eth, err = ethclient.Dial(cfg.Chain.RPCURL)
		if err != nil {
			logger.Warn("failed to dial chain RPC, direct-signed-tx collateral path disabled", "error", err)
			eth = nil
		}
	}

	collateralCfg := collateral.Config{
		CTFAddress:         cfg.Contracts.CTFAddress,
		NegRiskAdapter:     cfg.Contracts.NegRiskAdapter,
		USDCAddress:        cfg.Contracts.USDCAddress,
		ChainID:            int64(cfg.Wallet.ChainID),
		RelayerURL:         cfg.Relayer.BuilderRelayerURL,
		PayOwnGas:          cfg.Execution.PayOwnGas,
		UseDirectExecution: cfg.Execution.UseDirectExecution,
	}
	collateralOps, err := collateral.New(collateralCfg, eth, auth, gw, st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init collateral ops: %w", err)
	}

	balanceMon := balance.New(balance.Config{
		Address:     auth.FunderAddress().Hex(),
		USDCAddress: cfg.Contracts.USDCAddress,
		RPCURL:      cfg.Chain.RPCURL,
		WSRPCURL:    cfg.Chain.WSSRPCURL,
	}, logger)

	executor := exchange.NewExecutor(client, exchange.ExecutorConfig{}, logger)

	ctx, cancel := context.WithCancel(context.Background())

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	return &Engine{
		cfg:             cfg,
		client:          client,
		auth:            auth,
		mktFeed:         mktFeed,
		usrFeed:         usrFeed,
		scanner:         scanner,
		riskMgr:         riskMgr,
		store:           st,
		posMgr:          posMgr,
		gw:              gw,
		balanceMon:      balanceMon,
		collateral:      collateralOps,
		executor:        executor,
		logger:          logger.With("component", "engine"),
		slots:           make(map[string]*marketSlot),
		tokenMap:        make(map[string]string),
		dashboardEvents: dashEvents,
		notifications:   make(chan strategy.Notification, 256),
		snapshotDone:    make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

// Start launches all background goroutines: WS feeds, scanner, risk manager,
// balance monitor, event dispatchers, and the main market management loop.
func (e *Engine) Start() error {
	e.usrFeed.OnReconnect(e.handleUserReconnect)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scanner.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	if _, err := e.balanceMon.Refresh(e.ctx); err != nil {
		e.logger.Warn("initial balance refresh failed", "error", err)
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.balanceMon.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.posMgr.RunSnapshotLoop(e.snapshotDone, 30*time.Second)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchMarketEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchUserEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consumeNotifications()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.manageMarkets()
	}()

	return nil
}

// Stop gracefully shuts down: cancels all contexts, sends a cancel-all to the
// exchange as a safety net, persists final positions, waits for goroutines,
// and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	close(e.snapshotDone)

	cancelCtx, cancelCancel := context.WithTimeout(context.Background(), e.cfg.Strategy.StaleBookTimeout)
	defer cancelCancel()
	if _, err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	e.wg.Wait()

	if err := e.posMgr.Snapshot(); err != nil {
		e.logger.Error("final position snapshot failed", "error", err)
	}

	e.mktFeed.Close()
	e.usrFeed.Close()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// manageMarkets is the main engine loop. It reacts to two events:
// - Scanner results: start/stop markets to match the latest opportunity set.
// - Kill signals from the risk manager: immediately stop affected markets.
func (e *Engine) manageMarkets() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case result := <-e.scanner.Results():
			e.reconcileMarkets(result)
		case kill := <-e.riskMgr.KillCh():
			e.handleKillSignal(kill)
		}
	}
}

// reconcileMarkets diffs the desired market set (from scanner) against currently
// running markets. Stops markets no longer desired, starts newly discovered ones.
func (e *Engine) reconcileMarkets(result market.ScanResult) {
	desired := make(map[string]types.MarketAllocation)
	for _, alloc := range result.Markets {
		desired[alloc.Market.ConditionID] = alloc
	}

	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()

	for id := range e.slots {
		if _, ok := desired[id]; !ok {
			e.stopMarketLocked(id)
		}
	}

	for id, alloc := range desired {
		if _, ok := e.slots[id]; !ok {
			e.startMarketLocked(alloc)
		}
	}
}

func (e *Engine) startMarketLocked(alloc types.MarketAllocation) {
	info := alloc.Market
	if info.YesTokenID == "" || info.NoTokenID == "" {
		e.logger.Warn("skipping market with missing token IDs", "slug", info.Slug)
		return
	}

	book := market.NewBook(info.ConditionID, info.YesTokenID, info.NoTokenID)

	sport := sportFromMarket(info)
	sellThreshold := e.cfg.Signal.DefaultSellThreshold
	if t, ok := e.cfg.Signal.SellThresholdBySport[sport]; ok {
		sellThreshold = t
	}

	priceMon := pricemonitor.New(pricemonitor.Config{
		MarketSlug:     info.Slug,
		SellThreshold:  sellThreshold,
		DataAPIBaseURL: e.cfg.API.GammaBaseURL,
	}, e.gw, e.logger)

	loopCfg := strategy.Config{
		Info:                    info,
		Sport:                   sport,
		SplitAmount:             decimal.NewFromFloat(alloc.MaxPositionUSD).Shift(6),
		PairCostTarget:          decimal.NewFromFloat(e.cfg.Execution.PairCostTarget),
		DryRun:                  e.cfg.DryRun,
		FlowWindow:              e.cfg.Strategy.FlowWindow,
		FlowToxicityThreshold:   e.cfg.Strategy.FlowToxicityThreshold,
		FlowCooldownPeriod:      e.cfg.Strategy.FlowCooldownPeriod,
		FlowMaxSpreadMultiplier: e.cfg.Strategy.FlowMaxSpreadMultiplier,
	}

	loop := strategy.New(loopCfg, book, e.posMgr, priceMon, e.executor, e.collateral, e.client, e.riskMgr, e.notifications, e.logger)

	ctx, cancel := context.WithCancel(e.ctx)

	slot := &marketSlot{
		info:     info,
		book:     book,
		priceMon: priceMon,
		loop:     loop,
		cancel:   cancel,
	}

	e.slots[info.ConditionID] = slot

	e.tokenMapMu.Lock()
	e.tokenMap[info.YesTokenID] = info.ConditionID
	e.tokenMap[info.NoTokenID] = info.ConditionID
	e.tokenMapMu.Unlock()

	e.mktFeed.Subscribe(ctx, []string{info.YesTokenID, info.NoTokenID})
	e.usrFeed.Subscribe(ctx, []string{info.ConditionID})

	for _, tokenID := range []string{info.YesTokenID, info.NoTokenID} {
		resp, err := e.client.GetOrderBook(ctx, tokenID)
		if err != nil {
			e.logger.Error("failed to get initial book", "token", tokenID, "error", err)
			continue
		}
		book.ApplyBookResponse(resp)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		loop.Run(ctx)
	}()

	e.logger.Info("market started",
		"slug", info.Slug,
		"condition_id", info.ConditionID,
		"spread", info.Spread,
		"score", alloc.Score,
	)
}

func (e *Engine) stopMarketLocked(conditionID string) {
	slot, ok := e.slots[conditionID]
	if !ok {
		return
	}

	slot.cancel()

	e.mktFeed.Unsubscribe(e.ctx, []string{slot.info.YesTokenID, slot.info.NoTokenID})
	e.usrFeed.Unsubscribe(e.ctx, []string{conditionID})

	e.riskMgr.RemoveMarket(conditionID)

	e.tokenMapMu.Lock()
	delete(e.tokenMap, slot.info.YesTokenID)
	delete(e.tokenMap, slot.info.NoTokenID)
	e.tokenMapMu.Unlock()

	delete(e.slots, conditionID)

	e.logger.Info("market stopped", "slug", slot.info.Slug)
}

func (e *Engine) handleKillSignal(kill risk.KillSignal) {
	e.logger.Error("KILL SIGNAL received",
		"market", kill.MarketID,
		"reason", kill.Reason,
	)

	e.emitDashboardEvent(api.DashboardEvent{
		Type:      "kill",
		Timestamp: time.Now(),
		MarketID:  kill.MarketID,
		Data: api.NewKillEvent(
			kill.Reason,
			kill.Reason,
			time.Now().Add(e.cfg.Risk.CooldownAfterKill),
			kill.MarketID,
		),
	})

	e.slotsMu.Lock()
	defer e.slotsMu.Unlock()

	if kill.MarketID == "" {
		for id := range e.slots {
			e.stopMarketLocked(id)
		}
		cancelCtx, cancelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := e.client.CancelAll(cancelCtx); err != nil {
			e.logger.Error("failed to cancel all orders", "error", err)
		}
		cancelCancel()
	} else {
		e.stopMarketLocked(kill.MarketID)
	}
}

// dispatchMarketEvents routes WS market events to the correct slot's Book.
func (e *Engine) dispatchMarketEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.mktFeed.BookEvents():
			e.routeBookEvent(evt)
		case evt := <-e.mktFeed.PriceChangeEvents():
			e.routePriceChange(evt)
		}
	}
}

func (e *Engine) routeBookEvent(evt types.WSBookEvent) {
	e.tokenMapMu.RLock()
	conditionID, ok := e.tokenMap[evt.AssetID]
	e.tokenMapMu.RUnlock()
	if !ok {
		return
	}

	e.slotsMu.RLock()
	slot, ok := e.slots[conditionID]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}

	slot.book.ApplyBookEvent(evt)
}

func (e *Engine) routePriceChange(evt types.WSPriceChangeEvent) {
	if len(evt.PriceChanges) == 0 {
		return
	}

	e.tokenMapMu.RLock()
	conditionID, ok := e.tokenMap[evt.PriceChanges[0].AssetID]
	e.tokenMapMu.RUnlock()
	if !ok {
		return
	}

	e.slotsMu.RLock()
	slot, ok := e.slots[conditionID]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}

	slot.book.ApplyPriceChange(evt)
}

// dispatchUserEvents routes WS user events to the correct slot's Loop.
func (e *Engine) dispatchUserEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case trade := <-e.usrFeed.TradeEvents():
			e.routeTrade(trade)
		case order := <-e.usrFeed.OrderEvents():
			e.routeOrder(order)
		}
	}
}

func (e *Engine) routeTrade(trade types.WSTradeEvent) {
	e.slotsMu.RLock()
	slot, ok := e.slots[trade.Market]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}
	slot.loop.Push(strategy.Event{Kind: strategy.EventTrade, Trade: trade})
}

func (e *Engine) routeOrder(order types.WSOrderEvent) {
	e.slotsMu.RLock()
	slot, ok := e.slots[order.Market]
	e.slotsMu.RUnlock()
	if !ok {
		return
	}
	slot.loop.Push(strategy.Event{Kind: strategy.EventOrder, Order: order})
}

// handleUserReconnect notifies every live market that the user feed just
// reconnected, so each Loop reconciles its open orders against the venue.
func (e *Engine) handleUserReconnect() {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()
	for _, slot := range e.slots {
		slot.loop.Push(strategy.Event{Kind: strategy.EventReconnect})
	}
}

// consumeNotifications translates strategy.Loop notifications into dashboard
// events, keeping the strategy package decoupled from the api package.
func (e *Engine) consumeNotifications() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case n := <-e.notifications:
			e.translateNotification(n)
		}
	}
}

func (e *Engine) translateNotification(n strategy.Notification) {
	switch n.Kind {
	case strategy.NotifyFill:
		snap := positionSnapshotOf(&n.Position)
		price, _ := decimalFromString(n.Trade.Price).Float64()
		size, _ := decimalFromString(n.Trade.Size).Float64()
		e.emitDashboardEvent(api.DashboardEvent{
			Type:      "fill",
			Timestamp: time.Now(),
			MarketID:  n.MarketSlug,
			Data:      api.NewFillEvent(n.Trade, snap, n.MarketSlug, price, size),
		})
	case strategy.NotifyOrder:
		price, _ := decimalFromString(n.Order.Price).Float64()
		size, _ := decimalFromString(n.Order.OriginalSize).Float64()
		e.emitDashboardEvent(api.DashboardEvent{
			Type:      "order",
			Timestamp: time.Now(),
			MarketID:  n.MarketSlug,
			Data:      api.NewOrderEvent(n.Order.ID, n.Order.Type, n.Order.Side, price, size),
		})
	case strategy.NotifyPosition:
		snap := positionSnapshotOf(&n.Position)
		e.emitDashboardEvent(api.DashboardEvent{
			Type:      "position",
			Timestamp: time.Now(),
			MarketID:  n.MarketSlug,
			Data:      api.NewPositionEvent(snap, n.MarketSlug, 0),
		})
	case strategy.NotifyKill:
		e.emitDashboardEvent(api.DashboardEvent{
			Type:      "kill",
			Timestamp: time.Now(),
			MarketID:  n.MarketSlug,
			Data:      api.NewKillEvent(n.Reason, n.Reason, time.Time{}, n.MarketSlug),
		})
	}
}

// positionSnapshotOf converts a SportsPosition into the api package's
// dashboard-facing PositionSnapshot.
func positionSnapshotOf(pos *types.SportsPosition) api.PositionSnapshot {
	yesQty, _ := pos.Outcome1Qty.Float64()
	noQty, _ := pos.Outcome2Qty.Float64()
	avgYes, avgNo := avgEntry(pos)
	realized, _ := pos.RealizedPnL.Float64()
	exposure, _ := pos.Outcome1Cost.Add(pos.Outcome2Cost).Float64()
	return api.PositionSnapshot{
		YesQty:      yesQty,
		NoQty:       noQty,
		AvgEntryYes: avgYes,
		AvgEntryNo:  avgNo,
		RealizedPnL: realized,
		ExposureUSD: exposure,
		Skew:        yesQty - noQty,
		LastUpdated: pos.UpdatedAt,
	}
}

// decimalFromString parses a price/size string from a WS event, defaulting
// to zero on a malformed payload rather than dropping the whole event.
func decimalFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DashboardEvents returns the dashboard event channel (may be nil).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// SignalStore exposes the store's inbound-signal surface for wiring into
// api.NewSignalHandlers.
func (e *Engine) SignalStore() *store.Store {
	return e.store
}

// GetMarketsSnapshot returns current state of all active markets for dashboard.
func (e *Engine) GetMarketsSnapshot() []api.MarketStatus {
	e.slotsMu.RLock()
	defer e.slotsMu.RUnlock()

	result := make([]api.MarketStatus, 0, len(e.slots))
	for _, slot := range e.slots {
		mid, midOk := slot.book.MidPrice()
		bid, ask, bookOk := slot.book.BestBidAsk()

		var spread, spreadBps float64
		if bookOk {
			spread = ask - bid
			if mid > 0 {
				spreadBps = (spread / mid) * 10000
			}
		}

		pos := e.posMgr.Get(slot.info.Slug)
		lastUpdated := slot.book.LastUpdated()
		isStale := slot.book.IsStale(e.cfg.Strategy.StaleBookTimeout)

		var posSnapshot api.PositionSnapshot
		if pos != nil {
			posSnapshot = positionSnapshotOf(pos)
			if midOk {
				uPnL := pos.UnrealizedPnL(decimal.NewFromFloat(mid), decimal.NewFromFloat(1-mid))
				posSnapshot.UnrealizedPnL, _ = uPnL.Float64()
			}
		}

		status := api.MarketStatus{
			ConditionID: slot.info.ConditionID,
			Slug:        slot.info.Slug,
			Question:    slot.info.Question,
			MidPrice:    mid,
			BestBid:     bid,
			BestAsk:     ask,
			Spread:      spread,
			SpreadBps:   spreadBps,
			LastUpdated: lastUpdated,
			IsStale:     isStale,
			Position:    posSnapshot,
			TickSize:    parseTickSize(slot.info.TickSize),
			EndDate:     slot.info.EndDate,
			Liquidity:   slot.info.Liquidity,
			Volume24h:   slot.info.Volume24h,
		}

		result = append(result, status)
	}

	return result
}

// avgEntry computes the average entry price per held share for each outcome.
func avgEntry(pos *types.SportsPosition) (yes, no float64) {
	if pos.Outcome1Qty.IsPositive() {
		v, _ := pos.Outcome1Cost.Div(pos.Outcome1Qty).Float64()
		yes = v
	}
	if pos.Outcome2Qty.IsPositive() {
		v, _ := pos.Outcome2Cost.Div(pos.Outcome2Qty).Float64()
		no = v
	}
	return yes, no
}

// GetScanner returns the scanner for dashboard access.
func (e *Engine) GetScanner() *market.Scanner {
	return e.scanner
}

// GetRiskManager returns the risk manager for dashboard access.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// emitDashboardEvent sends an event to the dashboard (non-blocking).
func (e *Engine) emitDashboardEvent(evt api.DashboardEvent) {
	if e.dashboardEvents == nil {
		return
	}

	select {
	case e.dashboardEvents <- evt:
		return
	default:
	}

	// Dashboard can't keep up: drop the oldest queued event to make room
	select {
	case <-e.dashboardEvents:
	default:
	}
	select {
	case e.dashboardEvents <- evt:
	default:
	}
}

// parseTickSize converts TickSize string to float64
func parseTickSize(ts types.TickSize) float64 {
	switch ts {
	case types.Tick01:
		return 0.1
	case types.Tick001:
		return 0.01
	case types.Tick0001:
		return 0.001
	case types.Tick00001:
		return 0.0001
	default:
		return 0.01 // default to 0.01
	}
}

// sportKeywords maps a lowercase substring found in a market's slug or
// question to the sport label used for per-sport sell-trigger thresholds.
var sportKeywords = map[string]string{
	"nfl":   "nfl",
	"nba":   "nba",
	"nhl":   "nhl",
	"mlb":   "mlb",
	"epl":   "soccer",
	"ucl":   "soccer",
	"mls":   "soccer",
	"ncaaf": "ncaaf",
	"ncaab": "ncaab",
	"ufc":   "ufc",
	"mma":   "ufc",
}

// sportFromMarket derives a sport label from the market's slug/question text
// since the Gamma API market payload carries no dedicated sport field.
func sportFromMarket(info types.MarketInfo) string {
	haystack := strings.ToLower(info.Slug + " " + info.Question)
	for kw, sport := range sportKeywords {
		if strings.Contains(haystack, kw) {
			return sport
		}
	}
	return "unknown"
}
