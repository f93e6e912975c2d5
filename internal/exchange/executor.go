package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"sporthedge/pkg/types"
)

// Executor turns the strategy loop's unified order intent into CLOB
// submissions, handling the liquidity gate, fill confirmation (trusting an
// HTTP read back over a possibly-delayed WS notification), and the chunked
// FOK loop used to flip an existing position into the opposite outcome.
type Executor struct {
	client *Client
	cfg    ExecutorConfig
	logger *slog.Logger

	fillMu   sync.Mutex
	fillSubs map[string]chan types.WSTradeEvent // orderID -> waiter
}

// ExecutorConfig tunes the executor's liquidity and retry behavior. All
// fields have sane defaults applied by NewExecutor when zero.
type ExecutorConfig struct {
	LiquidityBufferMult   float64       // reject if available/shares below this, default 1.5
	FillConfirmWait       time.Duration // how long to wait for a WS fill notice, default 5s
	FlipChunkSize         float64       // max shares per FOK chunk in a flip, default 20
	FlipMaxChunks         int           // safety cap on flip loop iterations, default 10
	FlipChunkPause        time.Duration // pause between chunks, default 500ms
	FlipChunkLiquidityWait time.Duration // max wait for liquidity within one chunk, default 15s
	LiquidityPollInterval time.Duration // poll cadence for wait_for_liquidity, default 500ms
}

func (c *ExecutorConfig) setDefaults() {
	if c.LiquidityBufferMult == 0 {
		c.LiquidityBufferMult = 1.5
	}
	if c.FillConfirmWait == 0 {
		c.FillConfirmWait = 5 * time.Second
	}
	if c.FlipChunkSize == 0 {
		c.FlipChunkSize = 20
	}
	if c.FlipMaxChunks == 0 {
		c.FlipMaxChunks = 10
	}
	if c.FlipChunkPause == 0 {
		c.FlipChunkPause = 500 * time.Millisecond
	}
	if c.FlipChunkLiquidityWait == 0 {
		c.FlipChunkLiquidityWait = 15 * time.Second
	}
	if c.LiquidityPollInterval == 0 {
		c.LiquidityPollInterval = 500 * time.Millisecond
	}
}

// OrderIntent is the unified order request the strategy loop issues,
// independent of whether it becomes a GTC lock order or an IOC/FOK sweep.
type OrderIntent struct {
	TokenID   string
	Side      types.Side
	Shares    float64
	MaxPrice  float64
	OrderType types.OrderType
	TickSize  types.TickSize
}

// FillResult reports what actually happened to a submitted order.
type FillResult struct {
	OrderID     string
	FilledSize  float64
	FilledPrice float64
	FullyFilled bool
}

// NewExecutor wraps an existing REST client with order-execution logic.
func NewExecutor(client *Client, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	cfg.setDefaults()
	return &Executor{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("component", "executor"),
		fillSubs: make(map[string]chan types.WSTradeEvent),
	}
}

// NotifyFill delivers a trade event from the user WS channel to any
// in-flight precise_buy/precise_flip_buy call waiting on that order ID.
func (e *Executor) NotifyFill(ev types.WSTradeEvent) {
	orderID := ev.TakerOrderID
	if orderID == "" && len(ev.MakerOrders) > 0 {
		orderID = ev.MakerOrders[0].OrderID
	}
	if orderID == "" {
		return
	}

	e.fillMu.Lock()
	ch, ok := e.fillSubs[orderID]
	e.fillMu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- ev:
	default:
	}
}

func (e *Executor) subscribeFill(orderID string) chan types.WSTradeEvent {
	ch := make(chan types.WSTradeEvent, 1)
	e.fillMu.Lock()
	e.fillSubs[orderID] = ch
	e.fillMu.Unlock()
	return ch
}

func (e *Executor) unsubscribeFill(orderID string) {
	e.fillMu.Lock()
	delete(e.fillSubs, orderID)
	e.fillMu.Unlock()
}

// checkLiquidity reads the live book for tokenID and reports how many
// shares are available on the side the intent would cross (asks for a BUY,
// bids for a SELL), at or better than maxPrice.
func (e *Executor) checkLiquidity(ctx context.Context, tokenID string, side types.Side, maxPrice float64) (float64, error) {
	book, err := e.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("check liquidity: %w", err)
	}

	levels := book.Asks
	if side == types.SELL {
		levels = book.Bids
	}

	var available float64
	for _, lvl := range levels {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			continue
		}
		if side == types.BUY && price > maxPrice {
			continue
		}
		if side == types.SELL && price < maxPrice {
			continue
		}
		available += size
	}
	return available, nil
}

// waitForLiquidity polls checkLiquidity every LiquidityPollInterval until
// enough shares are available at the buffered threshold, or ctx is done.
func (e *Executor) waitForLiquidity(ctx context.Context, tokenID string, side types.Side, maxPrice, shares float64) error {
	ticker := time.NewTicker(e.cfg.LiquidityPollInterval)
	defer ticker.Stop()

	for {
		available, err := e.checkLiquidity(ctx, tokenID, side, maxPrice)
		if err == nil && available/shares >= e.cfg.LiquidityBufferMult {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PreciseBuy submits an IOC/FAK order for exactly intent.Shares at up to
// intent.MaxPrice, after confirming the book shows at least
// LiquidityBufferMult times the requested size. It waits up to
// FillConfirmWait for a WS fill notice, but trusts a direct HTTP read of
// the order's final status over the WS race.
func (e *Executor) PreciseBuy(ctx context.Context, intent OrderIntent) (FillResult, error) {
	available, err := e.checkLiquidity(ctx, intent.TokenID, intent.Side, intent.MaxPrice)
	if err != nil {
		return FillResult{}, err
	}
	if available/intent.Shares < e.cfg.LiquidityBufferMult {
		return FillResult{}, types.NewTradingError(types.ErrNoLiquidity, fmt.Errorf(
			"available %.2f shares below %.1fx buffer for %.2f requested", available, e.cfg.LiquidityBufferMult, intent.Shares))
	}

	orderType := intent.OrderType
	if orderType == "" {
		orderType = types.OrderTypeFAK
	}

	order := types.UserOrder{
		TokenID:   intent.TokenID,
		Price:     intent.MaxPrice,
		Size:      intent.Shares,
		Side:      intent.Side,
		OrderType: orderType,
		TickSize:  intent.TickSize,
	}

	responses, err := e.client.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil {
		return FillResult{}, fmt.Errorf("precise buy: %w", err)
	}
	if len(responses) == 0 || !responses[0].Success {
		errMsg := "no response"
		if len(responses) > 0 {
			errMsg = responses[0].ErrorMsg
		}
		return FillResult{}, fmt.Errorf("precise buy rejected: %s", errMsg)
	}

	resp := responses[0]
	if resp.Status == "delayed" {
		// The venue holds delayed orders for ~3s; wait past that before reading back.
		select {
		case <-time.After(4 * time.Second):
		case <-ctx.Done():
			return FillResult{}, ctx.Err()
		}
	}
	return e.confirmFill(ctx, resp.OrderID, intent.Shares)
}

// confirmFill waits briefly for a WS fill notice and always follows up with
// an authoritative HTTP read, since the venue may report "delayed" on the
// initial POST response and the WS notice can race or be dropped entirely.
func (e *Executor) confirmFill(ctx context.Context, orderID string, requestedSize float64) (FillResult, error) {
	waiter := e.subscribeFill(orderID)
	defer e.unsubscribeFill(orderID)

	select {
	case <-waiter:
	case <-time.After(e.cfg.FillConfirmWait):
	case <-ctx.Done():
		return FillResult{}, ctx.Err()
	}

	order, err := e.client.GetOrder(ctx, orderID)
	if err != nil {
		return FillResult{}, fmt.Errorf("confirm fill: %w", err)
	}

	filled, _ := strconv.ParseFloat(order.SizeMatched, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)

	return FillResult{
		OrderID:     orderID,
		FilledSize:  filled,
		FilledPrice: price,
		FullyFilled: filled >= requestedSize,
	}, nil
}

// PreciseFlipBuy sweeps an existing position into the opposite outcome in
// bounded FOK chunks, so a thin book doesn't leave the flip half-executed
// against an illiquid remainder. Stops once intent.Shares is filled or
// FlipMaxChunks is reached, and earlier if a chunk's liquidity wait or
// submission fails.
func (e *Executor) PreciseFlipBuy(ctx context.Context, intent OrderIntent) ([]FillResult, error) {
	remaining := intent.Shares
	var results []FillResult

	for i := 0; i < e.cfg.FlipMaxChunks && remaining > 0; i++ {
		chunkSize := remaining
		if chunkSize > e.cfg.FlipChunkSize {
			chunkSize = e.cfg.FlipChunkSize
		}

		waitCtx, cancel := context.WithTimeout(ctx, e.cfg.FlipChunkLiquidityWait)
		err := e.waitForLiquidity(waitCtx, intent.TokenID, intent.Side, intent.MaxPrice, chunkSize)
		cancel()
		if err != nil {
			e.logger.Warn("flip chunk liquidity wait failed, stopping flip early",
				"chunk", i, "remaining", remaining, "error", err)
			break
		}

		order := types.UserOrder{
			TokenID:   intent.TokenID,
			Price:     intent.MaxPrice,
			Size:      chunkSize,
			Side:      intent.Side,
			OrderType: types.OrderTypeFOK,
			TickSize:  intent.TickSize,
		}

		responses, err := e.client.PostOrders(ctx, []types.UserOrder{order}, false)
		if err != nil {
			e.logger.Error("flip chunk submission failed", "chunk", i, "error", err)
			break
		}
		if len(responses) == 0 || !responses[0].Success {
			e.logger.Warn("flip chunk rejected", "chunk", i)
			break
		}

		result, err := e.confirmFill(ctx, responses[0].OrderID, chunkSize)
		if err != nil {
			e.logger.Error("flip chunk fill confirmation failed", "chunk", i, "error", err)
			break
		}
		results = append(results, result)
		remaining -= result.FilledSize

		if i < e.cfg.FlipMaxChunks-1 && remaining > 0 {
			select {
			case <-time.After(e.cfg.FlipChunkPause):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}
	}

	return results, nil
}

// PlaceLockOrder submits a resting GTC order that locks in a pair cost. It
// does not block waiting for a fill — the strategy loop learns of the fill
// asynchronously via NotifyFill/the user WS channel.
func (e *Executor) PlaceLockOrder(ctx context.Context, intent OrderIntent) (string, error) {
	order := types.UserOrder{
		TokenID:   intent.TokenID,
		Price:     intent.MaxPrice,
		Size:      intent.Shares,
		Side:      intent.Side,
		OrderType: types.OrderTypeGTC,
		TickSize:  intent.TickSize,
	}

	responses, err := e.client.PostOrders(ctx, []types.UserOrder{order}, false)
	if err != nil {
		return "", fmt.Errorf("place lock order: %w", err)
	}
	if len(responses) == 0 || !responses[0].Success {
		errMsg := "no response"
		if len(responses) > 0 {
			errMsg = responses[0].ErrorMsg
		}
		return "", fmt.Errorf("lock order rejected: %s", errMsg)
	}
	return responses[0].OrderID, nil
}

// CancelOrders cancels the given order IDs. An empty or all-already-gone
// result is not an error — orders routinely finish between decision and
// cancel request.
func (e *Executor) CancelOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	_, err := e.client.CancelOrders(ctx, orderIDs)
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	return nil
}

// CheckLiquidity exposes the liquidity read for callers outside the buy
// path (e.g. the strategy loop deciding whether to attempt a flip at all).
func (e *Executor) CheckLiquidity(ctx context.Context, tokenID string, side types.Side, maxPrice float64) (float64, error) {
	return e.checkLiquidity(ctx, tokenID, side, maxPrice)
}

// WaitForLiquidity blocks until the book shows enough depth for shares at
// maxPrice, or ctx is done.
func (e *Executor) WaitForLiquidity(ctx context.Context, tokenID string, side types.Side, maxPrice, shares float64) error {
	return e.waitForLiquidity(ctx, tokenID, side, maxPrice, shares)
}
