// Package balance tracks the bot's USDC collateral balance: an initial
// value read over HTTP at startup, kept current by filtered on-chain
// Transfer events observed over a websocket, with an HTTP refresh
// triggered by each event (the event itself only proves something moved,
// not the resulting balance) and a slow polling fallback in case the
// websocket misses something.
package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// pollFallbackInterval is how often the monitor re-reads the balance over
// HTTP regardless of whether any Transfer event was observed, guarding
// against a missed or filtered-out event.
const pollFallbackInterval = 5 * time.Second

// transferEventTopic is the keccak256 topic0 for ERC20 Transfer(address,address,uint256).
const transferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Change describes one observed balance transition.
type Change struct {
	Previous  *big.Int
	Current   *big.Int
	Delta     *big.Int
	Increased bool
	At        time.Time
}

// Config parameterizes Monitor.
type Config struct {
	Address       string // wallet address whose USDC balance is tracked
	USDCAddress   string
	RPCURL        string // HTTP JSON-RPC endpoint, for eth_call balance reads
	WSRPCURL      string // websocket JSON-RPC endpoint, for Transfer log subscription
}

// Monitor watches one wallet's USDC balance.
type Monitor struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger

	mu      sync.RWMutex
	balance *big.Int

	changes chan Change
}

// New creates a Monitor. Call Run to start the websocket subscription and
// polling fallback; call Refresh once before Run to establish the initial
// balance.
func New(cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		http:    resty.New().SetBaseURL(cfg.RPCURL).SetTimeout(10 * time.Second),
		logger:  logger.With("component", "balance"),
		balance: big.NewInt(0),
		changes: make(chan Change, 16),
	}
}

// Changes returns a channel emitting every observed balance change larger
// than 0.01 USDC (10000 atomic units).
func (m *Monitor) Changes() <-chan Change {
	return m.changes
}

// Balance returns the last known balance (USDC atomic units, 6 decimals).
func (m *Monitor) Balance() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.balance)
}

// rpcRequest / rpcResponse model a minimal JSON-RPC 2.0 envelope, just
// enough for eth_call against the USDC balanceOf selector.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// balanceOfSelector is the 4-byte selector for balanceOf(address).
const balanceOfSelector = "0x70a08231"

// Refresh reads the current balance over HTTP JSON-RPC via eth_call.
func (m *Monitor) Refresh(ctx context.Context) (Change, error) {
	addr := strings.TrimPrefix(strings.ToLower(m.cfg.Address), "0x")
	data := balanceOfSelector + strings.Repeat("0", 24) + addr

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			map[string]string{"to": m.cfg.USDCAddress, "data": data},
			"latest",
		},
	}

	var result rpcResponse
	resp, err := m.http.R().SetContext(ctx).SetBody(req).SetResult(&result).Post("")
	if err != nil {
		return Change{}, fmt.Errorf("eth_call balanceOf: %w", err)
	}
	if resp.IsError() {
		return Change{}, fmt.Errorf("eth_call balanceOf: status %d", resp.StatusCode())
	}
	if result.Error != nil {
		return Change{}, fmt.Errorf("eth_call balanceOf: %s", result.Error.Message)
	}

	newBalance, ok := new(big.Int).SetString(strings.TrimPrefix(result.Result, "0x"), 16)
	if !ok {
		return Change{}, fmt.Errorf("parse balance result %q", result.Result)
	}

	return m.apply(newBalance), nil
}

func (m *Monitor) apply(newBalance *big.Int) Change {
	m.mu.Lock()
	prev := m.balance
	m.balance = newBalance
	m.mu.Unlock()

	delta := new(big.Int).Sub(newBalance, prev)
	change := Change{
		Previous:  prev,
		Current:   newBalance,
		Delta:     delta,
		Increased: delta.Sign() > 0,
		At:        time.Now(),
	}

	// Changes of 0.01 USDC or less are not emitted.
	if delta.CmpAbs(big.NewInt(10000)) <= 0 {
		return change
	}

	select {
	case m.changes <- change:
	default:
		m.logger.Warn("balance change channel full, dropping notification")
	}
	return change
}

// Run refreshes the balance by HTTP polling every pollFallbackInterval and,
// when WSRPCURL is set, also subscribes to USDC Transfer logs involving this
// wallet over websocket and refreshes the balance on each event. Polling
// runs whether or not the subscription is up. Blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.runPollFallback(ctx)
	}()

	if m.cfg.WSRPCURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runSubscription(ctx)
		}()
	}

	wg.Wait()
}

func (m *Monitor) runPollFallback(ctx context.Context) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.Error("poll-fallback balance refresh failed", "error", err)
			}
		}
	}
}

func (m *Monitor) runSubscription(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.subscribeOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("balance ws subscription dropped, reconnecting", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (m *Monitor) subscribeOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.WSRPCURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	addrTopic := "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(strings.ToLower(m.cfg.Address), "0x")
	sub := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_subscribe",
		Params: []any{
			"logs",
			map[string]any{
				"address": m.cfg.USDCAddress,
				"topics":  []any{transferEventTopic, nil, addrTopic},
			},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var envelope struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			continue
		}
		if envelope.Method != "eth_subscription" {
			continue
		}

		// A Transfer event only confirms that something moved; the
		// resulting balance still needs an authoritative HTTP read.
		if _, err := m.Refresh(ctx); err != nil {
			m.logger.Error("balance refresh after transfer event failed", "error", err)
		}
	}
}
