// Package collateral wraps the on-chain Conditional Tokens Framework (CTF)
// operations the bot needs outside of order placement: splitting USDC
// collateral into a pair of outcome tokens, merging a pair back into USDC,
// and redeeming winning tokens once a market settles. Standard markets go
// through the CTF contract directly; NegRisk markets go through the
// NegRisk adapter instead, selected per call by the negRisk flag carried on
// each position.
//
// Every write attempts a relayer-submitted request first (gas sponsored,
// faster to land) and falls back to a directly signed transaction from the
// bot's own EOA when the relayer is unavailable or PayOwnGas is set,
// following the same relayer-then-direct-signed-tx fallback shape used for
// CTF redemption in this ecosystem.
package collateral

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-resty/resty/v2"
	"log/slog"

	"sporthedge/internal/exchange"
	"sporthedge/internal/gateway"
	"sporthedge/internal/store"
	"sporthedge/pkg/types"
)

const ctfABI = `[
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"partition","type":"uint256[]"},{"name":"amount","type":"uint256"}],"name":"splitPosition","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"partition","type":"uint256[]"},{"name":"amount","type":"uint256"}],"name":"mergePositions","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"name":"setApprovalForAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// redeemMaxAttempts is the hard cap on redemption attempts per condition,
// beyond which the bot gives up and surfaces the condition for manual review.
const redeemMaxAttempts = 2

// redeemRetryPause separates consecutive redemption attempts for the same
// condition, except when the prior failure was a rate limit (in which case
// the caller returns immediately and lets the gateway's own backoff govern
// the next try).
const redeemRetryPause = 30 * time.Second

// Config parameterizes Ops.
type Config struct {
	CTFAddress         string
	NegRiskAdapter     string
	USDCAddress        string
	ChainID            int64
	RelayerURL         string // empty disables the relayer path
	PayOwnGas          bool
	UseDirectExecution bool // skip the relayer entirely
}

// Ops performs split/merge/redeem operations and tracks approval state.
type Ops struct {
	cfg     Config
	eth     *ethclient.Client
	auth    *exchange.Auth
	gw      *gateway.Gateway
	store   *store.Store
	relayer *resty.Client
	abi     abi.ABI
	logger  *slog.Logger

	approvalMu sync.Mutex
	approved   map[string]bool // operator address (lowercased) -> approved
}

// New creates a collateral Ops instance. eth may be nil if UseDirectExecution
// is false and a relayer is always expected to be reachable; callers that
// rely on direct-signed-tx fallback must supply a live ethclient.
func New(cfg Config, eth *ethclient.Client, auth *exchange.Auth, gw *gateway.Gateway, st *store.Store, logger *slog.Logger) (*Ops, error) {
	parsed, err := abi.JSON(strings.NewReader(ctfABI))
	if err != nil {
		return nil, fmt.Errorf("parse ctf abi: %w", err)
	}

	var relayer *resty.Client
	if cfg.RelayerURL != "" {
		relayer = resty.New().SetBaseURL(cfg.RelayerURL).SetTimeout(15 * time.Second)
	}

	return &Ops{
		cfg:      cfg,
		eth:      eth,
		auth:     auth,
		gw:       gw,
		store:    st,
		relayer:  relayer,
		abi:      parsed,
		logger:   logger.With("component", "collateral"),
		approved: make(map[string]bool),
	}, nil
}

func (o *Ops) contractFor(negRisk bool) common.Address {
	if negRisk {
		return common.HexToAddress(o.cfg.NegRiskAdapter)
	}
	return common.HexToAddress(o.cfg.CTFAddress)
}

// Split converts amount (USDC, 6-decimal atomic units) of collateral into
// a complementary pair of outcome tokens for conditionID.
func (o *Ops) Split(ctx context.Context, conditionID string, amount *big.Int, negRisk bool) (string, error) {
	data, err := o.abi.Pack("splitPosition",
		common.HexToAddress(o.cfg.USDCAddress),
		common.Hash{},
		common.HexToHash(conditionID),
		partitionBoth(),
		amount,
	)
	if err != nil {
		return "", fmt.Errorf("pack splitPosition: %w", err)
	}
	return o.submit(ctx, "split", o.contractFor(negRisk), data)
}

// Merge collapses a complementary pair of outcome tokens back into amount
// of USDC collateral.
func (o *Ops) Merge(ctx context.Context, conditionID string, amount *big.Int, negRisk bool) (string, error) {
	data, err := o.abi.Pack("mergePositions",
		common.HexToAddress(o.cfg.USDCAddress),
		common.Hash{},
		common.HexToHash(conditionID),
		partitionBoth(),
		amount,
	)
	if err != nil {
		return "", fmt.Errorf("pack mergePositions: %w", err)
	}
	return o.submit(ctx, "merge", o.contractFor(negRisk), data)
}

// RedeemResult reports the outcome of a redemption attempt.
type RedeemResult struct {
	TxHash   string
	Attempts int
}

// Redeem claims the $1/share payout for conditionID's winning outcome,
// enforcing the hard 2-attempt cap and a cooldown between retries. Returns
// types.ErrAlreadyRedeemed if both sides are already marked redeemed.
func (o *Ops) Redeem(ctx context.Context, conditionID string, negRisk bool) (RedeemResult, error) {
	attempts, side1, side2, err := o.store.RedemptionAttempts(conditionID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("check redemption tracking: %w", err)
	}
	if side1 && side2 {
		return RedeemResult{Attempts: attempts}, types.NewTradingError(types.ErrAlreadyRedeemed, nil)
	}
	if attempts >= redeemMaxAttempts {
		return RedeemResult{Attempts: attempts}, fmt.Errorf("redemption: hard cap of %d attempts reached for %s", redeemMaxAttempts, conditionID)
	}
	if attempts > 0 && !o.lastAttemptWasRateLimited(conditionID) {
		select {
		case <-time.After(redeemRetryPause):
		case <-ctx.Done():
			return RedeemResult{}, ctx.Err()
		}
	}

	data, err := o.abi.Pack("redeemPositions",
		common.HexToAddress(o.cfg.USDCAddress),
		common.Hash{},
		common.HexToHash(conditionID),
		indexSetsBoth(),
	)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("pack redeemPositions: %w", err)
	}

	txHash, err := o.submit(ctx, "redeem", o.contractFor(negRisk), data)
	recordErr := ""
	if err != nil {
		recordErr = err.Error()
	}
	if trackErr := o.store.RecordRedemptionAttempt(conditionID, err == nil, err == nil, recordErr); trackErr != nil {
		o.logger.Error("failed to record redemption attempt", "condition", conditionID, "error", trackErr)
	}
	if err != nil {
		if types.IsKind(err, types.ErrRateLimited) {
			return RedeemResult{Attempts: attempts + 1}, err
		}
		return RedeemResult{Attempts: attempts + 1}, err
	}

	if err := o.store.MarkRedeemed(conditionID); err != nil {
		o.logger.Error("failed to mark redeemed", "condition", conditionID, "error", err)
	}
	return RedeemResult{TxHash: txHash, Attempts: attempts + 1}, nil
}

// lastAttemptWasRateLimited reports whether the prior recorded attempt for
// conditionID failed on a rate limit, in which case the caller skips the
// usual retry pause and lets the gateway's own backoff govern timing instead
// of stacking two delays.
func (o *Ops) lastAttemptWasRateLimited(conditionID string) bool {
	lastErr, err := o.store.LastRedemptionError(conditionID)
	if err != nil || lastErr == "" {
		return false
	}
	lower := strings.ToLower(lastErr)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "1015")
}

// EnsureApproval submits setApprovalForAll so operator can move the bot's
// CTF tokens, unless this process has already done so for that operator.
// Success is cached per operator for the process lifetime. The on-chain
// approval state is not queried, so the first call for an operator always
// submits an approval transaction, even if one already exists on chain.
func (o *Ops) EnsureApproval(ctx context.Context, operator common.Address) error {
	key := strings.ToLower(operator.Hex())

	o.approvalMu.Lock()
	if o.approved[key] {
		o.approvalMu.Unlock()
		return nil
	}
	o.approvalMu.Unlock()

	data, err := o.abi.Pack("setApprovalForAll", operator, true)
	if err != nil {
		return fmt.Errorf("pack setApprovalForAll: %w", err)
	}

	if _, err := o.submit(ctx, "approve", common.HexToAddress(o.cfg.CTFAddress), data); err != nil {
		return fmt.Errorf("submit approval: %w", err)
	}

	o.approvalMu.Lock()
	o.approved[key] = true
	o.approvalMu.Unlock()
	return nil
}

// submit tries the relayer first (unless disabled), falling back to a
// directly signed transaction from the bot's EOA.
func (o *Ops) submit(ctx context.Context, op string, to common.Address, data []byte) (string, error) {
	if o.relayer != nil && !o.cfg.UseDirectExecution && !o.cfg.PayOwnGas {
		txHash, err := o.submitViaRelayer(ctx, op, to, data)
		if err == nil {
			return txHash, nil
		}
		o.logger.Warn("relayer submission failed, falling back to direct execution", "op", op, "error", err)
	}
	return o.submitDirect(ctx, to, data)
}

func (o *Ops) submitViaRelayer(ctx context.Context, op string, to common.Address, data []byte) (string, error) {
	if o.relayer == nil {
		return "", fmt.Errorf("no relayer configured")
	}

	var txHash string
	err := o.gw.Execute(ctx, gateway.ClobGeneral, "relayer:"+op, func() error {
		resp, err := o.relayer.R().
			SetContext(ctx).
			SetBody(map[string]any{
				"to":      to.Hex(),
				"data":    "0x" + common.Bytes2Hex(data),
				"address": o.auth.Address().Hex(),
			}).
			Post("/submit")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("relayer returned %d: %s", resp.StatusCode(), resp.String())
		}
		txHash = resp.String()
		return nil
	})
	return txHash, err
}

func (o *Ops) submitDirect(ctx context.Context, to common.Address, data []byte) (string, error) {
	if o.eth == nil {
		return "", fmt.Errorf("collateral: no ethclient configured for direct execution")
	}

	nonce, err := o.eth.PendingNonceAt(ctx, o.auth.Address())
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := o.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := gethtypes.NewTransaction(nonce, to, big.NewInt(0), 300000, gasPrice, data)
	signed, err := o.auth.SignTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := o.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, o.eth, signed)
	if err != nil {
		return "", fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return "", types.NewTradingError(types.ErrTransactionReverted, fmt.Errorf("tx %s reverted", signed.Hash().Hex()))
	}

	return signed.Hash().Hex(), nil
}

// partitionBoth returns the CTF index-set partition for a two-outcome
// market: outcome bit 0 and outcome bit 1.
func partitionBoth() []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}

// indexSetsBoth mirrors partitionBoth for redeemPositions calls, which
// redeem whichever of the two index sets the caller actually holds.
func indexSetsBoth() []*big.Int {
	return []*big.Int{big.NewInt(1), big.NewInt(2)}
}
