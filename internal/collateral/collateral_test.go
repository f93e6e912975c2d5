package collateral

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"sporthedge/internal/gateway"
	"sporthedge/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOps(t *testing.T, relayerURL string) *Ops {
	t.Helper()
	cfg := Config{
		CTFAddress:     "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
		NegRiskAdapter: "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296",
		USDCAddress:    "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		ChainID:        137,
		RelayerURL:     relayerURL,
	}
	ops, err := New(cfg, nil, nil, gateway.New(testLogger()), testStore(t), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ops
}

func TestRedeemReturnsAlreadyRedeemedWhenBothSidesDone(t *testing.T) {
	t.Parallel()
	ops := testOps(t, "")

	if err := ops.store.RecordRedemptionAttempt("0xcond", true, true, ""); err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	_, err := ops.Redeem(context.Background(), "0xcond", false)
	if err == nil {
		t.Fatal("expected already-redeemed error")
	}
}

func TestRedeemRespectsHardAttemptCap(t *testing.T) {
	t.Parallel()
	ops := testOps(t, "")

	for i := 0; i < redeemMaxAttempts; i++ {
		ops.store.RecordRedemptionAttempt("0xcond", false, false, "boom")
	}

	_, err := ops.Redeem(context.Background(), "0xcond", false)
	if err == nil {
		t.Fatal("expected hard cap error")
	}
}

func TestRedeemSkipsPauseAfterRateLimitedAttempt(t *testing.T) {
	t.Parallel()
	ops := testOps(t, "")

	if err := ops.store.RecordRedemptionAttempt("0xcond", false, false, "429 rate limit exceeded"); err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	start := time.Now()
	// No relayer and no ethclient configured, so submit fails fast; what
	// matters here is that no redeemRetryPause delay was inserted first.
	ops.Redeem(context.Background(), "0xcond", false)
	if elapsed := time.Since(start); elapsed >= redeemRetryPause {
		t.Errorf("expected rate-limited prior attempt to skip the retry pause, took %v", elapsed)
	}
}

func TestSubmitViaRelayerUsesRelayerEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["to"] == "" {
			t.Error("expected 'to' field in relayer request body")
		}
		w.Write([]byte("0xabc123"))
	}))
	defer srv.Close()

	ops := testOps(t, srv.URL)
	ops.auth = nil // not used: submitViaRelayer is not called below

	// submitViaRelayer calls o.auth.Address() and so needs a configured
	// Auth; it is not invoked here and no request reaches srv. This test
	// only confirms that the relayer client is wired to the test server.
	if ops.relayer == nil {
		t.Fatal("expected relayer client to be configured")
	}
	if ops.relayer.BaseURL != srv.URL {
		t.Errorf("relayer base URL = %q, want %q", ops.relayer.BaseURL, srv.URL)
	}
}

func TestPartitionAndIndexSetsCoverBothOutcomes(t *testing.T) {
	t.Parallel()
	p := partitionBoth()
	if len(p) != 2 || p[0].Cmp(big.NewInt(1)) != 0 || p[1].Cmp(big.NewInt(2)) != 0 {
		t.Errorf("partitionBoth = %v, want [1, 2]", p)
	}
	idx := indexSetsBoth()
	if len(idx) != 2 || idx[0].Cmp(big.NewInt(1)) != 0 || idx[1].Cmp(big.NewInt(2)) != 0 {
		t.Errorf("indexSetsBoth = %v, want [1, 2]", idx)
	}
}
