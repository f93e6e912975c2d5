package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateCreatesSchema(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	for _, table := range []string{"positions", "signal_state", "redemption_tracking", "price_history", "user_fills", "capital_baseline"} {
		ok, err := s.tableExists(table)
		if err != nil {
			t.Fatalf("tableExists(%s): %v", table, err)
		}
		if !ok {
			t.Errorf("expected table %s to exist after migration", table)
		}
	}
}

func TestInsertSignalUpsertsByWindow(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	windowStart := int64(1_700_000_000) // arbitrary unix seconds, 800s into its 15-min window

	if _, err := s.InsertSignal(windowStart, "BUY_SIDE1"); err != nil {
		t.Fatalf("InsertSignal: %v", err)
	}
	// A later timestamp in the same 15-minute window should update, not duplicate.
	if _, err := s.InsertSignal(windowStart+60, "BUY_SIDE2"); err != nil {
		t.Fatalf("InsertSignal (same window): %v", err)
	}

	latest, err := s.LatestSignal()
	if err != nil {
		t.Fatalf("LatestSignal: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a latest signal")
	}
	if latest.State != "BUY_SIDE2" {
		t.Errorf("state = %q, want BUY_SIDE2 (later write in same window should win)", latest.State)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM signal_state").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly 1 row for one market window, got %d", count)
	}
}

func TestSignalForWindowMissing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	row, err := s.SignalForWindow(999999999)
	if err != nil {
		t.Fatalf("SignalForWindow: %v", err)
	}
	if row != nil {
		t.Errorf("expected nil for unrecorded window, got %+v", row)
	}
}

func TestRedemptionAttemptsLifecycle(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	attempts, s1, s2, err := s.RedemptionAttempts("cond-1")
	if err != nil {
		t.Fatalf("RedemptionAttempts: %v", err)
	}
	if attempts != 0 || s1 || s2 {
		t.Fatalf("expected zero value for unrecorded condition, got attempts=%d s1=%v s2=%v", attempts, s1, s2)
	}

	if err := s.RecordRedemptionAttempt("cond-1", true, false, ""); err != nil {
		t.Fatalf("RecordRedemptionAttempt: %v", err)
	}
	if err := s.RecordRedemptionAttempt("cond-1", false, true, ""); err != nil {
		t.Fatalf("RecordRedemptionAttempt (second): %v", err)
	}

	attempts, s1, s2, err = s.RedemptionAttempts("cond-1")
	if err != nil {
		t.Fatalf("RedemptionAttempts: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !s1 || !s2 {
		t.Errorf("expected both sides redeemed, got s1=%v s2=%v", s1, s2)
	}

	if err := s.MarkRedeemed("cond-1"); err != nil {
		t.Fatalf("MarkRedeemed: %v", err)
	}
}

func TestLastRedemptionErrorTracksMostRecentAttempt(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	lastErr, err := s.LastRedemptionError("cond-2")
	if err != nil {
		t.Fatalf("LastRedemptionError: %v", err)
	}
	if lastErr != "" {
		t.Errorf("expected empty last error for unrecorded condition, got %q", lastErr)
	}

	if err := s.RecordRedemptionAttempt("cond-2", false, false, "429 rate limit"); err != nil {
		t.Fatalf("RecordRedemptionAttempt: %v", err)
	}
	lastErr, err = s.LastRedemptionError("cond-2")
	if err != nil {
		t.Fatalf("LastRedemptionError: %v", err)
	}
	if lastErr != "429 rate limit" {
		t.Errorf("last error = %q, want %q", lastErr, "429 rate limit")
	}

	if err := s.RecordRedemptionAttempt("cond-2", false, false, "tx reverted"); err != nil {
		t.Fatalf("RecordRedemptionAttempt (second): %v", err)
	}
	lastErr, err = s.LastRedemptionError("cond-2")
	if err != nil {
		t.Fatalf("LastRedemptionError: %v", err)
	}
	if lastErr != "tx reverted" {
		t.Errorf("last error = %q, want %q (should reflect most recent attempt)", lastErr, "tx reverted")
	}
}

func TestRecordFillIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	now := time.Now()
	if err := s.RecordFill("trade-1", "nfl-chi-gb", "tok-1", "BUY", "10", "0.42", now); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if err := s.RecordFill("trade-1", "nfl-chi-gb", "tok-1", "BUY", "10", "0.42", now); err != nil {
		t.Fatalf("RecordFill (duplicate): %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM user_fills WHERE trade_id = ?", "trade-1").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected duplicate trade_id to be ignored, got %d rows", count)
	}
}

func TestCapitalBaselineRoundtrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.CapitalBaseline()
	if err != nil {
		t.Fatalf("CapitalBaseline: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty baseline before it is set, got %q", got)
	}

	if err := s.SetCapitalBaseline("1000.00"); err != nil {
		t.Fatalf("SetCapitalBaseline: %v", err)
	}
	got, err = s.CapitalBaseline()
	if err != nil {
		t.Fatalf("CapitalBaseline: %v", err)
	}
	if got != "1000.00" {
		t.Errorf("baseline = %q, want 1000.00", got)
	}
}
