package gateway

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"sporthedge/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestExecuteSucceeds(t *testing.T) {
	t.Parallel()
	g := New(testLogger())

	calls := 0
	err := g.Execute(context.Background(), ClobGeneral, "test", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if g.Counters(ClobGeneral).Requests != 1 {
		t.Fatalf("expected 1 request counted, got %d", g.Counters(ClobGeneral).Requests)
	}
}

func TestExecuteRetriesOnRateLimit(t *testing.T) {
	t.Parallel()
	g := New(testLogger(), WithBaseBackoff(time.Millisecond), WithMaxRetries(3))

	calls := 0
	err := g.Execute(context.Background(), Gamma, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("429 too many requests")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	g := New(testLogger(), WithBaseBackoff(time.Millisecond), WithMaxRetries(2))

	calls := 0
	err := g.Execute(context.Background(), DataAPI, "test", func() error {
		calls++
		return errors.New("429")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !types.IsKind(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls != 3 { // initial + 2 retries
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestExecuteDoesNotRetryNonRateLimitErrors(t *testing.T) {
	t.Parallel()
	g := New(testLogger())

	calls := 0
	err := g.Execute(context.Background(), ClobGeneral, "test", func() error {
		calls++
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retries, got %d calls", calls)
	}
}

func TestApproachingLimit(t *testing.T) {
	t.Parallel()
	g := New(testLogger())
	if g.ApproachingLimit(ClobGeneral) {
		t.Fatal("fresh bucket should not be approaching limit")
	}
}
