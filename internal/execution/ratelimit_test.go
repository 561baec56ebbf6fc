package execution

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

func TestTokenBucketTryAcquire(t *testing.T) {
	tb := NewTokenBucket(5, 10)

	for i := 0; i < 5; i++ {
		if !tb.TryAcquire(1) {
			t.Errorf("expected to acquire token %d", i)
		}
	}

	if tb.TryAcquire(1) {
		t.Error("expected bucket to be exhausted")
	}

	time.Sleep(110 * time.Millisecond)

	if !tb.TryAcquire(1) {
		t.Error("expected bucket to have refilled")
	}
}

func TestTokenBucketAcquireRespectsContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	tb.TryAcquire(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tb.Acquire(ctx, 1); err == nil {
		t.Error("expected context deadline while waiting for a token")
	}
}

func TestRateLimitedExecutorPassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	inner := NewSimulatedExecutor(0, 0, logger)
	limited := NewRateLimitedExecutor(inner, 10, 100)

	intent := domain.NewOrderIntent("a1", domain.DomainCrypto, "BTC-100K", domain.SideBuy,
		decimal.NewFromInt(10), decimal.NewFromFloat(0.50))

	report, err := limited.Submit(context.Background(), intent, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.ExecFilled {
		t.Errorf("expected fill, got %s", report.Status)
	}
	if err := limited.Cancel(context.Background(), report.ExchangeOrderID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
