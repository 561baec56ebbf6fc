package execution

import (
	"context"
	"sync"
	"time"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func NewTokenBucket(capacity, refillPerSecond int) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: float64(refillPerSecond),
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *TokenBucket) TryAcquire(weight int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	w := float64(weight)
	if tb.tokens >= w {
		tb.tokens -= w
		return true
	}
	return false
}

func (tb *TokenBucket) Acquire(ctx context.Context, weight int) error {
	for {
		if tb.TryAcquire(weight) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// RateLimitedExecutor wraps another executor and paces calls to the
// exchange's order endpoints. Cancels share the submit bucket since the
// exchange counts them against the same limit.
type RateLimitedExecutor struct {
	inner  Executor
	bucket *TokenBucket
}

func NewRateLimitedExecutor(inner Executor, capacity, refillPerSecond int) *RateLimitedExecutor {
	return &RateLimitedExecutor{
		inner:  inner,
		bucket: NewTokenBucket(capacity, refillPerSecond),
	}
}

func (e *RateLimitedExecutor) Submit(ctx context.Context, intent domain.OrderIntent, nonce uint64) (domain.ExecutionReport, error) {
	if err := e.bucket.Acquire(ctx, 1); err != nil {
		return domain.ExecutionReport{}, err
	}
	return e.inner.Submit(ctx, intent, nonce)
}

func (e *RateLimitedExecutor) Cancel(ctx context.Context, exchangeOrderID string) error {
	if err := e.bucket.Acquire(ctx, 1); err != nil {
		return err
	}
	return e.inner.Cancel(ctx, exchangeOrderID)
}
