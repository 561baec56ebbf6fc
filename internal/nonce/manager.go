package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusAllocated Status = "allocated"
	StatusUsed      Status = "used"
	StatusReleased  Status = "released"
)

type Record struct {
	Wallet      string
	Nonce       uint64
	Status      Status
	OrderID     string
	AllocatedAt time.Time
	ResolvedAt  *time.Time
}

type Stats struct {
	TotalAllocations int64
	UsedCount        int64
	ReleasedCount    int64
	PendingCount     int64
	HighestNonce     uint64
}

// Store is the durable nonce authority. NextNonce must be a single atomic
// increment so concurrent allocators never receive the same value, even
// across process restarts.
type Store interface {
	NextNonce(ctx context.Context, wallet string) (uint64, error)
	MarkNonceUsed(ctx context.Context, wallet string, nonce uint64, orderID string) error
	ReleaseNonce(ctx context.Context, wallet string, nonce uint64, reason string) error
	CurrentNonce(ctx context.Context, wallet string) (uint64, error)
	NonceStats(ctx context.Context, wallet string) (Stats, error)
	CleanupNonceRecords(ctx context.Context, wallet string, olderThan time.Time) (int64, error)
}

// Manager allocates exchange-facing nonces for a single wallet. The cached
// value is advisory; the store decides every allocation.
type Manager struct {
	mu     sync.Mutex
	cached uint64

	store  Store
	wallet string
	logger *slog.Logger
}

func NewManager(store Store, wallet string, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		wallet: wallet,
		logger: logger,
	}
}

func (m *Manager) Allocate(ctx context.Context) (uint64, error) {
	nonce, err := m.store.NextNonce(ctx, m.wallet)
	if err != nil {
		return 0, fmt.Errorf("allocate nonce for %s: %w", m.wallet, err)
	}

	m.mu.Lock()
	if nonce > m.cached {
		m.cached = nonce
	}
	m.mu.Unlock()

	m.logger.Debug("nonce allocated", "wallet", m.wallet, "nonce", nonce)
	return nonce, nil
}

func (m *Manager) MarkUsed(ctx context.Context, nonce uint64, orderID string) error {
	if err := m.store.MarkNonceUsed(ctx, m.wallet, nonce, orderID); err != nil {
		return fmt.Errorf("mark nonce %d used: %w", nonce, err)
	}
	m.logger.Debug("nonce marked used",
		"wallet", m.wallet, "nonce", nonce, "order_id", orderID)
	return nil
}

// Release marks an allocated nonce as abandoned. The sequence never rewinds;
// the next Allocate still returns a strictly greater value.
func (m *Manager) Release(ctx context.Context, nonce uint64, reason string) error {
	if err := m.store.ReleaseNonce(ctx, m.wallet, nonce, reason); err != nil {
		return fmt.Errorf("release nonce %d: %w", nonce, err)
	}
	m.logger.Info("nonce released",
		"wallet", m.wallet, "nonce", nonce, "reason", reason)
	return nil
}

// Recover warms the in-memory cache from the store at startup.
func (m *Manager) Recover(ctx context.Context) (uint64, error) {
	current, err := m.store.CurrentNonce(ctx, m.wallet)
	if err != nil {
		return 0, fmt.Errorf("recover nonce for %s: %w", m.wallet, err)
	}

	m.mu.Lock()
	m.cached = current
	m.mu.Unlock()

	m.logger.Info("nonce state recovered", "wallet", m.wallet, "current", current)
	return current, nil
}

func (m *Manager) Cached() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	stats, err := m.store.NonceStats(ctx, m.wallet)
	if err != nil {
		return Stats{}, fmt.Errorf("nonce stats for %s: %w", m.wallet, err)
	}
	return stats, nil
}

// CleanupOldRecords removes resolved usage records older than the retention
// window. Pending records are never removed.
func (m *Manager) CleanupOldRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := m.store.CleanupNonceRecords(ctx, m.wallet, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup nonce records for %s: %w", m.wallet, err)
	}
	if removed > 0 {
		m.logger.Info("old nonce records cleaned up",
			"wallet", m.wallet, "removed", removed)
	}
	return removed, nil
}
