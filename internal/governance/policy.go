package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/domain"
)

var ErrInvalidUpdate = errors.New("invalid governance update")

// Policy is the admin-controlled trading gate. A new version is appended to
// the store's history on every change; the current version is read on every
// intent.
type Policy struct {
	Version              int64
	BlockNewIntents      bool
	BlockedDomains       []domain.Domain
	MaxIntentNotionalUSD decimal.Decimal
	MaxTotalNotionalUSD  decimal.Decimal
	UpdatedBy            string
	UpdatedAt            time.Time
}

func (p Policy) IsDomainBlocked(d domain.Domain) bool {
	for _, blocked := range p.BlockedDomains {
		if blocked == d {
			return true
		}
	}
	return false
}

// Update carries a partial policy change; nil fields keep current values.
type Update struct {
	BlockNewIntents      *bool
	BlockedDomains       *[]domain.Domain
	MaxIntentNotionalUSD *decimal.Decimal
	MaxTotalNotionalUSD  *decimal.Decimal
	UpdatedBy            string
}

type Store interface {
	SavePolicy(ctx context.Context, p Policy) error
	LoadLatestPolicy(ctx context.Context) (*Policy, error)
	PolicyHistory(ctx context.Context, limit int) ([]Policy, error)
}

type Manager struct {
	mu      sync.RWMutex
	current Policy
	store   Store
	logger  *slog.Logger
}

func NewManager(initial Policy, store Store, logger *slog.Logger) *Manager {
	if initial.Version == 0 {
		initial.Version = 1
	}
	if initial.UpdatedAt.IsZero() {
		initial.UpdatedAt = time.Now().UTC()
	}
	return &Manager{
		current: initial,
		store:   store,
		logger:  logger,
	}
}

func FromConfig(cfg *config.GovernanceConfig) Policy {
	blocked := make([]domain.Domain, 0, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		blocked = append(blocked, domain.Domain(d))
	}
	return Policy{
		Version:              1,
		BlockNewIntents:      cfg.BlockNewIntents,
		BlockedDomains:       blocked,
		MaxIntentNotionalUSD: cfg.MaxIntentNotionalUSD,
		MaxTotalNotionalUSD:  cfg.MaxTotalNotionalUSD,
		UpdatedBy:            "startup",
		UpdatedAt:            time.Now().UTC(),
	}
}

// Load replaces the in-memory policy with the store's latest version, if one
// has been persisted before.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	stored, err := m.store.LoadLatestPolicy(ctx)
	if err != nil {
		return fmt.Errorf("load governance policy: %w", err)
	}
	if stored == nil {
		m.mu.RLock()
		initial := m.current
		m.mu.RUnlock()
		if err := m.store.SavePolicy(ctx, initial); err != nil {
			return fmt.Errorf("persist initial governance policy: %w", err)
		}
		return nil
	}

	m.mu.Lock()
	m.current = *stored
	m.mu.Unlock()

	m.logger.Info("governance policy loaded",
		"version", stored.Version,
		"block_new_intents", stored.BlockNewIntents,
		"blocked_domains", len(stored.BlockedDomains))
	return nil
}

func (m *Manager) Snapshot() Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.current
	p.BlockedDomains = append([]domain.Domain(nil), m.current.BlockedDomains...)
	return p
}

func (m *Manager) Update(ctx context.Context, u Update) (Policy, error) {
	if u.MaxIntentNotionalUSD != nil && u.MaxIntentNotionalUSD.IsNegative() {
		return Policy{}, fmt.Errorf("%w: max intent notional must not be negative", ErrInvalidUpdate)
	}
	if u.MaxTotalNotionalUSD != nil && u.MaxTotalNotionalUSD.IsNegative() {
		return Policy{}, fmt.Errorf("%w: max total notional must not be negative", ErrInvalidUpdate)
	}

	m.mu.Lock()
	next := m.current
	next.BlockedDomains = append([]domain.Domain(nil), m.current.BlockedDomains...)
	if u.BlockNewIntents != nil {
		next.BlockNewIntents = *u.BlockNewIntents
	}
	if u.BlockedDomains != nil {
		next.BlockedDomains = append([]domain.Domain(nil), (*u.BlockedDomains)...)
	}
	if u.MaxIntentNotionalUSD != nil {
		next.MaxIntentNotionalUSD = *u.MaxIntentNotionalUSD
	}
	if u.MaxTotalNotionalUSD != nil {
		next.MaxTotalNotionalUSD = *u.MaxTotalNotionalUSD
	}
	next.Version = m.current.Version + 1
	next.UpdatedBy = u.UpdatedBy
	next.UpdatedAt = time.Now().UTC()
	m.current = next
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SavePolicy(ctx, next); err != nil {
			return next, fmt.Errorf("persist governance policy: %w", err)
		}
	}

	m.logger.Warn("governance policy updated",
		"version", next.Version,
		"updated_by", next.UpdatedBy,
		"block_new_intents", next.BlockNewIntents,
		"blocked_domains", len(next.BlockedDomains))

	return next, nil
}

func (m *Manager) History(ctx context.Context, limit int) ([]Policy, error) {
	if m.store == nil {
		return []Policy{m.Snapshot()}, nil
	}
	return m.store.PolicyHistory(ctx, limit)
}
