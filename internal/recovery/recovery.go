package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/execution"
)

// Store is the durable state the scanner reads. Run never writes; only
// Reconcile mutates, and only when auto-reconcile is enabled.
type Store interface {
	IncompleteCycles(ctx context.Context) ([]domain.Cycle, error)
	OrphanedOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error)
	StrategyState(ctx context.Context) (*StrategyState, error)
	CurrentNonce(ctx context.Context, wallet string) (uint64, error)

	AbortCycle(ctx context.Context, cycleID uuid.UUID, reason string) error
	MarkOrderCancelled(ctx context.Context, orderID uuid.UUID) error
}

// StrategyState is the singleton checkpoint row written on every cycle
// transition while trading.
type StrategyState struct {
	CycleState    domain.CycleState
	ActiveCycleID *uuid.UUID
	Position      decimal.Decimal
	RealizedPnL   decimal.Decimal
	UpdatedAt     time.Time
}

type IncompleteCycle struct {
	Cycle        domain.Cycle
	RoundExpired bool
}

func (c IncompleteCycle) TimeRemaining(now time.Time) time.Duration {
	if now.After(c.Cycle.RoundEndsAt) {
		return 0
	}
	return c.Cycle.RoundEndsAt.Sub(now)
}

type OrphanedOrder struct {
	Order domain.Order
	Age   time.Duration
}

// CanCancelOnExchange reports whether the order reached the exchange and is
// still cancellable there.
func (o OrphanedOrder) CanCancelOnExchange() bool {
	if o.Order.ExchangeOrderID == "" {
		return false
	}
	return !o.Order.Status.IsTerminal()
}

// Summary is what a restart learns about the crash it is recovering from.
type Summary struct {
	IncompleteCycles []IncompleteCycle
	OrphanedOrders   []OrphanedOrder
	StrategyState    *StrategyState
	CurrentNonce     uint64
	ScannedAt        time.Time
}

func (s Summary) NeedsRecovery() bool {
	return len(s.IncompleteCycles) > 0 || len(s.OrphanedOrders) > 0
}

func (s Summary) Log(logger *slog.Logger) {
	if !s.NeedsRecovery() {
		logger.Info("clean state, no recovery needed", "current_nonce", s.CurrentNonce)
		return
	}

	logger.Warn("recovery scan found unresolved state",
		"incomplete_cycles", len(s.IncompleteCycles),
		"orphaned_orders", len(s.OrphanedOrders),
		"current_nonce", s.CurrentNonce)

	for _, c := range s.IncompleteCycles {
		logger.Warn("incomplete cycle",
			"cycle_id", c.Cycle.ID,
			"round_id", c.Cycle.RoundID,
			"state", string(c.Cycle.State),
			"round_expired", c.RoundExpired)
	}
	for _, o := range s.OrphanedOrders {
		logger.Warn("orphaned order",
			"order_id", o.Order.ID,
			"market", o.Order.MarketID,
			"status", string(o.Order.Status),
			"age", o.Age.Round(time.Second).String(),
			"cancellable", o.CanCancelOnExchange())
	}
}

// Scanner inspects durable state after a restart. Trading must not start
// until Run has produced a summary and, when configured, Reconcile has
// resolved it.
type Scanner struct {
	store    Store
	executor execution.Executor
	wallet   string
	cfg      *config.RecoveryConfig
	logger   *slog.Logger

	now func() time.Time
}

func NewScanner(store Store, executor execution.Executor, wallet string, cfg *config.RecoveryConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:    store,
		executor: executor,
		wallet:   wallet,
		cfg:      cfg,
		logger:   logger.With("component", "recovery"),
		now:      time.Now,
	}
}

// Run performs a read-only scan. It is safe to call repeatedly; two runs
// against unchanged state produce the same summary.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()

	cycles, err := s.store.IncompleteCycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan incomplete cycles: %w", err)
	}
	incomplete := make([]IncompleteCycle, 0, len(cycles))
	for _, c := range cycles {
		incomplete = append(incomplete, IncompleteCycle{
			Cycle:        c,
			RoundExpired: now.After(c.RoundEndsAt),
		})
	}

	orders, err := s.store.OrphanedOrders(ctx, s.cfg.OrphanAge())
	if err != nil {
		return nil, fmt.Errorf("scan orphaned orders: %w", err)
	}
	orphaned := make([]OrphanedOrder, 0, len(orders))
	for _, o := range orders {
		// Age is since the last transition, not creation; a slow but live
		// order keeps refreshing updated_at and is not an orphan.
		orphaned = append(orphaned, OrphanedOrder{
			Order: o,
			Age:   now.Sub(o.UpdatedAt),
		})
	}

	state, err := s.store.StrategyState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load strategy state: %w", err)
	}

	current, err := s.store.CurrentNonce(ctx, s.wallet)
	if err != nil {
		return nil, fmt.Errorf("read current nonce: %w", err)
	}

	return &Summary{
		IncompleteCycles: incomplete,
		OrphanedOrders:   orphaned,
		StrategyState:    state,
		CurrentNonce:     current,
		ScannedAt:        now,
	}, nil
}

// Reconcile resolves a summary: cancellable orphans are cancelled on the
// exchange and marked locally, expired incomplete cycles are aborted.
// Unexpired cycles are left for the operator, since the round may still
// settle in our favor.
func (s *Scanner) Reconcile(ctx context.Context, summary *Summary) error {
	for _, o := range summary.OrphanedOrders {
		if !o.CanCancelOnExchange() {
			s.logger.Info("orphaned order not cancellable, marking locally",
				"order_id", o.Order.ID, "status", string(o.Order.Status))
			continue
		}
		if err := s.executor.Cancel(ctx, o.Order.ExchangeOrderID); err != nil {
			return fmt.Errorf("cancel orphaned order %s: %w", o.Order.ID, err)
		}
		if err := s.store.MarkOrderCancelled(ctx, o.Order.ID); err != nil {
			return fmt.Errorf("mark order %s cancelled: %w", o.Order.ID, err)
		}
		s.logger.Info("orphaned order cancelled",
			"order_id", o.Order.ID, "exchange_order_id", o.Order.ExchangeOrderID)
	}

	for _, c := range summary.IncompleteCycles {
		if !c.RoundExpired {
			s.logger.Info("cycle round still open, leaving for operator",
				"cycle_id", c.Cycle.ID,
				"time_remaining", c.TimeRemaining(summary.ScannedAt).Round(time.Second).String())
			continue
		}
		if err := s.store.AbortCycle(ctx, c.Cycle.ID, "crash recovery: round expired"); err != nil {
			return fmt.Errorf("abort cycle %s: %w", c.Cycle.ID, err)
		}
		s.logger.Info("expired cycle aborted", "cycle_id", c.Cycle.ID, "round_id", c.Cycle.RoundID)
	}

	return nil
}
