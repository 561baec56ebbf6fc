package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/governance"
	"github.com/proerror77/ploy-sub002/internal/nonce"
	"github.com/proerror77/ploy-sub002/internal/recovery"
)

// PostgresStore is the authoritative durable state: cycles, orders, nonce
// allocation, governance policy history, and the strategy state singleton.
// Construction fails closed; trading must not start without it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, poolSize int, logger *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("store DSN is required")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	config.MaxConns = int32(poolSize)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id UUID PRIMARY KEY,
			round_id VARCHAR(64) NOT NULL,
			market_id VARCHAR(64) NOT NULL,
			state VARCHAR(16) NOT NULL,
			leg1_price NUMERIC(20, 8),
			leg1_size NUMERIC(20, 8),
			leg1_filled_at TIMESTAMPTZ,
			leg2_price NUMERIC(20, 8),
			leg2_size NUMERIC(20, 8),
			leg2_filled_at TIMESTAMPTZ,
			pnl NUMERIC(20, 8),
			abort_reason TEXT,
			round_ends_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_state ON cycles (state)
			WHERE state NOT IN ('CYCLE_COMPLETE', 'ABORT')`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			cycle_id UUID REFERENCES cycles(id),
			leg INTEGER NOT NULL DEFAULT 0,
			client_order_id VARCHAR(64) NOT NULL,
			exchange_order_id VARCHAR(64),
			market_id VARCHAR(64) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price NUMERIC(20, 8) NOT NULL,
			size NUMERIC(20, 8) NOT NULL,
			filled_size NUMERIC(20, 8) NOT NULL DEFAULT 0,
			avg_fill_price NUMERIC(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			nonce BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (status)
			WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')`,
		`CREATE TABLE IF NOT EXISTS nonce_state (
			wallet VARCHAR(64) PRIMARY KEY,
			current_nonce BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS nonce_usage (
			wallet VARCHAR(64) NOT NULL,
			nonce BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			order_id VARCHAR(64),
			release_reason TEXT,
			allocated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ,
			PRIMARY KEY (wallet, nonce)
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			cycle_state VARCHAR(16) NOT NULL,
			active_cycle_id UUID,
			position NUMERIC(20, 8) NOT NULL DEFAULT 0,
			realized_pnl NUMERIC(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_metrics (
			date DATE PRIMARY KEY,
			realized_pnl NUMERIC(20, 8) NOT NULL,
			num_cycles INTEGER NOT NULL,
			num_successes INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS governance_policies (
			version BIGINT PRIMARY KEY,
			block_new_intents BOOLEAN NOT NULL,
			blocked_domains TEXT[] NOT NULL DEFAULT '{}',
			max_intent_notional_usd NUMERIC(20, 8) NOT NULL,
			max_total_notional_usd NUMERIC(20, 8) NOT NULL,
			updated_by VARCHAR(64) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		// Allocation is a single atomic statement so two processes can never
		// hand out the same nonce.
		`CREATE OR REPLACE FUNCTION get_next_nonce(p_wallet VARCHAR)
		RETURNS BIGINT AS $$
		DECLARE
			v_nonce BIGINT;
		BEGIN
			INSERT INTO nonce_state (wallet, current_nonce, updated_at)
			VALUES (p_wallet, 1, NOW())
			ON CONFLICT (wallet)
			DO UPDATE SET current_nonce = nonce_state.current_nonce + 1, updated_at = NOW()
			RETURNING current_nonce INTO v_nonce;

			INSERT INTO nonce_usage (wallet, nonce, status)
			VALUES (p_wallet, v_nonce, 'allocated');

			RETURN v_nonce;
		END;
		$$ LANGUAGE plpgsql`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	s.logger.Info("postgres migrations completed")
	return nil
}

// --- nonce.Store ---

func (s *PostgresStore) NextNonce(ctx context.Context, wallet string) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, "SELECT get_next_nonce($1)", wallet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	return uint64(n), nil
}

func (s *PostgresStore) MarkNonceUsed(ctx context.Context, wallet string, n uint64, orderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nonce_usage SET status = 'used', order_id = $3, resolved_at = NOW()
		 WHERE wallet = $1 AND nonce = $2 AND status = 'allocated'`,
		wallet, int64(n), orderID)
	if err != nil {
		return fmt.Errorf("mark nonce used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("nonce %d not in allocated state", n)
	}
	return nil
}

func (s *PostgresStore) ReleaseNonce(ctx context.Context, wallet string, n uint64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nonce_usage SET status = 'released', release_reason = $3, resolved_at = NOW()
		 WHERE wallet = $1 AND nonce = $2 AND status = 'allocated'`,
		wallet, int64(n), reason)
	if err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("nonce %d not in allocated state", n)
	}
	return nil
}

func (s *PostgresStore) CurrentNonce(ctx context.Context, wallet string) (uint64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT current_nonce FROM nonce_state WHERE wallet = $1", wallet).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("current nonce: %w", err)
	}
	return uint64(n), nil
}

func (s *PostgresStore) NonceStats(ctx context.Context, wallet string) (nonce.Stats, error) {
	var stats nonce.Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'used'),
		        COUNT(*) FILTER (WHERE status = 'released'),
		        COUNT(*) FILTER (WHERE status = 'allocated'),
		        COALESCE(MAX(nonce), 0)
		 FROM nonce_usage WHERE wallet = $1`, wallet).Scan(
		&stats.TotalAllocations,
		&stats.UsedCount,
		&stats.ReleasedCount,
		&stats.PendingCount,
		&stats.HighestNonce)
	if err != nil {
		return nonce.Stats{}, fmt.Errorf("nonce stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) CleanupNonceRecords(ctx context.Context, wallet string, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM nonce_usage
		 WHERE wallet = $1 AND status <> 'allocated' AND resolved_at < $2`,
		wallet, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup nonce records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- governance.Store ---

func (s *PostgresStore) SavePolicy(ctx context.Context, p governance.Policy) error {
	domains := make([]string, 0, len(p.BlockedDomains))
	for _, d := range p.BlockedDomains {
		domains = append(domains, string(d))
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO governance_policies
		 (version, block_new_intents, blocked_domains, max_intent_notional_usd, max_total_notional_usd, updated_by, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.Version, p.BlockNewIntents, domains,
		p.MaxIntentNotionalUSD.String(), p.MaxTotalNotionalUSD.String(),
		p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadLatestPolicy(ctx context.Context) (*governance.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT version, block_new_intents, blocked_domains,
		        max_intent_notional_usd::text, max_total_notional_usd::text,
		        updated_by, updated_at
		 FROM governance_policies ORDER BY version DESC LIMIT 1`)

	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest policy: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PolicyHistory(ctx context.Context, limit int) ([]governance.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, block_new_intents, blocked_domains,
		        max_intent_notional_usd::text, max_total_notional_usd::text,
		        updated_by, updated_at
		 FROM governance_policies ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("policy history: %w", err)
	}
	defer rows.Close()

	var history []governance.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("policy history: %w", err)
		}
		history = append(history, *p)
	}
	return history, rows.Err()
}

func scanPolicy(row pgx.Row) (*governance.Policy, error) {
	var (
		p         governance.Policy
		domains   []string
		intentCap string
		totalCap  string
	)
	if err := row.Scan(&p.Version, &p.BlockNewIntents, &domains,
		&intentCap, &totalCap, &p.UpdatedBy, &p.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if p.MaxIntentNotionalUSD, err = decimal.NewFromString(intentCap); err != nil {
		return nil, fmt.Errorf("parse intent cap: %w", err)
	}
	if p.MaxTotalNotionalUSD, err = decimal.NewFromString(totalCap); err != nil {
		return nil, fmt.Errorf("parse total cap: %w", err)
	}
	for _, d := range domains {
		p.BlockedDomains = append(p.BlockedDomains, domain.Domain(d))
	}
	return &p, nil
}

// --- cycles and orders ---

func (s *PostgresStore) SaveCycle(ctx context.Context, c *domain.Cycle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycles
		 (id, round_id, market_id, state, leg1_price, leg1_size, leg1_filled_at,
		  leg2_price, leg2_size, leg2_filled_at, pnl, abort_reason, round_ends_at,
		  created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state,
		   leg1_price = EXCLUDED.leg1_price,
		   leg1_size = EXCLUDED.leg1_size,
		   leg1_filled_at = EXCLUDED.leg1_filled_at,
		   leg2_price = EXCLUDED.leg2_price,
		   leg2_size = EXCLUDED.leg2_size,
		   leg2_filled_at = EXCLUDED.leg2_filled_at,
		   pnl = EXCLUDED.pnl,
		   abort_reason = EXCLUDED.abort_reason,
		   updated_at = EXCLUDED.updated_at`,
		c.ID, c.RoundID, c.MarketID, string(c.State),
		c.Leg1Price.String(), c.Leg1Size.String(), c.Leg1FilledAt,
		c.Leg2Price.String(), c.Leg2Size.String(), c.Leg2FilledAt,
		c.PnL.String(), c.AbortReason, c.RoundEndsAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cycle: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders
		 (id, cycle_id, leg, client_order_id, exchange_order_id, market_id, side,
		  price, size, filled_size, avg_fill_price, status, nonce, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO UPDATE SET
		   exchange_order_id = EXCLUDED.exchange_order_id,
		   filled_size = EXCLUDED.filled_size,
		   avg_fill_price = EXCLUDED.avg_fill_price,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		o.ID, o.CycleID, o.Leg, o.ClientOrderID, o.ExchangeOrderID, o.MarketID,
		string(o.Side), o.Price.String(), o.Size.String(), o.FilledSize.String(),
		o.AvgFillPrice.String(), string(o.Status), int64(o.Nonce), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// CompleteCycleTx finalizes a cycle, its strategy state row, and the daily
// metrics in one transaction so a crash between the writes cannot split them.
func (s *PostgresStore) CompleteCycleTx(ctx context.Context, c *domain.Cycle, realizedPnL decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete-cycle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx,
		`UPDATE cycles SET state = $2, pnl = $3, updated_at = $4 WHERE id = $1`,
		c.ID, string(c.State), realizedPnL.String(), now); err != nil {
		return fmt.Errorf("finalize cycle: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO strategy_state (id, cycle_state, active_cycle_id, position, realized_pnl, updated_at)
		 VALUES (1, $1, NULL, 0, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		   cycle_state = EXCLUDED.cycle_state,
		   active_cycle_id = NULL,
		   position = 0,
		   realized_pnl = strategy_state.realized_pnl + $2,
		   updated_at = EXCLUDED.updated_at`,
		string(c.State), realizedPnL.String(), now); err != nil {
		return fmt.Errorf("update strategy state: %w", err)
	}

	success := 0
	if c.State == domain.CycleComplete {
		success = 1
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO daily_metrics (date, realized_pnl, num_cycles, num_successes, updated_at)
		 VALUES (CURRENT_DATE, $1, 1, $2, $3)
		 ON CONFLICT (date) DO UPDATE SET
		   realized_pnl = daily_metrics.realized_pnl + $1,
		   num_cycles = daily_metrics.num_cycles + 1,
		   num_successes = daily_metrics.num_successes + $2,
		   updated_at = EXCLUDED.updated_at`,
		realizedPnL.String(), success, now); err != nil {
		return fmt.Errorf("update daily metrics: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) SaveStrategyState(ctx context.Context, state recovery.StrategyState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO strategy_state (id, cycle_state, active_cycle_id, position, realized_pnl, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   cycle_state = EXCLUDED.cycle_state,
		   active_cycle_id = EXCLUDED.active_cycle_id,
		   position = EXCLUDED.position,
		   realized_pnl = EXCLUDED.realized_pnl,
		   updated_at = EXCLUDED.updated_at`,
		string(state.CycleState), state.ActiveCycleID,
		state.Position.String(), state.RealizedPnL.String(), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save strategy state: %w", err)
	}
	return nil
}

// --- recovery.Store ---

func (s *PostgresStore) IncompleteCycles(ctx context.Context) ([]domain.Cycle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, market_id, state,
		        COALESCE(leg1_price, 0)::text, COALESCE(leg1_size, 0)::text, leg1_filled_at,
		        COALESCE(leg2_price, 0)::text, COALESCE(leg2_size, 0)::text, leg2_filled_at,
		        COALESCE(pnl, 0)::text, COALESCE(abort_reason, ''), round_ends_at,
		        created_at, updated_at
		 FROM cycles
		 WHERE state NOT IN ('CYCLE_COMPLETE', 'ABORT')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query incomplete cycles: %w", err)
	}
	defer rows.Close()

	var cycles []domain.Cycle
	for rows.Next() {
		var (
			c                              domain.Cycle
			state                          string
			leg1Price, leg1Size, leg2Price string
			leg2Size, pnl                  string
		)
		if err := rows.Scan(&c.ID, &c.RoundID, &c.MarketID, &state,
			&leg1Price, &leg1Size, &c.Leg1FilledAt,
			&leg2Price, &leg2Size, &c.Leg2FilledAt,
			&pnl, &c.AbortReason, &c.RoundEndsAt,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if c.State, err = domain.ParseCycleState(state); err != nil {
			return nil, err
		}
		if c.Leg1Price, err = decimal.NewFromString(leg1Price); err != nil {
			return nil, fmt.Errorf("parse leg1 price: %w", err)
		}
		if c.Leg1Size, err = decimal.NewFromString(leg1Size); err != nil {
			return nil, fmt.Errorf("parse leg1 size: %w", err)
		}
		if c.Leg2Price, err = decimal.NewFromString(leg2Price); err != nil {
			return nil, fmt.Errorf("parse leg2 price: %w", err)
		}
		if c.Leg2Size, err = decimal.NewFromString(leg2Size); err != nil {
			return nil, fmt.Errorf("parse leg2 size: %w", err)
		}
		if c.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse cycle pnl: %w", err)
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

func (s *PostgresStore) OrphanedOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx,
		`SELECT id, cycle_id, leg, client_order_id, COALESCE(exchange_order_id, ''),
		        market_id, side, price::text, size::text, filled_size::text,
		        avg_fill_price::text, status, nonce, created_at, updated_at
		 FROM orders
		 WHERE status NOT IN ('FILLED', 'CANCELLED', 'REJECTED') AND updated_at < $1
		 ORDER BY updated_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query orphaned orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o                            domain.Order
			side, status                 string
			price, size, filled, avgFill string
			n                            int64
		)
		if err := rows.Scan(&o.ID, &o.CycleID, &o.Leg, &o.ClientOrderID, &o.ExchangeOrderID,
			&o.MarketID, &side, &price, &size, &filled, &avgFill, &status, &n,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		o.Nonce = uint64(n)
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		if o.Size, err = decimal.NewFromString(size); err != nil {
			return nil, fmt.Errorf("parse order size: %w", err)
		}
		if o.FilledSize, err = decimal.NewFromString(filled); err != nil {
			return nil, fmt.Errorf("parse filled size: %w", err)
		}
		if o.AvgFillPrice, err = decimal.NewFromString(avgFill); err != nil {
			return nil, fmt.Errorf("parse avg fill price: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) StrategyState(ctx context.Context) (*recovery.StrategyState, error) {
	var (
		state         recovery.StrategyState
		cycleState    string
		position, pnl string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT cycle_state, active_cycle_id, position::text, realized_pnl::text, updated_at
		 FROM strategy_state WHERE id = 1`).Scan(
		&cycleState, &state.ActiveCycleID, &position, &pnl, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load strategy state: %w", err)
	}

	if state.CycleState, err = domain.ParseCycleState(cycleState); err != nil {
		return nil, err
	}
	if state.Position, err = decimal.NewFromString(position); err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	if state.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("parse realized pnl: %w", err)
	}
	return &state, nil
}

func (s *PostgresStore) AbortCycle(ctx context.Context, cycleID uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cycles SET state = 'ABORT', abort_reason = $2, updated_at = NOW()
		 WHERE id = $1 AND state NOT IN ('CYCLE_COMPLETE', 'ABORT')`,
		cycleID, reason)
	if err != nil {
		return fmt.Errorf("abort cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cycle %s not found or already terminal", cycleID)
	}
	return nil
}

func (s *PostgresStore) MarkOrderCancelled(ctx context.Context, orderID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = 'CANCELLED', updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('FILLED', 'CANCELLED', 'REJECTED')`,
		orderID)
	if err != nil {
		return fmt.Errorf("mark order cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s not found or already terminal", orderID)
	}
	return nil
}

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
