package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/breaker"
	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/execution"
	"github.com/proerror77/ploy-sub002/internal/governance"
	"github.com/proerror77/ploy-sub002/internal/monitor"
	"github.com/proerror77/ploy-sub002/internal/nonce"
	"github.com/proerror77/ploy-sub002/internal/risk"
)

var (
	ErrGovernanceBlocked  = errors.New("governance policy blocks new intents")
	ErrDomainBlocked      = errors.New("domain blocked by governance policy")
	ErrIntentNotionalCap  = errors.New("intent notional exceeds governance cap")
	ErrTotalNotionalCap   = errors.New("aggregate notional exceeds governance cap")
	ErrRiskRejected       = errors.New("risk check rejected intent")
	ErrBreakerOpen        = errors.New("circuit breaker open")
	ErrQueueFull          = errors.New("intent queue full")
	ErrAgentNotRegistered = errors.New("agent not registered")
)

// RiskRejection wraps ErrRiskRejected with the failed check so callers can
// inspect the reason and any size adjustment suggestion.
type RiskRejection struct {
	Check risk.Check
}

func (e *RiskRejection) Error() string {
	return fmt.Sprintf("risk check rejected intent: %s (%s)", e.Check.Reason, e.Check.Details)
}

func (e *RiskRejection) Unwrap() error {
	return ErrRiskRejected
}

// QuoteSource supplies the live spread for the pre-trade spread gate.
// Second result is false when no two-sided quote exists for the market.
type QuoteSource interface {
	SpreadBps(marketID string) (int, bool)
}

// OrderJournal persists order lifecycle transitions off the hot path.
type OrderJournal interface {
	RecordOrder(o domain.Order)
}

// Coordinator owns the submission pipeline. Every intent, whether submitted
// synchronously or drained from the intake queue, passes governance, risk,
// and breaker checks in that order before a nonce is allocated and the
// executor invoked.
type Coordinator struct {
	cfg *config.CoordinatorConfig

	governance *governance.Manager
	riskMgr    *risk.Manager
	breaker    *breaker.Breaker
	nonces     *nonce.Manager
	executor   execution.Executor
	journal    OrderJournal
	metrics    *monitor.Metrics
	quotes     QuoteSource

	intentCh  chan domain.OrderIntent
	stateCh   chan AgentSnapshot
	controlCh chan controlMsg

	mu     sync.RWMutex
	agents map[string]*AgentContext
	state  GlobalState

	logger *slog.Logger
}

func New(
	cfg *config.CoordinatorConfig,
	gov *governance.Manager,
	riskMgr *risk.Manager,
	brk *breaker.Breaker,
	nonces *nonce.Manager,
	executor execution.Executor,
	journal OrderJournal,
	metrics *monitor.Metrics,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		governance: gov,
		riskMgr:    riskMgr,
		breaker:    brk,
		nonces:     nonces,
		executor:   executor,
		journal:    journal,
		metrics:    metrics,
		intentCh:   make(chan domain.OrderIntent, cfg.IntentBufferSize),
		stateCh:    make(chan AgentSnapshot, cfg.StateBufferSize),
		controlCh:  make(chan controlMsg, cfg.ControlBufferSize),
		agents:     make(map[string]*AgentContext),
		state: GlobalState{
			Agents:    make(map[string]AgentSnapshot),
			UpdatedAt: time.Now().UTC(),
		},
		logger: logger.With("component", "coordinator"),
	}
}

// SetQuoteSource wires the quote cache in after construction. Must be called
// before Run; nil disables the spread gate.
func (c *Coordinator) SetQuoteSource(q QuoteSource) {
	c.quotes = q
}

// RegisterAgent creates the agent's private channels and returns its handle.
func (c *Coordinator) RegisterAgent(agentID string) (*AgentContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agentID]; exists {
		return nil, fmt.Errorf("agent %s already registered", agentID)
	}

	actx := &AgentContext{
		agentID:  agentID,
		coord:    c,
		cmdCh:    make(chan Command, c.cfg.CommandBufferSize),
		reportCh: make(chan domain.ExecutionReport, c.cfg.CommandBufferSize),
	}
	c.agents[agentID] = actx

	c.logger.Info("agent registered", "agent_id", agentID)
	return actx, nil
}

func (c *Coordinator) UnregisterAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[agentID]; exists {
		delete(c.agents, agentID)
		delete(c.state.Agents, agentID)
		c.logger.Info("agent unregistered", "agent_id", agentID)
	}
}

// SubmitOrder is the synchronous pipeline: governance gate, risk check,
// breaker check, nonce allocation, execution. A rejection at any stage
// returns a typed error and never reaches the executor.
func (c *Coordinator) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (domain.ExecutionReport, error) {
	start := time.Now()
	notional := intent.NotionalValue()
	if c.metrics != nil {
		c.metrics.IntentsSubmitted.WithLabelValues(intent.AgentID, string(intent.Domain)).Inc()
	}

	if err := c.checkGovernance(intent, notional); err != nil {
		c.countRejection(intent, "governance")
		c.logger.Warn("intent rejected by governance",
			"agent_id", intent.AgentID,
			"intent_id", intent.ID,
			"error", err)
		return domain.ExecutionReport{}, err
	}

	var timeRemaining *time.Duration
	if !intent.RoundEndsAt.IsZero() {
		d := time.Until(intent.RoundEndsAt)
		timeRemaining = &d
	}
	check := c.riskMgr.CheckNewPosition(intent.AgentID, intent.Size, intent.LimitPrice, timeRemaining)
	if !check.Passed {
		c.countRejection(intent, string(check.Reason))
		c.logger.Warn("intent rejected by risk manager",
			"agent_id", intent.AgentID,
			"intent_id", intent.ID,
			"reason", string(check.Reason),
			"details", check.Details)
		return domain.ExecutionReport{}, &RiskRejection{Check: check}
	}

	if c.quotes != nil {
		if bps, ok := c.quotes.SpreadBps(intent.MarketID); ok {
			if spread := c.riskMgr.CheckSpread(bps); !spread.Passed {
				c.countRejection(intent, string(spread.Reason))
				c.logger.Warn("intent rejected on spread",
					"agent_id", intent.AgentID,
					"intent_id", intent.ID,
					"market", intent.MarketID,
					"spread_bps", bps)
				return domain.ExecutionReport{}, &RiskRejection{Check: spread}
			}
		}
	}

	if allowed, reason := c.breaker.ShouldAllowTrade(notional); !allowed {
		c.countRejection(intent, "breaker_open")
		c.logger.Warn("intent rejected by circuit breaker",
			"agent_id", intent.AgentID,
			"intent_id", intent.ID,
			"reason", reason)
		return domain.ExecutionReport{}, fmt.Errorf("%w: %s", ErrBreakerOpen, reason)
	}

	report, err := c.execute(ctx, intent)
	if err == nil && c.metrics != nil {
		c.metrics.IntentsApproved.WithLabelValues(intent.AgentID, string(intent.Domain)).Inc()
		c.metrics.SubmitLatency.WithLabelValues(intent.AgentID).Observe(float64(time.Since(start).Milliseconds()))
	}
	return report, err
}

func (c *Coordinator) countRejection(intent domain.OrderIntent, reason string) {
	if c.metrics != nil {
		c.metrics.IntentsRejected.WithLabelValues(intent.AgentID, reason).Inc()
	}
}

func (c *Coordinator) checkGovernance(intent domain.OrderIntent, notional decimal.Decimal) error {
	policy := c.governance.Snapshot()

	if policy.BlockNewIntents {
		return ErrGovernanceBlocked
	}
	if policy.IsDomainBlocked(intent.Domain) {
		return fmt.Errorf("%w: %s", ErrDomainBlocked, intent.Domain)
	}
	if policy.MaxIntentNotionalUSD.IsPositive() && notional.GreaterThan(policy.MaxIntentNotionalUSD) {
		return fmt.Errorf("%w: %s > %s", ErrIntentNotionalCap,
			notional.StringFixed(2), policy.MaxIntentNotionalUSD.StringFixed(2))
	}
	if policy.MaxTotalNotionalUSD.IsPositive() {
		projected := c.riskMgr.TotalExposure().Add(notional)
		if projected.GreaterThan(policy.MaxTotalNotionalUSD) {
			return fmt.Errorf("%w: %s > %s", ErrTotalNotionalCap,
				projected.StringFixed(2), policy.MaxTotalNotionalUSD.StringFixed(2))
		}
	}
	return nil
}

// execute allocates a nonce, journals the order, submits, and settles nonce
// and counters based on the outcome. Breaker and risk failure accounting
// happens here, on execution outcomes, not on pre-trade rejections.
func (c *Coordinator) execute(ctx context.Context, intent domain.OrderIntent) (domain.ExecutionReport, error) {
	n, err := c.nonces.Allocate(ctx)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("allocate nonce: %w", err)
	}
	if c.metrics != nil {
		c.metrics.NonceAllocations.Inc()
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            uuid.Must(uuid.NewV7()),
		ClientOrderID: intent.ID.String(),
		MarketID:      intent.MarketID,
		Side:          intent.Side,
		Price:         intent.LimitPrice,
		Size:          intent.Size,
		Status:        domain.OrderStatusPending,
		Nonce:         n,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.journalOrder(order)

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout())
	defer cancel()

	order.Status = domain.OrderStatusSubmitted
	order.UpdatedAt = time.Now().UTC()
	c.journalOrder(order)

	report, err := c.executor.Submit(submitCtx, intent, n)
	if err != nil {
		c.releaseNonce(ctx, n, "submit failed")
		c.breaker.RecordFailure("submit_error")
		c.riskMgr.RecordFailure(intent.AgentID, "submit_error")
		order.Status = domain.OrderStatusRejected
		order.UpdatedAt = time.Now().UTC()
		c.journalOrder(order)
		return domain.ExecutionReport{}, fmt.Errorf("submit order: %w", err)
	}

	if report.Status.IsSuccess() {
		if err := c.nonces.MarkUsed(ctx, n, report.ExchangeOrderID); err != nil {
			c.logger.Error("failed to mark nonce used", "nonce", n, "error", err)
		}
		c.breaker.RecordSuccess()
		c.riskMgr.RecordSuccess(intent.AgentID, decimal.Zero)
		order.ExchangeOrderID = report.ExchangeOrderID
		order.FilledSize = report.FilledSize
		order.AvgFillPrice = report.FillPrice
		if report.Status == domain.ExecPartialFill {
			order.Status = domain.OrderStatusPartialFill
		} else {
			order.Status = domain.OrderStatusFilled
		}
	} else {
		c.releaseNonce(ctx, n, string(report.Status))
		c.breaker.RecordFailure(string(report.Status))
		c.riskMgr.RecordFailure(intent.AgentID, string(report.Status))
		order.Status = domain.OrderStatusRejected
	}
	order.UpdatedAt = time.Now().UTC()
	c.journalOrder(order)

	c.deliverReport(report)

	c.logger.Info("order executed",
		"agent_id", intent.AgentID,
		"intent_id", intent.ID,
		"market", intent.MarketID,
		"status", string(report.Status),
		"nonce", n)
	return report, nil
}

func (c *Coordinator) journalOrder(o domain.Order) {
	if c.journal != nil {
		c.journal.RecordOrder(o)
	}
}

func (c *Coordinator) releaseNonce(ctx context.Context, n uint64, reason string) {
	if err := c.nonces.Release(ctx, n, reason); err != nil {
		c.logger.Error("failed to release nonce", "nonce", n, "reason", reason, "error", err)
	}
	if c.metrics != nil {
		c.metrics.NonceReleases.Inc()
	}
}

func (c *Coordinator) deliverReport(report domain.ExecutionReport) {
	c.mu.RLock()
	actx, ok := c.agents[report.AgentID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case actx.reportCh <- report:
	default:
		c.logger.Warn("agent report channel full, dropping report",
			"agent_id", report.AgentID, "intent_id", report.IntentID)
	}
}

// EnqueueIntent feeds the run loop's intake queue without blocking.
func (c *Coordinator) EnqueueIntent(intent domain.OrderIntent) error {
	select {
	case c.intentCh <- intent:
		return nil
	default:
		c.logger.Warn("intent queue full, rejecting",
			"agent_id", intent.AgentID, "intent_id", intent.ID)
		return ErrQueueFull
	}
}

func (c *Coordinator) pushState(snapshot AgentSnapshot) {
	snapshot.Heartbeat = time.Now().UTC()
	select {
	case c.stateCh <- snapshot:
	default:
	}
}

// UpdateAgentState applies a snapshot directly, bypassing the state channel.
func (c *Coordinator) UpdateAgentState(snapshot AgentSnapshot) {
	if snapshot.Heartbeat.IsZero() {
		snapshot.Heartbeat = time.Now().UTC()
	}
	c.mu.Lock()
	c.applySnapshotLocked(snapshot)
	c.mu.Unlock()
}

func (c *Coordinator) applySnapshotLocked(snapshot AgentSnapshot) {
	c.state.Agents[snapshot.AgentID] = snapshot
	c.recomputeLocked()
}

func (c *Coordinator) recomputeLocked() {
	total := decimal.Zero
	pnl := decimal.Zero
	active := 0
	staleAfter := c.cfg.HeartbeatStaleAfter()
	now := time.Now().UTC()

	for id, snap := range c.state.Agents {
		snap.Stale = now.Sub(snap.Heartbeat) > staleAfter
		c.state.Agents[id] = snap

		total = total.Add(snap.Exposure)
		pnl = pnl.Add(snap.DailyPnL)
		if snap.Status.IsActive() && !snap.Stale {
			active++
		}
	}
	c.state.TotalExposure = total
	c.state.TotalDailyPnL = pnl
	c.state.ActiveAgents = active
	c.state.UpdatedAt = now
}

func (c *Coordinator) ReadState() GlobalState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

func (c *Coordinator) Policy() governance.Policy {
	return c.governance.Snapshot()
}

func (c *Coordinator) UpdatePolicy(ctx context.Context, u governance.Update) (governance.Policy, error) {
	return c.governance.Update(ctx, u)
}

func (c *Coordinator) PauseAgent(agentID, reason string) error {
	return c.sendControl(controlMsg{typ: controlPauseAgent, agentID: agentID, reason: reason})
}

func (c *Coordinator) ResumeAgent(agentID string) error {
	return c.sendControl(controlMsg{typ: controlResumeAgent, agentID: agentID})
}

func (c *Coordinator) ShutdownAgent(agentID, reason string) error {
	return c.sendControl(controlMsg{typ: controlShutdownAgent, agentID: agentID, reason: reason})
}

func (c *Coordinator) PauseAll(reason string) error {
	return c.sendControl(controlMsg{typ: controlPauseAll, reason: reason})
}

func (c *Coordinator) ResumeAll() error {
	return c.sendControl(controlMsg{typ: controlResumeAll})
}

func (c *Coordinator) sendControl(msg controlMsg) error {
	select {
	case c.controlCh <- msg:
		return nil
	default:
		return fmt.Errorf("control queue full")
	}
}

// Run drains the intake, state, and control channels until ctx is done.
// Queued intents go through the same pipeline as SubmitOrder; per-intent
// rejections are logged, not fatal.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator run loop started",
		"intent_buffer", cap(c.intentCh),
		"state_buffer", cap(c.stateCh))

	refreshTicker := time.NewTicker(c.cfg.StateRefreshInterval())
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator run loop stopping")
			return ctx.Err()

		case intent := <-c.intentCh:
			if _, err := c.SubmitOrder(ctx, intent); err != nil {
				c.logger.Debug("queued intent not executed",
					"agent_id", intent.AgentID,
					"intent_id", intent.ID,
					"error", err)
			}

		case snapshot := <-c.stateCh:
			c.mu.Lock()
			c.applySnapshotLocked(snapshot)
			c.mu.Unlock()

		case msg := <-c.controlCh:
			c.handleControl(msg)

		case <-refreshTicker.C:
			c.refreshState()
		}
	}
}

func (c *Coordinator) refreshState() {
	c.mu.Lock()
	c.recomputeLocked()
	state := c.state.clone()
	c.mu.Unlock()

	stale := 0
	for id, snap := range state.Agents {
		if snap.Stale {
			stale++
			c.logger.Warn("agent heartbeat stale",
				"agent_id", id,
				"last_heartbeat", snap.Heartbeat.Format(time.RFC3339))
		}
		c.riskMgr.UpdateExposure(id, snap.Exposure, snap.UnrealizedPnL, snap.PositionCount)
	}

	if c.metrics != nil {
		c.metrics.ActiveAgents.Set(float64(state.ActiveAgents))
		c.metrics.StaleAgents.Set(float64(stale))
		c.metrics.TotalExposureUSD.Set(c.riskMgr.TotalExposure().InexactFloat64())
		pnl, _, _ := c.riskMgr.DailyStats()
		c.metrics.DailyPnLUSD.Set(pnl.InexactFloat64())
		c.metrics.RiskLevel.Set(riskLevelValue(c.riskMgr.State()))
	}
}

func riskLevelValue(l risk.Level) float64 {
	switch l {
	case risk.LevelNormal:
		return 0
	case risk.LevelElevated:
		return 1
	case risk.LevelHalted:
		return 2
	}
	return -1
}

func (c *Coordinator) handleControl(msg controlMsg) {
	switch msg.typ {
	case controlPauseAgent:
		c.sendCommand(msg.agentID, Command{Type: CommandPause, Reason: msg.reason, IssuedAt: time.Now().UTC()})
	case controlResumeAgent:
		c.sendCommand(msg.agentID, Command{Type: CommandResume, IssuedAt: time.Now().UTC()})
	case controlShutdownAgent:
		c.sendCommand(msg.agentID, Command{Type: CommandShutdown, Reason: msg.reason, IssuedAt: time.Now().UTC()})
	case controlPauseAll:
		c.broadcast(Command{Type: CommandPause, Reason: msg.reason, IssuedAt: time.Now().UTC()})
	case controlResumeAll:
		c.broadcast(Command{Type: CommandResume, IssuedAt: time.Now().UTC()})
	}
}

func (c *Coordinator) sendCommand(agentID string, cmd Command) {
	c.mu.RLock()
	actx, ok := c.agents[agentID]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("command for unknown agent", "agent_id", agentID, "type", string(cmd.Type))
		return
	}
	select {
	case actx.cmdCh <- cmd:
	default:
		c.logger.Warn("agent command channel full, dropping command",
			"agent_id", agentID, "type", string(cmd.Type))
	}
}

func (c *Coordinator) broadcast(cmd Command) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.sendCommand(id, cmd)
	}
}

// Shutdown tells every agent to stop and drains nothing further. The caller
// is expected to cancel the Run context alongside.
func (c *Coordinator) Shutdown(reason string) {
	c.logger.Info("coordinator shutting down", "reason", reason)
	c.broadcast(Command{Type: CommandShutdown, Reason: reason, IssuedAt: time.Now().UTC()})
}
