package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/config"
)

type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelElevated Level = "ELEVATED"
	LevelHalted   Level = "HALTED"
)

func (l Level) CanTrade() bool {
	return l != LevelHalted
}

func (l Level) CanOpenPosition() bool {
	return l == LevelNormal
}

type RejectionReason string

const (
	RejectHalted           RejectionReason = "trading_halted"
	RejectElevated         RejectionReason = "elevated_risk"
	RejectSingleExposure   RejectionReason = "single_exposure_limit"
	RejectTotalExposure    RejectionReason = "total_exposure_limit"
	RejectStrategyExposure RejectionReason = "strategy_exposure_limit"
	RejectTimeRemaining    RejectionReason = "insufficient_time_remaining"
	RejectSpread           RejectionReason = "spread_too_wide"
)

// Adjustment suggests how a rejected request could be made acceptable.
type Adjustment struct {
	MaxShares int64
}

type Check struct {
	Passed     bool
	Level      Level
	Reason     RejectionReason
	Details    string
	Suggestion *Adjustment
}

func pass() Check {
	return Check{Passed: true, Level: LevelNormal}
}

func fail(level Level, reason RejectionReason, details string) Check {
	return Check{Passed: false, Level: level, Reason: reason, Details: details}
}

type strategyMetrics struct {
	Exposure            decimal.Decimal
	UnrealizedPnL       decimal.Decimal
	RealizedPnL         decimal.Decimal
	PositionCount       int
	ConsecutiveFailures int
	LastUpdate          time.Time
}

type StrategyStats struct {
	Exposure            decimal.Decimal
	RealizedPnL         decimal.Decimal
	PositionCount       int
	ConsecutiveFailures int
}

type CheckpointState struct {
	Level               Level           `json:"level"`
	TotalExposure       decimal.Decimal `json:"total_exposure"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	DailyPnL            decimal.Decimal `json:"daily_pnl"`
	CycleCount          int             `json:"cycle_count"`
	SuccessCount        int             `json:"success_count"`
	HaltReason          string          `json:"halt_reason,omitempty"`
	CheckpointedAt      time.Time       `json:"checkpointed_at"`
}

type Manager struct {
	mu sync.RWMutex

	level               Level
	metrics             map[string]*strategyMetrics
	consecutiveFailures int
	totalExposure       decimal.Decimal

	pnl   *PnLTracker
	latch *HaltLatch

	cfg    *config.RiskConfig
	logger *slog.Logger
}

func NewManager(cfg *config.RiskConfig, haltLatchPath string, logger *slog.Logger) *Manager {
	m := &Manager{
		level:   LevelNormal,
		metrics: make(map[string]*strategyMetrics),
		pnl:     NewPnLTracker(),
		latch:   NewHaltLatch(haltLatchPath, logger),
		cfg:     cfg,
		logger:  logger,
	}
	if m.latch.IsActive() {
		m.level = LevelHalted
	}
	return m
}

// CheckNewPosition runs the pre-trade gate for opening a new position.
// Size is fractional; crypto markets trade sub-unit quantities.
// timeRemaining is nil for markets without a resolution deadline.
func (m *Manager) CheckNewPosition(strategyID string, size, price decimal.Decimal, timeRemaining *time.Duration) Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.level.CanTrade() {
		return fail(LevelHalted, RejectHalted, "trading is halted")
	}
	if !m.level.CanOpenPosition() {
		return fail(LevelElevated, RejectElevated, "new positions blocked while risk is elevated")
	}

	exposure := size.Mul(price)
	if exposure.GreaterThan(m.cfg.MaxSingleExposureUSD) {
		maxShares := int64(0)
		if price.IsPositive() {
			maxShares = m.cfg.MaxSingleExposureUSD.Div(price).IntPart()
		}
		c := fail(m.level, RejectSingleExposure,
			fmt.Sprintf("exposure $%s exceeds limit $%s", exposure, m.cfg.MaxSingleExposureUSD))
		c.Suggestion = &Adjustment{MaxShares: maxShares}
		return c
	}

	if m.totalExposure.Add(exposure).GreaterThan(m.cfg.MaxTotalExposureUSD) {
		return fail(m.level, RejectTotalExposure,
			fmt.Sprintf("total exposure would be $%s, exceeds limit $%s",
				m.totalExposure.Add(exposure), m.cfg.MaxTotalExposureUSD))
	}

	if sm, ok := m.metrics[strategyID]; ok {
		if sm.Exposure.Add(exposure).GreaterThan(m.cfg.MaxStrategyExposureUSD) {
			return fail(m.level, RejectStrategyExposure,
				fmt.Sprintf("strategy %s exposure would be $%s, exceeds limit $%s",
					strategyID, sm.Exposure.Add(exposure), m.cfg.MaxStrategyExposureUSD))
		}
	}

	if timeRemaining != nil && *timeRemaining < m.cfg.MinTimeRemaining() {
		return fail(m.level, RejectTimeRemaining,
			fmt.Sprintf("only %s remaining, minimum is %s",
				timeRemaining.Round(time.Second), m.cfg.MinTimeRemaining()))
	}

	return pass()
}

func (m *Manager) CheckSpread(spreadBps int) Check {
	if spreadBps > m.cfg.MaxSpreadBps {
		return fail(LevelNormal, RejectSpread,
			fmt.Sprintf("spread %d bps exceeds max %d bps", spreadBps, m.cfg.MaxSpreadBps))
	}
	return pass()
}

func (m *Manager) MustForceClose(timeRemaining time.Duration) bool {
	return timeRemaining <= m.cfg.ForceCloseWindow()
}

func (m *Manager) UpdateExposure(strategyID string, exposure, unrealizedPnL decimal.Decimal, positionCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.metricsFor(strategyID)
	m.totalExposure = m.totalExposure.Add(exposure.Sub(sm.Exposure))
	sm.Exposure = exposure
	sm.UnrealizedPnL = unrealizedPnL
	sm.PositionCount = positionCount
	sm.LastUpdate = time.Now().UTC()
}

func (m *Manager) RecordSuccess(strategyID string, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures = 0
	sm := m.metricsFor(strategyID)
	sm.ConsecutiveFailures = 0
	sm.RealizedPnL = sm.RealizedPnL.Add(pnl)

	m.pnl.AddRealized(pnl)
	m.pnl.RecordCycle(true)

	m.logger.Info("strategy cycle succeeded",
		"strategy", strategyID, "pnl", pnl.String())

	if m.level == LevelElevated {
		m.level = LevelNormal
		m.logger.Info("risk level normalized after successful trade")
	}
}

func (m *Manager) RecordFailure(strategyID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++
	sm := m.metricsFor(strategyID)
	sm.ConsecutiveFailures++
	m.pnl.RecordCycle(false)

	m.logger.Warn("strategy cycle failed",
		"strategy", strategyID,
		"reason", reason,
		"strategy_failures", sm.ConsecutiveFailures,
		"global_failures", m.consecutiveFailures)

	if m.consecutiveFailures >= m.cfg.MaxConsecutiveFailures {
		m.haltLocked("too many consecutive failures")
	} else if m.consecutiveFailures >= m.cfg.MaxConsecutiveFailures/2 {
		if m.level == LevelNormal {
			m.level = LevelElevated
			m.logger.Warn("risk level elevated due to failures")
		}
	}
}

func (m *Manager) RecordLoss(strategyID string, loss decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm := m.metricsFor(strategyID)
	sm.RealizedPnL = sm.RealizedPnL.Sub(loss.Abs())
	m.pnl.AddRealized(loss.Abs().Neg())

	dailyPnL, _, _ := m.pnl.DailyStats()
	if dailyPnL.IsNegative() && dailyPnL.Abs().GreaterThanOrEqual(m.cfg.DailyLossLimitUSD) {
		m.haltLocked(fmt.Sprintf("daily loss limit exceeded: %s", dailyPnL))
	}
}

func (m *Manager) TriggerHalt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked(reason)
}

func (m *Manager) ResetHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = LevelNormal
	m.consecutiveFailures = 0
	for _, sm := range m.metrics {
		sm.ConsecutiveFailures = 0
	}
	m.latch.Deactivate()
	m.logger.Warn("risk halt reset, trading resumed")
}

func (m *Manager) haltLocked(reason string) {
	if m.level == LevelHalted {
		return
	}
	m.level = LevelHalted
	m.latch.Activate(reason)
	m.logger.Error("TRADING HALTED", "reason", reason)
}

func (m *Manager) State() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

func (m *Manager) CanTrade() bool {
	return m.State().CanTrade()
}

func (m *Manager) CanOpenPosition() bool {
	return m.State().CanOpenPosition()
}

func (m *Manager) TotalExposure() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalExposure
}

func (m *Manager) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveFailures
}

func (m *Manager) DailyStats() (decimal.Decimal, int, int) {
	return m.pnl.DailyStats()
}

func (m *Manager) SuccessRate() float64 {
	_, cycles, successes := m.pnl.DailyStats()
	if cycles == 0 {
		return 0
	}
	return float64(successes) / float64(cycles)
}

func (m *Manager) StrategyStats(strategyID string) (StrategyStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sm, ok := m.metrics[strategyID]
	if !ok {
		return StrategyStats{}, false
	}
	return StrategyStats{
		Exposure:            sm.Exposure,
		RealizedPnL:         sm.RealizedPnL,
		PositionCount:       sm.PositionCount,
		ConsecutiveFailures: sm.ConsecutiveFailures,
	}, true
}

func (m *Manager) GetCheckpointState() *CheckpointState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dailyPnL, cycles, successes := m.pnl.DailyStats()
	return &CheckpointState{
		Level:               m.level,
		TotalExposure:       m.totalExposure,
		ConsecutiveFailures: m.consecutiveFailures,
		DailyPnL:            dailyPnL,
		CycleCount:          cycles,
		SuccessCount:        successes,
		HaltReason:          m.latch.Reason(),
		CheckpointedAt:      time.Now().UTC(),
	}
}

func (m *Manager) metricsFor(strategyID string) *strategyMetrics {
	sm, ok := m.metrics[strategyID]
	if !ok {
		sm = &strategyMetrics{}
		m.metrics[strategyID] = sm
	}
	return sm
}
