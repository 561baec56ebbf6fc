package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/config"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

type TripReason string

const (
	TripConsecutiveFailures TripReason = "consecutive_failures"
	TripDailyLossLimit      TripReason = "daily_loss_limit"
	TripStaleQuotes         TripReason = "stale_quotes"
	TripWsDisconnect        TripReason = "ws_disconnect"
	TripManual              TripReason = "manual"
)

type Stats struct {
	State               State
	TripReason          TripReason
	TrippedAt           time.Time
	ConsecutiveFailures int
	DailyLoss           decimal.Decimal
	HalfOpenTrades      int
	HalfOpenExposure    decimal.Decimal
	HalfOpenSuccesses   int
}

type Breaker struct {
	mu  sync.RWMutex
	cfg *config.BreakerConfig

	state      State
	tripReason TripReason
	trippedAt  time.Time

	consecutiveFailures int
	dailyLoss           decimal.Decimal
	dailyLossDate       time.Time

	halfOpenTrades    int
	halfOpenExposure  decimal.Decimal
	halfOpenSuccesses int

	logger *slog.Logger
	now    func() time.Time
}

func New(cfg *config.BreakerConfig, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:           cfg,
		state:         StateClosed,
		dailyLossDate: todayUTC(time.Now()),
		logger:        logger,
		now:           time.Now,
	}
}

func todayUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// ShouldAllowTrade decides whether a trade of the given notional may proceed.
// While half-open it consumes one trial slot and reserves the notional
// against the half-open exposure quota.
func (b *Breaker) ShouldAllowTrade(notional decimal.Decimal) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, ""

	case StateOpen:
		elapsed := b.now().Sub(b.trippedAt)
		if elapsed < b.cfg.RecoveryTimeout() {
			return false, fmt.Sprintf("circuit open: %s (recovery in %s)",
				b.tripReason, (b.cfg.RecoveryTimeout() - elapsed).Round(time.Second))
		}
		b.transitionTo(StateHalfOpen, b.tripReason)
		return b.allowHalfOpenLocked(notional)

	case StateHalfOpen:
		return b.allowHalfOpenLocked(notional)
	}

	return false, "unknown breaker state"
}

func (b *Breaker) allowHalfOpenLocked(notional decimal.Decimal) (bool, string) {
	if b.halfOpenTrades >= b.cfg.HalfOpenMaxTrades {
		return false, fmt.Sprintf("half-open trade quota exhausted (%d/%d)",
			b.halfOpenTrades, b.cfg.HalfOpenMaxTrades)
	}
	if b.halfOpenExposure.Add(notional).GreaterThan(b.cfg.HalfOpenMaxExposureUSD) {
		return false, fmt.Sprintf("half-open exposure quota exceeded (%s + %s > %s)",
			b.halfOpenExposure, notional, b.cfg.HalfOpenMaxExposureUSD)
	}
	b.halfOpenTrades++
	b.halfOpenExposure = b.halfOpenExposure.Add(notional)
	return true, ""
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenSuccessThreshold {
			b.transitionTo(StateClosed, "")
			b.logger.Info("circuit breaker recovered, trading resumed")
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		// any failure during trial period re-trips immediately
		b.transitionTo(StateOpen, TripConsecutiveFailures)
		b.logger.Warn("circuit breaker re-tripped during half-open trial",
			"reason", reason)
	case StateClosed:
		b.consecutiveFailures++
		b.logger.Warn("trade failure recorded",
			"reason", reason,
			"consecutive", b.consecutiveFailures,
			"threshold", b.cfg.FailureThreshold)
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen, TripConsecutiveFailures)
			b.logger.Error("CIRCUIT BREAKER TRIPPED",
				"trip_reason", string(TripConsecutiveFailures))
		}
	}
}

func (b *Breaker) RecordLoss(amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ensureDailyResetLocked()
	b.dailyLoss = b.dailyLoss.Add(amount.Abs())

	if b.state != StateOpen && b.dailyLoss.GreaterThanOrEqual(b.cfg.DailyLossLimitUSD) {
		b.transitionTo(StateOpen, TripDailyLossLimit)
		b.logger.Error("CIRCUIT BREAKER TRIPPED",
			"trip_reason", string(TripDailyLossLimit),
			"daily_loss", b.dailyLoss.String(),
			"limit", b.cfg.DailyLossLimitUSD.String())
	}
}

// CheckQuoteStaleness trips the breaker when the newest quote is older than
// the configured staleness window. Called from a monitor loop, not per trade.
func (b *Breaker) CheckQuoteStaleness(lastQuote time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		return
	}
	age := b.now().Sub(lastQuote)
	if age > b.cfg.QuoteStaleness() {
		b.transitionTo(StateOpen, TripStaleQuotes)
		b.logger.Error("CIRCUIT BREAKER TRIPPED",
			"trip_reason", string(TripStaleQuotes),
			"quote_age_s", int(age.Seconds()))
	}
}

func (b *Breaker) CheckWebsocketStatus(lastMessage time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		return
	}
	age := b.now().Sub(lastMessage)
	if age > b.cfg.WsDisconnectThreshold() {
		b.transitionTo(StateOpen, TripWsDisconnect)
		b.logger.Error("CIRCUIT BREAKER TRIPPED",
			"trip_reason", string(TripWsDisconnect),
			"ws_silence_s", int(age.Seconds()))
	}
}

func (b *Breaker) TripManual(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateOpen, TripManual)
	b.logger.Error("CIRCUIT BREAKER MANUALLY TRIPPED", "reason", reason)
}

func (b *Breaker) ResetManual() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionTo(StateClosed, "")
	b.dailyLoss = decimal.Zero
	b.logger.Warn("CIRCUIT BREAKER MANUALLY RESET")
}

func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:               b.state,
		TripReason:          b.tripReason,
		TrippedAt:           b.trippedAt,
		ConsecutiveFailures: b.consecutiveFailures,
		DailyLoss:           b.dailyLoss,
		HalfOpenTrades:      b.halfOpenTrades,
		HalfOpenExposure:    b.halfOpenExposure,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
}

// transitionTo resets every episode counter so stale counts never leak
// across state changes. Daily loss survives; it resets on UTC rollover.
func (b *Breaker) transitionTo(target State, reason TripReason) {
	prev := b.state
	b.state = target
	b.tripReason = reason
	b.consecutiveFailures = 0
	b.halfOpenTrades = 0
	b.halfOpenExposure = decimal.Zero
	b.halfOpenSuccesses = 0

	if target == StateOpen {
		b.trippedAt = b.now()
	}

	if prev != target {
		b.logger.Info("circuit breaker state change",
			"from", string(prev), "to", string(target), "reason", string(reason))
	}
}

func (b *Breaker) ensureDailyResetLocked() {
	today := todayUTC(b.now())
	if today.After(b.dailyLossDate) {
		b.dailyLoss = decimal.Zero
		b.dailyLossDate = today
	}
}
