package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type AlertLevel string

const (
	AlertLevelP1 AlertLevel = "P1"
	AlertLevelP2 AlertLevel = "P2"
)

type Alert struct {
	Level     AlertLevel
	Name      string
	Condition string
	Message   string
	FiredAt   time.Time
	AckedAt   *time.Time
}

type AlertManager struct {
	mu       sync.RWMutex
	alerts   []Alert
	channels []string
	logger   *slog.Logger
}

func NewAlertManager(channels []string, logger *slog.Logger) *AlertManager {
	return &AlertManager{
		alerts:   make([]Alert, 0),
		channels: channels,
		logger:   logger,
	}
}

func (am *AlertManager) Fire(level AlertLevel, name, condition, message string) {
	alert := Alert{
		Level:     level,
		Name:      name,
		Condition: condition,
		Message:   message,
		FiredAt:   time.Now(),
	}

	am.mu.Lock()
	am.alerts = append(am.alerts, alert)
	am.mu.Unlock()

	am.logger.Error("ALERT FIRED",
		"level", string(level),
		"name", name,
		"condition", condition,
		"message", message,
	)

	am.dispatch(alert)
}

// BreakerTripped is a P1: all trading is stopped until recovery or operator
// intervention.
func (am *AlertManager) BreakerTripped(reason string) {
	am.Fire(AlertLevelP1, "breaker_tripped", "breaker.state == OPEN",
		"circuit breaker tripped: "+reason)
}

// RiskHalted is a P1: the halt latch persists across restarts and needs a
// manual reset.
func (am *AlertManager) RiskHalted(reason string) {
	am.Fire(AlertLevelP1, "risk_halted", "risk.level == HALTED",
		"risk manager halted trading: "+reason)
}

// RecoveryFound is a P2: the restart found unresolved state from a crash.
func (am *AlertManager) RecoveryFound(incompleteCycles, orphanedOrders int) {
	am.Fire(AlertLevelP2, "recovery_needed", "recovery.scan != clean",
		fmt.Sprintf("crash recovery scan found %d incomplete cycles, %d orphaned orders",
			incompleteCycles, orphanedOrders))
}

// FeedDown is a P2 until the breaker's disconnect threshold turns it into a
// trip.
func (am *AlertManager) FeedDown(age time.Duration) {
	am.Fire(AlertLevelP2, "feed_down", "feed.last_message_age > threshold",
		fmt.Sprintf("market data feed silent for %s", age.Round(time.Second)))
}

func (am *AlertManager) dispatch(alert Alert) {
	for _, ch := range am.channels {
		am.logger.Info("alert dispatched",
			"channel", ch,
			"level", string(alert.Level),
			"name", alert.Name,
		)
	}
}

func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var active []Alert
	for _, a := range am.alerts {
		if a.AckedAt == nil {
			active = append(active, a)
		}
	}
	return active
}

func (am *AlertManager) AcknowledgeAlert(name string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := time.Now()
	for i := range am.alerts {
		if am.alerts[i].Name == name && am.alerts[i].AckedAt == nil {
			am.alerts[i].AckedAt = &now
		}
	}
}
