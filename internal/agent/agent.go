package agent

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusRunning      Status = "RUNNING"
	StatusPaused       Status = "PAUSED"
	StatusObserving    Status = "OBSERVING"
	StatusStopped      Status = "STOPPED"
	StatusError        Status = "ERROR"
)

func (s Status) CanTrade() bool {
	return s == StatusRunning
}

func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusObserving || s == StatusPaused
}

type RiskParams struct {
	MaxOrderValue        decimal.Decimal
	MaxTotalExposure     decimal.Decimal
	MaxUnhedgedPositions int
	MaxDailyLoss         decimal.Decimal
	AllowOvernight       bool
	AllowedMarkets       []string
}

func DefaultRiskParams() RiskParams {
	return RiskParams{
		MaxOrderValue:        decimal.NewFromInt(50),
		MaxTotalExposure:     decimal.NewFromInt(200),
		MaxUnhedgedPositions: 3,
		MaxDailyLoss:         decimal.NewFromInt(100),
	}
}

func ConservativeRiskParams() RiskParams {
	return RiskParams{
		MaxOrderValue:        decimal.NewFromInt(25),
		MaxTotalExposure:     decimal.NewFromInt(100),
		MaxUnhedgedPositions: 2,
		MaxDailyLoss:         decimal.NewFromInt(50),
	}
}

func AggressiveRiskParams() RiskParams {
	return RiskParams{
		MaxOrderValue:        decimal.NewFromInt(100),
		MaxTotalExposure:     decimal.NewFromInt(500),
		MaxUnhedgedPositions: 5,
		MaxDailyLoss:         decimal.NewFromInt(200),
		AllowOvernight:       true,
	}
}

// IsMarketAllowed treats an empty allowlist as "all markets".
func (p RiskParams) IsMarketAllowed(marketID string) bool {
	if len(p.AllowedMarkets) == 0 {
		return true
	}
	for _, m := range p.AllowedMarkets {
		if m == marketID {
			return true
		}
	}
	return false
}

// Agent is the contract strategy code implements to plug into the platform.
// OnEvent analyzes one event and may return intents; a paused agent still
// receives events but is expected to return none.
type Agent interface {
	ID() string
	Name() string
	Domain() domain.Domain
	Status() Status
	RiskParams() RiskParams

	OnEvent(ctx context.Context, event domain.DomainEvent) ([]domain.OrderIntent, error)
	OnExecution(report domain.ExecutionReport)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause()
	Resume()
}
