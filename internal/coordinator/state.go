package coordinator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/agent"
)

// AgentSnapshot is the per-agent health report agents push to the
// coordinator. Stale is derived from the heartbeat age at read time.
type AgentSnapshot struct {
	AgentID       string
	Status        agent.Status
	PositionCount int
	Exposure      decimal.Decimal
	DailyPnL      decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Metrics       map[string]float64
	Heartbeat     time.Time
	Stale         bool
}

// GlobalState is the aggregated view served to agents and operators.
type GlobalState struct {
	Agents        map[string]AgentSnapshot
	TotalExposure decimal.Decimal
	TotalDailyPnL decimal.Decimal
	ActiveAgents  int
	UpdatedAt     time.Time
}

func (s GlobalState) clone() GlobalState {
	out := s
	out.Agents = make(map[string]AgentSnapshot, len(s.Agents))
	for id, snap := range s.Agents {
		out.Agents[id] = snap
	}
	return out
}
