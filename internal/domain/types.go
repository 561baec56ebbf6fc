package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Domain string

const (
	DomainCrypto   Domain = "CRYPTO"
	DomainSports   Domain = "SPORTS"
	DomainPolitics Domain = "POLITICS"
	DomainEconomy  Domain = "ECONOMY"
	DomainOther    Domain = "OTHER"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type EventType string

const (
	EventMarketTick      EventType = "MARKET_TICK"
	EventQuoteUpdate     EventType = "QUOTE_UPDATE"
	EventExecutionUpdate EventType = "EXECUTION_UPDATE"
	EventTimeTick        EventType = "TIME_TICK"
)

type DomainEvent struct {
	Type      EventType
	Domain    Domain
	MarketID  string
	Price     decimal.Decimal
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Size      decimal.Decimal
	Report    *ExecutionReport
	Timestamp time.Time
}

func (e DomainEvent) IsTick() bool {
	return e.Type == EventTimeTick
}

type OrderPriority string

const (
	PriorityLow      OrderPriority = "LOW"
	PriorityNormal   OrderPriority = "NORMAL"
	PriorityHigh     OrderPriority = "HIGH"
	PriorityCritical OrderPriority = "CRITICAL"
)

type OrderIntent struct {
	ID          uuid.UUID
	AgentID     string
	Domain      Domain
	MarketID    string
	Side        Side
	Size        decimal.Decimal
	LimitPrice  decimal.Decimal
	Priority    OrderPriority
	ReduceOnly  bool
	RoundEndsAt time.Time // zero when the market has no resolution deadline
	CreatedAt   time.Time
}

func NewOrderIntent(agentID string, dom Domain, marketID string, side Side, size, limitPrice decimal.Decimal) OrderIntent {
	return OrderIntent{
		ID:         uuid.Must(uuid.NewV7()),
		AgentID:    agentID,
		Domain:     dom,
		MarketID:   marketID,
		Side:       side,
		Size:       size,
		LimitPrice: limitPrice,
		Priority:   PriorityNormal,
		CreatedAt:  time.Now().UTC(),
	}
}

func (i OrderIntent) NotionalValue() decimal.Decimal {
	return i.Size.Mul(i.LimitPrice)
}

type ExecutionStatus string

const (
	ExecFilled      ExecutionStatus = "FILLED"
	ExecPartialFill ExecutionStatus = "PARTIAL_FILL"
	ExecRejected    ExecutionStatus = "REJECTED"
	ExecFailed      ExecutionStatus = "FAILED"
	ExecTimedOut    ExecutionStatus = "TIMED_OUT"
)

func (s ExecutionStatus) IsSuccess() bool {
	return s == ExecFilled || s == ExecPartialFill
}

type ExecutionReport struct {
	IntentID        uuid.UUID
	AgentID         string
	Status          ExecutionStatus
	FilledSize      decimal.Decimal
	FillPrice       decimal.Decimal
	ExchangeOrderID string
	Error           string
	Timestamp       time.Time
}

type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusSubmitted   OrderStatus = "SUBMITTED"
	OrderStatusPartialFill OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled      OrderStatus = "FILLED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
	OrderStatusRejected    OrderStatus = "REJECTED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

type Order struct {
	ID              uuid.UUID
	CycleID         *uuid.UUID
	Leg             int
	ClientOrderID   string
	ExchangeOrderID string
	MarketID        string
	Side            Side
	Price           decimal.Decimal
	Size            decimal.Decimal
	FilledSize      decimal.Decimal
	AvgFillPrice    decimal.Decimal
	Status          OrderStatus
	Nonce           uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CycleState string

const (
	CycleIdle        CycleState = "IDLE"
	CycleWatchWindow CycleState = "WATCH_WINDOW"
	CycleLeg1Pending CycleState = "LEG1_PENDING"
	CycleLeg1Filled  CycleState = "LEG1_FILLED"
	CycleLeg2Pending CycleState = "LEG2_PENDING"
	CycleComplete    CycleState = "CYCLE_COMPLETE"
	CycleAbort       CycleState = "ABORT"
)

// CanTransitionTo enforces the forward-only cycle machine. Terminal states
// absorb; ABORT is reachable from every in-cycle state with open exposure.
func (s CycleState) CanTransitionTo(target CycleState) bool {
	switch s {
	case CycleIdle:
		return target == CycleWatchWindow
	case CycleWatchWindow:
		return target == CycleLeg1Pending || target == CycleIdle
	case CycleLeg1Pending:
		return target == CycleLeg1Filled || target == CycleAbort
	case CycleLeg1Filled:
		return target == CycleLeg2Pending || target == CycleAbort
	case CycleLeg2Pending:
		return target == CycleComplete || target == CycleAbort
	case CycleComplete, CycleAbort:
		return false
	}
	return false
}

func (s CycleState) ValidTransitions() []CycleState {
	switch s {
	case CycleIdle:
		return []CycleState{CycleWatchWindow}
	case CycleWatchWindow:
		return []CycleState{CycleLeg1Pending, CycleIdle}
	case CycleLeg1Pending:
		return []CycleState{CycleLeg1Filled, CycleAbort}
	case CycleLeg1Filled:
		return []CycleState{CycleLeg2Pending, CycleAbort}
	case CycleLeg2Pending:
		return []CycleState{CycleComplete, CycleAbort}
	}
	return nil
}

func (s CycleState) IsInCycle() bool {
	return s == CycleLeg1Pending || s == CycleLeg1Filled ||
		s == CycleLeg2Pending || s == CycleComplete
}

func (s CycleState) HasPendingOrder() bool {
	return s == CycleLeg1Pending || s == CycleLeg2Pending
}

func (s CycleState) IsTerminal() bool {
	return s == CycleComplete || s == CycleAbort
}

func ParseCycleState(s string) (CycleState, error) {
	switch CycleState(s) {
	case CycleIdle, CycleWatchWindow, CycleLeg1Pending, CycleLeg1Filled,
		CycleLeg2Pending, CycleComplete, CycleAbort:
		return CycleState(s), nil
	}
	return "", fmt.Errorf("unknown cycle state: %s", s)
}

type Cycle struct {
	ID           uuid.UUID
	RoundID      string
	MarketID     string
	State        CycleState
	Leg1Price    decimal.Decimal
	Leg1Size     decimal.Decimal
	Leg1FilledAt *time.Time
	Leg2Price    decimal.Decimal
	Leg2Size     decimal.Decimal
	Leg2FilledAt *time.Time
	PnL          decimal.Decimal
	AbortReason  string
	RoundEndsAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewCycle(roundID, marketID string, roundEndsAt time.Time) *Cycle {
	now := time.Now().UTC()
	return &Cycle{
		ID:          uuid.Must(uuid.NewV7()),
		RoundID:     roundID,
		MarketID:    marketID,
		State:       CycleLeg1Pending,
		RoundEndsAt: roundEndsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (c *Cycle) TransitionTo(target CycleState) error {
	if !c.State.CanTransitionTo(target) {
		return fmt.Errorf("invalid cycle transition %s -> %s", c.State, target)
	}
	c.State = target
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (c *Cycle) Abort(reason string) error {
	if err := c.TransitionTo(CycleAbort); err != nil {
		return err
	}
	c.AbortReason = reason
	return nil
}
