package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

// SimulatedExecutor fills approved intents locally for dry runs.
type SimulatedExecutor struct {
	mu  sync.Mutex
	rng *rand.Rand

	latency       time.Duration
	rejectRatePct float64
	logger        *slog.Logger
}

func NewSimulatedExecutor(latency time.Duration, rejectRatePct float64, logger *slog.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		latency:       latency,
		rejectRatePct: rejectRatePct,
		logger:        logger,
	}
}

func (e *SimulatedExecutor) Submit(ctx context.Context, intent domain.OrderIntent, nonce uint64) (domain.ExecutionReport, error) {
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return domain.ExecutionReport{}, ctx.Err()
		}
	}

	e.mu.Lock()
	rejected := e.rng.Float64()*100 < e.rejectRatePct
	e.mu.Unlock()

	if rejected {
		e.logger.Debug("simulated rejection",
			"intent_id", intent.ID, "market", intent.MarketID)
		return domain.ExecutionReport{
			IntentID:  intent.ID,
			AgentID:   intent.AgentID,
			Status:    domain.ExecRejected,
			Error:     "simulated exchange rejection",
			Timestamp: time.Now().UTC(),
		}, nil
	}

	report := domain.ExecutionReport{
		IntentID:        intent.ID,
		AgentID:         intent.AgentID,
		Status:          domain.ExecFilled,
		FilledSize:      intent.Size,
		FillPrice:       intent.LimitPrice,
		ExchangeOrderID: fmt.Sprintf("sim-%s", uuid.Must(uuid.NewV7())),
		Timestamp:       time.Now().UTC(),
	}

	e.logger.Debug("simulated fill",
		"intent_id", intent.ID,
		"market", intent.MarketID,
		"size", intent.Size.String(),
		"price", intent.LimitPrice.String(),
		"nonce", nonce)

	return report, nil
}

func (e *SimulatedExecutor) Cancel(_ context.Context, exchangeOrderID string) error {
	e.logger.Debug("simulated cancel", "exchange_order_id", exchangeOrderID)
	return nil
}
