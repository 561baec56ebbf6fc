package execution

import (
	"context"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

// Executor is the boundary to the exchange. The coordinator hands it an
// approved intent plus an allocated nonce and expects an eventual report;
// signing and wire format live behind this interface.
type Executor interface {
	Submit(ctx context.Context, intent domain.OrderIntent, nonce uint64) (domain.ExecutionReport, error)
	Cancel(ctx context.Context, exchangeOrderID string) error
}
