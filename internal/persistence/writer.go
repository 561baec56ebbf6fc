package persistence

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/domain"
)

type WriteType int

const (
	WriteTypeCycle WriteType = iota
	WriteTypeOrder
	WriteTypeRiskCheckpoint
	WriteTypeBreakerSnapshot
)

type BreakerSnapshot struct {
	State               string
	TripReason          string
	ConsecutiveFailures int
	DailyLoss           decimal.Decimal
}

type WriteRequest struct {
	Type    WriteType
	Cycle   *domain.Cycle
	Order   *domain.Order
	Payload interface{}
}

// AsyncWriter keeps the hot path off the database. Cycle and order writes
// ride a bounded channel that drops on overflow; checkpoint writes ride a
// channel that is never dropped while the writer is running. The data
// channels are never closed, so concurrent Write calls racing a Stop cannot
// panic; Stop signals done and waits for the workers to drain.
type AsyncWriter struct {
	writeCh      chan WriteRequest
	checkpointCh chan WriteRequest

	sqliteStore   *SQLiteStore
	postgresStore *PostgresStore
	logger        *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewAsyncWriter(
	sqliteStore *SQLiteStore,
	postgresStore *PostgresStore,
	bufferSize int,
	logger *slog.Logger,
) *AsyncWriter {
	return &AsyncWriter{
		writeCh:       make(chan WriteRequest, bufferSize),
		checkpointCh:  make(chan WriteRequest, 100),
		sqliteStore:   sqliteStore,
		postgresStore: postgresStore,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

func (w *AsyncWriter) Write(req WriteRequest) {
	if req.Type == WriteTypeRiskCheckpoint || req.Type == WriteTypeBreakerSnapshot {
		select {
		case w.checkpointCh <- req:
		case <-w.done:
			w.logger.Warn("writer stopped, dropping checkpoint write", "type", req.Type)
		}
		return
	}

	select {
	case w.writeCh <- req:
	case <-w.done:
		w.logger.Warn("writer stopped, dropping write", "type", req.Type)
	default:
		w.logger.Warn("write channel full, dropping non-critical write",
			"type", req.Type)
	}
}

// RecordOrder journals an order lifecycle transition. The order is copied so
// later mutations by the caller do not race the background write.
func (w *AsyncWriter) RecordOrder(o domain.Order) {
	w.Write(WriteRequest{Type: WriteTypeOrder, Order: &o})
}

func (w *AsyncWriter) Run() {
	w.wg.Add(2)
	go w.processWrites()
	go w.processCheckpoints()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.writeCh:
			w.handleWrite(req)
		case <-w.done:
			w.drain(w.writeCh)
			return
		}
	}
}

func (w *AsyncWriter) processCheckpoints() {
	defer w.wg.Done()
	for {
		select {
		case req := <-w.checkpointCh:
			w.handleWrite(req)
		case <-w.done:
			w.drain(w.checkpointCh)
			return
		}
	}
}

// drain flushes requests already buffered when Stop was signalled.
func (w *AsyncWriter) drain(ch chan WriteRequest) {
	for {
		select {
		case req := <-ch:
			w.handleWrite(req)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handleWrite(req WriteRequest) {
	ctx := context.Background()

	switch req.Type {
	case WriteTypeRiskCheckpoint:
		if w.sqliteStore != nil {
			if err := w.sqliteStore.WriteRiskCheckpoint(req.Payload); err != nil {
				w.logger.Error("failed to write risk checkpoint", "error", err)
			}
		}
	case WriteTypeBreakerSnapshot:
		if w.sqliteStore != nil {
			snap, ok := req.Payload.(BreakerSnapshot)
			if !ok {
				w.logger.Warn("breaker snapshot payload has wrong type")
				return
			}
			if err := w.sqliteStore.WriteBreakerSnapshot(
				snap.State, snap.TripReason, snap.ConsecutiveFailures, snap.DailyLoss.String(),
			); err != nil {
				w.logger.Error("failed to write breaker snapshot", "error", err)
			}
		}
	case WriteTypeCycle:
		if w.postgresStore != nil && req.Cycle != nil {
			if err := w.postgresStore.SaveCycle(ctx, req.Cycle); err != nil {
				w.logger.Error("failed to write cycle", "error", err, "cycle_id", req.Cycle.ID)
			}
		}
	case WriteTypeOrder:
		if w.postgresStore != nil && req.Order != nil {
			if err := w.postgresStore.SaveOrder(ctx, req.Order); err != nil {
				w.logger.Error("failed to write order", "error", err, "order_id", req.Order.ID)
			}
		}
	default:
		w.logger.Warn("unknown write type", "type", req.Type)
	}
}

// Stop signals the workers, waits for them to flush buffered requests, and
// returns. Safe to call more than once; writes racing Stop are dropped, not
// panicked on.
func (w *AsyncWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}
