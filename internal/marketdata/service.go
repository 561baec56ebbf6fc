package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/router"
)

// Quote is the latest top-of-book for one market.
type Quote struct {
	MarketID  string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastPrice decimal.Decimal
	UpdatedAt time.Time
}

// SpreadBps returns the bid/ask spread in basis points of the mid price,
// or -1 when either side is missing.
func (q Quote) SpreadBps() int {
	if !q.BestBid.IsPositive() || !q.BestAsk.IsPositive() {
		return -1
	}
	mid := q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return -1
	}
	spread := q.BestAsk.Sub(q.BestBid)
	return int(spread.Div(mid).Mul(decimal.NewFromInt(10000)).IntPart())
}

// IntentSink receives the intents agents produce in reaction to events.
type IntentSink interface {
	EnqueueIntent(intent domain.OrderIntent) error
}

// Service caches quotes per market and converts feed updates into events on
// the router; intents the agents produce are forwarded to the sink. The
// staleness monitor surfaces feeds that stop updating.
type Service struct {
	mu         sync.RWMutex
	quotes     map[string]*Quote
	history    map[string]*QuoteRingBuffer
	lastUpdate map[string]time.Time

	router *router.Router
	sink   IntentSink
	logger *slog.Logger

	staleDuration     time.Duration
	heartbeatInterval time.Duration
}

func NewService(r *router.Router, sink IntentSink, staleDuration, heartbeatInterval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		quotes:            make(map[string]*Quote),
		history:           make(map[string]*QuoteRingBuffer),
		lastUpdate:        make(map[string]time.Time),
		router:            r,
		sink:              sink,
		logger:            logger,
		staleDuration:     staleDuration,
		heartbeatInterval: heartbeatInterval,
	}
}

// UpdateQuote caches the quote and dispatches a QUOTE_UPDATE to agents.
func (s *Service) UpdateQuote(ctx context.Context, dom domain.Domain, marketID string, bid, ask decimal.Decimal) {
	now := time.Now().UTC()
	quote := &Quote{
		MarketID:  marketID,
		BestBid:   bid,
		BestAsk:   ask,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if prev, ok := s.quotes[marketID]; ok {
		quote.LastPrice = prev.LastPrice
	}
	s.quotes[marketID] = quote
	s.lastUpdate[marketID] = now
	buf, ok := s.history[marketID]
	if !ok {
		buf = NewQuoteRingBuffer(256)
		s.history[marketID] = buf
	}
	s.mu.Unlock()

	buf.Push(quote)

	s.forward(s.router.Dispatch(ctx, domain.DomainEvent{
		Type:      domain.EventQuoteUpdate,
		Domain:    dom,
		MarketID:  marketID,
		BestBid:   bid,
		BestAsk:   ask,
		Timestamp: now,
	}))
}

// RecordTick caches the trade price and dispatches a MARKET_TICK.
func (s *Service) RecordTick(ctx context.Context, dom domain.Domain, marketID string, price, size decimal.Decimal) {
	now := time.Now().UTC()

	s.mu.Lock()
	quote, ok := s.quotes[marketID]
	if !ok {
		quote = &Quote{MarketID: marketID}
		s.quotes[marketID] = quote
	}
	quote.LastPrice = price
	quote.UpdatedAt = now
	s.lastUpdate[marketID] = now
	s.mu.Unlock()

	s.forward(s.router.Dispatch(ctx, domain.DomainEvent{
		Type:      domain.EventMarketTick,
		Domain:    dom,
		MarketID:  marketID,
		Price:     price,
		Size:      size,
		Timestamp: now,
	}))
}

// forward hands collected intents to the submission pipeline. A full intake
// queue drops the intent; agents see the drop through the missing report.
func (s *Service) forward(intents []domain.OrderIntent) {
	if s.sink == nil {
		return
	}
	for _, intent := range intents {
		if err := s.sink.EnqueueIntent(intent); err != nil {
			s.logger.Warn("intent dropped on ingest",
				"agent_id", intent.AgentID,
				"intent_id", intent.ID,
				"error", err)
		}
	}
}

func (s *Service) GetQuote(marketID string) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[marketID]
	if !ok {
		return Quote{}, false
	}
	return *quote, true
}

// SpreadBps reports the live spread for the market. Second result is false
// when no two-sided quote is cached.
func (s *Service) SpreadBps(marketID string) (int, bool) {
	quote, ok := s.GetQuote(marketID)
	if !ok {
		return 0, false
	}
	bps := quote.SpreadBps()
	if bps < 0 {
		return 0, false
	}
	return bps, true
}

// QuoteAges returns the age of the newest quote per market.
func (s *Service) QuoteAges() map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	ages := make(map[string]time.Duration, len(s.lastUpdate))
	for marketID, t := range s.lastUpdate {
		ages[marketID] = now.Sub(t)
	}
	return ages
}

func (s *Service) RecentQuotes(marketID string, n int) []*Quote {
	s.mu.RLock()
	buf, ok := s.history[marketID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Recent(n)
}

func (s *Service) LastUpdate(marketID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastUpdate[marketID]
	return t, ok
}

func (s *Service) IsStale(marketID string) bool {
	s.mu.RLock()
	t, ok := s.lastUpdate[marketID]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return time.Since(t) > s.staleDuration
}

// OldestUpdate returns the stalest feed's timestamp, for the breaker's
// quote staleness check. Second result is false when nothing has arrived.
func (s *Service) OldestUpdate() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest time.Time
	for _, t := range s.lastUpdate {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest, !oldest.IsZero()
}

func (s *Service) RunStalenessMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStaleness()
		}
	}
}

func (s *Service) checkStaleness() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	for marketID, t := range s.lastUpdate {
		if age := now.Sub(t); age > s.staleDuration {
			s.logger.Warn("market data stale",
				"market", marketID, "age_ms", age.Milliseconds())
		}
	}
}
