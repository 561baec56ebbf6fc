package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/agent"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/router"
)

type recordingAgent struct {
	events  []domain.DomainEvent
	produce []domain.OrderIntent
}

func (a *recordingAgent) ID() string                         { return "rec-1" }
func (a *recordingAgent) Name() string                       { return "recorder" }
func (a *recordingAgent) Domain() domain.Domain              { return domain.DomainCrypto }
func (a *recordingAgent) Status() agent.Status               { return agent.StatusRunning }
func (a *recordingAgent) RiskParams() agent.RiskParams       { return agent.DefaultRiskParams() }
func (a *recordingAgent) Start(context.Context) error        { return nil }
func (a *recordingAgent) Stop(context.Context) error         { return nil }
func (a *recordingAgent) Pause()                             {}
func (a *recordingAgent) Resume()                            {}
func (a *recordingAgent) OnExecution(domain.ExecutionReport) {}

func (a *recordingAgent) OnEvent(_ context.Context, event domain.DomainEvent) ([]domain.OrderIntent, error) {
	a.events = append(a.events, event)
	return a.produce, nil
}

// collectingSink accumulates forwarded intents; a non-nil err simulates a
// full intake queue.
type collectingSink struct {
	intents []domain.OrderIntent
	err     error
}

func (s *collectingSink) EnqueueIntent(intent domain.OrderIntent) error {
	if s.err != nil {
		return s.err
	}
	s.intents = append(s.intents, intent)
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingAgent, *collectingSink) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := router.New(nil, logger)
	rec := &recordingAgent{}
	if err := r.Register(rec, router.Subscription{}); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	sink := &collectingSink{}
	return NewService(r, sink, time.Second, 100*time.Millisecond, logger), rec, sink
}

func TestQuoteCacheAndDispatch(t *testing.T) {
	svc, rec, _ := newTestService(t)

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))

	quote, ok := svc.GetQuote("BTC-100K")
	if !ok {
		t.Fatal("expected cached quote")
	}
	if !quote.BestBid.Equal(decimal.NewFromFloat(0.58)) {
		t.Errorf("expected bid 0.58, got %s", quote.BestBid)
	}
	if len(rec.events) != 1 || rec.events[0].Type != domain.EventQuoteUpdate {
		t.Errorf("expected one quote event dispatched, got %+v", rec.events)
	}
}

func TestIntentsForwardedToSink(t *testing.T) {
	svc, rec, sink := newTestService(t)
	rec.produce = []domain.OrderIntent{
		domain.NewOrderIntent("rec-1", domain.DomainCrypto, "BTC-100K", domain.SideBuy,
			decimal.NewFromInt(10), decimal.NewFromFloat(0.60)),
	}

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))

	if len(sink.intents) != 1 {
		t.Fatalf("expected 1 intent forwarded to sink, got %d", len(sink.intents))
	}
	if sink.intents[0].AgentID != "rec-1" {
		t.Errorf("expected intent attributed to rec-1, got %s", sink.intents[0].AgentID)
	}
}

func TestFullSinkDropsIntentWithoutBlockingFeed(t *testing.T) {
	svc, rec, sink := newTestService(t)
	rec.produce = []domain.OrderIntent{
		domain.NewOrderIntent("rec-1", domain.DomainCrypto, "BTC-100K", domain.SideBuy,
			decimal.NewFromInt(10), decimal.NewFromFloat(0.60)),
	}
	sink.err = errors.New("intent queue full")

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))

	if len(sink.intents) != 0 {
		t.Errorf("expected dropped intent, got %d", len(sink.intents))
	}
	if _, ok := svc.GetQuote("BTC-100K"); !ok {
		t.Error("expected quote cached despite sink rejection")
	}
}

func TestTickPreservesQuote(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.UpdateQuote(ctx, domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))
	svc.RecordTick(ctx, domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.59), decimal.NewFromInt(10))

	quote, _ := svc.GetQuote("BTC-100K")
	if !quote.LastPrice.Equal(decimal.NewFromFloat(0.59)) {
		t.Errorf("expected last price 0.59, got %s", quote.LastPrice)
	}
	if !quote.BestBid.Equal(decimal.NewFromFloat(0.58)) {
		t.Errorf("expected bid preserved, got %s", quote.BestBid)
	}
}

func TestSpreadBps(t *testing.T) {
	// 0.02 spread on a 0.59 mid is ~339 bps.
	q := Quote{
		BestBid: decimal.NewFromFloat(0.58),
		BestAsk: decimal.NewFromFloat(0.60),
	}
	got := q.SpreadBps()
	if got < 335 || got > 342 {
		t.Errorf("expected ~339 bps, got %d", got)
	}

	empty := Quote{}
	if empty.SpreadBps() != -1 {
		t.Errorf("expected -1 for missing sides, got %d", empty.SpreadBps())
	}
}

func TestServiceSpreadBps(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, ok := svc.SpreadBps("BTC-100K"); ok {
		t.Error("expected no spread before any quote")
	}

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))
	bps, ok := svc.SpreadBps("BTC-100K")
	if !ok {
		t.Fatal("expected spread for two-sided quote")
	}
	if bps < 335 || bps > 342 {
		t.Errorf("expected ~339 bps, got %d", bps)
	}

	// A tick-only market has no two-sided quote yet.
	svc.RecordTick(context.Background(), domain.DomainCrypto, "ETH-5K",
		decimal.NewFromFloat(0.40), decimal.NewFromInt(5))
	if _, ok := svc.SpreadBps("ETH-5K"); ok {
		t.Error("expected no spread for one-sided market")
	}
}

func TestQuoteAges(t *testing.T) {
	svc, _, _ := newTestService(t)

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))

	ages := svc.QuoteAges()
	age, ok := ages["BTC-100K"]
	if !ok {
		t.Fatal("expected an age entry for the updated market")
	}
	if age < 0 || age > time.Minute {
		t.Errorf("unexpected quote age %s", age)
	}
}

func TestStaleness(t *testing.T) {
	svc, _, _ := newTestService(t)

	if !svc.IsStale("UNKNOWN") {
		t.Error("unknown market must be stale")
	}

	svc.UpdateQuote(context.Background(), domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))
	if svc.IsStale("BTC-100K") {
		t.Error("fresh quote must not be stale")
	}
}

func TestQuoteHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		bid := decimal.NewFromFloat(0.50).Add(decimal.New(int64(i), -2))
		svc.UpdateQuote(ctx, domain.DomainCrypto, "BTC-100K", bid, bid.Add(decimal.NewFromFloat(0.02)))
	}

	recent := svc.RecentQuotes("BTC-100K", 3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent quotes, got %d", len(recent))
	}
	if !recent[2].BestBid.Equal(decimal.NewFromFloat(0.54)) {
		t.Errorf("expected newest quote last, got %s", recent[2].BestBid)
	}
}

func TestQuoteRingBufferWrap(t *testing.T) {
	rb := NewQuoteRingBuffer(4)
	for i := 0; i < 10; i++ {
		rb.Push(&Quote{MarketID: "m", BestBid: decimal.NewFromInt(int64(i))})
	}

	if rb.Len() != 4 {
		t.Errorf("expected capped length 4, got %d", rb.Len())
	}
	recent := rb.Recent(4)
	if len(recent) != 4 {
		t.Fatalf("expected 4 quotes, got %d", len(recent))
	}
	if !recent[3].BestBid.Equal(decimal.NewFromInt(9)) {
		t.Errorf("expected newest entry 9, got %s", recent[3].BestBid)
	}
}

func TestOldestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, ok := svc.OldestUpdate(); ok {
		t.Error("expected no updates yet")
	}

	svc.UpdateQuote(ctx, domain.DomainCrypto, "BTC-100K",
		decimal.NewFromFloat(0.58), decimal.NewFromFloat(0.60))
	oldest, ok := svc.OldestUpdate()
	if !ok || oldest.IsZero() {
		t.Error("expected an oldest update time")
	}
}
