package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/proerror77/ploy-sub002/internal/agent"
	"github.com/proerror77/ploy-sub002/internal/breaker"
	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/domain"
	"github.com/proerror77/ploy-sub002/internal/governance"
	"github.com/proerror77/ploy-sub002/internal/monitor"
	"github.com/proerror77/ploy-sub002/internal/nonce"
	"github.com/proerror77/ploy-sub002/internal/risk"
)

type countingExecutor struct {
	mu      sync.Mutex
	calls   int
	failAll bool
}

func (e *countingExecutor) Submit(_ context.Context, intent domain.OrderIntent, _ uint64) (domain.ExecutionReport, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.failAll {
		return domain.ExecutionReport{}, fmt.Errorf("exchange unavailable")
	}
	return domain.ExecutionReport{
		IntentID:        intent.ID,
		AgentID:         intent.AgentID,
		Status:          domain.ExecFilled,
		FilledSize:      intent.Size,
		FillPrice:       intent.LimitPrice,
		ExchangeOrderID: "x-1",
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (e *countingExecutor) Cancel(context.Context, string) error { return nil }

func (e *countingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type memNonceStore struct {
	mu      sync.Mutex
	current uint64
	status  map[uint64]nonce.Status
}

func newMemNonceStore() *memNonceStore {
	return &memNonceStore{status: make(map[uint64]nonce.Status)}
}

func (s *memNonceStore) NextNonce(context.Context, string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	s.status[s.current] = nonce.StatusAllocated
	return s.current, nil
}

func (s *memNonceStore) MarkNonceUsed(_ context.Context, _ string, n uint64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[n] = nonce.StatusUsed
	return nil
}

func (s *memNonceStore) ReleaseNonce(_ context.Context, _ string, n uint64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[n] = nonce.StatusReleased
	return nil
}

func (s *memNonceStore) CurrentNonce(context.Context, string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *memNonceStore) NonceStats(context.Context, string) (nonce.Stats, error) {
	return nonce.Stats{}, nil
}

func (s *memNonceStore) CleanupNonceRecords(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func testCoordinatorConfig() *config.CoordinatorConfig {
	return &config.CoordinatorConfig{
		IntentBufferSize:      16,
		StateBufferSize:       16,
		ControlBufferSize:     8,
		CommandBufferSize:     8,
		StateRefreshIntervalS: 5,
		HeartbeatStaleS:       30,
		SubmitTimeoutS:        5,
		SubmitRateCapacity:    10,
		SubmitRatePerSecond:   5,
	}
}

func testBreakerConfig() *config.BreakerConfig {
	return &config.BreakerConfig{
		FailureThreshold:         3,
		DailyLossLimitUSD:        decimal.NewFromInt(100),
		RecoveryTimeoutS:         300,
		QuoteStalenessS:          30,
		WsDisconnectThresholdS:   120,
		HalfOpenSuccessThreshold: 1,
		HalfOpenMaxTrades:        1,
		HalfOpenMaxExposureUSD:   decimal.NewFromInt(25),
	}
}

func testRiskConfig() *config.RiskConfig {
	return &config.RiskConfig{
		MaxSingleExposureUSD:   decimal.NewFromInt(100),
		MaxTotalExposureUSD:    decimal.NewFromInt(1000),
		MaxStrategyExposureUSD: decimal.NewFromInt(500),
		MaxConsecutiveFailures: 3,
		DailyLossLimitUSD:      decimal.NewFromInt(500),
		MinTimeRemainingS:      30,
		ForceCloseS:            20,
		MaxSpreadBps:           500,
	}
}

type testEnv struct {
	coord    *Coordinator
	executor *countingExecutor
	brk      *breaker.Breaker
	riskMgr  *risk.Manager
	gov      *governance.Manager
}

func newTestEnv(t *testing.T, govCfg config.GovernanceConfig) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	gov := governance.NewManager(governance.FromConfig(&govCfg), nil, logger)
	riskMgr := risk.NewManager(testRiskConfig(), filepath.Join(t.TempDir(), "halt.json"), logger)
	brk := breaker.New(testBreakerConfig(), logger)
	nonces := nonce.NewManager(newMemNonceStore(), "wallet-test", logger)
	executor := &countingExecutor{}

	coord := New(testCoordinatorConfig(), gov, riskMgr, brk, nonces, executor, nil, nil, logger)
	return &testEnv{coord: coord, executor: executor, brk: brk, riskMgr: riskMgr, gov: gov}
}

func testIntent(agentID string, size, price float64) domain.OrderIntent {
	return domain.NewOrderIntent(agentID, domain.DomainCrypto, "BTC-100K", domain.SideBuy,
		decimal.NewFromFloat(size), decimal.NewFromFloat(price))
}

func TestSubmitOrderApproved(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	ctx := context.Background()

	// 100 shares at $0.60 is $60 notional against the $100 single cap.
	report, err := env.coord.SubmitOrder(ctx, testIntent("a1", 100, 0.60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.ExecFilled {
		t.Errorf("expected fill, got %s", report.Status)
	}
	if env.executor.callCount() != 1 {
		t.Errorf("expected 1 executor call, got %d", env.executor.callCount())
	}
}

func TestGovernanceBlockIsAbsolute(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{BlockNewIntents: true})
	ctx := context.Background()

	intents := []domain.OrderIntent{
		testIntent("a1", 100, 0.60),
		testIntent("a2", 1, 0.01),
		testIntent("a3", 500, 0.99),
	}
	for _, intent := range intents {
		_, err := env.coord.SubmitOrder(ctx, intent)
		if !errors.Is(err, ErrGovernanceBlocked) {
			t.Errorf("expected governance block for %s, got %v", intent.AgentID, err)
		}
	}
	if env.executor.callCount() != 0 {
		t.Errorf("expected zero executor calls under governance block, got %d", env.executor.callCount())
	}
}

func TestDomainBlock(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{BlockedDomains: []string{"CRYPTO"}})

	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 10, 0.50))
	if !errors.Is(err, ErrDomainBlocked) {
		t.Errorf("expected domain block, got %v", err)
	}
	if env.executor.callCount() != 0 {
		t.Errorf("expected zero executor calls, got %d", env.executor.callCount())
	}
}

func TestIntentNotionalCap(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{
		MaxIntentNotionalUSD: decimal.NewFromInt(50),
	})

	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 100, 0.60))
	if !errors.Is(err, ErrIntentNotionalCap) {
		t.Errorf("expected intent notional cap, got %v", err)
	}
}

func TestTotalNotionalCap(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{
		MaxTotalNotionalUSD: decimal.NewFromInt(100),
	})
	env.riskMgr.UpdateExposure("a0", decimal.NewFromInt(80), decimal.Zero, 2)

	// 80 existing plus 60 new breaches the 100 aggregate cap.
	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 100, 0.60))
	if !errors.Is(err, ErrTotalNotionalCap) {
		t.Errorf("expected total notional cap, got %v", err)
	}
}

func TestRiskRejectionCarriesSuggestion(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	// 200 shares at $0.60 is $120, over the $100 single cap.
	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 200, 0.60))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected risk rejection, got %v", err)
	}

	var rejection *RiskRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RiskRejection, got %T", err)
	}
	if rejection.Check.Suggestion == nil {
		t.Fatal("expected a size suggestion")
	}
	if rejection.Check.Suggestion.MaxShares != 166 {
		t.Errorf("expected max 166 shares at $0.60, got %d", rejection.Check.Suggestion.MaxShares)
	}
	if env.executor.callCount() != 0 {
		t.Errorf("expected zero executor calls, got %d", env.executor.callCount())
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	ctx := context.Background()

	if _, err := env.coord.SubmitOrder(ctx, testIntent("a1", 100, 0.60)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.brk.RecordFailure("order_rejected")
	env.brk.RecordFailure("order_rejected")
	env.brk.RecordFailure("order_rejected")

	_, err := env.coord.SubmitOrder(ctx, testIntent("a1", 100, 0.60))
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected breaker open, got %v", err)
	}
	if env.executor.callCount() != 1 {
		t.Errorf("expected executor untouched after trip, got %d calls", env.executor.callCount())
	}
}

// recordingJournal captures order transitions in arrival order.
type recordingJournal struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (j *recordingJournal) RecordOrder(o domain.Order) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, o)
}

func (j *recordingJournal) recorded() []domain.Order {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.Order, len(j.orders))
	copy(out, j.orders)
	return out
}

type stubQuotes struct {
	bps int
	ok  bool
}

func (q *stubQuotes) SpreadBps(string) (int, bool) { return q.bps, q.ok }

func TestFractionalSizeCountsAgainstExposure(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	// 0.9 of a unit at $200 is $180 notional, over the $100 single cap.
	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 0.9, 200))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected risk rejection for fractional size, got %v", err)
	}
	var rejection *RiskRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RiskRejection, got %T", err)
	}
	if rejection.Check.Reason != risk.RejectSingleExposure {
		t.Errorf("expected single exposure reason, got %s", rejection.Check.Reason)
	}
	if env.executor.callCount() != 0 {
		t.Errorf("expected zero executor calls, got %d", env.executor.callCount())
	}

	// 0.4 at $200 is $80 and must pass.
	if _, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 0.4, 200)); err != nil {
		t.Errorf("expected fractional intent under the cap to pass, got %v", err)
	}
}

func TestOrderLifecycleJournaled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	govCfg := config.GovernanceConfig{}
	gov := governance.NewManager(governance.FromConfig(&govCfg), nil, logger)
	riskMgr := risk.NewManager(testRiskConfig(), filepath.Join(t.TempDir(), "halt.json"), logger)
	brk := breaker.New(testBreakerConfig(), logger)
	nonces := nonce.NewManager(newMemNonceStore(), "wallet-test", logger)
	executor := &countingExecutor{}
	journal := &recordingJournal{}

	coord := New(testCoordinatorConfig(), gov, riskMgr, brk, nonces, executor, journal, nil, logger)

	if _, err := coord.SubmitOrder(context.Background(), testIntent("a1", 100, 0.60)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orders := journal.recorded()
	if len(orders) != 3 {
		t.Fatalf("expected 3 journaled transitions, got %d", len(orders))
	}
	wantStatus := []domain.OrderStatus{
		domain.OrderStatusPending,
		domain.OrderStatusSubmitted,
		domain.OrderStatusFilled,
	}
	for i, want := range wantStatus {
		if orders[i].Status != want {
			t.Errorf("transition %d: expected %s, got %s", i, want, orders[i].Status)
		}
	}
	if orders[0].Nonce == 0 {
		t.Error("expected allocated nonce on the journaled order")
	}
	if orders[2].ExchangeOrderID != "x-1" {
		t.Errorf("expected exchange order id on terminal record, got %q", orders[2].ExchangeOrderID)
	}
	if !orders[2].FilledSize.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected filled size 100, got %s", orders[2].FilledSize)
	}
}

func TestRejectedSubmitJournaledAsRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	govCfg := config.GovernanceConfig{}
	gov := governance.NewManager(governance.FromConfig(&govCfg), nil, logger)
	riskMgr := risk.NewManager(testRiskConfig(), filepath.Join(t.TempDir(), "halt.json"), logger)
	brk := breaker.New(testBreakerConfig(), logger)
	nonces := nonce.NewManager(newMemNonceStore(), "wallet-test", logger)
	executor := &countingExecutor{failAll: true}
	journal := &recordingJournal{}

	coord := New(testCoordinatorConfig(), gov, riskMgr, brk, nonces, executor, journal, nil, logger)

	if _, err := coord.SubmitOrder(context.Background(), testIntent("a1", 10, 0.50)); err == nil {
		t.Fatal("expected submit error")
	}

	orders := journal.recorded()
	if len(orders) != 3 {
		t.Fatalf("expected 3 journaled transitions, got %d", len(orders))
	}
	if orders[2].Status != domain.OrderStatusRejected {
		t.Errorf("expected terminal REJECTED record, got %s", orders[2].Status)
	}
}

func TestExecutionFailureEscalatesRisk(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	env.executor.failAll = true
	ctx := context.Background()

	if _, err := env.coord.SubmitOrder(ctx, testIntent("a1", 10, 0.50)); err == nil {
		t.Fatal("expected submit error")
	}
	if got := env.riskMgr.ConsecutiveFailures(); got != 1 {
		t.Fatalf("expected 1 risk failure recorded, got %d", got)
	}
	if env.riskMgr.State() != risk.LevelElevated {
		t.Fatalf("expected elevated risk after failure, got %s", env.riskMgr.State())
	}

	// Elevated risk rejects the next intent before it reaches the executor.
	env.executor.failAll = false
	_, err := env.coord.SubmitOrder(ctx, testIntent("a1", 10, 0.50))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected risk rejection under elevated level, got %v", err)
	}
	if env.executor.callCount() != 1 {
		t.Errorf("expected executor untouched after escalation, got %d calls", env.executor.callCount())
	}
}

func TestSuccessResetsRiskFailureStreak(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	govCfg := config.GovernanceConfig{}
	gov := governance.NewManager(governance.FromConfig(&govCfg), nil, logger)

	// A high failure ceiling keeps one failure below the elevation point.
	riskCfg := testRiskConfig()
	riskCfg.MaxConsecutiveFailures = 10
	riskMgr := risk.NewManager(riskCfg, filepath.Join(t.TempDir(), "halt.json"), logger)

	brk := breaker.New(testBreakerConfig(), logger)
	nonces := nonce.NewManager(newMemNonceStore(), "wallet-test", logger)
	executor := &countingExecutor{}
	coord := New(testCoordinatorConfig(), gov, riskMgr, brk, nonces, executor, nil, nil, logger)

	riskMgr.RecordFailure("a1", "order_rejected")
	if got := riskMgr.ConsecutiveFailures(); got != 1 {
		t.Fatalf("expected 1 failure recorded, got %d", got)
	}

	if _, err := coord.SubmitOrder(context.Background(), testIntent("a1", 10, 0.50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := riskMgr.ConsecutiveFailures(); got != 0 {
		t.Errorf("expected failure streak reset on fill, got %d", got)
	}
}

func TestSpreadGateRejectsWideMarkets(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	env.coord.SetQuoteSource(&stubQuotes{bps: 600, ok: true})

	_, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 10, 0.50))
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected spread rejection, got %v", err)
	}
	var rejection *RiskRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RiskRejection, got %T", err)
	}
	if rejection.Check.Reason != risk.RejectSpread {
		t.Errorf("expected spread reason, got %s", rejection.Check.Reason)
	}
	if env.executor.callCount() != 0 {
		t.Errorf("expected zero executor calls, got %d", env.executor.callCount())
	}

	// A tighter market passes the same gate.
	env.coord.SetQuoteSource(&stubQuotes{bps: 300, ok: true})
	if _, err := env.coord.SubmitOrder(context.Background(), testIntent("a1", 10, 0.50)); err != nil {
		t.Errorf("expected tight spread to pass, got %v", err)
	}
}

func TestRoundDeadlineGate(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	intent := testIntent("a1", 10, 0.50)
	intent.RoundEndsAt = time.Now().UTC().Add(10 * time.Second)

	_, err := env.coord.SubmitOrder(context.Background(), intent)
	if !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected rejection inside the 30s cutoff, got %v", err)
	}
	var rejection *RiskRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RiskRejection, got %T", err)
	}
	if rejection.Check.Reason != risk.RejectTimeRemaining {
		t.Errorf("expected time remaining reason, got %s", rejection.Check.Reason)
	}

	intent = testIntent("a1", 10, 0.50)
	intent.RoundEndsAt = time.Now().UTC().Add(5 * time.Minute)
	if _, err := env.coord.SubmitOrder(context.Background(), intent); err != nil {
		t.Errorf("expected intent well before the deadline to pass, got %v", err)
	}
}

func TestSubmitFailureReleasesNonceAndCountsFailure(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	env.executor.failAll = true
	ctx := context.Background()

	_, err := env.coord.SubmitOrder(ctx, testIntent("a1", 10, 0.50))
	if err == nil {
		t.Fatal("expected submit error")
	}
	if got := env.brk.Stats().ConsecutiveFailures; got != 1 {
		t.Errorf("expected 1 breaker failure recorded, got %d", got)
	}
}

func TestPipelineMetricsRecorded(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	govCfg := config.GovernanceConfig{}
	gov := governance.NewManager(governance.FromConfig(&govCfg), nil, logger)
	riskMgr := risk.NewManager(testRiskConfig(), filepath.Join(t.TempDir(), "halt.json"), logger)
	brk := breaker.New(testBreakerConfig(), logger)
	nonces := nonce.NewManager(newMemNonceStore(), "wallet-test", logger)
	executor := &countingExecutor{}
	metrics := monitor.NewMetrics(prometheus.NewRegistry())

	coord := New(testCoordinatorConfig(), gov, riskMgr, brk, nonces, executor, nil, metrics, logger)
	ctx := context.Background()

	if _, err := coord.SubmitOrder(ctx, testIntent("a1", 100, 0.60)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 200 at $0.60 is $120 and trips the single exposure cap.
	if _, err := coord.SubmitOrder(ctx, testIntent("a1", 200, 0.60)); err == nil {
		t.Fatal("expected risk rejection")
	}

	dom := string(domain.DomainCrypto)
	if got := testutil.ToFloat64(metrics.IntentsSubmitted.WithLabelValues("a1", dom)); got != 2 {
		t.Errorf("expected 2 submitted intents counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.IntentsApproved.WithLabelValues("a1", dom)); got != 1 {
		t.Errorf("expected 1 approved intent counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.IntentsRejected.WithLabelValues("a1", string(risk.RejectSingleExposure))); got != 1 {
		t.Errorf("expected 1 rejected intent counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.NonceAllocations); got != 1 {
		t.Errorf("expected 1 nonce allocation counted, got %v", got)
	}
}

func TestReportDeliveredToAgentChannel(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})
	ctx := context.Background()

	actx, err := env.coord.RegisterAgent("a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := actx.SubmitOrder(ctx, testIntent("a1", 10, 0.50)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, ok := actx.TryRecvReport()
	if !ok {
		t.Fatal("expected report on agent channel")
	}
	if report.Status != domain.ExecFilled {
		t.Errorf("expected fill report, got %s", report.Status)
	}
}

func TestEnqueueIntentBackpressure(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	for i := 0; i < testCoordinatorConfig().IntentBufferSize; i++ {
		if err := env.coord.EnqueueIntent(testIntent("a1", 1, 0.50)); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	if err := env.coord.EnqueueIntent(testIntent("a1", 1, 0.50)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected queue full, got %v", err)
	}
}

func TestGlobalStateAggregation(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	env.coord.UpdateAgentState(AgentSnapshot{
		AgentID:  "a1",
		Status:   agent.StatusRunning,
		Exposure: decimal.NewFromInt(40),
		DailyPnL: decimal.NewFromInt(5),
	})
	env.coord.UpdateAgentState(AgentSnapshot{
		AgentID:  "a2",
		Status:   agent.StatusPaused,
		Exposure: decimal.NewFromInt(25),
		DailyPnL: decimal.NewFromInt(-2),
	})

	state := env.coord.ReadState()
	if !state.TotalExposure.Equal(decimal.NewFromInt(65)) {
		t.Errorf("expected total exposure 65, got %s", state.TotalExposure)
	}
	if !state.TotalDailyPnL.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected total pnl 3, got %s", state.TotalDailyPnL)
	}
	if state.ActiveAgents != 2 {
		t.Errorf("expected 2 active agents, got %d", state.ActiveAgents)
	}
}

func TestStaleHeartbeatDetection(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	env.coord.UpdateAgentState(AgentSnapshot{
		AgentID:   "a1",
		Status:    agent.StatusRunning,
		Heartbeat: time.Now().UTC().Add(-2 * time.Minute),
	})

	state := env.coord.ReadState()
	snap := state.Agents["a1"]
	if !snap.Stale {
		t.Error("expected snapshot older than the stale threshold to be flagged")
	}
	if state.ActiveAgents != 0 {
		t.Errorf("expected stale agent excluded from active count, got %d", state.ActiveAgents)
	}
}

func TestPauseCommandReachesAgent(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	actx, err := env.coord.RegisterAgent("a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := env.coord.PauseAgent("a1", "operator request"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go env.coord.Run(ctx)
	defer cancel()

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	cmd, err := actx.RecvCommand(recvCtx)
	if err != nil {
		t.Fatalf("expected pause command, got error: %v", err)
	}
	if cmd.Type != CommandPause || cmd.Reason != "operator request" {
		t.Errorf("unexpected command: %+v", cmd)
	}
}

func TestShutdownBroadcasts(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	a1, _ := env.coord.RegisterAgent("a1")
	a2, _ := env.coord.RegisterAgent("a2")

	env.coord.Shutdown("maintenance")

	for _, actx := range []*AgentContext{a1, a2} {
		cmd, ok := actx.TryRecvCommand()
		if !ok {
			t.Fatalf("expected shutdown command for %s", actx.AgentID())
		}
		if cmd.Type != CommandShutdown {
			t.Errorf("expected shutdown, got %s", cmd.Type)
		}
	}
}

func TestDuplicateAgentRegistration(t *testing.T) {
	env := newTestEnv(t, config.GovernanceConfig{})

	if _, err := env.coord.RegisterAgent("a1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.coord.RegisterAgent("a1"); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}
