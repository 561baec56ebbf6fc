package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	IntentsSubmitted *prometheus.CounterVec
	IntentsApproved  *prometheus.CounterVec
	IntentsRejected  *prometheus.CounterVec
	SubmitLatency    *prometheus.HistogramVec

	BreakerState     prometheus.Gauge
	BreakerTrips     *prometheus.CounterVec
	RiskLevel        prometheus.Gauge
	TotalExposureUSD prometheus.Gauge
	DailyPnLUSD      prometheus.Gauge

	NonceAllocations prometheus.Counter
	NonceReleases    prometheus.Counter
	NonceGaps        prometheus.Gauge

	EventsDispatched *prometheus.CounterVec
	ActiveAgents     prometheus.Gauge
	StaleAgents      prometheus.Gauge

	RecoveryIncompleteCycles prometheus.Gauge
	RecoveryOrphanedOrders   prometheus.Gauge

	FeedReconnects prometheus.Counter
	QuoteAgeMs     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IntentsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intents_submitted_total",
			Help: "Order intents entering the submission pipeline",
		}, []string{"agent", "domain"}),

		IntentsApproved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intents_approved_total",
			Help: "Order intents that passed all checks and were executed",
		}, []string{"agent", "domain"}),

		IntentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intents_rejected_total",
			Help: "Order intents rejected before execution",
		}, []string{"agent", "reason"}),

		SubmitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "submit_latency_ms",
			Help:    "Latency from intent receipt to execution report",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"agent"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_trips_total",
			Help: "Circuit breaker trips by reason",
		}, []string{"reason"}),

		RiskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risk_level",
			Help: "Risk escalation level (0 normal, 1 elevated, 2 halted)",
		}),

		TotalExposureUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "total_exposure_usd",
			Help: "Aggregate open exposure across all agents",
		}),

		DailyPnLUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "daily_pnl_usd",
			Help: "Realized PnL for the current UTC day",
		}),

		NonceAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonce_allocations_total",
			Help: "Nonces handed out by the durable allocator",
		}),

		NonceReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nonce_releases_total",
			Help: "Nonces released without being used on the exchange",
		}),

		NonceGaps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nonce_gap_count",
			Help: "Released nonces permanently skipped in the sequence",
		}),

		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dispatched_total",
			Help: "Domain events routed to agents",
		}, []string{"type"}),

		ActiveAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_agents",
			Help: "Agents with fresh heartbeats in an active status",
		}),

		StaleAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stale_agents",
			Help: "Agents whose last heartbeat exceeded the stale threshold",
		}),

		RecoveryIncompleteCycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recovery_incomplete_cycles",
			Help: "Incomplete cycles found by the last recovery scan",
		}),

		RecoveryOrphanedOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recovery_orphaned_orders",
			Help: "Orphaned orders found by the last recovery scan",
		}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Market data websocket reconnections",
		}),

		QuoteAgeMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quote_age_ms",
			Help: "Age of the newest quote per market",
		}, []string{"market"}),
	}

	reg.MustRegister(
		m.IntentsSubmitted,
		m.IntentsApproved,
		m.IntentsRejected,
		m.SubmitLatency,
		m.BreakerState,
		m.BreakerTrips,
		m.RiskLevel,
		m.TotalExposureUSD,
		m.DailyPnLUSD,
		m.NonceAllocations,
		m.NonceReleases,
		m.NonceGaps,
		m.EventsDispatched,
		m.ActiveAgents,
		m.StaleAgents,
		m.RecoveryIncompleteCycles,
		m.RecoveryOrphanedOrders,
		m.FeedReconnects,
		m.QuoteAgeMs,
	)

	return m
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
