package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liquigate_ticks_total",
		Help: "The total number of orchestrator ticks",
	})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquigate_poll_errors_total",
		Help: "Balance/reserve read failures, skipped until the next tick",
	}, []string{"source"})

	SafetyRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquigate_safety_rejects_total",
		Help: "Total safety governor rejections",
	}, []string{"reason"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquigate_batches_total",
		Help: "Batches by terminal status",
	}, []string{"status"})

	LiquidityProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liquigate_liquidity_provisioned_total",
		Help: "Cumulative matched token amounts committed in confirmed batches",
	}, []string{"token"})

	ConfirmationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "liquigate_confirmation_seconds",
		Help:    "Time from submission to on-chain confirmation",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
	})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liquigate_http_latency_seconds",
		Help:    "Ops API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
