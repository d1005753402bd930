package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_sessions_active",
		Help: "Live voice interview sessions held in memory",
	})

	SessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_sessions_finalized_total",
		Help: "Finalized sessions by path (explicit, beacon, skipped)",
	}, []string{"path"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_turns_total",
		Help: "Turns appended to transcripts by sender",
	}, []string{"sender"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_api_stage_duration_seconds",
		Help:    "Remote interview API latency per call",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	BeaconQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_beacon_queued_total",
		Help: "Fire-and-forget history deliveries enqueued",
	})
)
