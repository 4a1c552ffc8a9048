package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_decisions_total",
			Help: "Moderation decisions by verdict and outcome code",
		},
		[]string{"verdict", "outcome"},
	)

	reopensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_reopens_total",
			Help: "Reopen requests by outcome code",
		},
		[]string{"outcome"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_submissions_total",
			Help: "Accepted submissions by contribution type",
		},
		[]string{"type"},
	)

	creditedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_credited_units_total",
		Help: "Units credited to contributor wallets",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "curator_decide_batch_duration_seconds",
		Help:    "Wall time of one Decide batch",
		Buckets: prometheus.DefBuckets,
	})
)

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return Code(err)
}
