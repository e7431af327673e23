package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SweepReferralsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_referrals_processed_total",
			Help: "Referrals handled by the settlement sweep, by result",
		},
		[]string{"result"},
	)

	PayoutsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_sent_total",
			Help: "Successful external payouts, by path (sweep/withdrawal)",
		},
		[]string{"path"},
	)

	PayoutAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_amount_total",
			Help: "Total amount of successful external payouts, by path",
		},
		[]string{"path"},
	)

	ManualReviewTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_review_total",
			Help: "Payout transactions flagged for manual reconciliation",
		},
	)
)
