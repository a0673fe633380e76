package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UsageRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_records_total",
			Help: "Usage records stored, by model",
		},
		[]string{"model_name"},
	)

	UsageCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_cost_total",
			Help: "Cost of stored usage records, by model",
		},
		[]string{"model_name"},
	)

	UsageRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_rejected_total",
			Help: "Usage events rejected before storage, by reason",
		},
		[]string{"reason"},
	)

	AuthDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_denials_total",
			Help: "Authorization denials, by reason",
		},
		[]string{"reason"},
	)

	OrganizationsRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "organizations_registered_total",
			Help: "Organizations registered",
		},
	)

	OrganizationsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "organizations_deleted_total",
			Help: "Organizations deleted",
		},
	)

	PurgedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_records_purged_total",
			Help: "Usage records removed by organization deletion",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordUsage counts one stored record and its cost.
func RecordUsage(model string, cost float64) {
	UsageRecordsTotal.WithLabelValues(model).Inc()
	UsageCostTotal.WithLabelValues(model).Add(cost)
}
