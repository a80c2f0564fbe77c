package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steady_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_quota_checks_total",
			Help: "Total number of quota checks by result.",
		},
		[]string{"result"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_quota_denials_total",
			Help: "Total number of quota denials by metered resource.",
		},
		[]string{"resource"},
	)

	QuotaResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_quota_resets_total",
			Help: "Total number of quota window resets.",
		},
	)

	SweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_sweep_errors_total",
			Help: "Total number of per-record errors during quota sweeps.",
		},
	)

	UsageEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steady_usage_events_total",
			Help: "Total number of recorded usage events by outcome.",
		},
		[]string{"outcome"},
	)

	UsageEventsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_usage_events_purged_total",
			Help: "Total number of usage events deleted by retention cleanup.",
		},
	)

	CheckInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "steady_checkins_total",
			Help: "Total number of accepted activity check-ins.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaChecksTotal,
		QuotaDenialsTotal,
		QuotaResetsTotal,
		SweepErrorsTotal,
		UsageEventsTotal,
		UsageEventsPurgedTotal,
		CheckInsTotal,
	)
}
