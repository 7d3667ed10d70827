package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationsTotal counts evaluation batches, however invoked.
	EvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinwatcher_evaluations_total",
		Help: "Total number of alert evaluation batches",
	})

	// AlertsTriggeredTotal counts idle→triggered transitions.
	AlertsTriggeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinwatcher_alerts_triggered_total",
		Help: "Total number of alerts transitioned to triggered",
	})

	// EvaluationErrorsTotal counts per-alert evaluation failures.
	EvaluationErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinwatcher_evaluation_errors_total",
		Help: "Total number of per-alert evaluation errors",
	})

	// HTTPRequestsTotal counts inbound HTTP requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinwatcher_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})
)
