package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PgErrCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apptdesk",
		Subsystem: "pg",
		Name:      "pg_err_count",
	}, []string{"method"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "apptdesk",
		Subsystem: "http",
		Name:      "request_duration_seconds",
	}, []string{"method", "path"})
	ImportRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apptdesk",
		Subsystem: "import",
		Name:      "records_total",
	}, []string{"outcome"})
)
