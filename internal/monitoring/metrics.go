// Package monitoring exposes the supervisor's own Prometheus metrics:
// probe outcomes, alert volume, recovery activity and sweep latency.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	healthChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_health_checks_total",
		Help: "Health probes performed, by resulting status.",
	}, []string{"status"})

	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_total",
		Help: "Alert events raised, by severity.",
	}, []string{"severity"})

	recoveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_recovery_attempts_total",
		Help: "Recovery actions executed, by outcome.",
	}, []string{"outcome"})

	sweepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vigil_sweep_duration_seconds",
		Help:    "Wall-clock duration of one periodic job run.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	componentsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_components",
		Help: "Monitored components by current status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		healthChecksTotal,
		alertsTotal,
		recoveryAttemptsTotal,
		sweepDuration,
		componentsByStatus,
	)
}

func RecordHealthCheck(status string) {
	healthChecksTotal.WithLabelValues(status).Inc()
}

func RecordAlert(severity string) {
	alertsTotal.WithLabelValues(severity).Inc()
}

func RecordRecovery(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	recoveryAttemptsTotal.WithLabelValues(outcome).Inc()
}

func ObserveSweep(job string, d time.Duration) {
	sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

func SetComponentCount(status string, n int) {
	componentsByStatus.WithLabelValues(status).Set(float64(n))
}
