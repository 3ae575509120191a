package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	progressPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reading_service",
		Subsystem: "persistence",
		Name:      "last_progress_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent progress record persisted to Postgres.",
	})
	resetSweepGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reading_service",
		Subsystem: "worker",
		Name:      "last_reset_sweep_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed streak reset sweep.",
	})
	resetSweepErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reading_service",
		Subsystem: "worker",
		Name:      "reset_sweep_errors_total",
		Help:      "Number of per-owner failures during streak reset sweeps.",
	})
)

func init() {
	prometheus.MustRegister(progressPersistGauge, resetSweepGauge, resetSweepErrors)
}

// RecordProgressPersisted updates the persistence watermark gauge.
func RecordProgressPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	progressPersistGauge.Set(float64(ts.Unix()))
}

// RecordResetSweep updates the reset-sweep watermark gauge.
func RecordResetSweep(ts time.Time) {
	if ts.IsZero() {
		return
	}
	resetSweepGauge.Set(float64(ts.Unix()))
}

// RecordResetSweepError counts a failed per-owner reset check.
func RecordResetSweepError() {
	resetSweepErrors.Inc()
}
