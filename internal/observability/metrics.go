package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnstate"

type moduleMetrics struct {
	storeLoadDuration    prometheus.Histogram
	storeSaveDuration    prometheus.Histogram
	storeOperationsTotal *prometheus.CounterVec
	subscriptionOutcomes *prometheus.CounterVec
	sessions             prometheus.Gauge
	backupsTotal         *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_load_duration_seconds",
					Help:      "Store file read and parse duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			storeSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_save_duration_seconds",
					Help:      "Store file rewrite duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			storeOperationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "store_operations_total",
					Help:      "Total store operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			subscriptionOutcomes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "subscription_outcomes_total",
					Help:      "Total subscribe/unsubscribe requests by outcome.",
				},
				[]string{"outcome"},
			),
			sessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "sessions",
					Help:      "Number of sessions in the last loaded or saved document.",
				},
			),
			backupsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "backups_total",
					Help:      "Total store snapshots by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.storeLoadDuration,
			m.storeSaveDuration,
			m.storeOperationsTotal,
			m.subscriptionOutcomes,
			m.sessions,
			m.backupsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordStoreLoad(duration time.Duration) {
	getMetrics().storeLoadDuration.Observe(duration.Seconds())
}

func RecordStoreSave(duration time.Duration) {
	getMetrics().storeSaveDuration.Observe(duration.Seconds())
}

func RecordStoreOperation(op string, success bool) {
	getMetrics().storeOperationsTotal.WithLabelValues(op, status(success)).Inc()
}

func RecordSubscriptionOutcome(outcome string) {
	getMetrics().subscriptionOutcomes.WithLabelValues(outcome).Inc()
}

func SetSessions(count int) {
	getMetrics().sessions.Set(float64(count))
}

func RecordBackup(success bool) {
	getMetrics().backupsTotal.WithLabelValues(status(success)).Inc()
}
