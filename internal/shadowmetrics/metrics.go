// Package shadowmetrics exposes the fleet's per-device shadow state as
// Prometheus gauges and counters, registered against the default
// registry and served by cmd/shadowd under /metrics.
package shadowmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const subsystem = "shadow"

var (
	// Reachability mirrors shadow.ReachabilityState's own iota ordering:
	// 0=Unknown, 1=Reachable, 2=Unreachable.
	Reachability = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "reachability",
			Help:      "Current reachability state of a node (0=unknown, 1=reachable, 2=unreachable).",
		},
		[]string{"node"},
	)

	// SubscriptionState mirrors shadow.SubscriptionState's own iota
	// ordering: 0=Unsubscribed, 1=Subscribing, 2=InitialEstablished.
	SubscriptionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "subscription_state",
			Help:      "Current subscription lifecycle state of a node (0=unsubscribed, 1=subscribing, 2=initial_established).",
		},
		[]string{"node"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Number of items waiting in a node's work queue.",
		},
		[]string{"node"},
	)

	ExpectedCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "expected_cache_size",
			Help:      "Number of entries currently held in a node's expected-value cache.",
		},
		[]string{"node"},
	)

	BackoffWaitSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "subscription_backoff_wait_seconds",
			Help:      "Current backoff wait before the next subscribe attempt for a node.",
		},
		[]string{"node"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Cumulative work-queue operations issued, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "flush_duration_seconds",
			Help:      "Duration of a storage flush sweep across the fleet.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"storage"},
	)

	ExpectedValueRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "expected_value_rollbacks_total",
			Help:      "Cumulative expected-value rollbacks after a failed write or invoke.",
		},
		[]string{"node"},
	)
)

// DeviceSnapshot is the subset of a device's observable state the
// fleet sweep reads to refresh the gauges above. It exists so this
// package never needs to import internal/shadow/device directly.
type DeviceSnapshot struct {
	Node              string
	Reachability       int
	SubscriptionState int
	QueueDepth        int
	ExpectedCacheSize int
}

// Refresh sets every per-device gauge from snapshots, mirroring the
// teacher's own periodic metric-collection workers (pkg/metricstore)
// that poll live state into Prometheus on a fixed tick rather than
// push on every mutation.
func Refresh(snapshots []DeviceSnapshot) {
	for _, s := range snapshots {
		Reachability.WithLabelValues(s.Node).Set(float64(s.Reachability))
		SubscriptionState.WithLabelValues(s.Node).Set(float64(s.SubscriptionState))
		QueueDepth.WithLabelValues(s.Node).Set(float64(s.QueueDepth))
		ExpectedCacheSize.WithLabelValues(s.Node).Set(float64(s.ExpectedCacheSize))
	}
}
