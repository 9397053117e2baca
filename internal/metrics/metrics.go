package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	rpcCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transferwatch_rpc_calls_total",
			Help: "Total number of RPC calls by method",
		},
		[]string{"method"},
	)

	rpcCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transferwatch_rpc_call_duration_seconds",
			Help:    "Duration of RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transferwatch_rpc_errors_total",
			Help: "Total number of RPC errors by method and kind",
		},
		[]string{"method", "kind"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transferwatch_rpc_retries_total",
			Help: "Total number of RPC retries by method",
		},
		[]string{"method"},
	)

	// Store metrics
	dbOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transferwatch_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation"},
	)

	dbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transferwatch_db_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Scanner metrics
	LastCommittedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transferwatch_last_committed_block",
			Help: "Highest block number committed to the store",
		},
	)

	SafeHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transferwatch_safe_head",
			Help: "Chain head minus the finality buffer as of the last tick",
		},
	)

	BatchesCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transferwatch_batches_committed_total",
			Help: "Total number of committed batches",
		},
	)

	EventsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transferwatch_events_indexed_total",
			Help: "Total number of transfer events indexed",
		},
	)

	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transferwatch_reorgs_detected_total",
			Help: "Total number of reorgs detected",
		},
	)

	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transferwatch_reorg_depth_blocks",
			Help:    "Depth of detected reorgs in blocks",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 20, 32},
		},
	)

	ScannerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transferwatch_scanner_state",
			Help: "Current scanner state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transferwatch_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)
)

func RPCMethodInc(method string) {
	rpcCalls.WithLabelValues(method).Inc()
}

func RPCMethodDuration(method string, d time.Duration) {
	rpcCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RPCMethodError(method, kind string) {
	rpcErrors.WithLabelValues(method, kind).Inc()
}

func RPCRetryInc(method string) {
	rpcRetries.WithLabelValues(method).Inc()
}

func DBOperation(operation string, d time.Duration) {
	dbOperations.WithLabelValues(operation).Inc()
	dbOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func ComponentHealthSet(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ComponentHealth.WithLabelValues(component).Set(v)
}

func ScannerStateSet(active string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1.0
		}
		ScannerState.WithLabelValues(s).Set(v)
	}
}
