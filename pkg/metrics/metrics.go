package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker runtime metrics
	FunctionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roost_functions_total",
			Help: "Total number of deployed functions",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_instances_total",
			Help: "Total number of worker instances by status",
		},
		[]string{"status"},
	)

	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_invocations_total",
			Help: "Total number of function invocations by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_invocation_duration_seconds",
			Help:    "Function invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InstancesReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_instances_reaped_total",
			Help: "Total number of instances reaped by reason",
		},
		[]string{"reason"},
	)

	// Cron metrics
	SchedulesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_cron_schedules_total",
			Help: "Total number of cron schedules by status",
		},
		[]string{"status"},
	)

	CronExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_cron_executions_total",
			Help: "Total number of cron executions by outcome",
		},
		[]string{"outcome"},
	)

	CronExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roost_cron_execution_duration_seconds",
			Help:    "Cron execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Pool metrics
	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_pool_connections",
			Help: "Pool connections by instance and state",
		},
		[]string{"instance", "state"},
	)

	PoolAcquireTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_pool_acquire_timeouts_total",
			Help: "Total number of pool acquisitions that timed out",
		},
	)

	// Database lifecycle metrics
	DatabasesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roost_databases_total",
			Help: "Total number of database instances by status",
		},
		[]string{"status"},
	)

	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_backups_total",
			Help: "Total number of backups by outcome",
		},
		[]string{"outcome"},
	)

	BackupBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_backup_bytes_total",
			Help: "Total compressed bytes persisted by backups",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roost_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(FunctionsTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(InstancesReaped)
	prometheus.MustRegister(SchedulesTotal)
	prometheus.MustRegister(CronExecutionsTotal)
	prometheus.MustRegister(CronExecutionDuration)
	prometheus.MustRegister(PoolConnections)
	prometheus.MustRegister(PoolAcquireTimeouts)
	prometheus.MustRegister(DatabasesTotal)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupBytes)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
