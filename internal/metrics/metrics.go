package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"app_name"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"app_name", "state"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desipipe_task_duration_seconds",
			Help:    "Task execution duration in seconds, from t_started to t_finished",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 20), // 1ms to ~8.7min
		},
		[]string{"app_name"},
	)

	TaskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_task_retries_total",
			Help: "Total number of tasks transitioned back to PENDING by retry",
		},
		[]string{"app_name"},
	)

	// Queue metrics — keyed by task.State rather than the teacher's
	// priority level, since desipipe has no priority concept.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "desipipe_queue_depth",
			Help: "Current number of tasks in a given state",
		},
		[]string{"state"},
	)

	QueueLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desipipe_queue_latency_seconds",
			Help:    "Time a task spent PENDING before being claimed",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"app_name"},
	)

	// Worker/provider metrics
	ActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "desipipe_active_workers",
			Help: "Current number of live workers per provider",
		},
		[]string{"provider"},
	)

	WorkerLaunches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_worker_launches_total",
			Help: "Total number of workers launched by a provider",
		},
		[]string{"provider"},
	)

	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "desipipe_scheduler_tick_duration_seconds",
			Help:    "Duration of one spawn-loop tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desipipe_store_operation_duration_seconds",
			Help:    "Queue store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_store_errors_total",
			Help: "Total number of queue store operation errors",
		},
		[]string{"operation"},
	)

	// HTTP metrics (admin surface)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "desipipe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_http_requests_total",
			Help: "Total number of HTTP requests to the admin surface",
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics (admin event tail)
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "desipipe_websocket_connections",
			Help: "Current number of event-tail WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "desipipe_websocket_messages_total",
			Help: "Total number of WebSocket messages sent on the event tail",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission.
func RecordTaskSubmission(appName string) {
	TasksSubmitted.WithLabelValues(appName).Inc()
}

// RecordTaskCompletion records a task reaching a terminal state.
func RecordTaskCompletion(appName, state string, duration float64) {
	TasksCompleted.WithLabelValues(appName, state).Inc()
	TaskDuration.WithLabelValues(appName).Observe(duration)
}

// RecordTaskRetry records a retry transition.
func RecordTaskRetry(appName string) {
	TaskRetries.WithLabelValues(appName).Inc()
}

// UpdateQueueDepth sets the gauge for one state.
func UpdateQueueDepth(state string, depth float64) {
	QueueDepth.WithLabelValues(state).Set(depth)
}

// RecordQueueLatency records the PENDING-to-RUNNING wait for a task.
func RecordQueueLatency(appName string, latency float64) {
	QueueLatency.WithLabelValues(appName).Observe(latency)
}

// SetActiveWorkers sets the live-worker gauge for a provider.
func SetActiveWorkers(provider string, count float64) {
	ActiveWorkers.WithLabelValues(provider).Set(count)
}

// RecordWorkerLaunch records a provider launching a worker.
func RecordWorkerLaunch(provider string) {
	WorkerLaunches.WithLabelValues(provider).Inc()
}

// RecordSchedulerTick records one spawn-loop iteration's duration.
func RecordSchedulerTick(duration float64) {
	SchedulerTickDuration.Observe(duration)
}

// RecordStoreOperation records a queue store call's duration.
func RecordStoreOperation(operation string, duration float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordStoreError records a failed queue store call.
func RecordStoreError(operation string) {
	StoreErrors.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records an admin HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SetWebSocketConnections sets the event-tail connection gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records an event-tail message.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
