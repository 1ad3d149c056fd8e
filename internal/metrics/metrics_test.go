package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// Task metrics
	assert.NotNil(t, TasksSubmitted)
	assert.NotNil(t, TasksCompleted)
	assert.NotNil(t, TaskDuration)
	assert.NotNil(t, TaskRetries)

	// Queue metrics
	assert.NotNil(t, QueueDepth)
	assert.NotNil(t, QueueLatency)

	// Worker/provider metrics
	assert.NotNil(t, ActiveWorkers)
	assert.NotNil(t, WorkerLaunches)
	assert.NotNil(t, SchedulerTickDuration)

	// Store metrics
	assert.NotNil(t, StoreOperationDuration)
	assert.NotNil(t, StoreErrors)

	// HTTP metrics
	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)

	// WebSocket metrics
	assert.NotNil(t, WebSocketConnections)
	assert.NotNil(t, WebSocketMessages)
}

func TestRecordTaskSubmission(t *testing.T) {
	TasksSubmitted.Reset()

	RecordTaskSubmission("double")
	RecordTaskSubmission("double")
	RecordTaskSubmission("average")
}

func TestRecordTaskCompletion(t *testing.T) {
	TasksCompleted.Reset()
	TaskDuration.Reset()

	RecordTaskCompletion("double", "SUCCEEDED", 1.5)
	RecordTaskCompletion("double", "FAILED", 0.5)
}

func TestRecordTaskRetry(t *testing.T) {
	TaskRetries.Reset()

	RecordTaskRetry("double")
	RecordTaskRetry("double")
}

func TestUpdateQueueDepth(t *testing.T) {
	QueueDepth.Reset()

	UpdateQueueDepth("PENDING", 100)
	UpdateQueueDepth("RUNNING", 4)
	UpdateQueueDepth("SUCCEEDED", 50)
}

func TestRecordQueueLatency(t *testing.T) {
	QueueLatency.Reset()

	RecordQueueLatency("double", 0.001)
	RecordQueueLatency("average", 0.5)
}

func TestSetActiveWorkers(t *testing.T) {
	SetActiveWorkers("local", 5)
	SetActiveWorkers("batch", 10)
	SetActiveWorkers("local", 0)
}

func TestRecordWorkerLaunch(t *testing.T) {
	WorkerLaunches.Reset()

	RecordWorkerLaunch("local")
	RecordWorkerLaunch("batch")
}

func TestRecordSchedulerTick(t *testing.T) {
	RecordSchedulerTick(0.01)
	RecordSchedulerTick(0.2)
}

func TestRecordStoreOperation(t *testing.T) {
	StoreOperationDuration.Reset()

	RecordStoreOperation("claim", 0.001)
	RecordStoreOperation("insert", 0.0005)
}

func TestRecordStoreError(t *testing.T) {
	StoreErrors.Reset()

	RecordStoreError("claim")
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestDuration.Reset()
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("GET", "/healthz", "200", 0.001)
	RecordHTTPRequest("GET", "/ws", "101", 0.002)
}

func TestSetWebSocketConnections(t *testing.T) {
	SetWebSocketConnections(0)
	SetWebSocketConnections(3)
}

func TestRecordWebSocketMessage(t *testing.T) {
	WebSocketMessages.Reset()

	RecordWebSocketMessage("task.ready")
	RecordWebSocketMessage("task.succeeded")
}
