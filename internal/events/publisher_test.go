package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_Constants(t *testing.T) {
	assert.Equal(t, EventType("task.ready"), EventTaskReady)
	assert.Equal(t, EventType("task.running"), EventTaskRunning)
	assert.Equal(t, EventType("task.succeeded"), EventTaskSucceeded)
	assert.Equal(t, EventType("task.failed"), EventTaskFailed)
	assert.Equal(t, EventType("task.killed"), EventTaskKilled)
	assert.Equal(t, EventType("task.unknown"), EventTaskUnknown)
	assert.Equal(t, EventType("worker.launched"), EventWorkerLaunched)
	assert.Equal(t, EventType("worker.exited"), EventWorkerExited)
	assert.Equal(t, EventType("queue.depth"), EventQueueDepth)
	assert.Equal(t, EventType("system.metrics"), EventSystemMetrics)
}

func TestNewEvent(t *testing.T) {
	data := map[string]any{"task_id": "task-123", "app_name": "double"}

	event := NewEvent(EventTaskReady, data)

	assert.Equal(t, EventTaskReady, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := NewEvent(EventTaskSucceeded, map[string]any{
		"task_id":  "task-456",
		"app_name": "double",
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["task_id"], restored.Data["task_id"])
	assert.Equal(t, original.Data["app_name"], restored.Data["app_name"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestTaskEventData(t *testing.T) {
	data := TaskEventData("task-123", "double", map[string]any{"errno": 1})

	assert.Equal(t, "task-123", data["task_id"])
	assert.Equal(t, "double", data["app_name"])
	assert.Equal(t, 1, data["errno"])
}

func TestTaskEventData_NoExtra(t *testing.T) {
	data := TaskEventData("task-456", "average", nil)

	assert.Equal(t, "task-456", data["task_id"])
	assert.Equal(t, "average", data["app_name"])
	assert.Len(t, data, 2)
}

func TestWorkerEventData(t *testing.T) {
	data := WorkerEventData("job-1", "abc123", map[string]any{"pid": 42})

	assert.Equal(t, "job-1", data["jobid"])
	assert.Equal(t, "abc123", data["digest"])
	assert.Equal(t, 42, data["pid"])
}

func TestQueueDepthData(t *testing.T) {
	depths := map[string]int{"PENDING": 10, "RUNNING": 4}

	data := QueueDepthData(depths)

	assert.Equal(t, depths, data["depths"])
}
