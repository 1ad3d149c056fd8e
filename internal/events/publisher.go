// Package events implements the optional event bus used for Future
// wake-up and the admin "/ws" observability tail. It is entirely
// orthogonal to internal/store, which remains the only durability
// boundary (SPEC_FULL §4.4, §9 GLOSSARY "Events bus").
package events

import (
	"context"
	"time"

	"github.com/desipipe/desipipe/internal/codec"
)

// EventType identifies the kind of event carried by an Event.
type EventType string

const (
	EventTaskReady     EventType = "task.ready"
	EventTaskRunning   EventType = "task.running"
	EventTaskSucceeded EventType = "task.succeeded"
	EventTaskFailed    EventType = "task.failed"
	EventTaskKilled    EventType = "task.killed"
	EventTaskUnknown   EventType = "task.unknown"

	EventWorkerLaunched EventType = "worker.launched"
	EventWorkerExited   EventType = "worker.exited"

	EventQueueDepth    EventType = "queue.depth"
	EventSystemMetrics EventType = "system.metrics"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(eventType EventType, data map[string]any) *Event {
	return &Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return codec.Encode(e)
}

// FromJSON deserializes an event.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := codec.Decode(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher is the event bus contract. Implementations must tolerate
// being asked to publish/subscribe when no bus was configured (see
// NoopPublisher).
type Publisher interface {
	// Publish broadcasts event on the channel for its type, consumed by
	// observability tails (e.g. the admin "/ws" endpoint).
	Publish(ctx context.Context, event *Event) error
	// Subscribe returns a channel of events of the given types.
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	// SubscribeAll returns a channel of every event published.
	SubscribeAll(ctx context.Context) (<-chan *Event, error)
	// PublishDone notifies that taskID reached a terminal state, the
	// dedicated signal a Future races against its poll ticker.
	PublishDone(ctx context.Context, taskID string) error
	// SubscribeDone returns a channel sent to the next time taskID is
	// published as done.
	SubscribeDone(ctx context.Context, taskID string) (<-chan struct{}, error)
	Close() error
}

// TaskEventData builds the Data payload for a task lifecycle event.
func TaskEventData(taskID, appName string, extra map[string]any) map[string]any {
	data := map[string]any{
		"task_id":  taskID,
		"app_name": appName,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData builds the Data payload for a worker lifecycle event.
func WorkerEventData(jobID, providerDigest string, extra map[string]any) map[string]any {
	data := map[string]any{
		"jobid":  jobID,
		"digest": providerDigest,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// QueueDepthData builds the Data payload for a queue.depth event, keyed
// by task.State name rather than the teacher's priority levels.
func QueueDepthData(depths map[string]int) map[string]any {
	return map[string]any{"depths": depths}
}
