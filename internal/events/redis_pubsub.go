package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/desipipe/desipipe/internal/logger"
)

const (
	channelPrefix = "desipipe:events:"
	donePrefix    = "desipipe:done:"
)

// RedisPubSub implements Publisher using Redis Pub/Sub.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub wraps an already-connected Redis client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish publishes an event to its type-specific channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	channel := r.channelName(event.Type)
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("events: serialize event: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}

	logger.Debug().
		Str("event_type", string(event.Type)).
		Str("channel", channel).
		Msg("event published")

	return nil
}

// Subscribe subscribes to events of the specified types.
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	return r.drain(ctx, pubsub), nil
}

// SubscribeAll subscribes to every event type via pattern match.
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe all: %w", err)
	}

	return r.drain(ctx, pubsub), nil
}

func (r *RedisPubSub) drain(ctx context.Context, pubsub *redis.PubSub) <-chan *Event {
	eventCh := make(chan *Event, 100)

	go func() {
		defer close(eventCh)
		defer pubsub.Close()
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}

				select {
				case eventCh <- event:
				default:
					logger.Warn().
						Str("event_type", string(event.Type)).
						Msg("event channel full, dropping event")
				}
			}
		}
	}()

	return eventCh
}

// PublishDone notifies that taskID has reached a terminal state, on its
// own dedicated channel so a Future can wait on exactly one id cheaply.
func (r *RedisPubSub) PublishDone(ctx context.Context, taskID string) error {
	if err := r.client.Publish(ctx, r.doneChannel(taskID), "1").Err(); err != nil {
		return fmt.Errorf("events: publish done %s: %w", taskID, err)
	}
	return nil
}

// SubscribeDone returns a channel sent to once when taskID is published
// as done. The caller is responsible for not leaking the subscription if
// it gives up waiting before the event arrives (cancel ctx).
func (r *RedisPubSub) SubscribeDone(ctx context.Context, taskID string) (<-chan struct{}, error) {
	pubsub := r.client.Subscribe(ctx, r.doneChannel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe done %s: %w", taskID, err)
	}

	done := make(chan struct{}, 1)
	go func() {
		defer pubsub.Close()
		select {
		case <-ctx.Done():
		case <-pubsub.Channel():
			select {
			case done <- struct{}{}:
			default:
			}
		}
	}()
	return done, nil
}

// Close is a no-op: each Subscribe call owns and closes its own *redis.PubSub.
func (r *RedisPubSub) Close() error {
	return nil
}

func (r *RedisPubSub) channelName(eventType EventType) string {
	return channelPrefix + string(eventType)
}

func (r *RedisPubSub) doneChannel(taskID string) string {
	return donePrefix + taskID
}

// PublishTaskEvent is a helper to publish task lifecycle events.
func (r *RedisPubSub) PublishTaskEvent(ctx context.Context, eventType EventType, taskID, appName string, extra map[string]any) error {
	event := NewEvent(eventType, TaskEventData(taskID, appName, extra))
	return r.Publish(ctx, event)
}

// PublishWorkerEvent is a helper to publish worker lifecycle events.
func (r *RedisPubSub) PublishWorkerEvent(ctx context.Context, eventType EventType, jobID, digest string, extra map[string]any) error {
	event := NewEvent(eventType, WorkerEventData(jobID, digest, extra))
	return r.Publish(ctx, event)
}

var _ Publisher = (*RedisPubSub)(nil)
