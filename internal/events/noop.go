package events

import "context"

// NoopPublisher is used when no events bus is configured
// (DESIPIPE_REDIS_ADDR unset). Futures fall back to pure polling and the
// admin "/ws" tail simply has nothing to show.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }

func (NoopPublisher) Subscribe(ctx context.Context, _ ...EventType) (<-chan *Event, error) {
	ch := make(chan *Event)
	close(ch)
	return ch, nil
}

func (NoopPublisher) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	ch := make(chan *Event)
	close(ch)
	return ch, nil
}

func (NoopPublisher) PublishDone(context.Context, string) error { return nil }

func (NoopPublisher) SubscribeDone(ctx context.Context, _ string) (<-chan struct{}, error) {
	ch := make(chan struct{})
	return ch, nil
}

func (NoopPublisher) Close() error { return nil }

var _ Publisher = NoopPublisher{}
