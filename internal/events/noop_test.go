package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = NoopPublisher{}
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, NewEvent(EventTaskReady, nil)))
	require.NoError(t, pub.PublishDone(ctx, "task-1"))

	ch, err := pub.Subscribe(ctx, EventTaskReady)
	require.NoError(t, err)
	_, open := <-ch
	assert.False(t, open)

	all, err := pub.SubscribeAll(ctx)
	require.NoError(t, err)
	_, open = <-all
	assert.False(t, open)

	require.NoError(t, pub.Close())
}
