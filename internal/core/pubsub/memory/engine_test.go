package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

func receive(t *testing.T, ch <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return pubsub.Message{}
}

func TestEngine_PublishSubscribe(t *testing.T) {
	e := New()
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed, err := e.Subscribe(ctx, "docstore.tasks.*.completed")
	require.NoError(t, err)
	everything, err := e.Subscribe(ctx, "")
	require.NoError(t, err)

	var published []string
	pub, err := e.NewPublisher(pubsub.PublisherOptions{
		SubjectPrefix: "docstore.tasks",
		OnPublish:     func(subject string, err error, _ time.Duration) { published = append(published, subject) },
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "update_by_query.running", []byte("1")))
	require.NoError(t, pub.Publish(ctx, "update_by_query.completed", []byte("2")))

	msg := receive(t, completed)
	assert.Equal(t, "docstore.tasks.update_by_query.completed", msg.Subject)
	assert.Equal(t, []byte("2"), msg.Data)
	assert.False(t, msg.Timestamp.IsZero())

	assert.Equal(t, "docstore.tasks.update_by_query.running", receive(t, everything).Subject)
	assert.Equal(t, "docstore.tasks.update_by_query.completed", receive(t, everything).Subject)
	assert.Equal(t, []string{"docstore.tasks.update_by_query.running", "docstore.tasks.update_by_query.completed"}, published)
}

func TestEngine_UnsubscribeOnCancel(t *testing.T) {
	e := New()
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.Subscribe(ctx, ">")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}

	pub, err := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.NoError(t, pub.Publish(context.Background(), "a", nil))
}

func TestEngine_SlowSubscriberBlocksUntilDeadline(t *testing.T) {
	e := New()
	defer e.Close()

	_, err := e.Subscribe(context.Background(), ">")
	require.NoError(t, err)
	pub, err := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)

	for i := 0; i < DefaultBufferSize; i++ {
		require.NoError(t, pub.Publish(context.Background(), "a", nil))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pub.Publish(ctx, "a", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEngine_Close(t *testing.T) {
	e := New()
	ch, err := e.Subscribe(context.Background(), ">")
	require.NoError(t, err)
	pub, err := e.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.True(t, e.IsClosed())

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, pub.Publish(context.Background(), "a", nil), ErrEngineClosed)
	_, err = e.NewPublisher(pubsub.PublisherOptions{})
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Subscribe(context.Background(), ">")
	assert.ErrorIs(t, err, ErrEngineClosed)

	closed, err := New().NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.Publish(context.Background(), "a", nil), ErrEngineClosed)
}
