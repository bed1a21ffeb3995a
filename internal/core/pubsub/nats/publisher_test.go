package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

func TestNewPublisher_EnsuresStream(t *testing.T) {
	tests := []struct {
		name     string
		opts     pubsub.PublisherOptions
		subjects []string
		storage  jetstream.StorageType
	}{
		{
			name:     "prefix subjects",
			opts:     pubsub.PublisherOptions{StreamName: "DOCSTORE_TASKS", SubjectPrefix: "docstore.tasks"},
			subjects: []string{"docstore.tasks.>"},
			storage:  jetstream.MemoryStorage,
		},
		{
			name:     "stream subjects",
			opts:     pubsub.PublisherOptions{StreamName: "tasks", Storage: pubsub.FileStorage},
			subjects: []string{"tasks.>"},
			storage:  jetstream.FileStorage,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := new(MockJetStream)
			js.On("CreateOrUpdateStream", mock.Anything, jetstream.StreamConfig{
				Name:     tt.opts.StreamName,
				Subjects: tt.subjects,
				Storage:  tt.storage,
			}).Return(nil, nil)

			pub, err := NewPublisher(context.Background(), js, tt.opts)
			require.NoError(t, err)
			assert.NotNil(t, pub)
			js.AssertExpectations(t)
		})
	}
}

func TestNewPublisher_Errors(t *testing.T) {
	_, err := NewPublisher(context.Background(), nil, pubsub.PublisherOptions{})
	assert.EqualError(t, err, "jetstream cannot be nil")

	js := new(MockJetStream)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("stream error"))
	_, err = NewPublisher(context.Background(), js, pubsub.PublisherOptions{StreamName: "tasks"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ensure stream: stream error")
}

func TestNewPublisher_NoStream(t *testing.T) {
	js := new(MockJetStream)
	pub, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.NotNil(t, pub)
	js.AssertNotCalled(t, "CreateOrUpdateStream", mock.Anything, mock.Anything)
}

func TestPublisher_Publish(t *testing.T) {
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, "docstore.tasks.update_by_query.completed", []byte(`{}`), 1).Return(&jetstream.PubAck{Stream: "DOCSTORE_TASKS"}, nil)

	var seen []string
	pub, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{
		SubjectPrefix: "docstore.tasks",
		RetryAttempts: 2,
		OnPublish: func(subject string, err error, latency time.Duration) {
			assert.NoError(t, err)
			seen = append(seen, subject)
		},
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), "update_by_query.completed", []byte(`{}`)))
	assert.Equal(t, []string{"docstore.tasks.update_by_query.completed"}, seen)
	assert.NoError(t, pub.Close())
	js.AssertExpectations(t)
}

func TestPublisher_PublishError(t *testing.T) {
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, "delete_by_query.failed", mock.Anything, 0).Return(nil, errors.New("no responders"))

	var failures int
	pub, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{
		OnPublish: func(_ string, err error, _ time.Duration) {
			if err != nil {
				failures++
			}
		},
	})
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "delete_by_query.failed", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, "failed to publish to delete_by_query.failed: no responders", err.Error())
	assert.Equal(t, 1, failures)
}
