// Package pubsub publishes task lifecycle events to a message broker.
package pubsub

import (
	"context"
	"io"
	"time"
)

// Message is a published event as seen by in-process subscribers.
type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// Subscriber delivers messages whose subject matches pattern. The channel
// is closed when ctx ends or the broker shuts down.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (<-chan Message, error)
}

// Provider owns a broker connection and hands out publishers on it.
type Provider interface {
	io.Closer
	NewPublisher(opts PublisherOptions) (Publisher, error)
}

// Connectable is implemented by providers that must dial before use.
type Connectable interface {
	Connect(ctx context.Context) error
}
