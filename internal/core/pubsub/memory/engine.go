package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

var (
	_ pubsub.Provider   = (*Engine)(nil)
	_ pubsub.Subscriber = (*Engine)(nil)
)

// DefaultBufferSize is the channel capacity of a subscription.
const DefaultBufferSize = 100

// Engine is an in-process broker with NATS-style subject matching.
type Engine struct {
	broker *broker
}

// New creates a new in-memory pubsub engine.
func New() *Engine {
	return &Engine{broker: newBroker()}
}

// NewPublisher creates a publisher on the engine. The stream options are
// ignored; only the subject prefix applies.
func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	p := &publisher{broker: e.broker, onPublish: opts.OnPublish}
	if opts.SubjectPrefix != "" {
		p.prefix = opts.SubjectPrefix + "."
	}
	return p, nil
}

// Subscribe receives every message whose full subject matches pattern.
// A slow subscriber applies backpressure to publishers.
func (e *Engine) Subscribe(ctx context.Context, pattern string) (<-chan pubsub.Message, error) {
	if pattern == "" {
		pattern = ">"
	}
	return e.broker.subscribe(ctx, pattern, DefaultBufferSize)
}

// Close shuts down the engine and all subscriptions.
func (e *Engine) Close() error {
	return e.broker.close()
}

// IsClosed returns true if the engine is closed.
func (e *Engine) IsClosed() bool {
	return e.broker.isClosed()
}

// publisher prefixes subjects and reports every attempt to onPublish.
type publisher struct {
	broker    *broker
	prefix    string
	onPublish func(subject string, err error, latency time.Duration)
	closed    atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()
	subject = p.prefix + subject
	err := p.broker.publish(ctx, subject, data)
	if p.onPublish != nil {
		p.onPublish(subject, err, time.Since(start))
	}
	return err
}

// Close detaches the publisher; the engine stays open.
func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}
