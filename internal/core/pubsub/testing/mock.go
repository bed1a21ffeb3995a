// Package testing provides in-memory doubles of the pubsub interfaces.
package testing

import (
	"context"
	"sync"

	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

// PublishedMessage represents a message that was published.
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// MockPublisher is a mock implementation of pubsub.Publisher.
type MockPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	err      error
	closed   bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the message.
func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.messages = append(m.messages, PublishedMessage{
		Subject: subject,
		Data:    append([]byte(nil), data...), // Copy to avoid mutation
	})
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns all published messages.
func (m *MockPublisher) Messages() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedMessage(nil), m.messages...)
}

// Subjects returns the subjects of all published messages, in order.
func (m *MockPublisher) Subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Subject
	}
	return out
}

// SetError sets an error to return on Publish.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Reset clears all messages and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.err = nil
	m.closed = false
}

// IsClosed returns whether Close was called.
func (m *MockPublisher) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockProvider is a mock implementation of pubsub.Provider.
type MockProvider struct {
	mu            sync.Mutex
	publisher     pubsub.Publisher
	publisherErr  error
	connectErr    error
	closeErr      error
	connected     bool
	closed        bool
	publisherOpts []pubsub.PublisherOptions
}

var (
	_ pubsub.Provider    = (*MockProvider)(nil)
	_ pubsub.Connectable = (*MockProvider)(nil)
)

// NewMockProvider creates a MockProvider handing out one MockPublisher.
func NewMockProvider() *MockProvider {
	return &MockProvider{publisher: NewMockPublisher()}
}

// Connect records the call and returns the configured error.
func (p *MockProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

// IsConnected returns whether Connect succeeded.
func (p *MockProvider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetConnectError sets an error to return from Connect.
func (p *MockProvider) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// NewPublisher returns the configured publisher or error.
func (p *MockProvider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publisherOpts = append(p.publisherOpts, opts)
	if p.publisherErr != nil {
		return nil, p.publisherErr
	}
	return p.publisher, nil
}

// Close marks the provider as closed.
func (p *MockProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

// SetPublisher sets the publisher to return.
func (p *MockProvider) SetPublisher(pub pubsub.Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publisher = pub
}

// SetPublisherError sets an error to return from NewPublisher.
func (p *MockProvider) SetPublisherError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publisherErr = err
}

// SetCloseError sets an error to return from Close.
func (p *MockProvider) SetCloseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// IsClosed returns whether Close was called.
func (p *MockProvider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PublisherOpts returns all options passed to NewPublisher.
func (p *MockProvider) PublisherOpts() []pubsub.PublisherOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pubsub.PublisherOptions(nil), p.publisherOpts...)
}
