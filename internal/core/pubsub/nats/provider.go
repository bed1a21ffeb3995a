package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

const ensureStreamTimeout = 10 * time.Second

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// connectFunc dials NATS; replaced in tests.
type connectFunc func(ctx context.Context, url string) (*nats.Conn, JetStream, error)

func dial(ctx context.Context, url string) (*nats.Conn, JetStream, error) {
	opts := []nats.Option{nats.Name("docstore")}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, err
	}
	js, err := NewJetStream(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	return nc, js, nil
}

// Provider owns one NATS connection and hands out JetStream publishers.
type Provider struct {
	url     string
	connect connectFunc
	logger  *slog.Logger

	mu sync.Mutex
	nc *nats.Conn
	js JetStream
}

// NewProvider returns an unconnected provider; call Connect before use.
func NewProvider(url string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{url: url, connect: dial, logger: logger.With("component", "nats-events")}
}

// Connect dials the server and opens JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	nc, js, err := p.connect(ctx, p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	p.mu.Lock()
	p.nc, p.js = nc, js
	p.mu.Unlock()
	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a publisher, creating or updating its stream.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	p.mu.Lock()
	js := p.js
	p.mu.Unlock()
	if js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ensureStreamTimeout)
	defer cancel()
	return NewPublisher(ctx, js, opts)
}

// Close drops the connection. It is safe to call more than once.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		p.logger.Info("Closing NATS connection")
		p.nc.Close()
	}
	p.nc, p.js = nil, nil
	return nil
}
