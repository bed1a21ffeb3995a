package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/bulk/queue"
	"github.com/syntrixbase/docstore/internal/core/pubsub"
	"github.com/syntrixbase/docstore/internal/core/pubsub/memory"
	"github.com/syntrixbase/docstore/internal/core/pubsub/nats"
	"github.com/syntrixbase/docstore/internal/core/storage"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/gateway"
	"github.com/syntrixbase/docstore/internal/gateway/rest"
	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/internal/query"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/internal/server"
	"github.com/syntrixbase/docstore/internal/update"
)

// Dependency injection for testing
var (
	newEngine         = storage.NewEngine
	newEventsProvider = func(cfg pubsub.Config, logger *slog.Logger) pubsub.Provider {
		switch cfg.Backend {
		case pubsub.BackendMemory:
			return memory.New()
		case pubsub.BackendNATS:
			return nats.NewProvider(cfg.URL, logger)
		}
		return nil
	}
)

// Init builds the component graph. On error everything built so far is
// released.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.release(context.Background())
		}
	}()

	if err := m.initStorage(ctx); err != nil {
		return err
	}
	if err := m.initEvents(ctx); err != nil {
		return err
	}
	if err := m.initWriters(); err != nil {
		return err
	}
	m.initServer()
	return nil
}

func (m *Manager) initStorage(ctx context.Context) error {
	engine, err := newEngine(ctx, m.cfg.Storage, m.logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	m.engine = engine

	store, err := document.New(ctx, engine, m.cfg.Collections, m.logger)
	if err != nil {
		return fmt.Errorf("failed to load collections: %w", err)
	}
	m.store = store
	m.logger.Info("Storage initialized", "backend", m.cfg.Storage.Backend, "collections", len(store.Collections()))
	return nil
}

func (m *Manager) initEvents(ctx context.Context) error {
	provider := newEventsProvider(m.cfg.Events, m.logger)
	if provider == nil {
		m.logger.Info("Task events disabled")
		return nil
	}
	m.events = provider
	if c, ok := provider.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to initialize events backend: %w", err)
		}
	}

	publisher, err := provider.NewPublisher(m.cfg.Events.PublisherOptions(m.onPublish))
	if err != nil {
		return fmt.Errorf("failed to create events publisher: %w", err)
	}
	m.publisher = publisher
	m.logger.Info("Task events enabled", "backend", m.cfg.Events.Backend, "prefix", m.cfg.Events.SubjectPrefix)
	return nil
}

func (m *Manager) onPublish(subject string, err error, latency time.Duration) {
	if err != nil {
		m.logger.Warn("Task event publish failed", "subject", subject, "latency", latency, "error", err)
	}
}

func (m *Manager) initWriters() error {
	scripts, err := script.NewService(m.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scripts: %w", err)
	}
	m.scripts = scripts
	m.updater = update.New(m.store, scripts, m.logger)
	m.executor = bulk.NewExecutor(m.store, m.updater, m.cfg.Bulk, m.logger)
	m.tasks = mutation.NewController(m.executor, query.NewSource(m.store, scripts), scripts, m.publisher, m.cfg.Tasks, m.logger)

	if m.cfg.Queue.Enabled() {
		m.queue = queue.New(m.executor, queue.ListenerFuncs{
			Failure: func(id int64, items []bulk.Item, err error) {
				m.logger.Error("Queued bulk batch failed", "execution", id, "items", len(items), "error", err)
			},
		}, m.cfg.Queue, m.logger)
	}
	return nil
}

func (m *Manager) initServer() {
	m.server = server.New(m.cfg.Server, m.logger)

	opts := []rest.HandlerOption{rest.WithLogger(m.logger)}
	if m.queue != nil {
		opts = append(opts, rest.WithQueue(m.queue))
	}
	handler := rest.NewHandler(m.store, m.updater, m.executor, m.tasks, opts...)

	mux := http.NewServeMux()
	gateway.NewServer(handler, gateway.WithMetrics()).RegisterRoutes(mux)
	m.server.RegisterHTTPHandler("/", mux)
}
