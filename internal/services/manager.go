// Package services wires the storage engine, the document store, the bulk
// and task machinery and the HTTP server into one process.
package services

import (
	"log/slog"
	"sync"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/bulk/queue"
	"github.com/syntrixbase/docstore/internal/config"
	"github.com/syntrixbase/docstore/internal/core/pubsub"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
	"github.com/syntrixbase/docstore/internal/document"
	"github.com/syntrixbase/docstore/internal/mutation"
	"github.com/syntrixbase/docstore/internal/script"
	"github.com/syntrixbase/docstore/internal/server"
	"github.com/syntrixbase/docstore/internal/update"
)

// Manager owns every long lived component. Init builds them, Start runs
// the server and Shutdown releases them in reverse order.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	engine    types.Engine
	store     *document.Store
	scripts   *script.Service
	updater   *update.Engine
	executor  *bulk.Executor
	queue     *queue.Queue
	tasks     *mutation.Controller
	events    pubsub.Provider
	publisher pubsub.Publisher
	server    server.Service

	wg       sync.WaitGroup
	serveErr chan error
}

func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "services"),
		serveErr: make(chan error, 1),
	}
}

// Store returns the document store, nil before Init.
func (m *Manager) Store() *document.Store { return m.store }

// Tasks returns the task controller, nil before Init.
func (m *Manager) Tasks() *mutation.Controller { return m.tasks }

// Addr returns the address the HTTP server listens on, empty until it is
// listening.
func (m *Manager) Addr() string {
	if m.server == nil {
		return ""
	}
	return m.server.Addr()
}

// Errors reports a fatal server error after Start.
func (m *Manager) Errors() <-chan error { return m.serveErr }
