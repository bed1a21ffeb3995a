package services

import (
	"context"
	"errors"
)

// Start runs the HTTP server in the background until ctx is done or
// Shutdown is called. A server failure is reported on Errors.
func (m *Manager) Start(ctx context.Context) error {
	if m.server == nil {
		return errors.New("services not initialized")
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.Start(ctx); err != nil {
			m.logger.Error("HTTP server failed", "error", err)
			m.serveErr <- err
		}
	}()
	return nil
}
