package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/docstore/internal/bulk/queue"
)

// Shutdown stops the server and then releases components in reverse
// order of construction. Queued bulk items are flushed before storage
// closes.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.server != nil {
		if err := m.server.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for the HTTP server to stop")
	}

	// Buffered bulk items must reach storage even when the caller's budget
	// went to the server.
	releaseCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		releaseCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), m.drainBudget())
		defer cancel()
	}
	errs = append(errs, m.release(releaseCtx))
	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("Shutdown finished with errors", "error", err)
	} else {
		m.logger.Info("All services stopped")
	}
	return err
}

// drainBudget bounds the release of components once the shutdown
// context is spent.
func (m *Manager) drainBudget() time.Duration {
	if m.cfg != nil && m.cfg.Queue.FlushTimeout > 0 {
		return m.cfg.Queue.FlushTimeout
	}
	return queue.DefaultConfig().FlushTimeout
}

func (m *Manager) release(ctx context.Context) error {
	var errs []error
	if m.queue != nil {
		if err := m.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bulk queue: %w", err))
		}
		m.queue = nil
	}
	if m.tasks != nil {
		if err := m.tasks.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tasks: %w", err))
		}
		m.tasks = nil
	}
	if m.publisher != nil {
		if err := m.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events publisher: %w", err))
		}
		m.publisher = nil
	}
	if m.events != nil {
		if err := m.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
		m.events = nil
	}
	if m.engine != nil {
		if err := m.engine.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
		m.engine = nil
	}
	return errors.Join(errs...)
}
