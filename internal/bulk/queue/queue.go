// Package queue buffers bulk items and flushes them through an executor
// when a count, size or time threshold trips.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/docstore/internal/bulk"
	"github.com/syntrixbase/docstore/internal/metrics"
)

// ErrQueueClosed is returned by Add and Flush after Close.
var ErrQueueClosed = errors.New("bulk queue is closed")

// Executor runs one batch.
type Executor interface {
	Execute(ctx context.Context, items []bulk.Item) (*bulk.Response, error)
}

// Listener observes flushes. Callbacks run on the flusher goroutine.
type Listener interface {
	BeforeBulk(executionID int64, items []bulk.Item)
	AfterBulk(executionID int64, items []bulk.Item, resp *bulk.Response)
	// AfterBulkFailure is called when the batch could not run at all.
	// Item failures are reported through AfterBulk.
	AfterBulkFailure(executionID int64, items []bulk.Item, err error)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	Before  func(executionID int64, items []bulk.Item)
	After   func(executionID int64, items []bulk.Item, resp *bulk.Response)
	Failure func(executionID int64, items []bulk.Item, err error)
}

func (l ListenerFuncs) BeforeBulk(id int64, items []bulk.Item) {
	if l.Before != nil {
		l.Before(id, items)
	}
}

func (l ListenerFuncs) AfterBulk(id int64, items []bulk.Item, resp *bulk.Response) {
	if l.After != nil {
		l.After(id, items, resp)
	}
}

func (l ListenerFuncs) AfterBulkFailure(id int64, items []bulk.Item, err error) {
	if l.Failure != nil {
		l.Failure(id, items, err)
	}
}

// Config holds the flush thresholds. A zero or negative threshold is disabled.
type Config struct {
	// MaxActions flushes once this many items are buffered and caps each batch.
	MaxActions int `yaml:"max_actions"`
	// MaxBytes flushes once the estimated buffered size reaches this value.
	MaxBytes int `yaml:"max_bytes"`
	// FlushInterval flushes whatever is buffered on this period.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// FlushTimeout bounds a single batch execution.
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxActions:    1000,
		MaxBytes:      5 * 1024 * 1024, // 5MB
		FlushInterval: time.Second,
		FlushTimeout:  30 * time.Second,
	}
}

type entry struct {
	item bulk.Item
	size int
}

// Queue is a buffering front of an Executor. At most one batch is in
// flight; items added meanwhile form the next batch.
type Queue struct {
	executor Executor
	listener Listener
	cfg      Config
	logger   *slog.Logger

	mu           sync.Mutex
	pending      []entry
	pendingBytes int
	closed       bool

	executionID atomic.Int64
	notifyCh    chan struct{}
	flushReqCh  chan chan struct{}
	closeCh     chan struct{}
	doneCh      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a queue and its flusher goroutine.
func New(executor Executor, listener Listener, cfg Config, logger *slog.Logger) *Queue {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		executor:   executor,
		listener:   listener,
		cfg:        cfg,
		logger:     logger.With("component", "bulk-queue"),
		notifyCh:   make(chan struct{}, 1),
		flushReqCh: make(chan chan struct{}),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	go q.flusherLoop()
	return q
}

// Add buffers item. It never waits for an in-flight flush.
func (q *Queue) Add(item bulk.Item) error {
	size := bulk.EstimatedSize(item)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, entry{item: item, size: size})
	q.pendingBytes += size
	full := q.thresholdReachedLocked()
	q.mu.Unlock()

	metrics.QueuePending.Inc()
	if full {
		select {
		case q.notifyCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush executes everything buffered and waits for completion.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case q.flushReqCh <- done:
	case <-q.doneCh:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting items, flushes the buffer and stops the flusher.
// If ctx expires first, the in-flight batch is canceled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.doneCh
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.closeCh)
	select {
	case <-q.doneCh:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.doneCh
		return ctx.Err()
	}
}

func (q *Queue) flusherLoop() {
	defer close(q.doneCh)

	var tick <-chan time.Time
	if q.cfg.FlushInterval > 0 {
		ticker := time.NewTicker(q.cfg.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-q.closeCh:
			q.drain()
			return
		case done := <-q.flushReqCh:
			q.drain()
			close(done)
		case <-q.notifyCh:
			for q.thresholdReached() {
				q.execute(q.cut())
			}
		case <-tick:
			q.drain()
		}
	}
}

func (q *Queue) drain() {
	for {
		batch := q.cut()
		if len(batch) == 0 {
			return
		}
		q.execute(batch)
	}
}

func (q *Queue) thresholdReached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.thresholdReachedLocked()
}

func (q *Queue) thresholdReachedLocked() bool {
	if len(q.pending) == 0 {
		return false
	}
	if q.cfg.MaxActions > 0 && len(q.pending) >= q.cfg.MaxActions {
		return true
	}
	return q.cfg.MaxBytes > 0 && q.pendingBytes >= q.cfg.MaxBytes
}

// cut removes the next batch from the buffer. A batch holds at most
// MaxActions items and stops before exceeding MaxBytes, but always holds
// at least one item.
func (q *Queue) cut() []bulk.Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, bytes := 0, 0
	for n < len(q.pending) {
		if q.cfg.MaxActions > 0 && n >= q.cfg.MaxActions {
			break
		}
		next := q.pending[n].size
		if n > 0 && q.cfg.MaxBytes > 0 && bytes+next > q.cfg.MaxBytes {
			break
		}
		bytes += next
		n++
	}
	if n == 0 {
		return nil
	}

	batch := make([]bulk.Item, n)
	for i := 0; i < n; i++ {
		batch[i] = q.pending[i].item
	}
	q.pending = append(q.pending[:0:0], q.pending[n:]...)
	q.pendingBytes -= bytes
	return batch
}

func (q *Queue) execute(items []bulk.Item) {
	id := q.executionID.Add(1)
	metrics.QueuePending.Sub(float64(len(items)))
	q.listener.BeforeBulk(id, items)

	ctx := q.ctx
	if q.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.FlushTimeout)
		defer cancel()
	}

	resp, err := q.executor.Execute(ctx, items)
	if err != nil {
		metrics.QueueFlushes.WithLabelValues("failure").Inc()
		q.logger.Warn("Bulk flush failed", "execution_id", id, "items", len(items), "error", err)
		q.listener.AfterBulkFailure(id, items, err)
		return
	}
	metrics.QueueFlushes.WithLabelValues("success").Inc()
	q.logger.Debug("Bulk flush completed", "execution_id", id, "items", len(items), "took", resp.Took, "errors", resp.Errors)
	q.listener.AfterBulk(id, items, resp)
}
