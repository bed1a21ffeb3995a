package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/docstore/internal/core/pubsub"
)

type broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed atomic.Bool
}

type subscription struct {
	pattern string
	msgCh   chan pubsub.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

func newBroker() *broker {
	return &broker{subs: make(map[uint64]*subscription)}
}

// publish delivers to every matching subscription in turn.
func (b *broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := pubsub.Message{Subject: subject, Data: data, Timestamp: time.Now()}
	for _, sub := range b.subs {
		if !matchSubject(sub.pattern, subject) {
			continue
		}
		select {
		case sub.msgCh <- msg:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
		}
	}
	return nil
}

func (b *broker) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan pubsub.Message, error) {
	if b.closed.Load() {
		return nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pattern: pattern,
		msgCh:   make(chan pubsub.Message, bufSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = sub

	go func() {
		<-subCtx.Done()
		b.unsubscribe(id)
	}()
	return sub.msgCh, nil
}

func (b *broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		sub.cancel()
		close(sub.msgCh)
	}
}

func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.cancel()
		close(sub.msgCh)
	}
	return nil
}

func (b *broker) isClosed() bool {
	return b.closed.Load()
}
