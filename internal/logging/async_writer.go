package logging

import (
	"io"
	"sync"
)

// DefaultAsyncBuffer is the number of pending writes an AsyncWriter holds
// before Write blocks.
const DefaultAsyncBuffer = 10000

// AsyncWriter moves writes to a background goroutine. Each write is copied
// and delivered in order.
type AsyncWriter struct {
	w     io.Writer
	ch    chan []byte
	flush chan chan struct{}
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncWriter starts a writer over w. buffer <= 0 uses DefaultAsyncBuffer.
func NewAsyncWriter(w io.Writer, buffer int) *AsyncWriter {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	a := &AsyncWriter{
		w:     w,
		ch:    make(chan []byte, buffer),
		flush: make(chan chan struct{}),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncWriter) loop() {
	defer close(a.done)
	for {
		select {
		case p, ok := <-a.ch:
			if !ok {
				return
			}
			_, _ = a.w.Write(p)
		case ack := <-a.flush:
			for n := len(a.ch); n > 0; n-- {
				_, _ = a.w.Write(<-a.ch)
			}
			close(ack)
		}
	}
}

// Write queues p. It blocks only when the buffer is full.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, io.ErrClosedPipe
	}
	a.ch <- append([]byte(nil), p...)
	return len(p), nil
}

// Flush waits until every write queued before the call reached the
// underlying writer.
func (a *AsyncWriter) Flush() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	ack := make(chan struct{})
	a.flush <- ack
	<-ack
	return nil
}

// Close drains pending writes and closes the underlying writer if it is
// an io.Closer.
func (a *AsyncWriter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	if c, ok := a.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
