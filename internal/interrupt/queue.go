package interrupt

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrQueueFull is returned by QueueSource.Submit when the buffer is full.
var ErrQueueFull = errors.New("signal queue full")

// QueueSource is fed programmatically, e.g. by the HTTP status server. It
// keeps the listener as the only producer into the Channel.
type QueueSource struct {
	signals chan Signal
	closed  bool
	mu      sync.Mutex
}

// NewQueueSource creates a source with the given buffer size.
func NewQueueSource(buffer int) *QueueSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &QueueSource{signals: make(chan Signal, buffer)}
}

// Submit enqueues a signal without blocking.
func (q *QueueSource) Submit(s Signal) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.signals <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Next returns the next submitted signal.
func (q *QueueSource) Next(ctx context.Context) (Signal, error) {
	select {
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	case s, ok := <-q.signals:
		if !ok {
			return Signal{}, io.EOF
		}
		return s, nil
	}
}

// Close ends the source once buffered signals are consumed.
func (q *QueueSource) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.signals)
	}
}
