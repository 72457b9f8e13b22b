package interrupt

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when pushing into a closed channel.
var ErrClosed = errors.New("interrupt channel closed")

// Channel is an ordered, thread-safe signal queue. A listener produces into
// it; the execution loop drains it at iteration boundaries.
type Channel struct {
	queue  []Signal
	closed bool
	notify chan struct{}
	now    func() time.Time
	mu     sync.Mutex
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Push appends a signal. ReceivedAt is stamped if unset.
func (c *Channel) Push(s Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = c.now()
	}
	c.queue = append(c.queue, s)

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns every queued signal in arrival order.
func (c *Channel) Drain() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Requeue puts signals back at the head of the queue, ahead of anything
// pushed since they were drained, keeping their order. Signals already
// accepted are requeued even after Close.
func (c *Channel) Requeue(signals ...Signal) {
	if len(signals) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	q := make([]Signal, 0, len(signals)+len(c.queue))
	q = append(q, signals...)
	c.queue = append(q, c.queue...)

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued signals.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Wait blocks until a signal is pending, d elapses, or ctx is done.
// It returns true if a signal is pending.
func (c *Channel) Wait(ctx context.Context, d time.Duration) bool {
	if c.Len() > 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.notify:
	case <-timer.C:
	case <-ctx.Done():
	}
	return c.Len() > 0
}

// Close rejects further pushes. Queued signals remain drainable.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
