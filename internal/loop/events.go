package loop

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType classifies loop events.
type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventSignalApplied  EventType = "signal_applied"
	EventRejected       EventType = "activity_rejected"
	EventExecuted       EventType = "activity_executed"
	EventBudgetExceeded EventType = "budget_exceeded"
	EventCompacted      EventType = "memory_compacted"
	EventCheckpoint     EventType = "checkpoint"
	EventRollback       EventType = "rollback"
	EventFinished       EventType = "finished"
)

// Event is emitted as the loop progresses.
type Event struct {
	Type       EventType
	State      State
	Iteration  int
	ActivityID string
	Message    string
	Timestamp  time.Time
}

// emitter delivers events without ever blocking the loop. Events that do
// not fit in the buffer are dropped and counted.
type emitter struct {
	mu      sync.RWMutex
	events  chan Event
	dropped atomic.Uint64
	closed  bool
}

func newEmitter(buffer int) *emitter {
	return &emitter{events: make(chan Event, buffer)}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
