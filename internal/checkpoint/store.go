// Package checkpoint keeps a bounded ring of loop progress snapshots.
//
// Rollback is a soft reset: it restores the iteration counter and state tag
// of a snapshot and nothing else. Memory, locks and the ledger are not
// rewound.
package checkpoint

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for a new Store.
const (
	DefaultCapacity = 5
	DefaultInterval = 5
)

// ErrNoCheckpoint is returned when a rollback index does not exist.
var ErrNoCheckpoint = errors.New("checkpoint not found")

// Checkpoint is one snapshot of loop progress.
type Checkpoint struct {
	Iteration      int       `json:"iteration"`
	State          string    `json:"state"`
	ContextSummary string    `json:"context_summary"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store is a fixed-capacity ring buffer; the oldest snapshot is evicted first.
type Store struct {
	ring     []Checkpoint
	start    int
	count    int
	interval int
	logger   zerolog.Logger
	now      func() time.Time
	mu       sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum number of retained snapshots.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.ring = make([]Checkpoint, n)
		}
	}
}

// WithInterval sets how many iterations pass between snapshots.
func WithInterval(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.interval = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l.With().Str("component", "checkpoint").Logger()
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ring:     make([]Checkpoint, DefaultCapacity),
		interval: DefaultInterval,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the ring size.
func (s *Store) Capacity() int {
	return len(s.ring)
}

// Interval returns the snapshot interval in iterations.
func (s *Store) Interval() int {
	return s.interval
}

// MaybeSnapshot records a checkpoint when iteration is a positive multiple
// of the interval.
func (s *Store) MaybeSnapshot(iteration int, state, summary string) (Checkpoint, bool) {
	if iteration <= 0 || iteration%s.interval != 0 {
		return Checkpoint{}, false
	}
	return s.Push(iteration, state, summary), true
}

// Push records a checkpoint unconditionally, evicting the oldest when full.
func (s *Store) Push(iteration int, state, summary string) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := Checkpoint{
		Iteration:      iteration,
		State:          state,
		ContextSummary: summary,
		Timestamp:      s.now(),
	}

	if s.count < len(s.ring) {
		s.ring[(s.start+s.count)%len(s.ring)] = cp
		s.count++
	} else {
		s.ring[s.start] = cp
		s.start = (s.start + 1) % len(s.ring)
	}

	s.logger.Debug().Int("iteration", iteration).Str("state", state).Msg("checkpoint saved")
	return cp
}

// List returns the retained checkpoints, oldest first.
func (s *Store) List() []Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Checkpoint, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.ring[(s.start+i)%len(s.ring)]
	}
	return out
}

// Len returns the number of retained checkpoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Latest returns the newest checkpoint.
func (s *Store) Latest() (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return Checkpoint{}, false
	}
	return s.ring[(s.start+s.count-1)%len(s.ring)], true
}

// Rollback returns the checkpoint at index (0 is the oldest retained). The
// caller resets its iteration counter and state tag from it.
func (s *Store) Rollback(index int) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= s.count {
		return Checkpoint{}, fmt.Errorf("%w: index %d of %d", ErrNoCheckpoint, index, s.count)
	}
	cp := s.ring[(s.start+index)%len(s.ring)]
	s.logger.Info().Int("iteration", cp.Iteration).Str("state", cp.State).Msg("soft rollback")
	return cp, nil
}
