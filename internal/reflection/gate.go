package reflection

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/internal/session"
	"github.com/ShayCichocki/reflex/pkg/models"
)

var (
	// ErrRejected marks a validation rejection.
	ErrRejected = errors.New("activity rejected")
	// ErrUnknownActivity is returned for ids the gate never issued.
	ErrUnknownActivity = errors.New("unknown activity")
	// ErrAlreadyCompleted is returned when an outcome is recorded twice.
	ErrAlreadyCompleted = errors.New("activity already completed")
	// ErrUnknownActivityType is returned for unrecognized activity types.
	ErrUnknownActivityType = errors.New("unknown activity type")
	// ErrEmptyAgent is returned when no agent name is given.
	ErrEmptyAgent = errors.New("agent name is required")
)

// RejectionError carries the reasons an activity was rejected.
type RejectionError struct {
	ActivityID string
	Reasons    []string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("activity %s rejected: %s", e.ActivityID, strings.Join(e.Reasons, "; "))
}

// Unwrap lets errors.Is match ErrRejected.
func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Conflict records an agent touching a resource held by another agent.
type Conflict struct {
	ActivityID string    `json:"activity_id"`
	Resource   string    `json:"resource"`
	Agent      string    `json:"agent"`
	Holder     string    `json:"holder"`
	Timestamp  time.Time `json:"timestamp"`
}

// Gate runs registry rules against proposed activities, tracks resource
// locks, and verifies outputs after execution. The activity log is
// append-only for the life of the gate.
type Gate struct {
	mu         sync.Mutex
	registry   *Registry
	ruleConfig RuleConfig
	locks      *session.LockTable
	activities []*models.Activity
	index      map[string]*models.Activity
	conflicts  []Conflict
	// acquired holds ids of activities that took a free lock.
	acquired   map[string]bool

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithRegistry replaces the default rules.
func WithRegistry(r *Registry) Option {
	return func(g *Gate) { g.registry = r }
}

// WithRuleConfig tunes the default rules. Ignored when WithRegistry is set.
func WithRuleConfig(cfg RuleConfig) Option {
	return func(g *Gate) { g.ruleConfig = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gate) { g.logger = logger.With().Str("component", "gate").Logger() }
}

// NewGate creates a gate over the session's lock table. A nil table gets a
// private one.
func NewGate(locks *session.LockTable, opts ...Option) *Gate {
	g := &Gate{
		locks:    locks,
		index:    make(map[string]*models.Activity),
		acquired: make(map[string]bool),
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.locks == nil {
		g.locks = session.NewLockTable()
	}
	if g.registry == nil {
		g.registry = DefaultRegistry(g.ruleConfig)
	}
	return g
}

// Registry returns the rule registry.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// Before validates a proposed activity and records it. A rejected activity
// is returned together with a *RejectionError. Resource conflicts only add
// a warning. The first approved touch of a free resource takes its lock.
func (g *Gate) Before(agent string, typ models.ActivityType, description string, inputs, expected map[string]any) (*models.Activity, error) {
	if agent == "" {
		return nil, ErrEmptyAgent
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivityType, typ)
	}

	a := &models.Activity{
		ID:              uuid.NewString(),
		Timestamp:       g.now(),
		Agent:           agent,
		Type:            typ,
		Description:     description,
		Inputs:          cloneMap(inputs),
		ExpectedOutputs: cloneMap(expected),
		ResourceID:      ResourceID(inputs),
	}

	rules := g.registry.Rules(typ)
	outcomes := make([]Outcome, 0, len(rules)+1)
	for _, rule := range rules {
		outcomes = append(outcomes, rule.Evaluate(*a))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	status, _, _ := aggregate(outcomes)
	if status != models.StatusRejected && a.ResourceID != "" {
		if c, conflicted := g.checkResource(a, status.Proceeds()); conflicted {
			outcomes = append(outcomes, Warn(fmt.Sprintf("resource conflict: %s is held by %s", c.Resource, c.Holder)))
		}
	}
	a.Status, a.Warnings, a.Errors = aggregate(outcomes)

	g.activities = append(g.activities, a)
	g.index[a.ID] = a

	log := g.logger.With().Str("activity", a.ID).Str("agent", agent).Str("type", string(typ)).Logger()
	switch a.Status {
	case models.StatusRejected:
		log.Warn().Strs("errors", a.Errors).Msg("activity rejected")
		return a.Clone(), &RejectionError{ActivityID: a.ID, Reasons: append([]string{}, a.Errors...)}
	case models.StatusRequiresReview:
		log.Info().Strs("warnings", a.Warnings).Msg("activity requires review")
	default:
		log.Debug().Str("status", string(a.Status)).Msg("activity validated")
	}
	return a.Clone(), nil
}

// checkResource records a conflict when another agent holds the resource,
// and otherwise takes the lock if acquire is set. Caller holds g.mu.
func (g *Gate) checkResource(a *models.Activity, acquire bool) (Conflict, bool) {
	var (
		holder string
		free   bool
	)
	if acquire {
		_, heldBefore := g.locks.Holder(a.ResourceID)
		holder, free = g.locks.Acquire(a.ResourceID, a.Agent)
		if free && !heldBefore {
			g.acquired[a.ID] = true
		}
	} else {
		var held bool
		holder, held = g.locks.Holder(a.ResourceID)
		free = !held || holder == a.Agent
	}
	if free {
		return Conflict{}, false
	}

	c := Conflict{
		ActivityID: a.ID,
		Resource:   a.ResourceID,
		Agent:      a.Agent,
		Holder:     holder,
		Timestamp:  a.Timestamp,
	}
	g.conflicts = append(g.conflicts, c)
	g.logger.Warn().
		Str("resource", c.Resource).
		Str("agent", c.Agent).
		Str("holder", c.Holder).
		Msg("resource conflict")
	return c, true
}

// After records the outcome of an activity. Successful outputs are checked
// against the expected shape and mismatches become warnings. A failure
// records errMsg as an error. The status is never changed.
func (g *Gate) After(id string, actual map[string]any, success bool, errMsg string) (*models.Activity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivity, id)
	}
	if a.Completed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}

	now := g.now()
	a.ActualOutputs = cloneMap(actual)
	a.Completed = true
	a.Success = success
	a.CompletedAt = &now

	if success {
		for _, m := range VerifyShape(a.ExpectedOutputs, actual) {
			a.Warnings = append(a.Warnings, "output mismatch: "+m)
		}
	} else {
		if errMsg == "" {
			errMsg = "action failed"
		}
		a.Errors = append(a.Errors, errMsg)
		g.logger.Warn().Str("activity", id).Str("error", errMsg).Msg("activity failed")
	}
	return a.Clone(), nil
}

// Withdraw gives up the lock an activity took in Before when the activity
// will not run. It reports whether a lock was released.
func (g *Gate) Withdraw(id string) bool {
	g.mu.Lock()
	a, ok := g.index[id]
	took := ok && g.acquired[id] && !a.Completed
	delete(g.acquired, id)
	var agent, resource string
	if took {
		agent, resource = a.Agent, a.ResourceID
	}
	g.mu.Unlock()

	if !took {
		return false
	}
	return g.Release(agent, resource)
}

// Release unlocks resource if agent holds it.
func (g *Gate) Release(agent, resource string) bool {
	released := g.locks.Release(resource, agent)
	if released {
		g.logger.Debug().Str("agent", agent).Str("resource", resource).Msg("resource released")
	}
	return released
}

// Activities returns copies of every recorded activity in order.
func (g *Gate) Activities() []*models.Activity {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*models.Activity, len(g.activities))
	for i, a := range g.activities {
		out[i] = a.Clone()
	}
	return out
}

// Activity returns a copy of one activity.
func (g *Gate) Activity(id string) (*models.Activity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Conflicts returns the recorded resource conflicts in order.
func (g *Gate) Conflicts() []Conflict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Conflict{}, g.conflicts...)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
