// Package session holds the per-run context object shared by the coordinator
// components: the agent table and the resource-lock table.
package session

import (
	"github.com/google/uuid"
)

// Session is constructed once per run and passed by reference into each
// component that needs shared registries.
type Session struct {
	// ID identifies the session in logs and exported reports.
	ID string
	// Agents is the registered agent table.
	Agents *AgentRegistry
	// Locks is the resource-lock table.
	Locks *LockTable
}

// Option configures a Session.
type Option func(*Session)

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		s.ID = id
	}
}

// New creates a session with empty registries.
func New(opts ...Option) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		Agents: NewAgentRegistry(),
		Locks:  NewLockTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
