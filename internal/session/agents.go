package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// ErrEmptyAgentName is returned when registering an agent without a name.
var ErrEmptyAgentName = errors.New("agent name is required")

// AgentRegistry manages registered agents.
// It provides thread-safe storage and retrieval of agent information.
type AgentRegistry struct {
	agents map[string]*models.Agent
	now    func() time.Time
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new AgentRegistry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*models.Agent),
		now:    time.Now,
	}
}

// Register adds an agent or replaces the capabilities and metadata of an
// existing one. The original registration time is kept on re-registration.
func (r *AgentRegistry) Register(name string, capabilities []string, metadata map[string]string) (*models.Agent, error) {
	if name == "" {
		return nil, ErrEmptyAgentName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registeredAt := r.now()
	if existing, ok := r.agents[name]; ok {
		registeredAt = existing.RegisteredAt
	}

	a := &models.Agent{
		Name:         name,
		Capabilities: append([]string{}, capabilities...),
		Metadata:     copyMetadata(metadata),
		RegisteredAt: registeredAt,
	}
	r.agents[name] = a

	cp := *a
	return &cp, nil
}

// Get retrieves an agent by name.
// Returns nil if the agent is not registered.
func (r *AgentRegistry) Get(name string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// All returns copies of all registered agents sorted by name.
func (r *AgentRegistry) All() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		agents = append(agents, &cp)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
