package models

import "time"

// Agent is a registered actor that proposes activities.
type Agent struct {
	// Name uniquely identifies the agent within a session.
	Name string `json:"name"`
	// Capabilities lists what the agent is able to do (e.g. "file", "sql").
	Capabilities []string `json:"capabilities"`
	// Metadata holds free-form descriptive attributes.
	Metadata map[string]string `json:"metadata,omitempty"`
	// RegisteredAt is when the agent was first registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability returns true if the agent declares the given capability.
func (a *Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
