// Package plan loads scripted plans: a goal plus an ordered list of
// actions, each with the outputs a simulated tool returns for it.
package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// ErrInvalidPlan is wrapped by every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Agent is an agent declared by a plan.
type Agent struct {
	Name         string            `yaml:"name"`
	Capabilities []string          `yaml:"capabilities"`
	Metadata     map[string]string `yaml:"metadata"`
}

// Step is one scripted action.
type Step struct {
	Agent           string              `yaml:"agent"`
	Type            models.ActivityType `yaml:"type"`
	Description     string              `yaml:"description"`
	Reasoning       string              `yaml:"reasoning"`
	Prompt          string              `yaml:"prompt"`
	Complexity      models.Complexity   `yaml:"complexity"`
	Operation       string              `yaml:"operation"`
	Provider        string              `yaml:"provider"`
	Params          map[string]any      `yaml:"params"`
	Inputs          map[string]any      `yaml:"inputs"`
	ExpectedOutputs map[string]any      `yaml:"expected_outputs"`
	Outputs         map[string]any      `yaml:"outputs"`
	Fail            string              `yaml:"fail"`
	Release         bool                `yaml:"release"`
}

// Plan is a parsed plan file.
type Plan struct {
	Goal   string  `yaml:"goal"`
	Answer string  `yaml:"answer"`
	Agents []Agent `yaml:"agents"`
	Steps  []Step  `yaml:"steps"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a plan.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the plan. Steps without an agent are assigned the first
// declared agent.
func (p *Plan) Validate() error {
	if p.Goal == "" {
		return fmt.Errorf("%w: goal is required", ErrInvalidPlan)
	}

	declared := make(map[string]bool, len(p.Agents))
	for i, a := range p.Agents {
		if a.Name == "" {
			return fmt.Errorf("%w: agent %d has no name", ErrInvalidPlan, i)
		}
		if declared[a.Name] {
			return fmt.Errorf("%w: agent %q declared twice", ErrInvalidPlan, a.Name)
		}
		declared[a.Name] = true
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Agent == "" {
			if len(p.Agents) == 0 {
				return fmt.Errorf("%w: step %d has no agent", ErrInvalidPlan, i+1)
			}
			s.Agent = p.Agents[0].Name
		}
		if len(p.Agents) > 0 && !declared[s.Agent] {
			return fmt.Errorf("%w: step %d uses undeclared agent %q", ErrInvalidPlan, i+1, s.Agent)
		}
		if !s.Type.Valid() {
			return fmt.Errorf("%w: step %d has unknown type %q", ErrInvalidPlan, i+1, s.Type)
		}
		if s.Prompt != "" {
			if s.Complexity == "" {
				s.Complexity = models.ComplexityModerate
			}
			if !s.Complexity.Valid() {
				return fmt.Errorf("%w: step %d has unknown complexity %q", ErrInvalidPlan, i+1, s.Complexity)
			}
		}
	}
	return nil
}

// AgentNames returns the declared agents, or the distinct step agents in
// order of first use when none are declared.
func (p *Plan) AgentNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range p.Agents {
		names = append(names, a.Name)
		seen[a.Name] = true
	}
	for _, s := range p.Steps {
		if !seen[s.Agent] {
			names = append(names, s.Agent)
			seen[s.Agent] = true
		}
	}
	return names
}
