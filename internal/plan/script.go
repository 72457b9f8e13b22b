package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/reflex/internal/loop"
)

// Script plays a plan back. It is both the planner, selecting the steps in
// order, and the executor, returning each step's scripted outputs.
type Script struct {
	plan *Plan

	mu       sync.Mutex
	next     int
	current  int
	executed int
}

var (
	_ loop.Planner  = (*Script)(nil)
	_ loop.Executor = (*Script)(nil)
)

// NewScript creates a script over p.
func NewScript(p *Plan) *Script {
	return &Script{plan: p, current: -1}
}

// Think completes once every step has been selected.
func (s *Script) Think(ctx context.Context, v loop.View) (loop.Thought, error) {
	if err := ctx.Err(); err != nil {
		return loop.Thought{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.plan.Steps) {
		answer := s.plan.Answer
		if answer == "" {
			answer = fmt.Sprintf("Finished %d of %d steps for: %s", s.executed, len(s.plan.Steps), v.Goal)
		}
		return loop.Thought{Done: true, Answer: answer}, nil
	}

	step := s.plan.Steps[s.next]
	reasoning := step.Reasoning
	if reasoning == "" {
		reasoning = fmt.Sprintf("Step %d/%d: %s", s.next+1, len(s.plan.Steps), step.Description)
	}
	return loop.Thought{Reasoning: reasoning}, nil
}

// SelectTool returns the next step as a tool call.
func (s *Script) SelectTool(_ context.Context, _ loop.View, _ loop.Thought) (loop.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.plan.Steps) {
		return loop.ToolCall{}, errors.New("plan exhausted")
	}
	step := s.plan.Steps[s.next]
	s.current = s.next
	s.next++

	return loop.ToolCall{
		Agent:           step.Agent,
		Type:            step.Type,
		Description:     step.Description,
		Inputs:          step.Inputs,
		ExpectedOutputs: step.ExpectedOutputs,
		Prompt:          step.Prompt,
		Complexity:      step.Complexity,
		Operation:       step.Operation,
		Provider:        step.Provider,
		Params:          step.Params,
		Release:         step.Release,
	}, nil
}

// Execute returns the outputs of the most recently selected step, or its
// scripted failure.
func (s *Script) Execute(ctx context.Context, call loop.ToolCall) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 {
		return nil, errors.New("no step selected")
	}
	step := s.plan.Steps[s.current]
	s.executed++
	if step.Fail != "" {
		return nil, errors.New(step.Fail)
	}

	out := make(map[string]any, len(step.Outputs))
	for k, v := range step.Outputs {
		out[k] = v
	}
	return out, nil
}

// Executed returns how many steps reached the executor.
func (s *Script) Executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}
