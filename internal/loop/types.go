// Package loop runs the reflective execution cycle: analyze, think, select
// a tool, admit and validate it, execute, observe. Interrupts are applied
// only between iterations.
package loop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/reflex/internal/memory"
	"github.com/ShayCichocki/reflex/pkg/models"
)

// State is the loop's position in the cycle.
type State string

const (
	StateIdle          State = "idle"
	StateAnalyzing     State = "analyzing"
	StateThinking      State = "thinking"
	StateSelectingTool State = "selecting_tool"
	StateExecuting     State = "executing"
	StateObserving     State = "observing"
	StateCompleted     State = "completed"
	StateError         State = "error"
	// StatePaused and StateStopped are modifiers applied between iterations.
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Mode controls when a human is consulted.
type Mode string

const (
	// ModeAutonomous never asks: errors abort and reviews are skipped.
	ModeAutonomous Mode = "autonomous"
	// ModeSupervised asks after errors and before reviewed actions.
	ModeSupervised Mode = "supervised"
	// ModeCollaborative also asks before actions that carry warnings.
	ModeCollaborative Mode = "collaborative"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAutonomous, ModeSupervised, ModeCollaborative:
		return m, nil
	case "":
		return ModeAutonomous, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// StopReason says why Run returned.
type StopReason string

const (
	StopComplete      StopReason = "complete"
	StopStopped       StopReason = "stopped"
	StopMaxIterations StopReason = "max_iterations"
	StopError         StopReason = "error"
	StopDeclined      StopReason = "declined"
	StopCancelled     StopReason = "cancelled"
)

var (
	// ErrExecutionFailure wraps an error returned by the Executor.
	ErrExecutionFailure = errors.New("execution failure")
	// ErrAlreadyRunning is returned when Run is called concurrently.
	ErrAlreadyRunning = errors.New("loop already running")
)

// View is what the planner sees at the start of an iteration.
type View struct {
	Request   string
	Goal      string
	Iteration int
	Step      int
	Entries   []memory.Entry
}

// Thought is the planner's reasoning for one iteration.
type Thought struct {
	Reasoning string
	// Done reports that the goal is met; Answer is the final result.
	Done   bool
	Answer string
}

// ToolCall is one proposed action. Prompt and Complexity are set for calls
// that spend provider tokens; calls without a prompt skip cost admission.
type ToolCall struct {
	Agent           string
	Type            models.ActivityType
	Description     string
	Inputs          map[string]any
	ExpectedOutputs map[string]any

	Prompt     string
	Complexity models.Complexity
	Operation  string
	Provider   string
	Model      string
	Params     map[string]any

	// Release drops the resource lock once the action has been observed.
	Release bool
}

// Planner decides what to do next.
type Planner interface {
	Think(ctx context.Context, view View) (Thought, error)
	SelectTool(ctx context.Context, view View, thought Thought) (ToolCall, error)
}

// Executor performs an approved action. It is the only place side effects
// happen.
type Executor interface {
	Execute(ctx context.Context, call ToolCall) (map[string]any, error)
}

// Human answers yes/no questions.
type Human interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Rejection is an action that was never executed.
type Rejection struct {
	ActivityID string              `json:"activity_id"`
	Agent      string              `json:"agent"`
	Type       models.ActivityType `json:"type"`
	Reasons    []string            `json:"reasons"`
}

// Result summarizes a run.
type Result struct {
	State      State       `json:"state"`
	StopReason StopReason  `json:"stop_reason"`
	Iterations int         `json:"iterations"`
	Steps      int         `json:"steps"`
	Answer     string      `json:"answer,omitempty"`
	Goal       string      `json:"goal"`
	Rejections []Rejection `json:"rejections"`
	Err        error       `json:"-"`
}
