// Package interrupt carries human control signals from a listener routine to
// the execution loop, which applies them only at iteration boundaries.
package interrupt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SignalType identifies a control signal.
type SignalType string

const (
	// SignalPause halts the loop at the next boundary until Continue or Stop.
	SignalPause SignalType = "pause"
	// SignalStop terminates the loop at the next boundary.
	SignalStop SignalType = "stop"
	// SignalModifyGoal replaces the current goal.
	SignalModifyGoal SignalType = "modify_goal"
	// SignalAddContext appends context for the planner.
	SignalAddContext SignalType = "add_context"
	// SignalFeedback appends observer feedback for the planner.
	SignalFeedback SignalType = "feedback"
	// SignalContinue resumes a paused loop.
	SignalContinue SignalType = "continue"
)

// ErrUnknownSignal is returned when input does not parse as a signal.
var ErrUnknownSignal = errors.New("unknown signal")

// Signal is one queued control instruction.
type Signal struct {
	Type       SignalType `json:"type"`
	Text       string     `json:"text,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// HasText reports whether the signal type carries a text payload.
func (t SignalType) HasText() bool {
	switch t {
	case SignalModifyGoal, SignalAddContext, SignalFeedback:
		return true
	default:
		return false
	}
}

// Valid returns true if the type is a known value.
func (t SignalType) Valid() bool {
	switch t {
	case SignalPause, SignalStop, SignalModifyGoal, SignalAddContext, SignalFeedback, SignalContinue:
		return true
	default:
		return false
	}
}

// String renders the signal the way ParseSignal accepts it.
func (s Signal) String() string {
	if s.Type.HasText() {
		return fmt.Sprintf("%s %s", commandFor(s.Type), s.Text)
	}
	return string(s.Type)
}

var commands = map[string]SignalType{
	"pause":       SignalPause,
	"stop":        SignalStop,
	"quit":        SignalStop,
	"continue":    SignalContinue,
	"resume":      SignalContinue,
	"goal":        SignalModifyGoal,
	"modify_goal": SignalModifyGoal,
	"context":     SignalAddContext,
	"add_context": SignalAddContext,
	"feedback":    SignalFeedback,
}

func commandFor(t SignalType) string {
	switch t {
	case SignalModifyGoal:
		return "goal"
	case SignalAddContext:
		return "context"
	default:
		return string(t)
	}
}

// ParseSignal parses a command line ("pause", "goal write tests first") or a
// JSON object ({"type":"feedback","text":"..."}).
func ParseSignal(line string) (Signal, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Signal{}, fmt.Errorf("%w: empty input", ErrUnknownSignal)
	}

	if strings.HasPrefix(line, "{") {
		var s Signal
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return Signal{}, fmt.Errorf("%w: %v", ErrUnknownSignal, err)
		}
		s.Type = SignalType(strings.ToLower(string(s.Type)))
		if t, ok := commands[string(s.Type)]; ok {
			s.Type = t
		}
		return validate(s)
	}

	word, rest, _ := strings.Cut(line, " ")
	t, ok := commands[strings.ToLower(word)]
	if !ok {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, word)
	}
	return validate(Signal{Type: t, Text: strings.TrimSpace(rest)})
}

func validate(s Signal) (Signal, error) {
	if !s.Type.Valid() {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownSignal, s.Type)
	}
	if s.Type.HasText() && strings.TrimSpace(s.Text) == "" {
		return Signal{}, fmt.Errorf("%w: %s requires text", ErrUnknownSignal, s.Type)
	}
	if !s.Type.HasText() {
		s.Text = ""
	}
	return s, nil
}
