package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/reflex/internal/cost"
	"github.com/ShayCichocki/reflex/internal/loop"
	"github.com/ShayCichocki/reflex/pkg/models"
)

func TestLoad(t *testing.T) {
	p, err := Load("testdata/release-notes.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Draft release notes for v0.4.0", p.Goal)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, "writer", p.Steps[0].Agent, "defaults to the first declared agent")
	assert.Equal(t, "ops", p.Steps[2].Agent)
	assert.Equal(t, models.ComplexitySimple, p.Steps[1].Complexity)
	assert.Equal(t, "string", p.Steps[1].ExpectedOutputs["text"])
	assert.True(t, p.Steps[3].Release)
	assert.Equal(t, []string{"writer", "ops"}, p.AgentNames())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/nope.yaml")
	assert.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		ok   bool
	}{
		{"minimal", "goal: g\nsteps:\n  - agent: a\n    type: FILE_READ\n", true},
		{"no goal", "steps: []\n", false},
		{"no agent anywhere", "goal: g\nsteps:\n  - type: FILE_READ\n", false},
		{"undeclared agent", "goal: g\nagents: [{name: a}]\nsteps:\n  - agent: b\n    type: FILE_READ\n", false},
		{"duplicate agent", "goal: g\nagents: [{name: a}, {name: a}]\n", false},
		{"unnamed agent", "goal: g\nagents: [{capabilities: [x]}]\n", false},
		{"unknown type", "goal: g\nsteps:\n  - agent: a\n    type: TELEPORT\n", false},
		{"bad complexity", "goal: g\nsteps:\n  - agent: a\n    type: LLM_CALL\n    prompt: hi\n    complexity: galactic\n", false},
		{"syntax error", "goal: [unterminated\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPlan)
			}
		})
	}
}

func TestPromptDefaultsToModerate(t *testing.T) {
	p, err := Parse([]byte("goal: g\nsteps:\n  - agent: a\n    type: LLM_CALL\n    prompt: hi\n"))
	require.NoError(t, err)
	assert.Equal(t, models.ComplexityModerate, p.Steps[0].Complexity)
}

func TestAgentNamesWithoutDeclarations(t *testing.T) {
	p, err := Parse([]byte("goal: g\nsteps:\n  - {agent: b, type: FILE_READ}\n  - {agent: a, type: FILE_READ}\n  - {agent: b, type: FILE_READ}\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, p.AgentNames())
}

func TestScriptDrivesLoop(t *testing.T) {
	p, err := Load("testdata/release-notes.yaml")
	require.NoError(t, err)

	script := NewScript(p)
	gov := cost.NewGovernor()
	l := loop.New(script, script, loop.WithGovernor(gov))

	res, err := l.Run(context.Background(), p.Goal, false)
	require.NoError(t, err)
	assert.Equal(t, loop.StopComplete, res.StopReason)
	assert.Equal(t, "Release notes drafted in docs/RELEASE.md", res.Answer)

	// The shell step is rejected and never executed.
	assert.Equal(t, 3, script.Executed())
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "ops", res.Rejections[0].Agent)

	records := gov.Ledger().Records()
	require.Len(t, records, 1)
	assert.Equal(t, "summarize", records[0].Operation)
	assert.Equal(t, int64(120), records[0].InputTokens)
	assert.Equal(t, int64(40), records[0].OutputTokens)

	acts := l.Gate().Activities()
	require.Len(t, acts, 4)
	assert.Empty(t, acts[1].Warnings, "outputs match the declared shape")
}

func TestScriptFailure(t *testing.T) {
	p, err := Parse([]byte("goal: g\nsteps:\n  - agent: a\n    type: FILE_READ\n    description: read\n    inputs: {path: x}\n    fail: permission denied\n"))
	require.NoError(t, err)

	script := NewScript(p)
	res, err := loop.New(script, script).Run(context.Background(), p.Goal, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrExecutionFailure)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, loop.StopError, res.StopReason)
}

func TestScriptDefaultAnswer(t *testing.T) {
	p, err := Parse([]byte("goal: tidy up\nsteps:\n  - {agent: a, type: FILE_READ, description: look, inputs: {path: x}}\n"))
	require.NoError(t, err)

	script := NewScript(p)
	res, err := loop.New(script, script).Run(context.Background(), p.Goal, false)
	require.NoError(t, err)
	assert.Equal(t, "Finished 1 of 1 steps for: tidy up", res.Answer)
}

func TestExecuteWithoutSelection(t *testing.T) {
	p, err := Parse([]byte("goal: g\n"))
	require.NoError(t, err)
	_, err = NewScript(p).Execute(context.Background(), loop.ToolCall{})
	assert.Error(t, err)
}
