package reflection

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/reflex/internal/session"
	"github.com/ShayCichocki/reflex/pkg/models"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func newClock() *stepClock {
	return &stepClock{t: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), step: time.Second}
}

func TestBeforeNoRulesApproves(t *testing.T) {
	g := NewGate(nil, WithRegistry(NewRegistry()))

	for _, typ := range models.AllActivityTypes {
		a, err := g.Before("agent", typ, "", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, a.Status, "type %s", typ)
		assert.Empty(t, a.Warnings)
		assert.Empty(t, a.Errors)
	}
}

func TestBeforeRejectsOnAnyError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(models.ActivityFileWrite,
		RuleFunc(func(models.Activity) Outcome { return Warn("careful") }),
		RuleFunc(func(models.Activity) Outcome { return Reject("nope") }),
		RuleFunc(func(models.Activity) Outcome { return Review("look") }),
	)
	locks := session.NewLockTable()
	g := NewGate(locks, WithRegistry(reg))

	a, err := g.Before("agent", models.ActivityFileWrite, "write", map[string]any{"path": "out.txt"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, []string{"nope"}, rej.Reasons)
	assert.Equal(t, a.ID, rej.ActivityID)

	assert.Equal(t, models.StatusRejected, a.Status)
	assert.Equal(t, []string{"careful", "look"}, a.Warnings)

	// No lock is taken for a rejected action.
	_, held := locks.Holder("file:out.txt")
	assert.False(t, held)
}

func TestAggregationPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Outcome
		want     models.ValidationStatus
	}{
		{"none", nil, models.StatusApproved},
		{"pass only", []Outcome{Pass, Pass}, models.StatusApproved},
		{"warning", []Outcome{Pass, Warn("w")}, models.StatusWarning},
		{"review beats warning", []Outcome{Warn("w"), Review("r")}, models.StatusRequiresReview},
		{"error beats all", []Outcome{Review("r"), Reject("e"), Warn("w")}, models.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, _ := aggregate(tt.outcomes)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestBeforeUnknownTypeAndAgent(t *testing.T) {
	g := NewGate(nil)

	_, err := g.Before("agent", models.ActivityType("TELEPORT"), "x", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownActivityType)

	_, err = g.Before("", models.ActivityFileRead, "x", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyAgent)
	assert.Empty(t, g.Activities())
}

func TestResourceContention(t *testing.T) {
	g := NewGate(session.NewLockTable(), WithRegistry(NewRegistry()))
	inputs := map[string]any{"path": "./data/report.csv"}

	a, err := g.Before("A", models.ActivityFileWrite, "write report", inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, a.Status)
	assert.Equal(t, "file:data/report.csv", a.ResourceID)

	b, err := g.Before("B", models.ActivityFileWrite, "write report", inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWarning, b.Status)
	require.Len(t, b.Warnings, 1)
	assert.Contains(t, b.Warnings[0], "resource conflict")
	assert.Contains(t, b.Warnings[0], "held by A")

	conflicts := g.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "B", conflicts[0].Agent)
	assert.Equal(t, "A", conflicts[0].Holder)

	assert.False(t, g.Release("B", a.ResourceID), "only the holder releases")
	assert.True(t, g.Release("A", a.ResourceID))

	b2, err := g.Before("B", models.ActivityFileWrite, "write report", inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, b2.Status)
	assert.Empty(t, b2.Warnings)
	assert.Len(t, g.Conflicts(), 1)

	// The holder touching its own resource again is not a conflict.
	b3, err := g.Before("B", models.ActivityFileRead, "read back", inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, b3.Status)
}

func TestWithdrawReleasesOnlyFreshLocks(t *testing.T) {
	locks := session.NewLockTable()
	g := NewGate(locks, WithRegistry(NewRegistry()))
	inputs := map[string]any{"path": "notes.txt"}

	first, err := g.Before("A", models.ActivityFileWrite, "write", inputs, nil)
	require.NoError(t, err)
	again, err := g.Before("A", models.ActivityFileWrite, "write again", inputs, nil)
	require.NoError(t, err)

	assert.False(t, g.Withdraw(again.ID), "the lock predates this activity")
	assert.Equal(t, map[string]string{"file:notes.txt": "A"}, locks.Held())

	assert.True(t, g.Withdraw(first.ID))
	assert.Empty(t, locks.Held())
	assert.False(t, g.Withdraw(first.ID), "withdraw is one-shot")
	assert.False(t, g.Withdraw("missing"))

	done, err := g.Before("A", models.ActivityFileWrite, "write", inputs, nil)
	require.NoError(t, err)
	_, err = g.After(done.ID, nil, true, "")
	require.NoError(t, err)
	assert.False(t, g.Withdraw(done.ID), "completed activities keep their lock")
}

func TestDuplicateWriteDetection(t *testing.T) {
	clock := newClock()
	g := NewGate(nil, WithClock(clock.Now))
	inputs := map[string]any{"path": "notes/todo.md", "content": "x"}

	for i := 1; i <= 5; i++ {
		a, err := g.Before("writer", models.ActivityFileWrite, "update todo", inputs, nil)
		require.NoError(t, err)
		assert.True(t, a.Status.Proceeds(), "write %d must proceed", i)

		hasLoop := false
		for _, w := range a.Warnings {
			if strings.HasPrefix(w, DuplicateWarningPrefix) {
				hasLoop = true
			}
		}
		assert.Equal(t, i >= 4, hasLoop, "write %d", i)
		if i >= 4 {
			assert.Equal(t, models.StatusWarning, a.Status)
		} else {
			assert.Equal(t, models.StatusApproved, a.Status)
		}
	}

	// Another agent writing the same path is tracked separately.
	other, err := g.Before("other", models.ActivityFileWrite, "update todo", inputs, nil)
	require.NoError(t, err)
	for _, w := range other.Warnings {
		assert.False(t, strings.HasPrefix(w, DuplicateWarningPrefix))
	}
}

func TestDuplicateWriteWindowExpires(t *testing.T) {
	rule := NewDuplicateWriteRule(time.Minute, 3)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	write := func(at time.Time) Outcome {
		return rule.Evaluate(models.Activity{
			Agent: "a", Type: models.ActivityFileWrite, Timestamp: at,
			Inputs: map[string]any{"path": "f.txt"},
		})
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, Pass, write(base.Add(time.Duration(i)*time.Second)))
	}
	assert.NotEqual(t, Pass, write(base.Add(3*time.Second)))
	// Two minutes later the earlier writes are outside the window.
	assert.Equal(t, Pass, write(base.Add(2*time.Minute)))
}

func TestAfterVerifiesShape(t *testing.T) {
	g := NewGate(nil, WithRegistry(NewRegistry()))
	expected := map[string]any{"rows": "number", "names": []any{}, "summary": "some text", "meta": "any"}

	a, err := g.Before("agent", models.ActivityDBQuery, "count", map[string]any{"query": "select 1"}, expected)
	require.NoError(t, err)

	done, err := g.After(a.ID, map[string]any{"rows": 3, "names": "alice", "meta": nil, "extra": true}, true, "")
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.True(t, done.Success)
	assert.NotNil(t, done.CompletedAt)
	// Status is never upgraded or downgraded after the fact.
	assert.Equal(t, models.StatusApproved, done.Status)
	assert.Equal(t, []string{
		`output mismatch: output "names": expected list, got string`,
		`output mismatch: missing output "summary"`,
	}, done.Warnings)

	_, err = g.After(a.ID, nil, true, "")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = g.After("missing", nil, true, "")
	assert.ErrorIs(t, err, ErrUnknownActivity)
}

func TestAfterRecordsFailure(t *testing.T) {
	g := NewGate(nil, WithRegistry(NewRegistry()))
	a, err := g.Before("agent", models.ActivityAPICall, "call", map[string]any{"url": "https://example.com"}, map[string]any{"status": 200})
	require.NoError(t, err)

	done, err := g.After(a.ID, nil, false, "connection refused")
	require.NoError(t, err)
	assert.False(t, done.Success)
	assert.Equal(t, []string{"connection refused"}, done.Errors)
	assert.Empty(t, done.Warnings, "failed actions skip the shape check")

	stored, ok := g.Activity(a.ID)
	require.True(t, ok)
	assert.Equal(t, done, stored)
}

func TestActivitiesAreCopies(t *testing.T) {
	g := NewGate(nil, WithRegistry(NewRegistry()))
	a, err := g.Before("agent", models.ActivityCustom, "x", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	a.Inputs["k"] = "changed"
	a.Warnings = append(a.Warnings, "injected")

	stored, ok := g.Activity(a.ID)
	require.True(t, ok)
	assert.Equal(t, "v", stored.Inputs["k"])
	assert.Empty(t, stored.Warnings)
}

func TestReportAndExport(t *testing.T) {
	clock := newClock()
	g := NewGate(session.NewLockTable(), WithClock(clock.Now))

	ok1, err := g.Before("A", models.ActivityFileWrite, "write", map[string]any{"path": "a.txt"}, nil)
	require.NoError(t, err)
	_, err = g.After(ok1.ID, nil, true, "")
	require.NoError(t, err)

	_, err = g.Before("B", models.ActivityFileWrite, "write", map[string]any{"path": "a.txt"}, nil)
	require.NoError(t, err)

	_, err = g.Before("A", models.ActivityShellCommand, "wipe", map[string]any{"command": "rm -rf /"}, nil)
	require.ErrorIs(t, err, ErrRejected)

	rev, err := g.Before("A", models.ActivityDBQuery, "drop", map[string]any{"query": "DROP TABLE users"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequiresReview, rev.Status)

	r := g.Report()
	assert.Equal(t, Totals{Activities: 4, Approved: 1, Warning: 1, Rejected: 1, RequiresReview: 1, Completed: 1, Succeeded: 1}, r.Totals)
	assert.InDelta(t, 0.5, r.ApprovalRate, 1e-9)
	require.Len(t, r.ResourceConflicts, 1)
	assert.Equal(t, "file:a.txt", r.ResourceConflicts[0].Resource)

	joined := strings.Join(r.Recommendations, "\n")
	assert.Contains(t, joined, "High rejection rate")
	assert.Contains(t, joined, "file:a.txt had 1 conflict")
	assert.Contains(t, joined, "1 activity awaiting human review")

	var buf bytes.Buffer
	require.NoError(t, g.WriteLog(&buf))
	var log Log
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))
	assert.Len(t, log.Activities, 4)
	assert.Equal(t, r.Totals, log.Report.Totals)

	path := filepath.Join(t.TempDir(), "logs", "reflection.json")
	require.NoError(t, g.SaveLog(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	buf.Reset()
	require.NoError(t, r.WriteSummary(&buf))
	assert.Contains(t, buf.String(), "50%")
}

func TestEmptyReport(t *testing.T) {
	g := NewGate(nil)
	r := g.Report()
	assert.Zero(t, r.Totals.Activities)
	assert.NotNil(t, r.Recommendations)
	assert.NotNil(t, r.ResourceConflicts)
}
