package cost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/reflex/pkg/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// Wednesday.
var baseTime = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

// dollarPricing makes one input token cost one dollar.
var dollarPricing = map[string]ModelPricing{
	"acme/unit": {InputPerMillion: 1_000_000},
}

func TestEstimateInputTokens(t *testing.T) {
	tests := []struct {
		prompt string
		want   int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{string(make([]byte, 400)), 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateInputTokens(tt.prompt), "len=%d", len(tt.prompt))
	}
}

func TestEstimatePicksCheapest(t *testing.T) {
	g := NewGovernor()

	rec, err := g.Estimate("summarize this file", models.ComplexitySimple)
	require.NoError(t, err)

	assert.Equal(t, "google", rec.Provider)
	assert.Equal(t, "gemini-1.5-flash", rec.Model)
	assert.Equal(t, int64(250), rec.OutputTokens)
	require.Len(t, rec.Alternatives, 3)
	for i := 1; i < len(rec.Alternatives); i++ {
		assert.LessOrEqual(t, rec.Alternatives[i-1].Cost, rec.Alternatives[i].Cost)
	}
	assert.InDelta(t, rec.Alternatives[0].Cost, rec.EstimatedCost, 1e-12)
	assert.False(t, rec.Cached)
}

func TestEstimatePreferredProvider(t *testing.T) {
	g := NewGovernor()

	rec, err := g.Estimate("design a system", models.ComplexityComplex, WithPreferredProvider("anthropic"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", rec.Provider)
	// claude-sonnet-4 outranks claude-opus-4-5 for complex work.
	assert.Equal(t, "claude-sonnet-4", rec.Model)
	assert.False(t, rec.PreferredUnavailable)

	rec, err = g.Estimate("design a system", models.ComplexityExpert, WithPreferredProvider("google"))
	require.NoError(t, err)
	assert.True(t, rec.PreferredUnavailable)
	assert.Equal(t, rec.Alternatives[0].Provider, rec.Provider)
}

func TestEstimateUnknownComplexity(t *testing.T) {
	g := NewGovernor()
	_, err := g.Estimate("x", models.Complexity("galactic"))
	assert.Error(t, err)
}

func TestCacheRoundTripThroughGovernor(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	g := NewGovernor(WithClock(clock.Now))
	prompt := "list the files"
	params := map[string]any{"temperature": 0.2}

	first, err := g.Estimate(prompt, models.ComplexitySimple, WithParams(params))
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Nil(t, first.Payload)
	require.Greater(t, first.EstimatedCost, 0.0)

	g.Record(CallInput{Provider: first.Provider, Model: first.Model, Operation: "chat",
		InputTokens: first.InputTokens, OutputTokens: first.OutputTokens})
	require.NoError(t, g.StoreResponse(prompt, first.Provider, first.Model, params, []byte("ok")))

	clock.Advance(time.Hour)
	second, err := g.Estimate(prompt, models.ComplexitySimple, WithParams(params))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Zero(t, second.EstimatedCost)
	assert.Equal(t, []byte("ok"), second.Payload, "the hit carries its payload")

	g.Record(CallInput{Provider: second.Provider, Model: second.Model, Operation: "chat",
		InputTokens: second.InputTokens, OutputTokens: second.OutputTokens, Cached: true})
	records := g.Ledger().Records()
	require.Len(t, records, 2)
	assert.Zero(t, records[1].Cost)
	assert.True(t, records[1].Cached)

	// Different params miss.
	other, err := g.Estimate(prompt, models.ComplexitySimple, WithParams(map[string]any{"temperature": 0.9}))
	require.NoError(t, err)
	assert.False(t, other.Cached)

	clock.Advance(DefaultCacheTTL)
	third, err := g.Estimate(prompt, models.ComplexitySimple, WithParams(params))
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Greater(t, third.EstimatedCost, 0.0)

	status := g.Record(CallInput{Provider: third.Provider, Model: third.Model, Operation: "chat",
		InputTokens: third.InputTokens, OutputTokens: third.OutputTokens})
	assert.Greater(t, g.Ledger().Records()[2].Cost, 0.0)
	assert.False(t, status.Exceeded())
}

func TestKeyStable(t *testing.T) {
	a := Key("p", "openai", "gpt-4o", map[string]any{"a": 1, "b": "x"})
	b := Key("p", "openai", "gpt-4o", map[string]any{"b": "x", "a": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key("p", "openai", "gpt-4o-mini", map[string]any{"a": 1, "b": "x"}))
	assert.NotEqual(t, a, Key("p2", "openai", "gpt-4o", map[string]any{"a": 1, "b": "x"}))
	assert.Len(t, a, 64)
}

func TestLedgerWindows(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	g := NewGovernor(WithClock(clock.Now), WithPricing(dollarPricing), WithDailyLimit(0), WithWeeklyLimit(0))

	// Monday, Tuesday, Wednesday morning, Wednesday noon.
	stamps := []time.Time{
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC),
		time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		baseTime,
		// Previous Sunday, outside the week.
		time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC),
		// Next day, outside today.
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	costs := []int64{1, 2, 4, 8, 16, 32}
	for i, ts := range stamps {
		clock.t = ts
		g.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: costs[i]})
	}
	clock.t = baseTime

	assert.InDelta(t, 12.0, g.DailySpend(), 1e-9)
	assert.InDelta(t, 47.0, g.WeeklySpend(), 1e-9)

	from, to := DayWindow(baseTime)
	var want float64
	for _, r := range g.Ledger().Records() {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			want += r.Cost
		}
	}
	assert.InDelta(t, want, g.DailySpend(), 1e-9)
	assert.Len(t, g.Ledger().Between(from, to), 2)
}

func TestWeekWindowSunday(t *testing.T) {
	sunday := time.Date(2026, 3, 8, 15, 0, 0, 0, time.UTC)
	from, to := WeekWindow(sunday)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), to)
}

func TestBudgetExceeded(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	g := NewGovernor(WithClock(clock.Now), WithPricing(dollarPricing), WithDailyLimit(5), WithWeeklyLimit(100))

	status := g.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 3})
	assert.False(t, status.Exceeded())
	assert.Equal(t, LevelOK, status.Level)

	status = g.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 1})
	assert.False(t, status.Exceeded())
	assert.Equal(t, LevelWarning, status.Level)

	status = g.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 2})
	assert.True(t, status.DailyExceeded)
	assert.False(t, status.WeeklyExceeded)
	assert.Equal(t, LevelExhausted, status.Level)

	// Every later record keeps reporting it, even free ones.
	status = g.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 1, Cached: true})
	assert.True(t, status.Exceeded())

	// Next day resets the daily window but not the weekly one.
	clock.Advance(24 * time.Hour)
	status = g.Status()
	assert.False(t, status.DailyExceeded)
	assert.InDelta(t, 6.0, status.WeeklySpend, 1e-9)
}

func TestAdmitAdvisoryAndEnforced(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	candidates := map[models.Complexity][]Candidate{models.ComplexitySimple: {{"acme", "unit"}}}
	req := AdmitRequest{Prompt: "hello", Complexity: models.ComplexitySimple}

	advisory := NewGovernor(WithClock(clock.Now), WithPricing(dollarPricing), WithCandidates(candidates), WithDailyLimit(1))
	advisory.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 2})
	adm, err := advisory.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, adm.Budget.Exceeded())

	enforced := NewGovernor(WithClock(clock.Now), WithPricing(dollarPricing), WithCandidates(candidates),
		WithDailyLimit(1), WithEnforcement(true))
	adm, err = enforced.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "unit", adm.Recommendation.Model)

	enforced.Record(CallInput{Provider: "acme", Model: "unit", InputTokens: 2})
	_, err = enforced.Admit(context.Background(), req)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	// Cached responses are free and still admitted.
	require.NoError(t, enforced.StoreResponse("hello", "acme", "unit", nil, []byte("hi")))
	adm, err = enforced.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, adm.Recommendation.Cached)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = advisory.Admit(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSink struct {
	records []models.CallRecord
	err     error
}

func (s *fakeSink) AppendCallRecord(r models.CallRecord) error {
	s.records = append(s.records, r)
	return s.err
}

func TestRecordMirrorsToSink(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	g := NewGovernor(WithLedgerSink(sink))

	g.Record(CallInput{Provider: "openai", Model: "gpt-4o", Operation: "chat", InputTokens: 1000, OutputTokens: 500})

	require.Len(t, sink.records, 1)
	assert.Equal(t, g.Ledger().Records(), sink.records)
	assert.InDelta(t, 0.0025+0.005, sink.records[0].Cost, 1e-12)
}

func TestUnknownModelUsesFallbackPricing(t *testing.T) {
	g := NewGovernor()
	assert.Equal(t, FallbackPricing, g.PriceOf("mystery", "model"))
}

func TestReport(t *testing.T) {
	records := []models.CallRecord{
		{Timestamp: baseTime, Provider: "openai", Model: "gpt-4o", Operation: "chat", InputTokens: 10, OutputTokens: 5, Cost: 0.5},
		{Timestamp: baseTime, Provider: "openai", Model: "gpt-4o", Operation: "chat", Cost: 0, Cached: true},
		{Timestamp: baseTime.Add(-72 * time.Hour), Provider: "anthropic", Model: "claude-sonnet-4", Operation: "plan", Cost: 2},
	}

	r := BuildReport(records, baseTime, 10, 50)
	assert.Equal(t, 3, r.Calls)
	assert.Equal(t, 1, r.CachedCalls)
	assert.InDelta(t, 2.5, r.TotalCost, 1e-9)
	assert.InDelta(t, 0.5, r.DailySpend, 1e-9)
	// Three days before Wednesday is Sunday of the previous week.
	assert.InDelta(t, 0.5, r.WeeklySpend, 1e-9)
	require.Len(t, r.ByProvider, 2)
	assert.Equal(t, "anthropic", r.ByProvider[0].Name)
	assert.Equal(t, 2, r.ByProvider[1].Calls)
	require.Len(t, r.ByOperation, 2)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "anthropic")
	assert.Contains(t, out, "plan")
	assert.Contains(t, out, "$2.5000")

	buf.Reset()
	require.NoError(t, ExportLedger(&buf, records))
	var back []models.CallRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Len(t, back, 3)

	buf.Reset()
	require.NoError(t, ExportLedger(&buf, nil))
	assert.JSONEq(t, "[]", buf.String())
}
