package cost

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// Breakdown aggregates spend for one provider or operation.
type Breakdown struct {
	Name         string  `json:"name"`
	Calls        int     `json:"calls"`
	CachedCalls  int     `json:"cached_calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Report is a spend summary.
type Report struct {
	GeneratedAt  time.Time   `json:"generated_at"`
	TotalCost    float64     `json:"total_cost"`
	Calls        int         `json:"calls"`
	CachedCalls  int         `json:"cached_calls"`
	CacheHitRate float64     `json:"cache_hit_rate"`
	InputTokens  int64       `json:"input_tokens"`
	OutputTokens int64       `json:"output_tokens"`
	DailySpend   float64     `json:"daily_spend"`
	WeeklySpend  float64     `json:"weekly_spend"`
	DailyLimit   float64     `json:"daily_limit"`
	WeeklyLimit  float64     `json:"weekly_limit"`
	ByProvider   []Breakdown `json:"by_provider"`
	ByOperation  []Breakdown `json:"by_operation"`
}

// BuildReport summarizes records as of now. It works on any record slice,
// including records loaded from the database.
func BuildReport(records []models.CallRecord, now time.Time, dailyLimit, weeklyLimit float64) Report {
	r := Report{
		GeneratedAt: now,
		DailyLimit:  dailyLimit,
		WeeklyLimit: weeklyLimit,
	}

	byProvider := make(map[string]*Breakdown)
	byOperation := make(map[string]*Breakdown)
	add := func(m map[string]*Breakdown, name string, rec models.CallRecord) {
		b, ok := m[name]
		if !ok {
			b = &Breakdown{Name: name}
			m[name] = b
		}
		b.Calls++
		if rec.Cached {
			b.CachedCalls++
		}
		b.InputTokens += rec.InputTokens
		b.OutputTokens += rec.OutputTokens
		b.Cost += rec.Cost
	}

	for _, rec := range records {
		r.Calls++
		if rec.Cached {
			r.CachedCalls++
		}
		r.TotalCost += rec.Cost
		r.InputTokens += rec.InputTokens
		r.OutputTokens += rec.OutputTokens
		add(byProvider, rec.Provider, rec)
		op := rec.Operation
		if op == "" {
			op = "(none)"
		}
		add(byOperation, op, rec)
	}
	if r.Calls > 0 {
		r.CacheHitRate = float64(r.CachedCalls) / float64(r.Calls)
	}

	dayFrom, dayTo := DayWindow(now)
	weekFrom, weekTo := WeekWindow(now)
	r.DailySpend = sumWindow(records, dayFrom, dayTo)
	r.WeeklySpend = sumWindow(records, weekFrom, weekTo)

	r.ByProvider = sortedBreakdowns(byProvider)
	r.ByOperation = sortedBreakdowns(byOperation)
	return r
}

// sortedBreakdowns orders by cost descending, then name.
func sortedBreakdowns(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost > out[j].Cost
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// WriteText renders the report as text tables.
func (r Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Total: $%.4f over %d calls (%d cached, %.0f%% hit rate)\n",
		r.TotalCost, r.Calls, r.CachedCalls, r.CacheHitRate*100); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Today: $%.4f / %s   This week: $%.4f / %s\n\n",
		r.DailySpend, formatLimit(r.DailyLimit), r.WeeklySpend, formatLimit(r.WeeklyLimit)); err != nil {
		return err
	}

	for _, section := range []struct {
		title string
		rows  []Breakdown
	}{
		{"Provider", r.ByProvider},
		{"Operation", r.ByOperation},
	} {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{section.title, "Calls", "Cached", "Input", "Output", "Cost"})
		for _, b := range section.rows {
			tw.AppendRow(table.Row{b.Name, b.Calls, b.CachedCalls, b.InputTokens, b.OutputTokens, fmt.Sprintf("$%.4f", b.Cost)})
		}
		tw.Render()
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func formatLimit(limit float64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", limit)
}

// ExportLedger writes records as an indented JSON array.
func ExportLedger(w io.Writer, records []models.CallRecord) error {
	if records == nil {
		records = []models.CallRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
