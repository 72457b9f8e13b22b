package reflection

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// Totals counts activities by status and outcome.
type Totals struct {
	Activities     int `json:"activities"`
	Approved       int `json:"approved"`
	Warning        int `json:"warning"`
	Rejected       int `json:"rejected"`
	RequiresReview int `json:"requires_review"`
	Completed      int `json:"completed"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
}

// Report aggregates the activity log.
type Report struct {
	Totals            Totals     `json:"totals"`
	ApprovalRate      float64    `json:"approval_rate"`
	ResourceConflicts []Conflict `json:"resource_conflicts"`
	Recommendations   []string   `json:"recommendations"`
}

// Log is the exported reflection document.
type Log struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Activities  []*models.Activity `json:"activities"`
	Report      Report             `json:"report"`
}

// highRejectionRate is the rejection share that triggers a recommendation.
const highRejectionRate = 0.25

// Report summarizes the activity log.
func (g *Gate) Report() Report {
	return buildReport(g.Activities(), g.Conflicts())
}

// Export returns the activity log with its report.
func (g *Gate) Export() Log {
	activities := g.Activities()
	return Log{
		GeneratedAt: g.now(),
		Activities:  activities,
		Report:      buildReport(activities, g.Conflicts()),
	}
}

// WriteLog writes the exported log as indented JSON.
func (g *Gate) WriteLog(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g.Export())
}

// SaveLog writes the exported log to path, creating parent directories.
func (g *Gate) SaveLog(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create reflection log: %w", err)
	}
	if err := g.WriteLog(f); err != nil {
		f.Close()
		return fmt.Errorf("write reflection log: %w", err)
	}
	return f.Close()
}

func buildReport(activities []*models.Activity, conflicts []Conflict) Report {
	r := Report{
		ResourceConflicts: conflicts,
		Recommendations:   []string{},
	}
	if r.ResourceConflicts == nil {
		r.ResourceConflicts = []Conflict{}
	}

	var (
		pendingReview int
		mismatched    int
		loopPaths     = make(map[string]bool)
	)
	for _, a := range activities {
		r.Totals.Activities++
		switch a.Status {
		case models.StatusApproved:
			r.Totals.Approved++
		case models.StatusWarning:
			r.Totals.Warning++
		case models.StatusRejected:
			r.Totals.Rejected++
		case models.StatusRequiresReview:
			r.Totals.RequiresReview++
			if !a.Completed {
				pendingReview++
			}
		}
		if a.Completed {
			r.Totals.Completed++
			if a.Success {
				r.Totals.Succeeded++
			} else {
				r.Totals.Failed++
			}
		}

		hasMismatch := false
		for _, w := range a.Warnings {
			if strings.HasPrefix(w, DuplicateWarningPrefix) && a.ResourceID != "" {
				loopPaths[a.ResourceID] = true
			}
			if strings.HasPrefix(w, "output mismatch:") {
				hasMismatch = true
			}
		}
		if hasMismatch {
			mismatched++
		}
	}

	if r.Totals.Activities == 0 {
		return r
	}
	r.ApprovalRate = float64(r.Totals.Approved+r.Totals.Warning) / float64(r.Totals.Activities)

	rejectionRate := float64(r.Totals.Rejected) / float64(r.Totals.Activities)
	if rejectionRate >= highRejectionRate {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"High rejection rate (%.0f%%): review agent plans against the validation rules", rejectionRate*100))
	}

	perResource := make(map[string]int)
	for _, c := range conflicts {
		perResource[c.Resource]++
	}
	for _, res := range sortedKeys(perResource) {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"Resource %s had %d conflict(s): serialize access or release locks sooner", res, perResource[res]))
	}

	for _, res := range sortedKeys(loopPaths) {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"Repeated writes to %s look like a loop: check the agent's termination condition", res))
	}

	if r.Totals.Failed > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d activit%s failed during execution: inspect the recorded errors", r.Totals.Failed, plural(r.Totals.Failed)))
	}
	if mismatched > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d activit%s produced outputs that did not match expectations", mismatched, plural(mismatched)))
	}
	if pendingReview > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"%d activit%s awaiting human review", pendingReview, plural(pendingReview)))
	}
	return r
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteSummary renders the report totals and recommendations as text.
func (r Report) WriteSummary(w io.Writer) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Activities", "Approved", "Warning", "Rejected", "Review", "Failed", "Approval"})
	tw.AppendRow(table.Row{
		r.Totals.Activities, r.Totals.Approved, r.Totals.Warning, r.Totals.Rejected,
		r.Totals.RequiresReview, r.Totals.Failed, fmt.Sprintf("%.0f%%", r.ApprovalRate*100),
	})
	tw.Render()

	for _, rec := range r.Recommendations {
		if _, err := fmt.Fprintf(w, "- %s\n", rec); err != nil {
			return err
		}
	}
	return nil
}
