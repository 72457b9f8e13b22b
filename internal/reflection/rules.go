// Package reflection validates proposed agent actions before they run and
// verifies their outputs afterwards.
//
// Rules are registered per activity type and evaluated in registration
// order. Their outcomes aggregate into one validation status: any error
// rejects, any review request defers to a human, any warning approves with
// caveats, and silence approves.
package reflection

import (
	"sync"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// Outcome is what a single rule reports. The zero value means no concern.
// When Review is set, Warning carries the reason shown to the reviewer.
type Outcome struct {
	Warning string
	Error   string
	Review  bool
}

// Pass is the empty outcome.
var Pass = Outcome{}

// Warn returns an outcome carrying a warning.
func Warn(msg string) Outcome { return Outcome{Warning: msg} }

// Reject returns an outcome carrying an error.
func Reject(msg string) Outcome { return Outcome{Error: msg} }

// Review returns an outcome asking for human review.
func Review(reason string) Outcome { return Outcome{Warning: reason, Review: true} }

// Rule validates one proposed activity.
type Rule interface {
	Evaluate(a models.Activity) Outcome
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(a models.Activity) Outcome

// Evaluate calls f(a).
func (f RuleFunc) Evaluate(a models.Activity) Outcome {
	return f(a)
}

// Registry maps activity types to ordered rule lists.
type Registry struct {
	mu    sync.RWMutex
	rules map[models.ActivityType][]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[models.ActivityType][]Rule)}
}

// Register appends rules for t.
func (r *Registry) Register(t models.ActivityType, rules ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[t] = append(r.rules[t], rules...)
}

// RegisterAll appends rules for every known activity type.
func (r *Registry) RegisterAll(rules ...Rule) {
	for _, t := range models.AllActivityTypes {
		r.Register(t, rules...)
	}
}

// Rules returns a copy of the ordered rules for t.
func (r *Registry) Rules(t models.ActivityType) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, len(r.rules[t]))
	copy(out, r.rules[t])
	return out
}

// Count returns the number of rules registered for t.
func (r *Registry) Count(t models.ActivityType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules[t])
}

// aggregate applies the status policy to a set of outcomes.
func aggregate(outcomes []Outcome) (status models.ValidationStatus, warnings, errs []string) {
	warnings = []string{}
	errs = []string{}
	review := false
	for _, o := range outcomes {
		if o.Warning != "" {
			warnings = append(warnings, o.Warning)
		}
		if o.Error != "" {
			errs = append(errs, o.Error)
		}
		if o.Review {
			review = true
		}
	}

	switch {
	case len(errs) > 0:
		status = models.StatusRejected
	case review:
		status = models.StatusRequiresReview
	case len(warnings) > 0:
		status = models.StatusWarning
	default:
		status = models.StatusApproved
	}
	return status, warnings, errs
}
