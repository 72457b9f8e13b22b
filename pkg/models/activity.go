package models

import "time"

// ActivityType classifies a proposed agent action.
type ActivityType string

const (
	// ActivityFileRead reads a file.
	ActivityFileRead ActivityType = "FILE_READ"
	// ActivityFileWrite creates or overwrites a file.
	ActivityFileWrite ActivityType = "FILE_WRITE"
	// ActivityFileDelete removes a file.
	ActivityFileDelete ActivityType = "FILE_DELETE"
	// ActivityDBQuery runs a read or write statement against a database.
	ActivityDBQuery ActivityType = "DB_QUERY"
	// ActivityDBWrite mutates rows in a database table.
	ActivityDBWrite ActivityType = "DB_WRITE"
	// ActivityAPICall calls an external HTTP API.
	ActivityAPICall ActivityType = "API_CALL"
	// ActivityShellCommand runs a shell command.
	ActivityShellCommand ActivityType = "SHELL_COMMAND"
	// ActivityLLMCall calls a language model provider.
	ActivityLLMCall ActivityType = "LLM_CALL"
	// ActivityBrowserAction drives a browser.
	ActivityBrowserAction ActivityType = "BROWSER_ACTION"
	// ActivityDocumentGeneration renders a document.
	ActivityDocumentGeneration ActivityType = "DOCUMENT_GENERATION"
	// ActivityImageGeneration renders an image.
	ActivityImageGeneration ActivityType = "IMAGE_GENERATION"
	// ActivityCustom is any action not covered above.
	ActivityCustom ActivityType = "CUSTOM"
)

// AllActivityTypes lists every known activity type in declaration order.
var AllActivityTypes = []ActivityType{
	ActivityFileRead,
	ActivityFileWrite,
	ActivityFileDelete,
	ActivityDBQuery,
	ActivityDBWrite,
	ActivityAPICall,
	ActivityShellCommand,
	ActivityLLMCall,
	ActivityBrowserAction,
	ActivityDocumentGeneration,
	ActivityImageGeneration,
	ActivityCustom,
}

// Valid returns true if the activity type is a known value.
func (t ActivityType) Valid() bool {
	for _, known := range AllActivityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ValidationStatus is the verdict the reflection gate assigns to an activity.
type ValidationStatus string

const (
	// StatusApproved means no rule raised a concern.
	StatusApproved ValidationStatus = "approved"
	// StatusWarning means the action may proceed with caveats attached.
	StatusWarning ValidationStatus = "warning"
	// StatusRejected means the action must not run.
	StatusRejected ValidationStatus = "rejected"
	// StatusRequiresReview means a human has to confirm before the action runs.
	StatusRequiresReview ValidationStatus = "requires_review"
)

// Valid returns true if the status is a known value.
func (s ValidationStatus) Valid() bool {
	switch s {
	case StatusApproved, StatusWarning, StatusRejected, StatusRequiresReview:
		return true
	default:
		return false
	}
}

// Proceeds reports whether an action with this status may execute without
// further confirmation.
func (s ValidationStatus) Proceeds() bool {
	return s == StatusApproved || s == StatusWarning
}

// Activity is one proposed, executed and verified action tracked by the
// reflection gate.
type Activity struct {
	// ID is unique per process.
	ID string `json:"id"`
	// Timestamp is when the activity was proposed.
	Timestamp time.Time `json:"timestamp"`
	// Agent is the name of the proposing agent.
	Agent string `json:"agent"`
	// Type is the activity classification used to pick rules.
	Type ActivityType `json:"type"`
	// Description is a free-form summary of the action.
	Description string `json:"description"`
	// Inputs are the declared action inputs.
	Inputs map[string]any `json:"inputs,omitempty"`
	// ExpectedOutputs describes the output shape the action should produce.
	ExpectedOutputs map[string]any `json:"expected_outputs,omitempty"`
	// ActualOutputs is filled in after execution.
	ActualOutputs map[string]any `json:"actual_outputs,omitempty"`
	// Status is set once at creation and never upgraded.
	Status ValidationStatus `json:"status"`
	// Warnings are caveats gathered before and after execution.
	Warnings []string `json:"warnings"`
	// Errors are rule errors or the execution failure message.
	Errors []string `json:"errors"`
	// ResourceID is the contended resource derived from the inputs, if any.
	ResourceID string `json:"resource_id,omitempty"`
	// Completed is true once the outcome has been recorded.
	Completed bool `json:"completed"`
	// Success is the recorded outcome; meaningful only when Completed.
	Success bool `json:"success"`
	// CompletedAt is when the outcome was recorded.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep-enough copy for handing out of a locked structure.
// Input and output maps are copied one level deep.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Inputs = copyMap(a.Inputs)
	cp.ExpectedOutputs = copyMap(a.ExpectedOutputs)
	cp.ActualOutputs = copyMap(a.ActualOutputs)
	cp.Warnings = append([]string{}, a.Warnings...)
	cp.Errors = append([]string{}, a.Errors...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
