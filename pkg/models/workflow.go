// Package models defines the domain models for the workflow coordination service
package models

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// Name length limits for a workflow run, enforced on create and rename.
const (
	MinNameLength = 1
	MaxNameLength = 512
)

// Argument describes a single runner argument of a workflow run. Value is
// nil until the owner resolves it; scheduling requires every argument to
// carry a non-null value.
type Argument struct {
	Type  string          `json:"type,omitempty"`
	Label string          `json:"label,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// IsResolved reports whether the argument carries a usable value. A JSON
// null counts as unresolved, matching what the runner would receive.
func (a Argument) IsResolved() bool {
	return len(a.Value) > 0 && string(a.Value) != "null"
}

// WorkflowRun is one invocation of a named workflow definition. It is owned
// by the run store and mutated only through the workflow service.
type WorkflowRun struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	RunnerReference string              `json:"runner_reference"`
	Arguments       map[string]Argument `json:"arguments"`

	// IsScheduled is true exactly while a queue entry for this run exists
	// and has not been reported finished.
	IsScheduled bool `json:"is_scheduled"`

	// Process counters reported by the external runner. Monotonically
	// non-decreasing while scheduled, reset to zero on finish.
	SubmittedProcesses int `json:"submitted_processes"`
	CompletedProcesses int `json:"completed_processes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress is the counter pair pushed to subscribers on every counter
// mutation.
type Progress struct {
	SubmittedProcesses int `json:"submitted_processes"`
	CompletedProcesses int `json:"completed_processes"`
}

// ValidateName checks the run name against the length limits and returns
// the collected field errors, keyed by "name".
func ValidateName(name string) ValidationErrors {
	verrs := ValidationErrors{}
	if utf8.RuneCountInString(name) < MinNameLength {
		verrs.Add("name", "is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		verrs.Add("name", "must be at most 512 characters")
	}
	return verrs
}

// UnresolvedArguments returns the names of arguments that still lack a
// value, sorted order not guaranteed.
func (r *WorkflowRun) UnresolvedArguments() []string {
	var missing []string
	for name, arg := range r.Arguments {
		if !arg.IsResolved() {
			missing = append(missing, name)
		}
	}
	return missing
}
