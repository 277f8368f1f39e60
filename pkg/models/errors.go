package models

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when an operation references a run id that does
// not exist.
var ErrNotFound = errors.New("workflow run not found")

// ErrAlreadyScheduled is returned when scheduling is attempted on a run
// that is already scheduled.
var ErrAlreadyScheduled = errors.New("workflow run is already scheduled")

// ValidationErrors is a field-keyed set of validation messages. Validation
// runs eagerly: all failing fields are collected before the set is
// returned, never fail-fast on the first one.
type ValidationErrors map[string][]string

// Add appends a message for the given field.
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

// Merge folds another error set into this one.
func (v ValidationErrors) Merge(other ValidationErrors) {
	for field, messages := range other {
		v[field] = append(v[field], messages...)
	}
}

// Empty reports whether no field failed.
func (v ValidationErrors) Empty() bool {
	return len(v) == 0
}

// OrNil returns the set as an error, or nil when no field failed.
func (v ValidationErrors) OrNil() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field)
		b.WriteString(" ")
		b.WriteString(strings.Join(v[field], ", "))
	}
	return b.String()
}
