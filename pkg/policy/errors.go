package policy

import (
	"fmt"
	"strings"
)

// FieldError is a single validation failure.
type FieldError struct {
	// Policy is the name of the policy, or its source file if unnamed.
	Policy string

	// FieldPath locates the field, e.g. "model_routing[1].condition".
	FieldPath string

	// Message describes the problem.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	parts := []string{}
	if e.Policy != "" {
		parts = append(parts, fmt.Sprintf("policy %q:", e.Policy))
	}
	if e.FieldPath != "" {
		parts = append(parts, e.FieldPath+":")
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, " ")
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *FieldError) Unwrap() error {
	return e.Cause
}

// ValidationError collects every problem found in one or more policies.
type ValidationError struct {
	Errors []*FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return "invalid policy: " + e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d policy errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %v\n", i+1, err))
	}
	return sb.String()
}

// Add appends a field error.
func (e *ValidationError) Add(policyName, fieldPath, message string, cause error) {
	e.Errors = append(e.Errors, &FieldError{
		Policy:    policyName,
		FieldPath: fieldPath,
		Message:   message,
		Cause:     cause,
	})
}

// Merge appends all errors from other. A nil other is ignored.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.Errors = append(e.Errors, other.Errors...)
}

// HasErrors reports whether any errors were collected.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ToError returns e as an error, or nil if it is empty.
func (e *ValidationError) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}
