package policy

import (
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that deny admission.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// validate accepts the known severities. Empty is allowed and later
// defaults to SeverityError.
func (s Severity) validate() error {
	switch s {
	case "", SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	}
	return fmt.Errorf("unknown severity %q", s)
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the resource name that violated the policy.
	Resource string `json:"resource,omitempty"`

	Message string `json:"message"`

	Severity Severity `json:"severity"`
}

// ResourceInput is the resource part of the input document.
type ResourceInput struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	InputPlugin string         `json:"input_plugin,omitempty"`
}

// ConfigInput is the config part of the input document.
type ConfigInput struct {
	AllowedBuilders   []string `json:"allowed_builders"`
	AllowedRegistries []string `json:"allowed_registries"`
}

// Input is the document policies are evaluated against.
type Input struct {
	Resource ResourceInput `json:"resource"`
	Config   ConfigInput   `json:"config"`
}

// Decision is the result of evaluating every enabled policy.
type Decision struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// DeniedError is returned when a resource is not admitted.
type DeniedError struct {
	Resource   string
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("resource %s denied by policy (%s)", e.Resource, strings.Join(msgs, "; "))
}

// Class names the error in status records.
func (e *DeniedError) Class() string { return "PolicyDenied" }
