package policy

import (
	"time"

	"github.com/openmission/openmission/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do
	// not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never reach an
	// instrument.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation at this severity prevents the
// mission from starting.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one admission rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations the policy
	// yields without an explicit severity of their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source records where the policy was loaded from.
	Source string `json:"source,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single finding against a mission definition.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// ThreadID is the mission thread the finding concerns, when the
	// policy can attribute it to one.
	ThreadID string `json:"thread_id,omitempty"`

	// Message is a human-readable description of the finding.
	Message string `json:"message"`

	// Severity is the finding's severity level.
	Severity Severity `json:"severity"`

	// DetectedAt is when the finding was produced.
	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating a mission against all enabled
// policies.
type Result struct {
	// Allowed indicates whether the mission may start. False when any
	// violation carries a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists all findings, blocking and non-blocking.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate. An evaluation
	// failure never blocks the mission on its own.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns only the violations that prevent the mission from
// starting.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document handed to Rego for evaluation.
type Input struct {
	// Mission is the resolved mission definition under evaluation.
	Mission *engine.MissionDefinition `json:"mission"`

	// Context provides additional evaluation context.
	Context *EvalContext `json:"context"`
}

// EvalContext carries operator-supplied context into policy
// evaluation.
type EvalContext struct {
	// Environment names the deployment environment, e.g. "production"
	// or "simulation".
	Environment string `json:"environment,omitempty"`

	// Operator is the user starting the run.
	Operator string `json:"operator,omitempty"`

	// DryRun indicates a validation-only pass where no commands will
	// reach instruments.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// Bundle is a collection of related policies loaded as a unit.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`
}
