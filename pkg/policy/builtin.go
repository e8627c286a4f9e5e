package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		loopBoundsPolicy(),
		retryCeilingPolicy(),
		instrumentNamingPolicy(),
		destructiveCommandsPolicy(),
	}
}

// loopBoundsPolicy flags unbounded loop schedules. Infinite loops are
// legitimate for long-running monitoring threads, so they only warn
// outside production; in production they block.
func loopBoundsPolicy() Policy {
	return Policy{
		Name:        "loop-bounds",
		Description: "Flags mission threads that loop forever; blocks them in production",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"schedule", "loops"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmission.policies.loops

import rego.v1

deny contains violation if {
	some thread in input.mission.threads
	thread.schedule.loop.quantity == -1
	not input.context.environment == "production"
	violation := {
		"message": sprintf("thread %s loops forever; it will only stop on operator cancel", [thread.id]),
		"severity": "warning",
		"thread": thread.id,
	}
}

deny contains violation if {
	input.context.environment == "production"
	some thread in input.mission.threads
	thread.schedule.loop.quantity == -1
	violation := {
		"message": sprintf("thread %s loops forever; unbounded loops are not allowed in production", [thread.id]),
		"severity": "error",
		"thread": thread.id,
	}
}`,
	}
}

// retryCeilingPolicy bounds per-step retry budgets. A runaway retry
// ceiling keeps a failing instrument saturated with command traffic.
func retryCeilingPolicy() Policy {
	return Policy{
		Name:        "retry-ceiling",
		Description: "Blocks threads whose retry ceiling exceeds the operational limit",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"retries", "limits"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmission.policies.retries

import rego.v1

max_retries := 10

deny contains violation if {
	some thread in input.mission.threads
	thread.errorHandling.maxRetries > max_retries
	violation := {
		"message": sprintf("thread %s allows %d retries per step; the limit is %d", [thread.id, thread.errorHandling.maxRetries, max_retries]),
		"severity": "error",
		"thread": thread.id,
	}
}`,
	}
}

// instrumentNamingPolicy enforces the platform instrument ID format.
func instrumentNamingPolicy() Policy {
	return Policy{
		Name:        "instrument-naming",
		Description: "Instrument IDs must be uppercase alphanumeric with underscores",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "instruments"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmission.policies.instruments

import rego.v1

deny contains violation if {
	some thread in input.mission.threads
	some inst in thread.instruments
	not regex.match("^[A-Z][A-Z0-9_]*$", inst)
	violation := {
		"message": sprintf("thread %s binds instrument %q; IDs must match ^[A-Z][A-Z0-9_]*$", [thread.id, inst]),
		"severity": "error",
		"thread": thread.id,
	}
}`,
	}
}

// destructiveCommandsPolicy keeps irreversible instrument commands out
// of production runs unless the run is a dry-run validation pass.
func destructiveCommandsPolicy() Policy {
	return Policy{
		Name:        "destructive-commands",
		Description: "Blocks irreversible instrument commands in production runs",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"commands", "safety", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openmission.policies.commands

import rego.v1

destructive_verbs := ["FACTORY_RESET", "FORMAT_STORAGE", "FIRMWARE_UPDATE"]

deny contains violation if {
	input.context.environment == "production"
	not input.context.dry_run
	some thread in input.mission.threads
	some seq in [thread.pre, thread.main, thread.post]
	some step in seq
	step.verb in destructive_verbs
	violation := {
		"message": sprintf("thread %s issues destructive command %s in production", [thread.id, step.verb]),
		"severity": "critical",
		"thread": thread.id,
	}
}`,
	}
}
