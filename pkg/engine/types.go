package engine

import (
	"fmt"
	"time"
)

// Policy represents an error handling policy for a command step.
type Policy string

const (
	// PolicyRetry re-issues the failed step until the retry ceiling is
	// reached, then escalates to abort.
	PolicyRetry Policy = "retry"

	// PolicySkip records the failure and advances to the next step.
	PolicySkip Policy = "skip"

	// PolicyAbort terminates the enclosing phase immediately.
	PolicyAbort Policy = "abort"

	// PolicyUnset means "inherit the thread default".
	PolicyUnset Policy = ""
)

// Validate checks if the policy is valid. PolicyUnset is valid on
// steps (it means inherit) but not as a thread default.
func (p Policy) Validate() error {
	switch p {
	case PolicyRetry, PolicySkip, PolicyAbort, PolicyUnset:
		return nil
	default:
		return fmt.Errorf("invalid error policy: %s", p)
	}
}

// ErrorHandling is a thread's default error policy and retry ceiling.
type ErrorHandling struct {
	// Default is the policy applied to steps without an override.
	Default Policy `json:"default" yaml:"default"`

	// MaxRetries bounds retry attempts per step instance. The counter
	// resets each time a step is attempted anew.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries" validate:"gte=0"`
}

// LoopUnits represents the time unit of a loop repeat interval.
type LoopUnits string

const (
	// LoopUnitsSecs is accepted for simulation definitions.
	LoopUnitsSecs LoopUnits = "secs"
	// LoopUnitsMins repeats every value minutes.
	LoopUnitsMins LoopUnits = "mins"
	// LoopUnitsHrs repeats every value hours.
	LoopUnitsHrs LoopUnits = "hrs"
	// LoopUnitsDays repeats every value days.
	LoopUnitsDays LoopUnits = "days"
)

// Duration converts a repeat value in these units to a time.Duration.
func (u LoopUnits) Duration(value float64) (time.Duration, error) {
	switch u {
	case LoopUnitsSecs:
		return time.Duration(value * float64(time.Second)), nil
	case LoopUnitsMins:
		return time.Duration(value * float64(time.Minute)), nil
	case LoopUnitsHrs:
		return time.Duration(value * float64(time.Hour)), nil
	case LoopUnitsDays:
		return time.Duration(value * 24 * float64(time.Hour)), nil
	default:
		return 0, fmt.Errorf("invalid loop units: %s", u)
	}
}

// Loop controls how many times the main sequence repeats and at what
// interval.
type Loop struct {
	// Quantity is -1 for infinite, 0 for no loop (main runs once), or
	// N>0 for exactly N main iterations.
	Quantity int `json:"quantity" yaml:"quantity" validate:"gte=-1"`

	// Value is the repeat interval magnitude. The next iteration
	// starts Value×Units after the previous main start.
	Value float64 `json:"value" yaml:"value"`

	// Units is the time unit of Value.
	Units LoopUnits `json:"units" yaml:"units"`
}

// Iterations returns the total number of main sequence runs the loop
// calls for, or -1 for unbounded.
func (l Loop) Iterations() int {
	switch {
	case l.Quantity < 0:
		return -1
	case l.Quantity == 0:
		return 1
	default:
		return l.Quantity
	}
}

// Interval returns the repeat interval as a duration.
func (l Loop) Interval() (time.Duration, error) {
	if l.Value <= 0 {
		return 0, fmt.Errorf("loop value must be positive, got %v", l.Value)
	}
	return l.Units.Duration(l.Value)
}

// Event gates a thread's start on another thread emitting a named
// event.
type Event struct {
	// ParentID is the emitting thread's ID.
	ParentID string `json:"parentID" yaml:"parentID"`

	// EventID is the named milestone to wait for.
	EventID string `json:"eventID" yaml:"eventID"`
}

// IsSet reports whether both halves of the event trigger are present.
func (e Event) IsSet() bool {
	return e.ParentID != "" && e.EventID != ""
}

// Schedule holds a thread's trigger and loop configuration. A thread
// needs at least one trigger mode: an absolute start time or an event
// gate. When both are set the event gate dominates; any remaining
// start-time delay is honored after the event arrives.
type Schedule struct {
	// StartTime is the absolute trigger time. Zero means
	// "event-triggered only".
	StartTime time.Time `json:"startTime" yaml:"startTime"`

	// TimeZone is an IANA zone name used to interpret StartTime when
	// the definition gives a local timestamp. Empty means UTC.
	TimeZone string `json:"timeZone" yaml:"timeZone"`

	// Loop controls main sequence repetition.
	Loop Loop `json:"loop" yaml:"loop"`

	// Event is the optional event gate.
	Event Event `json:"event" yaml:"event"`
}

// HasTrigger reports whether the schedule carries at least one trigger
// mode.
func (s Schedule) HasTrigger() bool {
	return !s.StartTime.IsZero() || s.Event.IsSet()
}

// CommandStep is one parsed step of a sequence. Steps are produced by
// ParseCommand at load time; the engine never re-parses tokens during
// execution.
type CommandStep struct {
	// Raw is the original command token, kept for logs and status.
	Raw string `json:"raw" yaml:"raw"`

	// Instrument is the target instrument ID. Empty for wait steps.
	Instrument string `json:"instrument,omitempty" yaml:"instrument,omitempty"`

	// Verb is the instrument command verb. Verb vocabulary is
	// instrument-defined; unknown verbs pass through opaquely.
	Verb string `json:"verb,omitempty" yaml:"verb,omitempty"`

	// Args is the parsed argument list, possibly empty.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// WaitDuration is set for the wait(n) pseudo-command.
	WaitDuration time.Duration `json:"waitDuration,omitempty" yaml:"waitDuration,omitempty"`

	// OnError overrides the thread default policy when set.
	OnError Policy `json:"onError,omitempty" yaml:"onError,omitempty"`
}

// IsWait reports whether the step is the wait(n) pseudo-command.
func (c CommandStep) IsWait() bool {
	return c.WaitDuration > 0 && c.Instrument == ""
}

// Sequence is an ordered list of command steps. Order is the
// contract: steps execute strictly in sequence within a phase.
type Sequence []CommandStep

// ThreadDefinition describes one mission thread.
type ThreadDefinition struct {
	// ID identifies the thread. The loader fills in the zero-based
	// index as a string when the definition leaves it blank.
	ID string `json:"id" yaml:"id"`

	// Instruments is the order-preserving set of instrument IDs the
	// thread is bound to. Commands referencing an instrument outside
	// this set are a definition error.
	Instruments []string `json:"instruments" yaml:"instruments"`

	// ErrorHandling is the thread's default policy and retry ceiling.
	ErrorHandling ErrorHandling `json:"errorHandling" yaml:"errorHandling"`

	// Schedule is the thread's trigger and loop configuration.
	Schedule Schedule `json:"schedule" yaml:"schedule"`

	// Pre runs once per trigger, before the first main iteration.
	Pre Sequence `json:"pre" yaml:"pre"`

	// Main runs once per loop iteration.
	Main Sequence `json:"main" yaml:"main"`

	// Post runs once, after the loop finishes or on abort.
	Post Sequence `json:"post" yaml:"post"`
}

// BindsInstrument reports whether the thread is bound to the given
// instrument ID.
func (t ThreadDefinition) BindsInstrument(id string) bool {
	for _, bound := range t.Instruments {
		if bound == id {
			return true
		}
	}
	return false
}

// MissionDefinition is a fully resolved mission: clean of disabled
// entries, with every command token parsed. Immutable once loaded;
// owned by the scheduler for the lifetime of a run.
type MissionDefinition struct {
	// Name identifies the mission.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Version is the definition version string.
	Version string `json:"version" yaml:"version"`

	// PlatformID identifies the platform the mission runs against.
	PlatformID string `json:"platformID" yaml:"platformID"`

	// Threads is the ordered set of mission thread specs.
	Threads []ThreadDefinition `json:"threads" yaml:"threads" validate:"min=1"`
}

// Thread returns the thread definition with the given ID, or nil.
func (m *MissionDefinition) Thread(id string) *ThreadDefinition {
	for i := range m.Threads {
		if m.Threads[i].ID == id {
			return &m.Threads[i]
		}
	}
	return nil
}

// ThreadSnapshot is a point-in-time view of one thread's execution
// state, exposed through the scheduler's status interface.
type ThreadSnapshot struct {
	// ThreadID identifies the thread.
	ThreadID string `json:"threadID"`

	// State is the thread's lifecycle state.
	State ThreadState `json:"state"`

	// Phase is the sequence being executed when State is running.
	Phase Phase `json:"phase,omitempty"`

	// Iteration is the count of main iterations started so far.
	Iteration int `json:"iteration"`

	// SkippedSteps counts steps skipped by policy across all phases.
	SkippedSteps int `json:"skippedSteps"`

	// Retries counts retry attempts across all phases.
	Retries int `json:"retries"`

	// LastError is the message of the most recent failure, if any.
	LastError string `json:"lastError,omitempty"`

	// UpdatedAt is when this snapshot was taken.
	UpdatedAt time.Time `json:"updatedAt"`
}

// SequenceResult describes how one sequence run ended.
type SequenceResult struct {
	// Outcome classifies the run.
	Outcome SequenceOutcome `json:"outcome"`

	// AbortedAt is the index of the aborting step when Outcome is
	// aborted, -1 otherwise.
	AbortedAt int `json:"abortedAt"`

	// Skipped lists the indices of steps skipped by policy.
	Skipped []int `json:"skipped,omitempty"`

	// Retries counts retry attempts across the run.
	Retries int `json:"retries"`

	// Err is the failure that caused an abort, if any.
	Err error `json:"-"`
}

// Proceed reports whether the thread should advance to its next phase.
// Both completed and partially skipped runs count as proceed.
func (r SequenceResult) Proceed() bool {
	return r.Outcome == OutcomeCompleted || r.Outcome == OutcomePartiallySkipped
}
