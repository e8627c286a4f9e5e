package engine

import (
	"encoding/json"
	"fmt"
)

// ThreadState represents the lifecycle state of a mission thread.
type ThreadState string

const (
	// ThreadStateIdle indicates the thread is constructed but not yet
	// started by the scheduler.
	ThreadStateIdle ThreadState = "idle"

	// ThreadStateWaitingForTrigger indicates the thread is blocked on
	// its time or event trigger.
	ThreadStateWaitingForTrigger ThreadState = "waiting_for_trigger"

	// ThreadStateRunning indicates the thread is executing one of its
	// phases. The Phase field of the snapshot says which.
	ThreadStateRunning ThreadState = "running"

	// ThreadStateLoopPending indicates the main sequence finished an
	// iteration and the thread is sleeping until the next one.
	ThreadStateLoopPending ThreadState = "loop_pending"

	// ThreadStateCompleted indicates the thread finished all phases
	// and loop iterations successfully.
	ThreadStateCompleted ThreadState = "completed"

	// ThreadStateAborted indicates the thread terminated early due to
	// an abort decision, a schedule error, or cancellation.
	ThreadStateAborted ThreadState = "aborted"
)

// IsTerminal returns true if the thread state is final.
func (s ThreadState) IsTerminal() bool {
	return s == ThreadStateCompleted || s == ThreadStateAborted
}

// IsActive returns true if the thread still has work to do.
func (s ThreadState) IsActive() bool {
	return s == ThreadStateWaitingForTrigger || s == ThreadStateRunning ||
		s == ThreadStateLoopPending
}

// Validate checks if the thread state is valid.
func (s ThreadState) Validate() error {
	switch s {
	case ThreadStateIdle, ThreadStateWaitingForTrigger, ThreadStateRunning,
		ThreadStateLoopPending, ThreadStateCompleted, ThreadStateAborted:
		return nil
	default:
		return fmt.Errorf("invalid thread state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ThreadState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ThreadState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ThreadState(str)
	return s.Validate()
}

// Phase identifies which command sequence of a thread is executing.
type Phase string

const (
	// PhasePre is the premission sequence, run once per trigger before
	// the first main iteration.
	PhasePre Phase = "pre"

	// PhaseMain is the mission sequence, run once per loop iteration.
	PhaseMain Phase = "main"

	// PhasePost is the postmission sequence, run once after the loop
	// finishes or the thread aborts.
	PhasePost Phase = "post"
)

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhasePre, PhaseMain, PhasePost:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// SequenceOutcome classifies how a single sequence run ended.
type SequenceOutcome string

const (
	// OutcomeCompleted indicates every step succeeded.
	OutcomeCompleted SequenceOutcome = "completed"

	// OutcomePartiallySkipped indicates the sequence finished but one
	// or more steps were skipped by policy.
	OutcomePartiallySkipped SequenceOutcome = "partially_skipped"

	// OutcomeAborted indicates the sequence terminated at a failing
	// step under the abort policy, or was cancelled.
	OutcomeAborted SequenceOutcome = "aborted"
)

// Validate checks if the sequence outcome is valid.
func (o SequenceOutcome) Validate() error {
	switch o {
	case OutcomeCompleted, OutcomePartiallySkipped, OutcomeAborted:
		return nil
	default:
		return fmt.Errorf("invalid sequence outcome: %s", o)
	}
}

// RunStatus represents the overall status of a mission run.
type RunStatus string

const (
	// RunStatusPending indicates the run is loaded but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates at least one thread is active.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every thread completed.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one thread aborted.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the
	// operator before all threads reached a natural end.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
