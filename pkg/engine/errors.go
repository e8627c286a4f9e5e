package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a mission error for
// policy and recovery logic.
type ErrorClass string

const (
	// ErrorClassDefinition indicates an invalid mission definition.
	// Definition errors are fatal: the mission never starts.
	ErrorClassDefinition ErrorClass = "definition"

	// ErrorClassSchedule indicates an unsatisfiable trigger or loop
	// schedule. Fatal for the owning thread only.
	ErrorClassSchedule ErrorClass = "schedule"

	// ErrorClassTransient indicates a dispatch failure that may
	// succeed on retry. Examples: gateway timeouts, instrument busy.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a dispatch failure that will not
	// succeed on retry. Examples: unknown instrument, rejected command.
	ErrorClassPermanent ErrorClass = "permanent"
)

// MissionError represents a classified error with mission context.
type MissionError struct {
	// Class is the error classification for policy logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Instrument is the instrument ID involved, if applicable.
	Instrument string `json:"instrument,omitempty"`

	// Thread is the mission thread ID the error belongs to.
	Thread string `json:"thread,omitempty"`

	// Step is the zero-based index of the command step that failed,
	// or -1 when the error is not tied to a step.
	Step int `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *MissionError) Error() string {
	if e.Instrument != "" && e.Thread != "" {
		return fmt.Sprintf("[%s] %s (thread=%s, instrument=%s): %s",
			e.Class, e.Message, e.Thread, e.Instrument, e.unwrapMessage())
	}
	if e.Thread != "" {
		return fmt.Sprintf("[%s] %s (thread=%s): %s",
			e.Class, e.Message, e.Thread, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *MissionError) Unwrap() error {
	return e.Err
}

func (e *MissionError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *MissionError) Is(target error) bool {
	t, ok := target.(*MissionError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewDefinitionError creates a new definition error.
func NewDefinitionError(message string, err error) *MissionError {
	return &MissionError{
		Class:   ErrorClassDefinition,
		Message: message,
		Step:    -1,
		Err:     err,
	}
}

// NewScheduleError creates a new schedule error.
func NewScheduleError(message string, err error) *MissionError {
	return &MissionError{
		Class:   ErrorClassSchedule,
		Message: message,
		Step:    -1,
		Err:     err,
	}
}

// NewTransientError creates a new transient dispatch error.
func NewTransientError(message string, err error) *MissionError {
	return &MissionError{
		Class:   ErrorClassTransient,
		Message: message,
		Step:    -1,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent dispatch error.
func NewPermanentError(message string, err error) *MissionError {
	return &MissionError{
		Class:   ErrorClassPermanent,
		Message: message,
		Step:    -1,
		Err:     err,
	}
}

// WithInstrument adds instrument context to an error.
func (e *MissionError) WithInstrument(instrumentID string) *MissionError {
	e.Instrument = instrumentID
	return e
}

// WithThread adds thread context to an error.
func (e *MissionError) WithThread(threadID string) *MissionError {
	e.Thread = threadID
	return e
}

// WithStep adds the failing step index to an error.
func (e *MissionError) WithStep(index int) *MissionError {
	e.Step = index
	return e
}

// WithCode adds an error code to an error.
func (e *MissionError) WithCode(code string) *MissionError {
	e.Code = code
	return e
}

// IsDefinition returns true if the error is a definition error.
func IsDefinition(err error) bool {
	var e *MissionError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDefinition
	}
	return false
}

// IsSchedule returns true if the error is a schedule error.
func IsSchedule(err error) bool {
	var e *MissionError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSchedule
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *MissionError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *MissionError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsDispatch returns true if the error arose from dispatching a
// command to an instrument. Both transient and permanent dispatch
// failures are routed through the error policy engine.
func IsDispatch(err error) bool {
	return IsTransient(err) || IsPermanent(err)
}

// Common error codes.
const (
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeMissingTrigger    = "MISSING_TRIGGER"
	ErrCodeUnboundInstrument = "UNBOUND_INSTRUMENT"
	ErrCodeUnknownThread     = "UNKNOWN_THREAD"
	ErrCodeBadSchedule       = "BAD_SCHEDULE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeRejected          = "COMMAND_REJECTED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeGateway           = "GATEWAY_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
