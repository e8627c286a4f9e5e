package engine

import "context"

// InstrumentClient issues commands against remote instrument
// resources. Implementations live outside the engine; the engine
// treats instrument IDs as opaque keys, including any namespace
// prefix they carry.
type InstrumentClient interface {
	// Send issues verb(args) to the given instrument and blocks until
	// the instrument acknowledges or the context is done.
	Send(ctx context.Context, instrumentID, verb string, args []string) error
}

// Dispatcher adapts parsed command steps onto the instrument client.
// Implementations report success, failure, and timeout faithfully; no
// retry or policy logic lives here.
type Dispatcher interface {
	// Dispatch issues one command step on behalf of a thread.
	Dispatch(ctx context.Context, threadID string, step CommandStep) error
}

// Signaler routes inter-thread milestone signals. The scheduler
// implements it; threads call Emit when they complete a named
// milestone to unblock dependents waiting on {parentID, eventID}.
type Signaler interface {
	Emit(threadID, eventID string)
}

// InstrumentClientFunc adapts a function to the InstrumentClient
// interface.
type InstrumentClientFunc func(ctx context.Context, instrumentID, verb string, args []string) error

// Send implements InstrumentClient.
func (f InstrumentClientFunc) Send(ctx context.Context, instrumentID, verb string, args []string) error {
	return f(ctx, instrumentID, verb, args)
}
