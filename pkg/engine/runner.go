package engine

import (
	"context"

	"github.com/openmission/openmission/pkg/telemetry"
)

// SequenceRunner executes one ordered sequence of command steps on
// behalf of a mission thread, applying the error policy on failure
// and honoring wait() pseudo-commands. Steps execute strictly in
// order; a retry re-issues the same step, never the remainder of the
// sequence.
type SequenceRunner struct {
	runID         string
	threadID      string
	defaultPolicy Policy
	maxRetries    int

	dispatcher Dispatcher
	clock      Clock

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// NewSequenceRunner creates a runner bound to one thread's policy.
func NewSequenceRunner(runID, threadID string, handling ErrorHandling, dispatcher Dispatcher, clock Clock, logger *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *SequenceRunner {
	if clock == nil {
		clock = NewClock()
	}
	if logger != nil {
		logger = logger.NewComponentLogger("runner").WithThreadID(threadID)
	}
	return &SequenceRunner{
		runID:         runID,
		threadID:      threadID,
		defaultPolicy: handling.Default,
		maxRetries:    handling.MaxRetries,
		dispatcher:    dispatcher,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
		events:        events,
	}
}

// Run executes the sequence and reports how it ended. Cancellation is
// checked at every step boundary and inside wait sleeps; it surfaces
// as an aborted result carrying the context error.
func (r *SequenceRunner) Run(ctx context.Context, phase Phase, seq Sequence) SequenceResult {
	result := SequenceResult{AbortedAt: -1}

	for i, step := range seq {
		if err := ctx.Err(); err != nil {
			return r.abort(result, i, NewTransientError("sequence cancelled", err).
				WithCode(ErrCodeCancelled).WithThread(r.threadID))
		}

		if step.IsWait() {
			if err := r.clock.Sleep(ctx, step.WaitDuration); err != nil {
				return r.abort(result, i, NewTransientError("wait interrupted", err).
					WithCode(ErrCodeCancelled).WithThread(r.threadID))
			}
			continue
		}

		outcome, err := r.runStep(ctx, phase, i, step, &result)
		switch outcome {
		case ActionSkip:
			result.Skipped = append(result.Skipped, i)
			if r.metrics != nil {
				r.metrics.RecordSkip(r.threadID)
			}
			if r.events != nil {
				_ = r.events.PublishStepSkipped(r.runID, r.threadID, i, err.Error())
			}
		case ActionAbort:
			return r.abort(result, i, err)
		}
	}

	if len(result.Skipped) > 0 {
		result.Outcome = OutcomePartiallySkipped
	} else {
		result.Outcome = OutcomeCompleted
	}
	return result
}

// runStep dispatches one command step, retrying under the effective
// policy. It returns ActionSkip or ActionAbort with the final error,
// or an empty action on success.
func (r *SequenceRunner) runStep(ctx context.Context, phase Phase, index int, step CommandStep, result *SequenceResult) (Action, error) {
	policy := ResolvePolicy(step, r.defaultPolicy)
	retries := 0

	for {
		err := r.dispatcher.Dispatch(ctx, r.threadID, step)
		if err == nil {
			return "", nil
		}

		if r.logger != nil {
			r.logger.WithError(err).WithPhase(string(phase)).
				Warnf("step %d (%s) failed under policy %s", index, step.Raw, policy)
		}

		// A cancelled dispatch is not a policy matter.
		if ctx.Err() != nil {
			return ActionAbort, err
		}

		action, derr := Decide(policy, retries, r.maxRetries)
		if derr != nil {
			return ActionAbort, NewDefinitionError("unresolvable error policy", derr).
				WithCode(ErrCodeValidation).WithThread(r.threadID).WithStep(index)
		}

		switch action {
		case ActionRetry:
			retries++
			result.Retries++
			if r.metrics != nil {
				r.metrics.RecordRetry(r.threadID)
			}
			if r.events != nil {
				_ = r.events.PublishStepRetried(r.runID, r.threadID, index, retries)
			}
		case ActionSkip:
			return ActionSkip, err
		case ActionAbort:
			return ActionAbort, err
		}
	}
}

func (r *SequenceRunner) abort(result SequenceResult, index int, err error) SequenceResult {
	result.Outcome = OutcomeAborted
	result.AbortedAt = index
	result.Err = err
	if r.logger != nil {
		r.logger.WithError(err).Errorf("sequence aborted at step %d", index)
	}
	return result
}
