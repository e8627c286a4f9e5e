package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openmission/openmission/pkg/telemetry"
)

// Milestone event IDs emitted automatically at phase boundaries.
// Other threads can gate on them via {parentID, eventID}.
const (
	EventPreComplete    = "premission_complete"
	EventMainComplete   = "mission_complete"
	EventPostComplete   = "postmission_complete"
	EventThreadComplete = "thread_complete"
	EventThreadAborted  = "aborted"
)

// MissionThread owns one thread's lifecycle: trigger wait, the
// pre/main/post phases, loop iteration, and cooperative cancellation.
// Each thread runs as an independent goroutine; its wait steps, loop
// sleeps, and trigger wait suspend only the thread itself.
type MissionThread struct {
	def      ThreadDefinition
	runID    string
	clock    Clock
	runner   *SequenceRunner
	signaler Signaler
	grace    time.Duration

	// trigger is closed by the scheduler when the thread's event gate
	// fires. Nil for threads without an event trigger.
	trigger <-chan struct{}

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	mu       sync.Mutex
	snapshot ThreadSnapshot
}

// newMissionThread wires one thread from its definition. The trigger
// channel is non-nil exactly when the definition has an event gate.
func newMissionThread(def ThreadDefinition, runID string, cfg *Config, dispatcher Dispatcher, signaler Signaler, trigger <-chan struct{}) *MissionThread {
	logger := cfg.Logger
	if logger != nil {
		logger = logger.NewComponentLogger("thread").WithThreadID(def.ID)
	}
	return &MissionThread{
		def:      def,
		runID:    runID,
		clock:    cfg.Clock,
		runner:   NewSequenceRunner(runID, def.ID, def.ErrorHandling, dispatcher, cfg.Clock, cfg.Logger, cfg.Metrics, cfg.Events),
		signaler: signaler,
		grace:    cfg.ShutdownGrace,
		trigger:  trigger,
		logger:   logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		events:   cfg.Events,
		snapshot: ThreadSnapshot{
			ThreadID: def.ID,
			State:    ThreadStateIdle,
		},
	}
}

// ID returns the thread's identifier.
func (t *MissionThread) ID() string {
	return t.def.ID
}

// Snapshot returns a point-in-time copy of the thread's state.
func (t *MissionThread) Snapshot() ThreadSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}

// State returns the thread's current lifecycle state.
func (t *MissionThread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.State
}

func (t *MissionThread) setState(state ThreadState, phase Phase) {
	t.mu.Lock()
	old := t.snapshot.State
	t.snapshot.State = state
	t.snapshot.Phase = phase
	t.snapshot.UpdatedAt = time.Now()
	t.mu.Unlock()

	if old == state {
		return
	}
	if t.logger != nil {
		t.logger.Debugf("state %s -> %s", old, state)
	}
	if t.events != nil {
		_ = t.events.PublishThreadStateChanged(t.runID, t.def.ID, string(old), string(state))
	}
}

func (t *MissionThread) recordResult(res SequenceResult) {
	t.mu.Lock()
	t.snapshot.SkippedSteps += len(res.Skipped)
	t.snapshot.Retries += res.Retries
	if res.Err != nil {
		t.snapshot.LastError = res.Err.Error()
	}
	t.mu.Unlock()
}

// Run drives the thread from trigger to a terminal state. It blocks
// until the thread reaches Completed or Aborted and returns the
// terminal state.
func (t *MissionThread) Run(ctx context.Context) ThreadState {
	t.setState(ThreadStateWaitingForTrigger, "")

	if err := t.awaitTrigger(ctx); err != nil {
		// Cancelled or unschedulable before any phase ran; there is
		// nothing to clean up, so post is not attempted.
		t.fail(err)
		return ThreadStateAborted
	}

	// Pre runs once per trigger, not per loop iteration.
	if len(t.def.Pre) > 0 {
		res := t.runPhase(ctx, PhasePre, t.def.Pre, 0)
		if !res.Proceed() {
			t.abortWithPost(ctx, res.Err)
			return ThreadStateAborted
		}
	}
	t.signaler.Emit(t.def.ID, EventPreComplete)

	if err := t.runLoop(ctx); err != nil {
		t.abortWithPost(ctx, err)
		return ThreadStateAborted
	}
	t.signaler.Emit(t.def.ID, EventMainComplete)

	if len(t.def.Post) > 0 {
		res := t.runPhase(ctx, PhasePost, t.def.Post, 0)
		if !res.Proceed() {
			t.fail(res.Err)
			return ThreadStateAborted
		}
	}
	t.signaler.Emit(t.def.ID, EventPostComplete)

	t.setState(ThreadStateCompleted, "")
	t.signaler.Emit(t.def.ID, EventThreadComplete)
	return ThreadStateCompleted
}

// awaitTrigger blocks until the thread's trigger fires. The event
// gate dominates: when both an event and a start time are set, any
// remaining start-time delay is honored after the event arrives.
func (t *MissionThread) awaitTrigger(ctx context.Context) error {
	if t.trigger != nil {
		select {
		case <-t.trigger:
		case <-ctx.Done():
			return NewScheduleError("cancelled while waiting for event trigger", ctx.Err()).
				WithCode(ErrCodeCancelled).WithThread(t.def.ID)
		}
	}

	start, err := t.resolveStartTime()
	if err != nil {
		return err
	}
	if !start.IsZero() {
		if d := start.Sub(t.clock.Now()); d > 0 {
			if err := t.clock.Sleep(ctx, d); err != nil {
				return NewScheduleError("cancelled while waiting for start time", err).
					WithCode(ErrCodeCancelled).WithThread(t.def.ID)
			}
		}
	}
	return nil
}

// resolveStartTime applies the schedule's time zone to the start
// time. The zone matters when the definition carries a local
// timestamp; an unparseable zone is a schedule error.
func (t *MissionThread) resolveStartTime() (time.Time, error) {
	start := t.def.Schedule.StartTime
	if start.IsZero() || t.def.Schedule.TimeZone == "" {
		return start, nil
	}
	loc, err := time.LoadLocation(t.def.Schedule.TimeZone)
	if err != nil {
		return time.Time{}, NewScheduleError(
			fmt.Sprintf("invalid time zone %q", t.def.Schedule.TimeZone), err).
			WithCode(ErrCodeBadSchedule).WithThread(t.def.ID)
	}
	return time.Date(start.Year(), start.Month(), start.Day(),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), loc), nil
}

// runLoop executes the main sequence for every loop iteration. The
// next iteration starts value×units after the previous one started.
func (t *MissionThread) runLoop(ctx context.Context) error {
	loop := t.def.Schedule.Loop
	iterations := loop.Iterations()

	var interval time.Duration
	if iterations != 1 {
		var err error
		interval, err = loop.Interval()
		if err != nil {
			return NewScheduleError("invalid loop interval", err).
				WithCode(ErrCodeBadSchedule).WithThread(t.def.ID)
		}
	}

	for i := 0; iterations < 0 || i < iterations; i++ {
		iterStart := t.clock.Now()
		if t.metrics != nil {
			t.metrics.RecordLoopIteration(t.def.ID)
		}

		res := t.runPhase(ctx, PhaseMain, t.def.Main, i)
		if !res.Proceed() {
			return res.Err
		}

		last := iterations >= 0 && i == iterations-1
		if last {
			break
		}

		t.setState(ThreadStateLoopPending, "")
		next := iterStart.Add(interval)
		if d := next.Sub(t.clock.Now()); d > 0 {
			if err := t.clock.Sleep(ctx, d); err != nil {
				return NewTransientError("cancelled between loop iterations", err).
					WithCode(ErrCodeCancelled).WithThread(t.def.ID)
			}
		}
		if err := ctx.Err(); err != nil {
			return NewTransientError("cancelled between loop iterations", err).
				WithCode(ErrCodeCancelled).WithThread(t.def.ID)
		}
	}
	return nil
}

// runPhase runs one sequence and updates the snapshot.
func (t *MissionThread) runPhase(ctx context.Context, phase Phase, seq Sequence, iteration int) SequenceResult {
	t.setState(ThreadStateRunning, phase)
	if phase == PhaseMain {
		t.mu.Lock()
		t.snapshot.Iteration = iteration + 1
		t.mu.Unlock()
	}

	if t.tracer != nil {
		spanCtx, span := t.tracer.StartPhaseSpan(ctx, t.def.ID, string(phase), iteration)
		defer span.End()
		ctx = spanCtx
	}

	res := t.runner.Run(ctx, phase, seq)
	t.recordResult(res)
	return res
}

// abortWithPost attempts best-effort cleanup before the thread lands
// in Aborted. Post runs detached from the cancelled context, bounded
// by the shutdown grace period.
func (t *MissionThread) abortWithPost(ctx context.Context, cause error) {
	if len(t.def.Post) > 0 {
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.grace)
		res := t.runPhase(postCtx, PhasePost, t.def.Post, 0)
		cancel()
		if res.Proceed() {
			t.signaler.Emit(t.def.ID, EventPostComplete)
		}
	}
	t.fail(cause)
}

// fail moves the thread to Aborted and publishes the cause.
func (t *MissionThread) fail(cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
		t.mu.Lock()
		t.snapshot.LastError = reason
		t.mu.Unlock()

		var merr *MissionError
		if t.metrics != nil && errors.As(cause, &merr) {
			t.metrics.RecordError(string(merr.Class), merr.Code)
		}
	}
	if t.logger != nil {
		t.logger.WithError(cause).Error("thread aborted")
	}
	t.setState(ThreadStateAborted, "")
	if t.events != nil {
		_ = t.events.PublishThreadAborted(t.runID, t.def.ID, reason)
	}
	t.signaler.Emit(t.def.ID, EventThreadAborted)
}
