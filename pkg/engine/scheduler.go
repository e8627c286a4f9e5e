package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmission/openmission/pkg/telemetry"
)

// eventKey identifies one inter-thread trigger subscription.
type eventKey struct {
	parentID string
	eventID  string
}

// MissionScheduler owns the set of mission threads for one run. It
// launches each thread as an independent goroutine, routes milestone
// signals to threads gated on {parentID, eventID}, and exposes
// operator control: status snapshots and cooperative cancellation.
type MissionScheduler struct {
	cfg Config

	mu      sync.Mutex
	def     *MissionDefinition
	runID   string
	started time.Time
	threads []*MissionThread
	subs    map[eventKey][]chan struct{}
	fired   map[eventKey]bool
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	final   RunStatus

	logger *telemetry.Logger
}

// NewMissionScheduler creates a scheduler with the given
// configuration. The configuration is validated and defaulted.
func NewMissionScheduler(cfg Config) (*MissionScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	logger := cfg.Logger
	if logger != nil {
		logger = logger.NewComponentLogger("scheduler")
	}
	return &MissionScheduler{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// RunID returns the identifier of the current run, or empty when no
// run has started.
func (s *MissionScheduler) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Start instantiates one mission thread per definition entry and
// launches them. It returns immediately; use Done and FinalStatus to
// observe completion. A scheduler runs one mission at a time.
func (s *MissionScheduler) Start(ctx context.Context, def *MissionDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("mission %s already running", s.def.Name)
	}
	if err := s.checkDefinition(def); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.def = def
	s.runID = uuid.New().String()
	s.started = time.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.threads = make([]*MissionThread, 0, len(def.Threads))
	s.subs = make(map[eventKey][]chan struct{})
	s.fired = make(map[eventKey]bool)

	dispatcher := NewClientDispatcher(s.cfg.Client, s.cfg.DispatchTimeout,
		s.runID, s.cfg.Logger, s.cfg.Metrics, s.cfg.Tracer, s.cfg.Events)

	for _, tdef := range def.Threads {
		var trigger chan struct{}
		if tdef.Schedule.Event.IsSet() {
			trigger = make(chan struct{})
			key := eventKey{tdef.Schedule.Event.ParentID, tdef.Schedule.Event.EventID}
			s.subs[key] = append(s.subs[key], trigger)
		}
		s.threads = append(s.threads, newMissionThread(tdef, s.runID, &s.cfg, dispatcher, s, trigger))
	}

	if s.logger != nil {
		s.logger.WithMissionID(def.Name).WithRunID(s.runID).
			Infof("starting mission with %d threads", len(s.threads))
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordRunStarted(def.Name)
	}
	if s.cfg.Events != nil {
		_ = s.cfg.Events.PublishMissionStarted(s.runID, def.Name, len(s.threads))
	}

	var wg sync.WaitGroup
	for _, thread := range s.threads {
		wg.Add(1)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordThreadStarted(def.Name)
		}
		go func(t *MissionThread) {
			defer wg.Done()
			state := t.Run(runCtx)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.RecordThreadCompleted(def.Name, string(state))
			}
		}(thread)
	}

	go func() {
		wg.Wait()
		s.finishRun(runCtx)
	}()

	return nil
}

// checkDefinition rejects definitions the engine cannot run: threads
// without any trigger mode, or event gates referencing an unknown
// parent. The loader catches these earlier; the scheduler refuses to
// start regardless of how the definition arrived.
func (s *MissionScheduler) checkDefinition(def *MissionDefinition) error {
	if def == nil || len(def.Threads) == 0 {
		return NewDefinitionError("mission has no threads", nil).
			WithCode(ErrCodeValidation)
	}
	for _, t := range def.Threads {
		if !t.Schedule.HasTrigger() {
			return NewDefinitionError(
				fmt.Sprintf("thread %s has neither a start time nor an event trigger", t.ID), nil).
				WithCode(ErrCodeMissingTrigger).WithThread(t.ID)
		}
		if t.Schedule.Event.IsSet() && def.Thread(t.Schedule.Event.ParentID) == nil {
			return NewDefinitionError(
				fmt.Sprintf("thread %s waits on unknown parent %s", t.ID, t.Schedule.Event.ParentID), nil).
				WithCode(ErrCodeUnknownThread).WithThread(t.ID)
		}
	}
	return nil
}

func (s *MissionScheduler) finishRun(ctx context.Context) {
	s.mu.Lock()
	status := s.finalStatusLocked(ctx)
	s.final = status
	name := s.def.Name
	runID := s.runID
	elapsed := time.Since(s.started)
	s.running = false
	close(s.done)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.WithRunID(runID).Infof("mission %s finished: %s", name, status)
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordRunCompleted(name, string(status), elapsed)
	}
	if s.cfg.Events != nil {
		_ = s.cfg.Events.PublishMissionCompleted(runID, string(status), elapsed)
	}
}

// Emit implements Signaler. It routes a milestone signal from one
// thread to every thread currently gated on {threadID, eventID}.
// Signals are sticky: a dependent that subscribes before its parent
// fires is woken on delivery, and a signal that arrives first is
// remembered so late subscription can never miss it.
func (s *MissionScheduler) Emit(threadID, eventID string) {
	s.mu.Lock()
	key := eventKey{threadID, eventID}
	if !s.fired[key] {
		s.fired[key] = true
		for _, ch := range s.subs[key] {
			close(ch)
		}
		delete(s.subs, key)
	}
	runID := s.runID
	s.mu.Unlock()

	if s.cfg.Events != nil {
		_ = s.cfg.Events.PublishSignalEmitted(runID, threadID, eventID)
	}
}

// ReportEvent is the operator-facing form of Emit: an external caller
// reports that a thread reached a named milestone.
func (s *MissionScheduler) ReportEvent(threadID, eventID string) {
	s.Emit(threadID, eventID)
}

// Status returns a snapshot of every thread, ordered by thread ID.
func (s *MissionScheduler) Status() []ThreadSnapshot {
	s.mu.Lock()
	threads := s.threads
	s.mu.Unlock()

	snapshots := make([]ThreadSnapshot, 0, len(threads))
	for _, t := range threads {
		snapshots = append(snapshots, t.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ThreadID < snapshots[j].ThreadID
	})
	return snapshots
}

// Done returns a channel closed when every thread has reached a
// terminal state. Nil before Start.
func (s *MissionScheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// FinalStatus reports the run's overall status: succeeded when every
// thread completed, failed when any aborted, cancelled when the run
// context was cancelled first.
func (s *MissionScheduler) FinalStatus() RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.def == nil {
		return RunStatusPending
	}
	if s.running {
		return RunStatusRunning
	}
	return s.final
}

func (s *MissionScheduler) finalStatusLocked(ctx context.Context) RunStatus {
	if ctx != nil && ctx.Err() != nil {
		return RunStatusCancelled
	}
	for _, t := range s.threads {
		if t.State() == ThreadStateAborted {
			return RunStatusFailed
		}
	}
	return RunStatusSucceeded
}

// Stop broadcasts cancellation to all threads and blocks until each
// reaches a terminal state, bounded by the shutdown grace period.
// When the grace period elapses it returns an error naming the
// threads that failed to quiesce.
func (s *MissionScheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	threads := s.threads
	s.mu.Unlock()

	cancel()

	timer := time.NewTimer(s.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		var stragglers []string
		for _, t := range threads {
			if !t.State().IsTerminal() {
				stragglers = append(stragglers, t.ID())
			}
		}
		return fmt.Errorf("shutdown grace period elapsed; threads still active: %s",
			strings.Join(stragglers, ", "))
	}
}
