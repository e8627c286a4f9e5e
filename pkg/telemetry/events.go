package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted during a mission run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated mission run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ThreadID is the associated mission thread ID, if applicable.
	ThreadID string `json:"thread_id,omitempty"`

	// InstrumentID is the associated instrument ID, if applicable.
	InstrumentID string `json:"instrument_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for the mission event vocabulary.
const (
	EventTypeMissionStarted     = "mission.started"
	EventTypeMissionCompleted   = "mission.completed"
	EventTypeMissionCancelled   = "mission.cancelled"
	EventTypeThreadStateChanged = "thread.state_changed"
	EventTypeThreadAborted      = "thread.aborted"
	EventTypeStepDispatched     = "step.dispatched"
	EventTypeStepRetried        = "step.retried"
	EventTypeStepSkipped        = "step.skipped"
	EventTypeSignalEmitted      = "signal.emitted"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishMissionStarted publishes a mission started event.
func (ep *EventPublisher) PublishMissionStarted(runID, mission string, threads int) error {
	return ep.Publish(Event{
		Type:    EventTypeMissionStarted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Mission %s started with %d threads", mission, threads),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"mission": mission,
			"threads": threads,
		},
	})
}

// PublishMissionCompleted publishes a mission completed event.
func (ep *EventPublisher) PublishMissionCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeMissionCompleted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Mission run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishThreadStateChanged publishes a thread state transition event.
func (ep *EventPublisher) PublishThreadStateChanged(runID, threadID, oldState, newState string) error {
	return ep.Publish(Event{
		Type:     EventTypeThreadStateChanged,
		Source:   "thread",
		RunID:    runID,
		ThreadID: threadID,
		Message:  fmt.Sprintf("Thread %s moved from %s to %s", threadID, oldState, newState),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// PublishThreadAborted publishes a thread aborted event.
func (ep *EventPublisher) PublishThreadAborted(runID, threadID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeThreadAborted,
		Source:   "thread",
		RunID:    runID,
		ThreadID: threadID,
		Message:  fmt.Sprintf("Thread %s aborted: %s", threadID, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepDispatched publishes a step dispatch event.
func (ep *EventPublisher) PublishStepDispatched(runID, threadID, instrumentID, verb, status string) error {
	return ep.Publish(Event{
		Type:         EventTypeStepDispatched,
		Source:       "dispatcher",
		RunID:        runID,
		ThreadID:     threadID,
		InstrumentID: instrumentID,
		Message:      fmt.Sprintf("Dispatched %s to %s: %s", verb, instrumentID, status),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"verb":   verb,
			"status": status,
		},
	})
}

// PublishStepRetried publishes a step retry event.
func (ep *EventPublisher) PublishStepRetried(runID, threadID string, stepIndex, attempt int) error {
	return ep.Publish(Event{
		Type:     EventTypeStepRetried,
		Source:   "runner",
		RunID:    runID,
		ThreadID: threadID,
		Message:  fmt.Sprintf("Thread %s retrying step %d (attempt %d)", threadID, stepIndex, attempt),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"step":    stepIndex,
			"attempt": attempt,
		},
	})
}

// PublishStepSkipped publishes a step skipped event.
func (ep *EventPublisher) PublishStepSkipped(runID, threadID string, stepIndex int, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeStepSkipped,
		Source:   "runner",
		RunID:    runID,
		ThreadID: threadID,
		Message:  fmt.Sprintf("Thread %s skipped step %d: %s", threadID, stepIndex, reason),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"step":   stepIndex,
			"reason": reason,
		},
	})
}

// PublishSignalEmitted publishes an inter-thread signal event.
func (ep *EventPublisher) PublishSignalEmitted(runID, threadID, eventID string) error {
	return ep.Publish(Event{
		Type:     EventTypeSignalEmitted,
		Source:   "scheduler",
		RunID:    runID,
		ThreadID: threadID,
		Message:  fmt.Sprintf("Thread %s emitted signal %s", threadID, eventID),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"event_id": eventID,
		},
	})
}

// PublishPolicyViolation publishes a definition policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(mission, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Message: fmt.Sprintf("Policy violation on mission %s: %s - %s", mission, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"mission": mission,
			"policy":  policyName,
			"reason":  reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByThreadID creates a filter that only allows events for a specific thread.
func FilterByThreadID(threadID string) EventFilter {
	return func(event Event) bool {
		return event.ThreadID == threadID
	}
}
