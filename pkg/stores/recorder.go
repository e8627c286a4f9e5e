package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openmission/openmission/pkg/engine"
	"github.com/openmission/openmission/pkg/telemetry"
)

// archiveTimeout bounds each archive write triggered by an event.
const archiveTimeout = 5 * time.Second

// Recorder persists run lifecycle records and telemetry events into a
// Store. It is the bridge between a live mission run and the archive:
// the command layer calls RunStarted/RunFinished around the scheduler,
// and Attach subscribes the recorder to the run's event stream.
type Recorder struct {
	store  Store
	logger *telemetry.Logger
}

// NewRecorder creates a recorder backed by the given store. A nil
// logger disables recorder logging.
func NewRecorder(store Store, logger *telemetry.Logger) *Recorder {
	if logger != nil {
		logger = logger.NewComponentLogger("recorder")
	}
	return &Recorder{store: store, logger: logger}
}

// RunStarted records a new run in the running state.
func (r *Recorder) RunStarted(ctx context.Context, runID string, def *engine.MissionDefinition, definitionPath string) error {
	now := time.Now()
	return r.store.CreateRun(ctx, &Run{
		ID:             runID,
		MissionName:    def.Name,
		MissionVersion: def.Version,
		PlatformID:     def.PlatformID,
		DefinitionPath: definitionPath,
		Status:         engine.RunStatusRunning,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

// RunFinished records the run's terminal status and the final state of
// every thread.
func (r *Recorder) RunFinished(ctx context.Context, runID string, status engine.RunStatus, snapshots []engine.ThreadSnapshot) error {
	var errMsg *string
	for _, snap := range snapshots {
		if snap.LastError != "" && errMsg == nil {
			msg := snap.LastError
			errMsg = &msg
		}
		if err := r.recordThread(ctx, runID, snap); err != nil {
			return err
		}
	}
	return r.store.UpdateRunStatus(ctx, runID, status, errMsg)
}

func (r *Recorder) recordThread(ctx context.Context, runID string, snap engine.ThreadSnapshot) error {
	var lastError *string
	if snap.LastError != "" {
		lastError = &snap.LastError
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return r.store.UpsertThreadResult(ctx, &ThreadResult{
		RunID:        runID,
		ThreadID:     snap.ThreadID,
		State:        snap.State,
		Iterations:   snap.Iteration,
		SkippedSteps: snap.SkippedSteps,
		Retries:      snap.Retries,
		LastError:    lastError,
		UpdatedAt:    updatedAt,
	})
}

// Attach subscribes the recorder to an event stream so every published
// event lands in the archive. Archive failures are logged and dropped;
// a slow or broken archive must never stall a run.
func (r *Recorder) Attach(publisher *telemetry.EventPublisher) {
	publisher.Subscribe(func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		if err := r.store.AppendEvent(ctx, r.toStoreEvent(event)); err != nil && r.logger != nil {
			r.logger.WithError(err).WithField("event_type", event.Type).
				Warn("failed to archive event")
		}
	}, nil)
}

// toStoreEvent maps a telemetry event onto its archive row.
func (r *Recorder) toStoreEvent(event telemetry.Event) *Event {
	out := &Event{
		Type:      event.Type,
		Level:     toEventLevel(event.Level),
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.RunID != "" {
		out.RunID = &event.RunID
	}
	if event.ThreadID != "" {
		out.ThreadID = &event.ThreadID
	}
	if event.InstrumentID != "" {
		out.InstrumentID = &event.InstrumentID
	}
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			details := string(data)
			out.Details = &details
		}
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return out
}

func toEventLevel(level string) EventLevel {
	switch level {
	case telemetry.EventLevelWarning:
		return EventLevelWarning
	case telemetry.EventLevelError:
		return EventLevelError
	case "debug":
		return EventLevelDebug
	default:
		return EventLevelInfo
	}
}
