package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openmission/openmission/pkg/engine"
)

// EventLevel represents the severity level of an archived event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one archived mission run.
type Run struct {
	ID             string           `json:"id"`
	MissionName    string           `json:"mission_name"`
	MissionVersion string           `json:"mission_version"`
	PlatformID     string           `json:"platform_id"`
	DefinitionPath string           `json:"definition_path"`
	Status         engine.RunStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	Error          *string          `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ThreadResult is the final (or latest) recorded state of one mission
// thread within a run. Keyed by (run_id, thread_id); upserts replace
// earlier snapshots of the same thread.
type ThreadResult struct {
	ID           int64              `json:"id"`
	RunID        string             `json:"run_id"`
	ThreadID     string             `json:"thread_id"`
	State        engine.ThreadState `json:"state"`
	Iterations   int                `json:"iterations"`
	SkippedSteps int                `json:"skipped_steps"`
	Retries      int                `json:"retries"`
	LastError    *string            `json:"last_error,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Event represents an append-only archived run event.
type Event struct {
	ID           int64      `json:"id"`
	RunID        *string    `json:"run_id,omitempty"`
	ThreadID     *string    `json:"thread_id,omitempty"`
	InstrumentID *string    `json:"instrument_id,omitempty"`
	Type         string     `json:"type"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// Store defines the interface for the run archive.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Thread result operations
	UpsertThreadResult(ctx context.Context, result *ThreadResult) error
	ListThreadResults(ctx context.Context, runID string) ([]*ThreadResult, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, threadID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
