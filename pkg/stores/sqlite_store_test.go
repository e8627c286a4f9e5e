package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmission/openmission/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "archive.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRun(id string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:             id,
		MissionName:    "sbe37_autosample",
		MissionVersion: "1.1",
		PlatformID:     "RSN_PLATFORM_01",
		DefinitionPath: "/missions/sbe37_autosample.yaml",
		Status:         engine.RunStatusRunning,
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.MissionName != "sbe37_autosample" || got.Status != engine.RunStatusRunning {
		t.Errorf("run = %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("fresh run has completed_at")
	}

	if err := store.UpdateRunStatus(ctx, "run-1", engine.RunStatusSucceeded, nil); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}

	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != engine.RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("terminal run missing completed_at")
	}
}

func TestUpdateRunStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	if err := store.UpdateRunStatus(context.Background(), "ghost", engine.RunStatusFailed, nil); err == nil {
		t.Error("update of unknown run succeeded")
	}
}

func TestListRunsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testRun("run-old")
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	newer := testRun("run-new")

	if err := store.CreateRun(ctx, older); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.CreateRun(ctx, newer); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-new" {
		t.Errorf("runs = %+v, want most recent first", runs)
	}

	runs, err = store.ListRuns(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-old" {
		t.Errorf("paginated runs = %+v", runs)
	}
}

func TestThreadResultUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	first := &ThreadResult{
		RunID:     "run-1",
		ThreadID:  "0",
		State:     engine.ThreadStateRunning,
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.UpsertThreadResult(ctx, first); err != nil {
		t.Fatalf("UpsertThreadResult: %v", err)
	}

	errText := "instrument timed out"
	second := &ThreadResult{
		RunID:        "run-1",
		ThreadID:     "0",
		State:        engine.ThreadStateAborted,
		Iterations:   3,
		SkippedSteps: 1,
		Retries:      4,
		LastError:    &errText,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := store.UpsertThreadResult(ctx, second); err != nil {
		t.Fatalf("UpsertThreadResult: %v", err)
	}

	results, err := store.ListThreadResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListThreadResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d rows, want upsert to replace", len(results))
	}
	got := results[0]
	if got.State != engine.ThreadStateAborted || got.Iterations != 3 || got.Retries != 4 {
		t.Errorf("result = %+v", got)
	}
	if got.LastError == nil || *got.LastError != errText {
		t.Errorf("lastError = %v", got.LastError)
	}
}

func TestAppendAndFilterEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runID := "run-1"
	threadA := "0"
	threadB := "1"
	base := time.Now().UTC()

	events := []*Event{
		{RunID: &runID, ThreadID: &threadA, Type: "step.dispatched", Level: EventLevelInfo, Message: "dispatched", Timestamp: base},
		{RunID: &runID, ThreadID: &threadA, Type: "step.retried", Level: EventLevelWarning, Message: "retried", Timestamp: base.Add(time.Second)},
		{RunID: &runID, ThreadID: &threadB, Type: "thread.aborted", Level: EventLevelError, Message: "aborted", Timestamp: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == 0 {
			t.Error("event ID not backfilled")
		}
	}

	all, err := store.GetEvents(ctx, &runID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(all) != 3 || all[0].Type != "thread.aborted" {
		t.Errorf("events = %+v, want newest first", all)
	}

	byThread, err := store.GetEvents(ctx, &runID, &threadA, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(byThread) != 2 {
		t.Errorf("thread filter returned %d events, want 2", len(byThread))
	}

	level := EventLevelError
	byLevel, err := store.GetEvents(ctx, nil, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].Message != "aborted" {
		t.Errorf("level filter events = %+v", byLevel)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, testRun("run-1")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.UpsertThreadResult(ctx, &ThreadResult{
		RunID: "run-1", ThreadID: "0", State: engine.ThreadStateCompleted, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertThreadResult: %v", err)
	}
	runID := "run-1"
	if err := store.AppendEvent(ctx, &Event{
		RunID: &runID, Type: "mission.started", Level: EventLevelInfo, Message: "started", Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	results, err := store.ListThreadResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListThreadResults: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("thread results survived run delete: %+v", results)
	}

	events, err := store.GetEvents(ctx, &runID, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events survived run delete: %+v", events)
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := testRun("run-old")
	old.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
	old.Status = engine.RunStatusSucceeded
	if err := store.CreateRun(ctx, old); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// A still-running run older than the cutoff must survive.
	active := testRun("run-active")
	active.StartedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := store.CreateRun(ctx, active); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	recent := testRun("run-recent")
	recent.Status = engine.RunStatusFailed
	if err := store.CreateRun(ctx, recent); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	deleted, err := store.DeleteRunsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteRunsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := store.GetRun(ctx, "run-active"); err != nil {
		t.Errorf("active run deleted by retention: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-recent"); err != nil {
		t.Errorf("recent run deleted by retention: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-old"); err == nil {
		t.Error("old terminal run survived retention")
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	uninitialized, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := uninitialized.HealthCheck(context.Background()); err == nil {
		t.Error("health check passed before Init")
	}
}
