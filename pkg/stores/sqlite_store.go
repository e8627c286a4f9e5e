package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openmission/openmission/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting, must be applied after open.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded migration files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// CreateRun creates a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, mission_name, mission_version, platform_id, definition_path,
			status, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.MissionName,
		run.MissionVersion,
		run.PlatformID,
		run.DefinitionPath,
		run.Status,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, mission_name, mission_version, platform_id, definition_path,
			   status, started_at, completed_at, error, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.MissionName,
		&run.MissionVersion,
		&run.PlatformID,
		&run.DefinitionPath,
		&run.Status,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus updates the status of a run. Terminal statuses also
// stamp completed_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error {
	query := `
		UPDATE runs
		SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	var completedAt *time.Time
	if status.IsTerminal() {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns lists runs with pagination, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, mission_name, mission_version, platform_id, definition_path,
			   status, started_at, completed_at, error, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.MissionName,
			&run.MissionVersion,
			&run.PlatformID,
			&run.DefinitionPath,
			&run.Status,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run by ID. Thread results and events cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// DeleteRunsBefore deletes all terminal runs that started before the
// cutoff, returning the number deleted. Used for archive retention.
func (s *SQLiteStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM runs
		WHERE started_at < ?
		  AND status IN ('succeeded', 'failed', 'cancelled')
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// UpsertThreadResult inserts or updates one thread's result record.
func (s *SQLiteStore) UpsertThreadResult(ctx context.Context, result *ThreadResult) error {
	query := `
		INSERT INTO thread_results (
			run_id, thread_id, state, iterations, skipped_steps, retries, last_error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, thread_id) DO UPDATE SET
			state = excluded.state,
			iterations = excluded.iterations,
			skipped_steps = excluded.skipped_steps,
			retries = excluded.retries,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		result.RunID,
		result.ThreadID,
		result.State,
		result.Iterations,
		result.SkippedSteps,
		result.Retries,
		result.LastError,
		result.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert thread result: %w", err)
	}
	return nil
}

// ListThreadResults lists all thread results for a run.
func (s *SQLiteStore) ListThreadResults(ctx context.Context, runID string) ([]*ThreadResult, error) {
	query := `
		SELECT id, run_id, thread_id, state, iterations, skipped_steps, retries, last_error, updated_at
		FROM thread_results
		WHERE run_id = ?
		ORDER BY thread_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread results: %w", err)
	}
	defer rows.Close()

	results := []*ThreadResult{}
	for rows.Next() {
		result := &ThreadResult{}
		err := rows.Scan(
			&result.ID,
			&result.RunID,
			&result.ThreadID,
			&result.State,
			&result.Iterations,
			&result.SkippedSteps,
			&result.Retries,
			&result.LastError,
			&result.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread results: %w", err)
	}
	return results, nil
}

// AppendEvent appends a new event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, thread_id, instrument_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.ThreadID,
		event.InstrumentID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination,
// most recent first.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, threadID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, thread_id, instrument_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR thread_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, runID, threadID, threadID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.ThreadID,
			&event.InstrumentID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
