// Package stores provides the run archive for mission executions.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for runs, per-thread results, and the
// append-only event log.
package stores
