// Package storage wraps a single SQLite database file with the connection
// policy spec.md §4.3 requires: WAL journal mode, a bounded busy timeout, and
// one process-wide write lock so every write (and, for simplicity, every
// read) serializes through one owner — the same "single owner, not
// fine-grained locks" discipline the teacher applies to cluster state,
// generalized here from BoltDB buckets to a SQLite connection.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/log"
	_ "modernc.org/sqlite"
)

// Engine owns one SQLite connection and the lock that serializes access to
// it.
type Engine struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
	path   string
}

// Options configures Open.
type Options struct {
	Path               string
	BusyTimeoutSeconds int
	ForeignKeys        bool
	Component          string
}

// Open opens (creating if needed) the database at opts.Path and applies the
// pragma set spec.md §4.3 names: WAL journal mode, wal_autocheckpoint at
// 1000 pages, the configured busy_timeout, and foreign_keys for the server.
func Open(opts Options) (*Engine, error) {
	if opts.BusyTimeoutSeconds <= 0 {
		opts.BusyTimeoutSeconds = 5
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", opts.Path, opts.BusyTimeoutSeconds*1000)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}
	// One physical connection: SQLite's own locking plus our mutex are both
	// single-writer, and modernc's driver does not pool well for WAL writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA wal_autocheckpoint=1000",
	}
	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	component := opts.Component
	if component == "" {
		component = "storage"
	}

	return &Engine{
		db:     db,
		logger: log.WithComponent(component),
		path:   opts.Path,
	}, nil
}

// Close closes the underlying connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// WithTx runs fn inside a write-locked transaction.
func (e *Engine) WithTx(fn func(tx *sql.Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// WithReadTx runs fn inside a read-only, still write-locked transaction (the
// engine has one process-wide lock; see the design's open question about
// aggregation vs. sender contention — callers needing short reads under
// load should prefer Query directly).
func (e *Engine) WithReadTx(fn func(tx *sql.Tx) error) error {
	return e.WithTx(fn)
}

// Exec runs a single statement under the write lock.
func (e *Engine) Exec(query string, args ...any) (sql.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Exec(query, args...)
}

// Query runs a single query under the write lock (SQLite only allows one
// writer connection at a time, so reads share the same serialization).
func (e *Engine) Query(query string, args ...any) (*sql.Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Query(query, args...)
}

// QueryRow runs a single-row query under the write lock.
func (e *Engine) QueryRow(query string, args ...any) *sql.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.QueryRow(query, args...)
}

// CheckpointWAL runs PRAGMA wal_checkpoint(TRUNCATE). A nonzero `busy`
// return means some pages couldn't be checkpointed because a reader still
// holds them; that's logged and left for the next scheduled checkpoint.
func (e *Engine) CheckpointWAL() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var busy, log, checkpointed int
	row := e.db.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := row.Scan(&busy, &log, &checkpointed); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if busy > 0 {
		e.logger.Warn().Int("busy", busy).Int("log_pages", log).Int("checkpointed", checkpointed).
			Msg("wal checkpoint left pages uncheckpointed, will retry next cycle")
	}
	return nil
}

// Vacuum runs VACUUM. Nothing in the repository calls it.
func (e *Engine) Vacuum() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.Exec("VACUUM")
	return err
}

// Now returns the current wall-clock time as Unix seconds. It is a plain
// function, not a replaceable variable.
func Now() int64 { return time.Now().Unix() }
