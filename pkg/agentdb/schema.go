// Package agentdb is the agent-side SQLite schema and access layer: one
// raw_metric_<kind> and agg_metric_<kind> table pair per storage kind in
// wire.Kinds, plus the metric_send_queue durable outbox spec.md §3
// describes. It is built on pkg/storage the way the teacher's BoltDB access
// layer was built directly on top of bolt.DB — a thin Engine plus
// domain-shaped tables on top.
package agentdb

import (
	"database/sql"
	"fmt"

	"github.com/macwilam/netwatch/pkg/storage"
	"github.com/macwilam/netwatch/pkg/wire"
)

// DB is the agent's local metrics store.
type DB struct {
	engine *storage.Engine
}

// Open opens the agent database at path and ensures its schema exists.
func Open(path string, busyTimeoutSeconds int) (*DB, error) {
	engine, err := storage.Open(storage.Options{
		Path:               path,
		BusyTimeoutSeconds: busyTimeoutSeconds,
		ForeignKeys:        false,
		Component:          "agentdb",
	})
	if err != nil {
		return nil, err
	}
	db := &DB{engine: engine}
	if err := db.migrate(); err != nil {
		engine.Close()
		return nil, fmt.Errorf("migrate agent db: %w", err)
	}
	return db, nil
}

// Close closes the underlying engine.
func (db *DB) Close() error { return db.engine.Close() }

// Engine exposes the underlying storage engine for packages that need raw
// access (WAL checkpointing, vacuum) without widening this type's surface.
func (db *DB) Engine() *storage.Engine { return db.engine }

func (db *DB) migrate() error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		for _, k := range allKinds() {
			rawSQL, aggSQL := schemaForKind(k)
			if _, err := tx.Exec(rawSQL); err != nil {
				return fmt.Errorf("create raw table for %s: %w", k, err)
			}
			if _, err := tx.Exec(aggSQL); err != nil {
				return fmt.Errorf("create agg table for %s: %w", k, err)
			}
		}
		if _, err := tx.Exec(queueTableSQL); err != nil {
			return fmt.Errorf("create queue table: %w", err)
		}
		for _, idx := range queueIndexSQL {
			if _, err := tx.Exec(idx); err != nil {
				return fmt.Errorf("create queue index: %w", err)
			}
		}
		return nil
	})
}

// allKinds is the kind set this agent database covers, per wire.Kinds (the
// single registry that also drives aggregation dispatch and the server's
// health-monitor sum).
func allKinds() []wire.Kind { return wire.Kinds }

func rawTable(k wire.Kind) string { return fmt.Sprintf("raw_metric_%s", k) }
func aggTable(k wire.Kind) string { return fmt.Sprintf("agg_metric_%s", k) }

func schemaForKind(k wire.Kind) (rawSQL, aggSQL string) {
	raw := rawTable(k)
	agg := aggTable(k)

	switch k {
	case wire.KindPing:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			rtt_ms REAL,
			success INTEGER NOT NULL,
			error TEXT,
			ip_address TEXT NOT NULL,
			domain TEXT,
			target_id TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			rtt_min_ms REAL,
			rtt_max_ms REAL,
			rtt_avg_ms REAL,
			packet_loss_percent REAL NOT NULL,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindTCP:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			connect_time_ms REAL,
			success INTEGER NOT NULL,
			error TEXT,
			target_id TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			connect_min_ms REAL,
			connect_max_ms REAL,
			connect_avg_ms REAL,
			success_rate_percent REAL NOT NULL,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindHTTP:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			status_code INTEGER,
			tcp_timing_ms REAL,
			tls_timing_ms REAL,
			ttfb_timing_ms REAL,
			content_download_timing_ms REAL,
			total_time_ms REAL,
			success INTEGER NOT NULL,
			error TEXT,
			ssl_valid INTEGER,
			ssl_cert_days_until_expiry INTEGER,
			content_matched INTEGER,
			target_id TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			total_time_min_ms REAL,
			total_time_max_ms REAL,
			total_time_avg_ms REAL,
			status_histogram TEXT,
			ssl_valid_percent REAL,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindTLS:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			handshake_timing_ms REAL,
			success INTEGER NOT NULL,
			error TEXT,
			ssl_valid INTEGER,
			ssl_cert_days_until_expiry INTEGER,
			target_id TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			handshake_min_ms REAL,
			handshake_max_ms REAL,
			handshake_avg_ms REAL,
			ssl_valid_percent REAL,
			cert_min_days_until_expiry INTEGER,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindDNS:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			query_timing_ms REAL,
			success INTEGER NOT NULL,
			error TEXT,
			resolved_addresses TEXT,
			target_id TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			query_min_ms REAL,
			query_max_ms REAL,
			query_avg_ms REAL,
			unique_resolved_addresses TEXT,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindBandwidth:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			download_timing_ms REAL,
			bytes_downloaded INTEGER NOT NULL,
			throughput_mbps REAL,
			success INTEGER NOT NULL,
			error TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			throughput_min_mbps REAL,
			throughput_max_mbps REAL,
			throughput_avg_mbps REAL,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)

	case wire.KindSQL:
		rawSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			timestamp_unix_seconds INTEGER NOT NULL,
			query_timing_ms REAL,
			rows_returned INTEGER,
			success INTEGER NOT NULL,
			error TEXT
		)`, raw)
		aggSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_name TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			failed_count INTEGER NOT NULL,
			query_min_ms REAL,
			query_max_ms REAL,
			query_avg_ms REAL,
			UNIQUE(task_name, period_start, period_end)
		)`, agg)
	}
	return rawSQL, aggSQL
}

const queueTableSQL = `CREATE TABLE IF NOT EXISTS metric_send_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_type TEXT NOT NULL,
	metric_row_id INTEGER NOT NULL,
	task_name TEXT NOT NULL,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	sent_at INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_retry_at INTEGER,
	last_error TEXT,
	next_retry_at INTEGER NOT NULL,
	UNIQUE(metric_type, metric_row_id)
)`

var queueIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_queue_status_next_retry ON metric_send_queue(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_metric_ref ON metric_send_queue(metric_type, metric_row_id)`,
}
