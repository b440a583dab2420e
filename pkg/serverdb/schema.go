// Package serverdb is the central server's SQLite schema and access layer:
// one agg_metric_<kind> table per storage kind (now keyed by agent_id as
// well as task_name/period), plus agents, agent_health_checks, and
// config_errors. It mirrors pkg/agentdb's per-kind table layout but never
// stores raw samples — the server only ever receives already-aggregated
// minutes from agents.
package serverdb

import (
	"database/sql"
	"fmt"

	"github.com/macwilam/netwatch/pkg/storage"
	"github.com/macwilam/netwatch/pkg/wire"
)

// DB is the server's metrics and fleet-state store.
type DB struct {
	engine *storage.Engine
}

// Open opens (creating if needed) the server database at path.
func Open(path string, busyTimeoutSeconds int) (*DB, error) {
	engine, err := storage.Open(storage.Options{
		Path:               path,
		BusyTimeoutSeconds: busyTimeoutSeconds,
		ForeignKeys:        true,
		Component:          "serverdb",
	})
	if err != nil {
		return nil, err
	}
	db := &DB{engine: engine}
	if err := db.migrate(); err != nil {
		engine.Close()
		return nil, fmt.Errorf("migrate server db: %w", err)
	}
	return db, nil
}

// Close closes the underlying engine.
func (db *DB) Close() error { return db.engine.Close() }

// Engine exposes the storage engine for WAL checkpointing and vacuum.
func (db *DB) Engine() *storage.Engine { return db.engine }

func aggTable(k wire.Kind) string { return fmt.Sprintf("agg_metric_%s", k) }

func (db *DB) migrate() error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(agentsTableSQL); err != nil {
			return fmt.Errorf("create agents table: %w", err)
		}
		if _, err := tx.Exec(configErrorsTableSQL); err != nil {
			return fmt.Errorf("create config_errors table: %w", err)
		}
		if _, err := tx.Exec(healthChecksTableSQL); err != nil {
			return fmt.Errorf("create agent_health_checks table: %w", err)
		}
		for _, k := range wire.Kinds {
			if _, err := tx.Exec(aggSchemaForKind(k)); err != nil {
				return fmt.Errorf("create agg table for %s: %w", k, err)
			}
		}
		return nil
	})
}

const agentsTableSQL = `CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL,
	last_config_checksum TEXT,
	total_metrics_received INTEGER NOT NULL DEFAULT 0,
	agent_version TEXT
)`

const configErrorsTableSQL = `CREATE TABLE IF NOT EXISTS config_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	error_message TEXT NOT NULL,
	received_at INTEGER NOT NULL
)`

const healthChecksTableSQL = `CREATE TABLE IF NOT EXISTS agent_health_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	check_timestamp INTEGER NOT NULL,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	seconds_since_last_push INTEGER NOT NULL,
	expected_entries INTEGER NOT NULL,
	received_entries INTEGER NOT NULL,
	success_ratio REAL NOT NULL,
	is_problematic INTEGER NOT NULL
)`

// aggSchemaForKind declares the server's copy of each per-kind aggregate
// table. Column sets match pkg/agentdb's agg_metric_<kind> tables exactly,
// plus agent_id, so the ingest path is a straight column-for-column copy.
func aggSchemaForKind(k wire.Kind) string {
	table := aggTable(k)
	base := `id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		period_start INTEGER NOT NULL,
		period_end INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		failed_count INTEGER NOT NULL,`

	var extra string
	switch k {
	case wire.KindPing:
		extra = `rtt_min_ms REAL, rtt_max_ms REAL, rtt_avg_ms REAL, packet_loss_percent REAL NOT NULL,`
	case wire.KindTCP:
		extra = `connect_min_ms REAL, connect_max_ms REAL, connect_avg_ms REAL, success_rate_percent REAL NOT NULL,`
	case wire.KindHTTP:
		extra = `total_time_min_ms REAL, total_time_max_ms REAL, total_time_avg_ms REAL,
			status_histogram TEXT, ssl_valid_percent REAL,`
	case wire.KindTLS:
		extra = `handshake_min_ms REAL, handshake_max_ms REAL, handshake_avg_ms REAL,
			ssl_valid_percent REAL, cert_min_days_until_expiry INTEGER,`
	case wire.KindDNS:
		extra = `query_min_ms REAL, query_max_ms REAL, query_avg_ms REAL, unique_resolved_addresses TEXT,`
	case wire.KindBandwidth:
		extra = `throughput_min_mbps REAL, throughput_max_mbps REAL, throughput_avg_mbps REAL,`
	case wire.KindSQL:
		extra = `query_min_ms REAL, query_max_ms REAL, query_avg_ms REAL,`
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s
		%s
		UNIQUE(agent_id, task_name, period_start, period_end)
	)`, table, base, extra)
}
