package serverdb

import (
	"database/sql"

	"github.com/macwilam/netwatch/pkg/wire"
)

// InsertConfigError records one agent-reported config error, surfaced via
// POST /api/v1/config/error (spec.md §6's supplemental error-reporting path).
func (db *DB) InsertConfigError(agentID string, timestamp, receivedAt int64, message string) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO config_errors (agent_id, timestamp, error_message, received_at) VALUES (?, ?, ?, ?)`,
			agentID, timestamp, message, receivedAt)
		return err
	})
}

// RecentConfigErrors returns the most recent config_errors rows for an
// agent, most recent first.
func (db *DB) RecentConfigErrors(agentID string, limit int) ([]wire.ConfigError, error) {
	var errs []wire.ConfigError
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, agent_id, timestamp, error_message, received_at FROM config_errors
			 WHERE agent_id = ? ORDER BY received_at DESC LIMIT ?`, agentID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e wire.ConfigError
			if err := rows.Scan(&e.ID, &e.AgentID, &e.Timestamp, &e.ErrorMessage, &e.ReceivedAt); err != nil {
				return err
			}
			errs = append(errs, e)
		}
		return rows.Err()
	})
	return errs, err
}
