package serverdb

import (
	"database/sql"

	"github.com/macwilam/netwatch/pkg/wire"
)

// InsertHealthCheck records one health-monitor pass's verdict for one agent.
func (db *DB) InsertHealthCheck(c wire.AgentHealthCheck) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO agent_health_checks
			 (agent_id, check_timestamp, period_start, period_end, seconds_since_last_push,
			  expected_entries, received_entries, success_ratio, is_problematic)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.AgentID, c.CheckTimestamp, c.PeriodStart, c.PeriodEnd, c.SecondsSinceLastPush,
			c.ExpectedEntries, c.ReceivedEntries, c.SuccessRatio, c.IsProblematic)
		return err
	})
}

// LatestHealthChecks returns the most recent health check row per agent.
func (db *DB) LatestHealthChecks() ([]wire.AgentHealthCheck, error) {
	var checks []wire.AgentHealthCheck
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT h.agent_id, h.check_timestamp, h.period_start, h.period_end, h.seconds_since_last_push,
			 h.expected_entries, h.received_entries, h.success_ratio, h.is_problematic
			 FROM agent_health_checks h
			 INNER JOIN (
			   SELECT agent_id, MAX(check_timestamp) AS max_ts
			   FROM agent_health_checks GROUP BY agent_id
			 ) latest ON h.agent_id = latest.agent_id AND h.check_timestamp = latest.max_ts
			 ORDER BY h.agent_id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c wire.AgentHealthCheck
			if err := rows.Scan(&c.AgentID, &c.CheckTimestamp, &c.PeriodStart, &c.PeriodEnd,
				&c.SecondsSinceLastPush, &c.ExpectedEntries, &c.ReceivedEntries, &c.SuccessRatio,
				&c.IsProblematic); err != nil {
				return err
			}
			checks = append(checks, c)
		}
		return rows.Err()
	})
	return checks, err
}

// CleanupOldHealthData deletes health check rows older than retentionDays.
func (db *DB) CleanupOldHealthData(retentionDays int, now int64) (int64, error) {
	cutoff := now - int64(retentionDays)*86400
	var deleted int64
	err := db.engine.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM agent_health_checks WHERE check_timestamp < ?`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
