package serverdb

import (
	"database/sql"
	"fmt"

	"github.com/macwilam/netwatch/pkg/wire"
)

func upsertAgentTx(tx *sql.Tx, agentID, configChecksum, agentVersion string, metricsReceived, now int64) error {
	_, err := tx.Exec(
		`INSERT INTO agents (agent_id, first_seen, last_seen, last_config_checksum, total_metrics_received, agent_version)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		   last_seen=excluded.last_seen,
		   last_config_checksum=excluded.last_config_checksum,
		   total_metrics_received=agents.total_metrics_received + excluded.total_metrics_received,
		   agent_version=excluded.agent_version`,
		agentID, now, now, configChecksum, metricsReceived, agentVersion)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", agentID, err)
	}
	return nil
}

// GetAgent loads one agent's record, or (zero value, false, nil) if unknown.
func (db *DB) GetAgent(agentID string) (wire.AgentRecord, bool, error) {
	var rec wire.AgentRecord
	found := false
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(
			`SELECT agent_id, first_seen, last_seen, last_config_checksum, total_metrics_received, agent_version
			 FROM agents WHERE agent_id = ?`, agentID)
		err := row.Scan(&rec.AgentID, &rec.FirstSeen, &rec.LastSeen, &rec.LastConfigChecksum,
			&rec.TotalMetricsReceived, &rec.AgentVersion)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return rec, found, err
}

// ListAgents returns every known agent, ordered by agent_id.
func (db *DB) ListAgents() ([]wire.AgentRecord, error) {
	var agents []wire.AgentRecord
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT agent_id, first_seen, last_seen, last_config_checksum, total_metrics_received, agent_version
			 FROM agents ORDER BY agent_id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec wire.AgentRecord
			if err := rows.Scan(&rec.AgentID, &rec.FirstSeen, &rec.LastSeen, &rec.LastConfigChecksum,
				&rec.TotalMetricsReceived, &rec.AgentVersion); err != nil {
				return err
			}
			agents = append(agents, rec)
		}
		return rows.Err()
	})
	return agents, err
}

// TouchAgentSeen records that an agent was seen (via any authenticated
// request, not just a metrics upload) without crediting received metrics or
// clobbering the last known config checksum / version.
func (db *DB) TouchAgentSeen(agentID string, now int64) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO agents (agent_id, first_seen, last_seen, total_metrics_received)
			 VALUES (?, ?, ?, 0)
			 ON CONFLICT(agent_id) DO UPDATE SET last_seen=excluded.last_seen`,
			agentID, now, now)
		return err
	})
}
