package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/macwilam/netwatch/pkg/wire"
)

// IngestMetrics writes one agent's batch of already-aggregated minutes in a
// single transaction, upserting the agents row (first_seen/last_seen/
// total_metrics_received/checksum) alongside. The per-kind insert keys off
// (agent_id, task_name, period_start, period_end), so a retried upload (the
// agent resending because it never saw the response) is idempotent.
func (db *DB) IngestMetrics(agentID, configChecksum, agentVersion string, metrics []wire.AggregatedMetrics, now int64) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		for _, m := range metrics {
			kind, ok := m.Kind()
			if !ok {
				return fmt.Errorf("ingest: unknown task type %q for task %q", m.TaskType, m.TaskName)
			}
			if err := insertAggTx(tx, kind, agentID, m); err != nil {
				return fmt.Errorf("ingest %s/%s: %w", kind, m.TaskName, err)
			}
		}
		return upsertAgentTx(tx, agentID, configChecksum, agentVersion, int64(len(metrics)), now)
	})
}

func insertAggTx(tx *sql.Tx, kind wire.Kind, agentID string, m wire.AggregatedMetrics) error {
	table := aggTable(kind)

	switch kind {
	case wire.KindPing:
		d := m.Ping
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, rtt_min_ms, rtt_max_ms, rtt_avg_ms, packet_loss_percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, rtt_min_ms=excluded.rtt_min_ms,
			   rtt_max_ms=excluded.rtt_max_ms, rtt_avg_ms=excluded.rtt_avg_ms,
			   packet_loss_percent=excluded.packet_loss_percent`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.RTTMinMs, d.RTTMaxMs, d.RTTAvgMs, d.PacketLossPercent)
		return err

	case wire.KindTCP:
		d := m.TCP
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, connect_min_ms, connect_max_ms, connect_avg_ms, success_rate_percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, connect_min_ms=excluded.connect_min_ms,
			   connect_max_ms=excluded.connect_max_ms, connect_avg_ms=excluded.connect_avg_ms,
			   success_rate_percent=excluded.success_rate_percent`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.ConnectMinMs, d.ConnectMaxMs, d.ConnectAvgMs, d.SuccessRatePct)
		return err

	case wire.KindHTTP:
		d := m.HTTP
		histJSON, err := json.Marshal(d.StatusHistogram)
		if err != nil {
			return fmt.Errorf("marshal status histogram: %w", err)
		}
		_, err = tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, total_time_min_ms, total_time_max_ms, total_time_avg_ms, status_histogram, ssl_valid_percent)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, total_time_min_ms=excluded.total_time_min_ms,
			   total_time_max_ms=excluded.total_time_max_ms, total_time_avg_ms=excluded.total_time_avg_ms,
			   status_histogram=excluded.status_histogram, ssl_valid_percent=excluded.ssl_valid_percent`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.TotalTimeMinMs, d.TotalTimeMaxMs, d.TotalTimeAvgMs, string(histJSON), d.SSLValidPercent)
		return err

	case wire.KindTLS:
		d := m.TLS
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, handshake_min_ms, handshake_max_ms, handshake_avg_ms, ssl_valid_percent,
			 cert_min_days_until_expiry)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, handshake_min_ms=excluded.handshake_min_ms,
			   handshake_max_ms=excluded.handshake_max_ms, handshake_avg_ms=excluded.handshake_avg_ms,
			   ssl_valid_percent=excluded.ssl_valid_percent,
			   cert_min_days_until_expiry=excluded.cert_min_days_until_expiry`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.HandshakeMinMs, d.HandshakeMaxMs, d.HandshakeAvgMs, d.SSLValidPercent, d.CertMinDaysUntilExpiry)
		return err

	case wire.KindDNS:
		d := m.DNS
		addrsJSON, err := json.Marshal(d.UniqueResolvedAddresses)
		if err != nil {
			return fmt.Errorf("marshal unique addresses: %w", err)
		}
		_, err = tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, query_min_ms, query_max_ms, query_avg_ms, unique_resolved_addresses)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, query_min_ms=excluded.query_min_ms,
			   query_max_ms=excluded.query_max_ms, query_avg_ms=excluded.query_avg_ms,
			   unique_resolved_addresses=excluded.unique_resolved_addresses`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.QueryMinMs, d.QueryMaxMs, d.QueryAvgMs, string(addrsJSON))
		return err

	case wire.KindBandwidth:
		d := m.Bandwidth
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, throughput_min_mbps, throughput_max_mbps, throughput_avg_mbps)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, throughput_min_mbps=excluded.throughput_min_mbps,
			   throughput_max_mbps=excluded.throughput_max_mbps, throughput_avg_mbps=excluded.throughput_avg_mbps`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.ThroughputMinMbps, d.ThroughputMaxMbps, d.ThroughputAvgMbps)
		return err

	case wire.KindSQL:
		d := m.SQL
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (agent_id, task_name, period_start, period_end, sample_count, success_count,
			 failed_count, query_min_ms, query_max_ms, query_avg_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(agent_id, task_name, period_start, period_end) DO UPDATE SET
			   sample_count=excluded.sample_count, success_count=excluded.success_count,
			   failed_count=excluded.failed_count, query_min_ms=excluded.query_min_ms,
			   query_max_ms=excluded.query_max_ms, query_avg_ms=excluded.query_avg_ms`, table),
			agentID, m.TaskName, m.PeriodStart, m.PeriodEnd, m.SampleCount, d.SuccessCount, d.FailedCount,
			d.QueryMinMs, d.QueryMaxMs, d.QueryAvgMs)
		return err

	default:
		return fmt.Errorf("ingest: unhandled kind %q", kind)
	}
}

// CountReceivedEntries sums agg rows received from agentID across every
// kind in wire.Kinds for [periodStart, periodEnd), ranging over the same
// registry aggregation and table creation use so a kind added to the
// registry is automatically counted here too.
func (db *DB) CountReceivedEntries(agentID string, periodStart, periodEnd int64) (int, error) {
	total := 0
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		for _, k := range wire.Kinds {
			var n int
			row := tx.QueryRow(fmt.Sprintf(
				`SELECT COUNT(*) FROM %s WHERE agent_id = ? AND period_start >= ? AND period_start < ?`,
				aggTable(k)), agentID, periodStart, periodEnd)
			if err := row.Scan(&n); err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// CleanupOldMetrics deletes aggregated rows older than retentionDays across
// every kind in wire.Kinds, mirroring pkg/agentdb's retention sweep but
// server-side and per-agent rather than per-device-local.
func (db *DB) CleanupOldMetrics(retentionDays int, now int64) (int64, error) {
	cutoff := now - int64(retentionDays)*86400
	var deleted int64
	err := db.engine.WithTx(func(tx *sql.Tx) error {
		for _, k := range wire.Kinds {
			res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE period_end < ?`, aggTable(k)), cutoff)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", aggTable(k), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	return deleted, err
}
