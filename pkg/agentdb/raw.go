package agentdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/macwilam/netwatch/pkg/wire"
)

// InsertRaw stores one probe result and returns the kind it was filed under.
// Callers (the scheduler's flush path) batch many of these inside a single
// WithTx for throughput; InsertRawTx is the transaction-scoped half used for
// that, InsertRaw below wraps it in its own transaction for callers that
// just want one row written.
func (db *DB) InsertRaw(m wire.MetricData) (wire.Kind, error) {
	kind, ok := m.Kind()
	if !ok {
		return "", fmt.Errorf("insert raw: unknown task type %q", m.TaskType)
	}
	err := db.engine.WithTx(func(tx *sql.Tx) error {
		return InsertRawTx(tx, m)
	})
	return kind, err
}

// InsertRawTx writes one raw metric row within an already-open transaction.
func InsertRawTx(tx *sql.Tx, m wire.MetricData) error {
	kind, ok := m.Kind()
	if !ok {
		return fmt.Errorf("insert raw: unknown task type %q", m.TaskType)
	}
	table := rawTable(kind)

	switch kind {
	case wire.KindPing:
		p := m.Ping
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, rtt_ms, success, error, ip_address, domain, target_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, p.RTTMs, p.Success, p.Error, p.IPAddress, p.Domain, p.TargetID)
		return err

	case wire.KindTCP:
		t := m.TCP
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, connect_time_ms, success, error, target_id)
			 VALUES (?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, t.ConnectTimeMs, t.Success, t.Error, t.TargetID)
		return err

	case wire.KindHTTP:
		h := m.HTTP
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, status_code, tcp_timing_ms, tls_timing_ms,
			 ttfb_timing_ms, content_download_timing_ms, total_time_ms, success, error, ssl_valid,
			 ssl_cert_days_until_expiry, content_matched, target_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, h.StatusCode, h.TCPTimingMs, h.TLSTimingMs, h.TTFBTimingMs,
			h.ContentDownloadTimingMs, h.TotalTimeMs, h.Success, h.Error, h.SSLValid, h.SSLCertDaysUntilExpiry,
			h.ContentMatched, h.TargetID)
		return err

	case wire.KindTLS:
		t := m.TLS
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, handshake_timing_ms, success, error, ssl_valid,
			 ssl_cert_days_until_expiry, target_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, t.HandshakeTimingMs, t.Success, t.Error, t.SSLValid,
			t.SSLCertDaysUntilExpiry, t.TargetID)
		return err

	case wire.KindDNS:
		d := m.DNS
		addrs, err := json.Marshal(d.ResolvedAddresses)
		if err != nil {
			return fmt.Errorf("marshal resolved addresses: %w", err)
		}
		_, err = tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, query_timing_ms, success, error,
			 resolved_addresses, target_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, d.QueryTimingMs, d.Success, d.Error, string(addrs), d.TargetID)
		return err

	case wire.KindBandwidth:
		b := m.Bandwidth
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, download_timing_ms, bytes_downloaded,
			 throughput_mbps, success, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, b.DownloadTimingMs, b.BytesDownloaded, b.ThroughputMbps,
			b.Success, b.Error)
		return err

	case wire.KindSQL:
		s := m.SQL
		_, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO %s (task_name, timestamp_unix_seconds, query_timing_ms, rows_returned, success, error)
			 VALUES (?, ?, ?, ?, ?, ?)`, table),
			m.TaskName, m.TimestampUnixSecs, s.QueryTimingMs, s.RowsReturned, s.Success, s.Error)
		return err

	default:
		return fmt.Errorf("insert raw: unhandled kind %q", kind)
	}
}
