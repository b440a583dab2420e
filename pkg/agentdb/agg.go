package agentdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/macwilam/netwatch/pkg/wire"
)

// AggregateTask rolls up one task's raw rows for [periodStart, periodEnd)
// into its agg_metric_<kind> table, using INSERT ... ON CONFLICT DO UPDATE
// against the (task_name, period_start, period_end) unique key so a retried
// aggregation pass is idempotent, and returns the resulting row id plus the
// number of raw samples it covered. Called once per task per minute
// boundary by the scheduler's aggregation step.
func AggregateTask(tx *sql.Tx, kind wire.Kind, taskName string, periodStart, periodEnd int64) (rowID int64, sampleCount int, err error) {
	switch kind {
	case wire.KindPing:
		return aggregatePing(tx, taskName, periodStart, periodEnd)
	case wire.KindTCP:
		return aggregateTCP(tx, taskName, periodStart, periodEnd)
	case wire.KindHTTP:
		return aggregateHTTP(tx, taskName, periodStart, periodEnd)
	case wire.KindTLS:
		return aggregateTLS(tx, taskName, periodStart, periodEnd)
	case wire.KindDNS:
		return aggregateDNS(tx, taskName, periodStart, periodEnd)
	case wire.KindBandwidth:
		return aggregateBandwidth(tx, taskName, periodStart, periodEnd)
	case wire.KindSQL:
		return aggregateSQL(tx, taskName, periodStart, periodEnd)
	default:
		return 0, 0, fmt.Errorf("aggregate: unhandled kind %q", kind)
	}
}

func minMaxAvg(vals []float64) (min, max, avg *float64) {
	if len(vals) == 0 {
		return nil, nil, nil
	}
	sort.Float64s(vals)
	lo, hi := vals[0], vals[len(vals)-1]
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	a := sum / float64(len(vals))
	return &lo, &hi, &a
}

func aggregatePing(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT rtt_ms, success FROM %s WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindPing)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var rtts []float64
	successCount, failedCount, total := 0, 0, 0
	for rows.Next() {
		var rtt sql.NullFloat64
		var success bool
		if err := rows.Scan(&rtt, &success); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if rtt.Valid {
			rtts = append(rtts, rtt.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(rtts)
	lossPct := 0.0
	if total > 0 {
		lossPct = float64(failedCount) / float64(total) * 100
	}

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 rtt_min_ms, rtt_max_ms, rtt_avg_ms, packet_loss_percent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, rtt_min_ms=excluded.rtt_min_ms,
		   rtt_max_ms=excluded.rtt_max_ms, rtt_avg_ms=excluded.rtt_avg_ms,
		   packet_loss_percent=excluded.packet_loss_percent
		 RETURNING id`, aggTable(wire.KindPing)),
		taskName, start, end, total, successCount, failedCount, min, max, avg, lossPct).Scan(&id)
	return id, total, err
}

func aggregateTCP(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT connect_time_ms, success FROM %s WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindTCP)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var times []float64
	successCount, failedCount, total := 0, 0, 0
	for rows.Next() {
		var t sql.NullFloat64
		var success bool
		if err := rows.Scan(&t, &success); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			times = append(times, t.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(times)
	rate := 0.0
	if total > 0 {
		rate = float64(successCount) / float64(total) * 100
	}

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 connect_min_ms, connect_max_ms, connect_avg_ms, success_rate_percent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, connect_min_ms=excluded.connect_min_ms,
		   connect_max_ms=excluded.connect_max_ms, connect_avg_ms=excluded.connect_avg_ms,
		   success_rate_percent=excluded.success_rate_percent
		 RETURNING id`, aggTable(wire.KindTCP)),
		taskName, start, end, total, successCount, failedCount, min, max, avg, rate).Scan(&id)
	return id, total, err
}

func aggregateHTTP(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT status_code, total_time_ms, success, ssl_valid FROM %s
		 WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindHTTP)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var times []float64
	histogram := map[int]int{}
	successCount, failedCount, total, sslValidCount, sslSeen := 0, 0, 0, 0, 0
	for rows.Next() {
		var status sql.NullInt64
		var t sql.NullFloat64
		var success bool
		var sslValid sql.NullBool
		if err := rows.Scan(&status, &t, &success, &sslValid); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			times = append(times, t.Float64)
		}
		if status.Valid {
			histogram[int(status.Int64)]++
		}
		if sslValid.Valid {
			sslSeen++
			if sslValid.Bool {
				sslValidCount++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(times)

	codes := make([]int, 0, len(histogram))
	for code := range histogram {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	counts := make([]wire.StatusCount, 0, len(codes))
	for _, code := range codes {
		counts = append(counts, wire.StatusCount{Code: code, Count: histogram[code]})
	}
	histJSON, err := json.Marshal(counts)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal status histogram: %w", err)
	}

	var sslPct *float64
	if sslSeen > 0 {
		pct := float64(sslValidCount) / float64(sslSeen) * 100
		sslPct = &pct
	}

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 total_time_min_ms, total_time_max_ms, total_time_avg_ms, status_histogram, ssl_valid_percent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, total_time_min_ms=excluded.total_time_min_ms,
		   total_time_max_ms=excluded.total_time_max_ms, total_time_avg_ms=excluded.total_time_avg_ms,
		   status_histogram=excluded.status_histogram, ssl_valid_percent=excluded.ssl_valid_percent
		 RETURNING id`, aggTable(wire.KindHTTP)),
		taskName, start, end, total, successCount, failedCount, min, max, avg, string(histJSON), sslPct).Scan(&id)
	return id, total, err
}

func aggregateTLS(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT handshake_timing_ms, success, ssl_valid, ssl_cert_days_until_expiry FROM %s
		 WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindTLS)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var times []float64
	successCount, failedCount, total, sslValidCount, sslSeen := 0, 0, 0, 0, 0
	var minDays *int
	for rows.Next() {
		var t sql.NullFloat64
		var success bool
		var sslValid sql.NullBool
		var days sql.NullInt64
		if err := rows.Scan(&t, &success, &sslValid, &days); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			times = append(times, t.Float64)
		}
		if sslValid.Valid {
			sslSeen++
			if sslValid.Bool {
				sslValidCount++
			}
		}
		if days.Valid {
			d := int(days.Int64)
			if minDays == nil || d < *minDays {
				minDays = &d
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(times)
	var sslPct *float64
	if sslSeen > 0 {
		pct := float64(sslValidCount) / float64(sslSeen) * 100
		sslPct = &pct
	}

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 handshake_min_ms, handshake_max_ms, handshake_avg_ms, ssl_valid_percent, cert_min_days_until_expiry)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, handshake_min_ms=excluded.handshake_min_ms,
		   handshake_max_ms=excluded.handshake_max_ms, handshake_avg_ms=excluded.handshake_avg_ms,
		   ssl_valid_percent=excluded.ssl_valid_percent,
		   cert_min_days_until_expiry=excluded.cert_min_days_until_expiry
		 RETURNING id`, aggTable(wire.KindTLS)),
		taskName, start, end, total, successCount, failedCount, min, max, avg, sslPct, minDays).Scan(&id)
	return id, total, err
}

func aggregateDNS(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT query_timing_ms, success, resolved_addresses FROM %s
		 WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindDNS)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var times []float64
	successCount, failedCount, total := 0, 0, 0
	unique := map[string]struct{}{}
	for rows.Next() {
		var t sql.NullFloat64
		var success bool
		var addrsJSON sql.NullString
		if err := rows.Scan(&t, &success, &addrsJSON); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			times = append(times, t.Float64)
		}
		if addrsJSON.Valid && addrsJSON.String != "" {
			var addrs []string
			if err := json.Unmarshal([]byte(addrsJSON.String), &addrs); err == nil {
				for _, a := range addrs {
					unique[a] = struct{}{}
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(times)

	uniqueList := make([]string, 0, len(unique))
	for a := range unique {
		uniqueList = append(uniqueList, a)
	}
	sort.Strings(uniqueList)
	uniqueJSON, err := json.Marshal(uniqueList)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal unique addresses: %w", err)
	}

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 query_min_ms, query_max_ms, query_avg_ms, unique_resolved_addresses)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, query_min_ms=excluded.query_min_ms,
		   query_max_ms=excluded.query_max_ms, query_avg_ms=excluded.query_avg_ms,
		   unique_resolved_addresses=excluded.unique_resolved_addresses
		 RETURNING id`, aggTable(wire.KindDNS)),
		taskName, start, end, total, successCount, failedCount, min, max, avg, string(uniqueJSON)).Scan(&id)
	return id, total, err
}

func aggregateBandwidth(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT throughput_mbps, success FROM %s
		 WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindBandwidth)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var throughputs []float64
	successCount, failedCount, total := 0, 0, 0
	for rows.Next() {
		var t sql.NullFloat64
		var success bool
		if err := rows.Scan(&t, &success); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			throughputs = append(throughputs, t.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(throughputs)

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 throughput_min_mbps, throughput_max_mbps, throughput_avg_mbps)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, throughput_min_mbps=excluded.throughput_min_mbps,
		   throughput_max_mbps=excluded.throughput_max_mbps, throughput_avg_mbps=excluded.throughput_avg_mbps
		 RETURNING id`, aggTable(wire.KindBandwidth)),
		taskName, start, end, total, successCount, failedCount, min, max, avg).Scan(&id)
	return id, total, err
}

func aggregateSQL(tx *sql.Tx, taskName string, start, end int64) (int64, int, error) {
	rows, err := tx.Query(fmt.Sprintf(
		`SELECT query_timing_ms, success FROM %s
		 WHERE task_name = ? AND timestamp_unix_seconds >= ? AND timestamp_unix_seconds < ?`,
		rawTable(wire.KindSQL)), taskName, start, end)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var times []float64
	successCount, failedCount, total := 0, 0, 0
	for rows.Next() {
		var t sql.NullFloat64
		var success bool
		if err := rows.Scan(&t, &success); err != nil {
			return 0, 0, err
		}
		total++
		if success {
			successCount++
		} else {
			failedCount++
		}
		if t.Valid {
			times = append(times, t.Float64)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	min, max, avg := minMaxAvg(times)

	var id int64
	err = tx.QueryRow(fmt.Sprintf(
		`INSERT INTO %s (task_name, period_start, period_end, sample_count, success_count, failed_count,
		 query_min_ms, query_max_ms, query_avg_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_name, period_start, period_end) DO UPDATE SET
		   sample_count=excluded.sample_count, success_count=excluded.success_count,
		   failed_count=excluded.failed_count, query_min_ms=excluded.query_min_ms,
		   query_max_ms=excluded.query_max_ms, query_avg_ms=excluded.query_avg_ms
		 RETURNING id`, aggTable(wire.KindSQL)),
		taskName, start, end, total, successCount, failedCount, min, max, avg).Scan(&id)
	return id, total, err
}

// LoadAggregated reads one agg row back out as the wire type the sender
// ships to the server.
func LoadAggregated(tx *sql.Tx, kind wire.Kind, taskType wire.TaskType, rowID int64) (wire.AggregatedMetrics, error) {
	out := wire.AggregatedMetrics{TaskType: taskType}

	switch kind {
	case wire.KindPing:
		var d wire.AggPingData
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 rtt_min_ms, rtt_max_ms, rtt_avg_ms, packet_loss_percent FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.RTTMinMs, &d.RTTMaxMs, &d.RTTAvgMs, &d.PacketLossPercent); err != nil {
			return out, err
		}
		out.Ping = &d
		return out, nil

	case wire.KindTCP:
		var d wire.AggTCPData
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 connect_min_ms, connect_max_ms, connect_avg_ms, success_rate_percent FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.ConnectMinMs, &d.ConnectMaxMs, &d.ConnectAvgMs, &d.SuccessRatePct); err != nil {
			return out, err
		}
		out.TCP = &d
		return out, nil

	case wire.KindHTTP:
		var d wire.AggHTTPData
		var histJSON string
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 total_time_min_ms, total_time_max_ms, total_time_avg_ms, status_histogram, ssl_valid_percent
			 FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.TotalTimeMinMs, &d.TotalTimeMaxMs, &d.TotalTimeAvgMs,
			&histJSON, &d.SSLValidPercent); err != nil {
			return out, err
		}
		if histJSON != "" {
			if err := json.Unmarshal([]byte(histJSON), &d.StatusHistogram); err != nil {
				return out, fmt.Errorf("unmarshal status histogram: %w", err)
			}
		}
		out.HTTP = &d
		return out, nil

	case wire.KindTLS:
		var d wire.AggTLSData
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 handshake_min_ms, handshake_max_ms, handshake_avg_ms, ssl_valid_percent, cert_min_days_until_expiry
			 FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.HandshakeMinMs, &d.HandshakeMaxMs, &d.HandshakeAvgMs,
			&d.SSLValidPercent, &d.CertMinDaysUntilExpiry); err != nil {
			return out, err
		}
		out.TLS = &d
		return out, nil

	case wire.KindDNS:
		var d wire.AggDNSData
		var addrsJSON string
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 query_min_ms, query_max_ms, query_avg_ms, unique_resolved_addresses FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.QueryMinMs, &d.QueryMaxMs, &d.QueryAvgMs, &addrsJSON); err != nil {
			return out, err
		}
		if addrsJSON != "" {
			if err := json.Unmarshal([]byte(addrsJSON), &d.UniqueResolvedAddresses); err != nil {
				return out, fmt.Errorf("unmarshal unique addresses: %w", err)
			}
		}
		out.DNS = &d
		return out, nil

	case wire.KindBandwidth:
		var d wire.AggBandwidthData
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 throughput_min_mbps, throughput_max_mbps, throughput_avg_mbps FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.ThroughputMinMbps, &d.ThroughputMaxMbps, &d.ThroughputAvgMbps); err != nil {
			return out, err
		}
		out.Bandwidth = &d
		return out, nil

	case wire.KindSQL:
		var d wire.AggSQLData
		row := tx.QueryRow(fmt.Sprintf(
			`SELECT task_name, period_start, period_end, sample_count, success_count, failed_count,
			 query_min_ms, query_max_ms, query_avg_ms FROM %s WHERE id = ?`, aggTable(kind)), rowID)
		if err := row.Scan(&out.TaskName, &out.PeriodStart, &out.PeriodEnd, &out.SampleCount,
			&d.SuccessCount, &d.FailedCount, &d.QueryMinMs, &d.QueryMaxMs, &d.QueryAvgMs); err != nil {
			return out, err
		}
		out.SQL = &d
		return out, nil

	default:
		return out, fmt.Errorf("load aggregated: unhandled kind %q", kind)
	}
}
