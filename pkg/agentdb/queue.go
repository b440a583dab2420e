package agentdb

import (
	"database/sql"
	"fmt"

	"github.com/macwilam/netwatch/pkg/wire"
)

// EnqueueSend inserts one metric_send_queue row referencing an agg row that
// was just written in the same transaction, so aggregation and enqueue are
// atomic: every aggregate either has a queue entry or doesn't exist yet.
func EnqueueSend(tx *sql.Tx, kind wire.Kind, rowID int64, taskName string, periodStart, periodEnd, now int64) error {
	_, err := tx.Exec(
		`INSERT INTO metric_send_queue
		 (metric_type, metric_row_id, task_name, period_start, period_end, status, created_at, retry_count, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(metric_type, metric_row_id) DO NOTHING`,
		string(kind), rowID, taskName, periodStart, periodEnd, wire.QueuePending, now, now)
	if err != nil {
		return fmt.Errorf("enqueue send: %w", err)
	}
	return nil
}

// FetchPending returns up to limit queue rows eligible to send now: status
// pending with next_retry_at <= now, oldest first. failed is terminal and
// never eligible again.
func (db *DB) FetchPending(limit int, now int64) ([]wire.QueueEntry, error) {
	var entries []wire.QueueEntry
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, metric_type, metric_row_id, task_name, period_start, period_end, status,
			 created_at, sent_at, retry_count, last_retry_at, last_error, next_retry_at
			 FROM metric_send_queue
			 WHERE status = ? AND next_retry_at <= ?
			 ORDER BY created_at ASC
			 LIMIT ?`,
			wire.QueuePending, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e wire.QueueEntry
			var status string
			if err := rows.Scan(&e.ID, &e.MetricType, &e.MetricRowID, &e.TaskName, &e.PeriodStart, &e.PeriodEnd,
				&status, &e.CreatedAt, &e.SentAt, &e.RetryCount, &e.LastRetryAt, &e.LastError, &e.NextRetryAt); err != nil {
				return err
			}
			e.Status = wire.QueueStatus(status)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	return entries, err
}

// MarkSending flips a batch of queue rows to "sending" so a concurrent
// fetch doesn't pick them up twice.
func (db *DB) MarkSending(ids []int64) error {
	return db.forEachID(ids, func(tx *sql.Tx, id int64) error {
		_, err := tx.Exec(`UPDATE metric_send_queue SET status = ? WHERE id = ?`, wire.QueueSending, id)
		return err
	})
}

// QueueDepth counts rows not yet sent (pending, sending, or terminally
// failed), for metrics reporting.
func (db *DB) QueueDepth() (int, error) {
	var n int
	err := db.engine.WithReadTx(func(tx *sql.Tx) error {
		return tx.QueryRow(
			`SELECT COUNT(*) FROM metric_send_queue WHERE status != ?`, wire.QueueSent,
		).Scan(&n)
	})
	return n, err
}

// MarkSent marks a queue row delivered.
func (db *DB) MarkSent(id int64, now int64) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE metric_send_queue SET status = ?, sent_at = ? WHERE id = ?`,
			wire.QueueSent, now, id)
		return err
	})
}

// DeleteQueueEntry removes an orphan queue row whose referenced aggregate
// row no longer exists (the aggregate was cleaned up by retention before
// the queue row was sent).
func (db *DB) DeleteQueueEntry(id int64) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM metric_send_queue WHERE id = ?`, id)
		return err
	})
}

// MarkFailed records a failed send attempt. status stays pending and the next
// attempt is scheduled using min(2^retry_count minutes, 60 minutes) backoff,
// unless the new retry count reaches maxRetries, in which case the row moves
// to the terminal failed status and FetchPending never reconsiders it.
func (db *DB) MarkFailed(id int64, now int64, maxRetries int, sendErr error) error {
	return db.engine.WithTx(func(tx *sql.Tx) error {
		var retryCount int
		if err := tx.QueryRow(`SELECT retry_count FROM metric_send_queue WHERE id = ?`, id).Scan(&retryCount); err != nil {
			return err
		}
		retryCount++
		status := wire.QueuePending
		nextRetryAt := now + BackoffSeconds(retryCount)
		if retryCount >= maxRetries {
			status = wire.QueueFailed
		}
		errMsg := sendErr.Error()
		_, err := tx.Exec(
			`UPDATE metric_send_queue SET status = ?, retry_count = ?, last_retry_at = ?, last_error = ?, next_retry_at = ?
			 WHERE id = ?`,
			status, retryCount, now, errMsg, nextRetryAt, id)
		return err
	})
}

func (db *DB) forEachID(ids []int64, fn func(tx *sql.Tx, id int64) error) error {
	if len(ids) == 0 {
		return nil
	}
	return db.engine.WithTx(func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := fn(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// BackoffSeconds implements the agent's retry schedule: min(2^retryCount
// minutes, 60 minutes). retryCount is the attempt number about to be made
// (1 for the first retry after an initial failure).
func BackoffSeconds(retryCount int) int64 {
	const maxMinutes = 60
	minutes := 1 << uint(retryCount)
	if minutes > maxMinutes || minutes <= 0 {
		minutes = maxMinutes
	}
	return int64(minutes) * 60
}
