package agentdb

import (
	"database/sql"
	"fmt"

	"github.com/macwilam/netwatch/pkg/wire"
)

// CleanupResult tallies what one retention pass removed, for logging.
type CleanupResult struct {
	RawRowsDeleted   int64
	AggRowsDeleted   int64
	QueueRowsDeleted int64
}

// sentQueueRetentionHours is how long a sent metric_send_queue row is kept
// around after delivery before being swept, independent of the data
// retention window.
const sentQueueRetentionHours = 24

// Cleanup deletes raw rows older than retentionDays unconditionally, and
// aggregate rows older than retentionDays EXCEPT ones still weakly
// referenced by a non-sent metric_send_queue row — the invariant in
// spec.md §3 that a slow or failing send must not have its source data
// vanish out from under it. Sent queue rows are swept on their own fixed
// sentQueueRetentionHours window rather than the data retention window.
func (db *DB) Cleanup(retentionDays int, now int64) (CleanupResult, error) {
	cutoff := now - int64(retentionDays)*86400
	queueCutoff := now - sentQueueRetentionHours*3600
	var result CleanupResult

	err := db.engine.WithTx(func(tx *sql.Tx) error {
		for _, kind := range allKinds() {
			res, err := tx.Exec(fmt.Sprintf(
				`DELETE FROM %s WHERE timestamp_unix_seconds < ?`, rawTable(kind)), cutoff)
			if err != nil {
				return fmt.Errorf("cleanup raw %s: %w", kind, err)
			}
			n, _ := res.RowsAffected()
			result.RawRowsDeleted += n

			res, err = tx.Exec(fmt.Sprintf(
				`DELETE FROM %s WHERE period_end < ?
				 AND id NOT IN (
				   SELECT metric_row_id FROM metric_send_queue
				   WHERE metric_type = ? AND status != ?
				 )`, aggTable(kind)), cutoff, string(kind), wire.QueueSent)
			if err != nil {
				return fmt.Errorf("cleanup agg %s: %w", kind, err)
			}
			n, _ = res.RowsAffected()
			result.AggRowsDeleted += n
		}

		res, err := tx.Exec(`DELETE FROM metric_send_queue WHERE status = ? AND sent_at < ?`,
			wire.QueueSent, queueCutoff)
		if err != nil {
			return fmt.Errorf("cleanup queue: %w", err)
		}
		n, _ := res.RowsAffected()
		result.QueueRowsDeleted = n
		return nil
	})
	return result, err
}
