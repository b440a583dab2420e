package agentdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/wire"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.db")
	db, err := Open(path, 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func floatPtr(v float64) *float64 { return &v }

func TestInsertRawAndAggregatePing(t *testing.T) {
	db := openTestDB(t)

	samples := []wire.MetricData{
		{TaskName: "ping-google", TaskType: wire.TaskPing, TimestampUnixSecs: 1000,
			Ping: &wire.RawPingMetric{RTTMs: floatPtr(10), Success: true, IPAddress: "1.1.1.1"}},
		{TaskName: "ping-google", TaskType: wire.TaskPing, TimestampUnixSecs: 1010,
			Ping: &wire.RawPingMetric{RTTMs: floatPtr(20), Success: true, IPAddress: "1.1.1.1"}},
		{TaskName: "ping-google", TaskType: wire.TaskPing, TimestampUnixSecs: 1015,
			Ping: &wire.RawPingMetric{Success: false, IPAddress: "1.1.1.1"}},
	}
	for _, s := range samples {
		_, err := db.InsertRaw(s)
		require.NoError(t, err)
	}

	var rowID int64
	var sampleCount int
	err := db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		rowID, sampleCount, err = AggregateTask(tx, wire.KindPing, "ping-google", 960, 1020)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 3, sampleCount)

	var agg wire.AggregatedMetrics
	err = db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		agg, err = LoadAggregated(tx, wire.KindPing, wire.TaskPing, rowID)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, agg.Ping.SuccessCount)
	require.Equal(t, 1, agg.Ping.FailedCount)
	require.InDelta(t, 10, *agg.Ping.RTTMinMs, 0.001)
	require.InDelta(t, 20, *agg.Ping.RTTMaxMs, 0.001)
}

func TestAggregateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertRaw(wire.MetricData{
		TaskName: "t", TaskType: wire.TaskPing, TimestampUnixSecs: 5,
		Ping: &wire.RawPingMetric{RTTMs: floatPtr(5), Success: true, IPAddress: "1.1.1.1"},
	})
	require.NoError(t, err)

	var id1, id2 int64
	err = db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		id1, _, err = AggregateTask(tx, wire.KindPing, "t", 0, 60)
		return err
	})
	require.NoError(t, err)
	err = db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		id2, _, err = AggregateTask(tx, wire.KindPing, "t", 0, 60)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestQueueLifecycleAndBackoff(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertRaw(wire.MetricData{
		TaskName: "t", TaskType: wire.TaskPing, TimestampUnixSecs: 5,
		Ping: &wire.RawPingMetric{Success: true, IPAddress: "1.1.1.1"},
	})
	require.NoError(t, err)

	var rowID int64
	err = db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		rowID, _, err = AggregateTask(tx, wire.KindPing, "t", 0, 60)
		if err != nil {
			return err
		}
		return EnqueueSend(tx, wire.KindPing, rowID, "t", 0, 60, 100)
	})
	require.NoError(t, err)

	pending, err := db.FetchPending(10, 200)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, wire.QueuePending, pending[0].Status)

	require.NoError(t, db.MarkSending([]int64{pending[0].ID}))
	require.NoError(t, db.MarkFailed(pending[0].ID, 200, 8, assertErr{}))

	// Should not be eligible again until next_retry_at.
	pending, err = db.FetchPending(10, 200)
	require.NoError(t, err)
	require.Len(t, pending, 0)

	pending, err = db.FetchPending(10, 200+BackoffSeconds(1))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, db.MarkSent(pending[0].ID, 300))
}

func TestCleanupRespectsWeakQueueReference(t *testing.T) {
	db := openTestDB(t)
	_, err := db.InsertRaw(wire.MetricData{
		TaskName: "t", TaskType: wire.TaskPing, TimestampUnixSecs: 5,
		Ping: &wire.RawPingMetric{Success: true, IPAddress: "1.1.1.1"},
	})
	require.NoError(t, err)

	var rowID int64
	err = db.engine.WithTx(func(tx *sql.Tx) error {
		var err error
		rowID, _, err = AggregateTask(tx, wire.KindPing, "t", 0, 60)
		if err != nil {
			return err
		}
		return EnqueueSend(tx, wire.KindPing, rowID, "t", 0, 60, 100)
	})
	require.NoError(t, err)

	// Cleanup far in the future: raw rows are gone, but the agg row survives
	// because its queue entry is still pending (not sent).
	res, err := db.Cleanup(0, 100_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RawRowsDeleted)
	require.Equal(t, int64(0), res.AggRowsDeleted)

	require.NoError(t, db.MarkSent(1, 100))
	res, err = db.Cleanup(0, 100_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.AggRowsDeleted)
}

type assertErr struct{}

func (assertErr) Error() string { return "send failed" }
