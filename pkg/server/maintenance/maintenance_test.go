package maintenance

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/serverdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

func openTestDB(t *testing.T) *serverdb.DB {
	t.Helper()
	db, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCleanupDeletesExpiredMetrics(t *testing.T) {
	db := openTestDB(t)
	now := int64(30 * 86400)

	require.NoError(t, db.IngestMetrics("agent-1", "hash", "1.0.0", []wire.AggregatedMetrics{
		{TaskName: "ping", TaskType: wire.TaskPing, PeriodStart: 0, PeriodEnd: 60, SampleCount: 1,
			Ping: &wire.AggPingData{SuccessCount: 1}},
	}, now))

	r := New(Config{DataRetentionDays: 7, CleanupIntervalSeconds: 1, WALCheckpointIntervalSeconds: 3600}, db)
	r.nowFn = func() time.Time { return time.Unix(now, 0) }

	r.cleanup()

	n, err := db.CountReceivedEntries("agent-1", 0, 60)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCheckpointDoesNotError(t *testing.T) {
	db := openTestDB(t)
	r := New(Config{DataRetentionDays: 7, CleanupIntervalSeconds: 3600, WALCheckpointIntervalSeconds: 1}, db)
	r.checkpoint()
}
