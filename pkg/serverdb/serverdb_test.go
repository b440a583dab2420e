package serverdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/wire"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	db, err := Open(path, 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIngestMetricsUpsertsAgentAndIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	metrics := []wire.AggregatedMetrics{
		{
			TaskName: "ping-google", TaskType: wire.TaskPing, PeriodStart: 60, PeriodEnd: 120, SampleCount: 2,
			Ping: &wire.AggPingData{SuccessCount: 2, PacketLossPercent: 0},
		},
	}

	require.NoError(t, db.IngestMetrics("agent-1", "abc123", "1.0.0", metrics, 1000))
	require.NoError(t, db.IngestMetrics("agent-1", "abc123", "1.0.0", metrics, 1010))

	n, err := db.CountReceivedEntries("agent-1", 60, 120)
	require.NoError(t, err)
	require.Equal(t, 1, n) // second ingest updates the same row, not a duplicate

	rec, found, err := db.GetAgent("agent-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc123", rec.LastConfigChecksum)
	require.Equal(t, int64(2), rec.TotalMetricsReceived)
}

func TestHealthCheckRoundTrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertHealthCheck(wire.AgentHealthCheck{
		AgentID: "agent-1", CheckTimestamp: 1000, PeriodStart: 940, PeriodEnd: 1000,
		ExpectedEntries: 10, ReceivedEntries: 8, SuccessRatio: 0.8, IsProblematic: false,
	}))
	require.NoError(t, db.InsertHealthCheck(wire.AgentHealthCheck{
		AgentID: "agent-1", CheckTimestamp: 1060, PeriodStart: 1000, PeriodEnd: 1060,
		ExpectedEntries: 10, ReceivedEntries: 2, SuccessRatio: 0.2, IsProblematic: true,
	}))

	latest, err := db.LatestHealthChecks()
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, int64(1060), latest[0].CheckTimestamp)
	require.True(t, latest[0].IsProblematic)
}

func TestConfigErrorsRecorded(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertConfigError("agent-1", 1000, 1001, "invalid tasks.toml"))
	errs, err := db.RecentConfigErrors("agent-1", 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "invalid tasks.toml", errs[0].ErrorMessage)
}

func TestCleanupOldMetricsRespectsRetention(t *testing.T) {
	db := openTestDB(t)

	old := []wire.AggregatedMetrics{
		{TaskName: "ping-old", TaskType: wire.TaskPing, PeriodStart: 0, PeriodEnd: 60, SampleCount: 1,
			Ping: &wire.AggPingData{SuccessCount: 1}},
	}
	now := int64(30 * 86400)
	recent := []wire.AggregatedMetrics{
		{TaskName: "ping-new", TaskType: wire.TaskPing, PeriodStart: now - 60, PeriodEnd: now, SampleCount: 1,
			Ping: &wire.AggPingData{SuccessCount: 1}},
	}
	require.NoError(t, db.IngestMetrics("agent-1", "abc", "1.0.0", old, now))
	require.NoError(t, db.IngestMetrics("agent-1", "abc", "1.0.0", recent, now))

	deleted, err := db.CleanupOldMetrics(7, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	n, err := db.CountReceivedEntries("agent-1", now-60, now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = db.CountReceivedEntries("agent-1", 0, 60)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
