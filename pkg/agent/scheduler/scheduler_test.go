package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

func TestStaggerDelay(t *testing.T) {
	require.Equal(t, time.Duration(0), staggerDelay(0))
	require.Equal(t, time.Duration(0), staggerDelay(1))
	require.Equal(t, 15*time.Second, staggerDelay(2))
	require.Equal(t, 3*time.Second, staggerDelay(10))
}

func TestFloorToMinute(t *testing.T) {
	require.Equal(t, int64(120), floorToMinute(125))
	require.Equal(t, int64(120), floorToMinute(120))
	require.Equal(t, int64(0), floorToMinute(59))
}

func TestChanFlagPreventsOverlap(t *testing.T) {
	f := newChanFlag()
	require.True(t, f.tryAcquire())
	require.False(t, f.tryAcquire())
	f.release()
	require.True(t, f.tryAcquire())
}

func TestSchedulerRunsTaskAndFlushesToDatabase(t *testing.T) {
	db, err := agentdb.Open(filepath.Join(t.TempDir(), "agent.db"), 5)
	require.NoError(t, err)
	defer db.Close()

	cfg := wire.DefaultAgentConfig()
	cfg.MetricsFlushIntervalSeconds = 1
	cfg.QueueCleanupIntervalSeconds = 3600
	cfg.DataCleanupIntervalSeconds = 3600

	tasks := []wire.TaskConfig{
		{Name: "tcp-local", Type: wire.TaskTCP, ScheduleSeconds: 1, TimeoutSeconds: 1,
			TCP: &wire.TCPParams{Target: "127.0.0.1", Port: 1}},
	}

	sched := New(db, cfg, tasks, nil)
	sched.Start()
	time.Sleep(2500 * time.Millisecond)
	sched.Stop()

	var count int
	row := db.Engine().QueryRow(`SELECT COUNT(*) FROM raw_metric_tcp`)
	require.NoError(t, row.Scan(&count))
	require.Greater(t, count, 0)
}
