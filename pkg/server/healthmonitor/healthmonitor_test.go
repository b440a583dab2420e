package healthmonitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/server/configcache"
	"github.com/macwilam/netwatch/pkg/serverdb"
)

const oneTaskTOML = `[[tasks]]
type = "ping"
name = "t"
schedule_seconds = 10
target = "1.1.1.1"
`

func newTestMonitor(t *testing.T) (*Monitor, *serverdb.DB, *configcache.Cache) {
	t.Helper()
	db, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := configcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	cfg := Config{
		CheckIntervalSeconds:  300,
		RetentionDays:         14,
		SuccessRatioThreshold: 0.8,
		MinimumAgentVersion:   "1.0.0",
		ReportPath:            filepath.Join(t.TempDir(), "problematic_agents.txt"),
	}
	m := New(cfg, db, cache)
	m.nowFn = func() time.Time { return time.Unix(1_700_010_000, 0) }
	return m, db, cache
}

func TestVersionOutdated(t *testing.T) {
	require.False(t, versionOutdated("1.2.3", "1.0.0"))
	require.True(t, versionOutdated("0.9.0", "1.0.0"))
	require.False(t, versionOutdated("1.0.0", "1.0.0"))
	require.True(t, versionOutdated("", "1.0.0"))
	require.True(t, versionOutdated("garbage", "1.0.0"))
}

func TestExpectedEntriesSubMinuteTask(t *testing.T) {
	m, _, cache := newTestMonitor(t)
	require.NoError(t, cache.Put("agent-1", []byte(oneTaskTOML)))

	// 300 second window, schedule_seconds < 60 -> window/60 slots.
	got := m.expectedEntries("agent-1", 0, 300)
	require.Equal(t, 5, got)
}

func TestExpectedEntriesMultiMinuteTask(t *testing.T) {
	m, _, cache := newTestMonitor(t)
	content := []byte(`[[tasks]]
type = "ping"
name = "t"
schedule_seconds = 120
target = "1.1.1.1"
`)
	require.NoError(t, cache.Put("agent-1", content))

	got := m.expectedEntries("agent-1", 0, 600)
	require.Equal(t, 5, got)
}

func TestExpectedEntriesNoCachedConfig(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	require.Equal(t, 0, m.expectedEntries("unknown-agent", 0, 300))
}

func TestRunOnceMarksAgentProblematicOnLowRatio(t *testing.T) {
	m, db, cache := newTestMonitor(t)
	require.NoError(t, cache.Put("agent-1", []byte(oneTaskTOML)))
	require.NoError(t, db.IngestMetrics("agent-1", "", "1.0.0", nil, 1_700_000_000))

	require.NoError(t, m.RunOnce())

	checks, err := db.LatestHealthChecks()
	require.NoError(t, err)
	require.Len(t, checks, 1)
	require.Equal(t, "agent-1", checks[0].AgentID)
	require.True(t, checks[0].IsProblematic)
	require.Equal(t, 0.0, checks[0].SuccessRatio)

	report, err := os.ReadFile(m.cfg.ReportPath)
	require.NoError(t, err)
	require.Contains(t, string(report), "agent-1")
}

func TestRunOnceWritesAllHealthyReport(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	require.NoError(t, m.RunOnce())

	report, err := os.ReadFile(m.cfg.ReportPath)
	require.NoError(t, err)
	require.Contains(t, string(report), "all agents healthy")
}
