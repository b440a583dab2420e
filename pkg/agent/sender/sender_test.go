package sender

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/agent/config"
	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

const pingTasksTOML = `[[tasks]]
type = "ping"
name = "ping-1"
schedule_seconds = 10
target = "1.1.1.1"
`

func writeAgentFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	agentTOML := `agent_id = "agent-1"
central_server_url = "https://server.example"
api_key = "secret"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.toml"), []byte(agentTOML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.toml"), []byte(pingTasksTOML), 0o644))
	return dir
}

func openTestDB(t *testing.T) *agentdb.DB {
	t.Helper()
	db, err := agentdb.Open(filepath.Join(t.TempDir(), "agent.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSender(t *testing.T, serverURL string) (*Sender, *agentdb.DB, string) {
	t.Helper()
	dir := writeAgentFixture(t)
	loaded, err := config.Load(dir)
	require.NoError(t, err)

	db := openTestDB(t)

	cfg := Config{
		ServerURL:                        serverURL,
		APIKey:                           "secret",
		AgentID:                          "agent-1",
		AgentVersion:                     "1.0.0",
		BatchSize:                        50,
		MaxRetries:                       8,
		SendIntervalSeconds:              30,
		HTTPClientTimeoutSeconds:         5,
		HTTPClientRefreshIntervalSeconds: 300,
		AutoUpdateTasks:                  true,
		ConfigDir:                        dir,
	}
	s := New(db, cfg, loaded, nil)
	return s, db, dir
}

// seedPendingQueueEntry inserts one raw ping sample, aggregates it, and
// enqueues it for send, mirroring what the scheduler's aggregation loop
// does on a real tick.
func seedPendingQueueEntry(t *testing.T, db *agentdb.DB) int64 {
	t.Helper()
	_, err := db.InsertRaw(wire.MetricData{
		TaskName: "ping-1", TaskType: wire.TaskPing, TimestampUnixSecs: 30,
		Ping: &wire.RawPingMetric{Success: true, IPAddress: "1.1.1.1"},
	})
	require.NoError(t, err)

	var rowID int64
	err = db.Engine().WithTx(func(tx *sql.Tx) error {
		var aggErr error
		rowID, _, aggErr = agentdb.AggregateTask(tx, wire.KindPing, "ping-1", 0, 60)
		if aggErr != nil {
			return aggErr
		}
		return agentdb.EnqueueSend(tx, wire.KindPing, rowID, "ping-1", 0, 60, 0)
	})
	require.NoError(t, err)
	return rowID
}

func TestSendCycleNoopWhenQueueEmpty(t *testing.T) {
	s, _, _ := newTestSender(t, "http://unused.invalid")
	require.NoError(t, s.SendCycle(context.Background()))
}

func TestSendCycleDeliversAndMarksSent(t *testing.T) {
	var gotReq wire.MetricsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.Equal(t, "agent-1", r.Header.Get("X-Agent-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.MetricsResponse{ConfigStatus: wire.ConfigUpToDate})
	}))
	defer srv.Close()

	s, db, _ := newTestSender(t, srv.URL)
	seedPendingQueueEntry(t, db)

	require.NoError(t, s.SendCycle(context.Background()))
	require.Equal(t, "agent-1", gotReq.AgentID)
	require.Len(t, gotReq.Metrics, 1)
	kind, ok := gotReq.Metrics[0].Kind()
	require.True(t, ok)
	require.Equal(t, wire.KindPing, kind)

	pending, err := db.FetchPending(10, 1<<40)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSendCycleMarksFailedOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, db, _ := newTestSender(t, srv.URL)
	seedPendingQueueEntry(t, db)

	require.Error(t, s.SendCycle(context.Background()))

	// Immediately retryable window hasn't elapsed, so the row is no longer
	// picked up right away even though it's logically "pending" again.
	pending, err := db.FetchPending(10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 0)

	pending, err = db.FetchPending(10, time.Now().Unix()+agentdb.BackoffSeconds(1))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)
}

func TestSendCycleDropsOrphanQueueRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be contacted when the only entry is an orphan")
	}))
	defer srv.Close()

	s, db, _ := newTestSender(t, srv.URL)
	rowID := seedPendingQueueEntry(t, db)

	// Simulate retention having already cleaned up the aggregate row this
	// queue entry refers to.
	require.NoError(t, db.Engine().WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM agg_metric_ping WHERE id = ?`, rowID)
		return err
	}))

	require.NoError(t, s.SendCycle(context.Background()))

	pending, err := db.FetchPending(10, 1<<40)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSendCycleReactsToStaleConfigByUploading(t *testing.T) {
	uploadCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/metrics":
			_ = json.NewEncoder(w).Encode(wire.MetricsResponse{ConfigStatus: wire.ConfigStale})
		case "/api/v1/config/verify":
			_ = json.NewEncoder(w).Encode(wire.ConfigVerifyResponse{ConfigStatus: wire.ConfigStale, TasksTOML: nil})
		case "/api/v1/config/upload":
			uploadCalled = true
			_ = json.NewEncoder(w).Encode(wire.ConfigUploadResponse{Accepted: true})
		}
	}))
	defer srv.Close()

	s, db, _ := newTestSender(t, srv.URL)
	seedPendingQueueEntry(t, db)

	require.NoError(t, s.SendCycle(context.Background()))
	require.True(t, uploadCalled)
}

func TestSendCycleAppliesServerTasksConfig(t *testing.T) {
	newTasksTOML := `[[tasks]]
type = "ping"
name = "ping-2"
schedule_seconds = 15
target = "8.8.8.8"
`
	blob, err := wire.GzipBase64([]byte(newTasksTOML))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/metrics":
			_ = json.NewEncoder(w).Encode(wire.MetricsResponse{ConfigStatus: wire.ConfigStale})
		case "/api/v1/config/verify":
			_ = json.NewEncoder(w).Encode(wire.ConfigVerifyResponse{ConfigStatus: wire.ConfigStale, TasksTOML: &blob})
		}
	}))
	defer srv.Close()

	s, db, dir := newTestSender(t, srv.URL)
	seedPendingQueueEntry(t, db)

	require.NoError(t, s.SendCycle(context.Background()))

	onDisk, err := os.ReadFile(filepath.Join(dir, "tasks.toml"))
	require.NoError(t, err)
	require.Equal(t, newTasksTOML, string(onDisk))

	_, byName := s.snapshot()
	_, ok := byName["ping-2"]
	require.True(t, ok)
}

func TestSendCycleSkipsStaleReactionWhenAutoUpdateDisabled(t *testing.T) {
	verifyCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/metrics":
			_ = json.NewEncoder(w).Encode(wire.MetricsResponse{ConfigStatus: wire.ConfigStale})
		case "/api/v1/config/verify":
			verifyCalled = true
		}
	}))
	defer srv.Close()

	s, db, _ := newTestSender(t, srv.URL)
	s.cfg.AutoUpdateTasks = false
	seedPendingQueueEntry(t, db)

	require.NoError(t, s.SendCycle(context.Background()))
	require.False(t, verifyCalled)
}

func TestBandwidthTargetProceedsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := int64(1024)
		_ = json.NewEncoder(w).Encode(wire.BandwidthTestResponse{Action: wire.BandwidthProceed, DataSizeBytes: &size})
	}))
	defer srv.Close()

	s, _, _ := newTestSender(t, srv.URL)
	url, size, err := s.BandwidthTarget(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1024), size)
	require.Contains(t, url, "agent_id=agent-1")
}

func TestBandwidthTargetDelayThenProceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			delay := 0.0
			_ = json.NewEncoder(w).Encode(wire.BandwidthTestResponse{Action: wire.BandwidthDelay, DelaySeconds: &delay})
			return
		}
		size := int64(2048)
		_ = json.NewEncoder(w).Encode(wire.BandwidthTestResponse{Action: wire.BandwidthProceed, DataSizeBytes: &size})
	}))
	defer srv.Close()

	s, _, _ := newTestSender(t, srv.URL)
	url, size, err := s.BandwidthTarget(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, int64(2048), size)
	require.Contains(t, url, "agent_id=agent-1")
}

func TestBandwidthTargetGivesUpAfterSecondDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		delay := 0.0
		_ = json.NewEncoder(w).Encode(wire.BandwidthTestResponse{Action: wire.BandwidthDelay, DelaySeconds: &delay})
	}))
	defer srv.Close()

	s, _, _ := newTestSender(t, srv.URL)
	_, _, err := s.BandwidthTarget(context.Background())
	require.Error(t, err)
}
