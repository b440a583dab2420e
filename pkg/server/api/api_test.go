package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/macwilam/netwatch/pkg/server/bandwidth"
	"github.com/macwilam/netwatch/pkg/server/configcache"
	"github.com/macwilam/netwatch/pkg/serverdb"
	"github.com/macwilam/netwatch/pkg/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"), 5)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := configcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	cfg := wire.DefaultServerConfig()
	cfg.APIKey = "secret-key"
	cfg.ListenAddress = "127.0.0.1:0"

	bw := bandwidth.New(bandwidth.Config{TestSizeBytes: 1024})
	return New(cfg, db, cache, bw)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp wire.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
}

func TestMetricsRejectsMissingAPIKey(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Agent-ID", "agent-1")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsRejectsInvalidAgentID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Agent-ID", "-bad-")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsRejectsNonWhitelistedAgent(t *testing.T) {
	s := newTestServer(t)
	s.cfg.AgentIDWhitelist = []string{"allowed-agent"}

	body, _ := json.Marshal(wire.MetricsRequest{AgentID: "blocked-agent"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Agent-ID", "blocked-agent")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsIngestReturnsStaleWhenNoCachedConfig(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(wire.MetricsRequest{
		AgentID:        "agent-1",
		TimestampUTC:   "1000",
		ConfigChecksum: "abc123",
		AgentVersion:   "1.0.0",
		Metrics: []wire.AggregatedMetrics{
			{TaskName: "t", TaskType: wire.TaskPing, PeriodStart: 0, PeriodEnd: 60, SampleCount: 1,
				Ping: &wire.AggPingData{SuccessCount: 1, PacketLossPercent: 0}},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Agent-ID", "agent-1")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp wire.MetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, wire.ConfigStale, resp.ConfigStatus)

	rec, found, err := s.db.GetAgent("agent-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc123", rec.LastConfigChecksum)
}

func TestMetricsIngestReturnsUpToDateWhenChecksumMatchesCache(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.cache.Put("agent-2", []byte("")))
	entry, ok := s.cache.Get("agent-2")
	require.True(t, ok)

	body, _ := json.Marshal(wire.MetricsRequest{
		AgentID:        "agent-2",
		ConfigChecksum: entry.ContentHash,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Agent-ID", "agent-2")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp wire.MetricsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, wire.ConfigUpToDate, resp.ConfigStatus)
}

func TestBandwidthTestThenDownload(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(wire.BandwidthTestRequest{AgentID: "agent-3"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bandwidth/test", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret-key")
	req.Header.Set("X-Agent-ID", "agent-3")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp wire.BandwidthTestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, wire.BandwidthProceed, resp.Action)

	dlReq := httptest.NewRequest(http.MethodGet, "/api/v1/bandwidth/download?agent_id=agent-3", nil)
	dlW := httptest.NewRecorder()
	s.Router().ServeHTTP(dlW, dlReq)
	require.Equal(t, http.StatusOK, dlW.Code)
	require.Equal(t, 1024, dlW.Body.Len())
}

func TestConfigErrorDoesNotRequireAPIKey(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(wire.ConfigErrorRequest{AgentID: "agent-4", TimestampUTC: "1000", ErrorMessage: "bad toml"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/error", bytes.NewReader(body))
	req.Header.Set("X-Agent-ID", "agent-4")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	errs, err := s.db.RecentConfigErrors("agent-4", 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.Equal(t, "bad toml", errs[0].ErrorMessage)
}
