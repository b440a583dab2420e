package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/macwilam/netwatch/pkg/errkind"
	"github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/wire"
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.IngestRequestDuration)

	agentID := agentIDFromContext(r.Context())

	var req wire.MetricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode metrics request", err))
		return
	}
	if req.AgentID != agentID {
		writeErr(w, errkind.New(errkind.Validation, "agent_id in body does not match X-Agent-ID"))
		return
	}

	now := time.Now().Unix()
	if err := s.db.IngestMetrics(agentID, req.ConfigChecksum, req.AgentVersion, req.Metrics, now); err != nil {
		writeErr(w, errkind.Wrap(errkind.Database, "ingest metrics", err))
		return
	}
	for _, m := range req.Metrics {
		if kind, ok := m.Kind(); ok {
			metrics.MetricsIngestedTotal.WithLabelValues(string(kind)).Inc()
		}
	}

	status := s.configStatusFor(agentID, req.ConfigChecksum)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(wire.MetricsResponse{ConfigStatus: status})
}

// configStatusFor compares the agent's submitted hash against the server's
// cached tasks.toml for that agent: no cached config at all counts as
// stale, per spec.md §4.4.
func (s *Server) configStatusFor(agentID, submittedHash string) wire.ConfigStatus {
	entry, ok := s.cache.Get(agentID)
	if !ok || entry.ContentHash != submittedHash {
		return wire.ConfigStale
	}
	return wire.ConfigUpToDate
}
