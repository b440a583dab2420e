package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/macwilam/netwatch/pkg/errkind"
	"github.com/macwilam/netwatch/pkg/server/bandwidth"
	"github.com/macwilam/netwatch/pkg/wire"
)

func (s *Server) handleBandwidthTest(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDFromContext(r.Context())

	var req wire.BandwidthTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode bandwidth test request", err))
		return
	}
	if req.AgentID != agentID {
		writeErr(w, errkind.New(errkind.Validation, "agent_id in body does not match X-Agent-ID"))
		return
	}

	resp := s.bw.RequestTest(agentID, time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleBandwidthDownload(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if !wire.ValidAgentID(agentID) {
		writeErr(w, errkind.New(errkind.Validation, "missing or malformed agent_id query parameter"))
		return
	}
	if !s.bw.BeginDownload(agentID) {
		writeErr(w, errkind.New(errkind.Validation, "agent does not hold the active bandwidth test slot"))
		return
	}

	size := s.bw.TestSizeBytes()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if err := bandwidth.StreamZeros(w, size); err != nil {
		s.logger.Warn().Str("agent_id", agentID).Err(err).Msg("bandwidth download stream interrupted")
	}
}
