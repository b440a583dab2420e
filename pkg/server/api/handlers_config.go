package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/macwilam/netwatch/pkg/errkind"
	"github.com/macwilam/netwatch/pkg/wire"
)

func (s *Server) handleConfigVerify(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDFromContext(r.Context())

	var req wire.ConfigVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode config verify request", err))
		return
	}
	if req.AgentID != agentID {
		writeErr(w, errkind.New(errkind.Validation, "agent_id in body does not match X-Agent-ID"))
		return
	}

	entry, ok := s.cache.Get(agentID)
	resp := wire.ConfigVerifyResponse{}
	switch {
	case ok && entry.ContentHash == req.TasksConfigHash:
		resp.ConfigStatus = wire.ConfigUpToDate
		resp.TasksTOML = nil
	case ok:
		resp.ConfigStatus = wire.ConfigStale
		blob := entry.GzipBase64
		resp.TasksTOML = &blob
	default:
		resp.ConfigStatus = wire.ConfigStale
		resp.TasksTOML = nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleConfigUpload(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDFromContext(r.Context())

	var req wire.ConfigUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode config upload request", err))
		return
	}
	if req.AgentID != agentID {
		writeErr(w, errkind.New(errkind.Validation, "agent_id in body does not match X-Agent-ID"))
		return
	}

	content, err := wire.UngzipBase64(req.TasksTOML)
	if err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode tasks_toml blob", err))
		return
	}
	if _, err := wire.ParseTasksConfig(content); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "validate uploaded tasks.toml", err))
		return
	}

	if s.cache.Exists(agentID) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(wire.ConfigUploadResponse{
			Accepted: false,
			Reason:   "a config for this agent already exists and was not overwritten",
		})
		return
	}

	if err := s.cache.Put(agentID, content); err != nil {
		writeErr(w, errkind.Wrap(errkind.IO, "persist uploaded tasks.toml", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(wire.ConfigUploadResponse{Accepted: true})
}

func (s *Server) handleConfigsGet(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if !wire.ValidAgentID(agentID) {
		writeErr(w, errkind.New(errkind.Validation, "missing or malformed agent_id query parameter"))
		return
	}

	entry, ok := s.cache.Get(agentID)
	if !ok {
		writeErr(w, errkind.New(errkind.Validation, "no config cached for this agent"))
		return
	}

	agentTOML := fmt.Sprintf("agent_id = %q\ncentral_server_url = %q\n", agentID, s.cfg.ListenAddress)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(wire.ConfigsResponse{
		AgentTOML: base64.StdEncoding.EncodeToString([]byte(agentTOML)),
		TasksTOML: entry.GzipBase64,
	})
}

func (s *Server) handleConfigError(w http.ResponseWriter, r *http.Request) {
	agentID := agentIDFromContext(r.Context())

	var req wire.ConfigErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errkind.Wrap(errkind.Validation, "decode config error request", err))
		return
	}
	if req.AgentID != agentID {
		writeErr(w, errkind.New(errkind.Validation, "agent_id in body does not match X-Agent-ID"))
		return
	}

	ts, err := strconv.ParseInt(req.TimestampUTC, 10, 64)
	if err != nil {
		ts = time.Now().Unix()
	}
	if err := s.db.InsertConfigError(agentID, ts, time.Now().Unix(), req.ErrorMessage); err != nil {
		writeErr(w, errkind.Wrap(errkind.Database, "record config error", err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
