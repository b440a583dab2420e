package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/macwilam/netwatch/pkg/agent/config"
	"github.com/macwilam/netwatch/pkg/wire"
)

// reactToStaleConfig implements spec.md §4.2's config staleness reaction:
// verify against the server, pull down a newer tasks.toml if offered, or
// upload the agent's own if the server has none on file.
func (s *Sender) reactToStaleConfig(ctx context.Context) {
	if !s.cfg.AutoUpdateTasks {
		s.logger.Info().Msg("server reports config stale; auto_update_tasks is false, not acting")
		return
	}

	tasksHash, _ := s.snapshot()
	verify, err := s.postConfigVerify(ctx, tasksHash)
	if err != nil {
		s.logger.Warn().Err(err).Msg("config verify request failed")
		return
	}

	switch {
	case verify.ConfigStatus == wire.ConfigUpToDate:
		return

	case verify.TasksTOML != nil:
		s.applyServerTasksConfig(*verify.TasksTOML)

	default:
		s.uploadOwnTasksConfig(ctx)
	}
}

func (s *Sender) postConfigVerify(ctx context.Context, tasksHash string) (wire.ConfigVerifyResponse, error) {
	var resp wire.ConfigVerifyResponse
	body, err := json.Marshal(wire.ConfigVerifyRequest{AgentID: s.cfg.AgentID, TasksConfigHash: tasksHash})
	if err != nil {
		return resp, fmt.Errorf("marshal config verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL+"/api/v1/config/verify", bytes.NewReader(body))
	if err != nil {
		return resp, fmt.Errorf("build request: %w", err)
	}
	s.setAuthHeaders(req)

	httpResp, err := s.getClient().Do(req)
	if err != nil {
		return resp, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return resp, fmt.Errorf("server returned status %d", httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode config verify response: %w", err)
	}
	return resp, nil
}

// applyServerTasksConfig decodes, validates, backs up the current
// tasks.toml, writes the new one atomically, and restarts the scheduler
// against the same database handle.
func (s *Sender) applyServerTasksConfig(gzipBase64 string) {
	content, err := wire.UngzipBase64(gzipBase64)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to decode server tasks.toml blob")
		return
	}
	tasksCfg, err := wire.ParseTasksConfig(content)
	if err != nil {
		s.logger.Error().Err(err).Msg("server tasks.toml failed validation, not applying")
		return
	}

	if err := config.WriteTasksTOMLAtomic(s.cfg.ConfigDir, content, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist server tasks.toml")
		return
	}

	s.UpdateTasks(content, tasksCfg.Tasks)
	s.logger.Info().Int("tasks", len(tasksCfg.Tasks)).Msg("applied updated tasks.toml from server")
	if s.onConfigUpdated != nil {
		s.onConfigUpdated(tasksCfg)
	}
}

// uploadOwnTasksConfig is reached when the server has no config cached for
// this agent at all: the agent offers its own.
func (s *Sender) uploadOwnTasksConfig(ctx context.Context) {
	loaded, err := config.Load(s.cfg.ConfigDir)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to reload local tasks.toml for upload")
		return
	}
	blob, err := wire.GzipBase64(loaded.TasksContent)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to gzip local tasks.toml for upload")
		return
	}

	body, err := json.Marshal(wire.ConfigUploadRequest{
		AgentID:      s.cfg.AgentID,
		TimestampUTC: fmt.Sprintf("%d", time.Now().Unix()),
		TasksTOML:    blob,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal config upload request")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL+"/api/v1/config/upload", bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build config upload request")
		return
	}
	s.setAuthHeaders(req)

	httpResp, err := s.getClient().Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("config upload request failed")
		return
	}
	defer httpResp.Body.Close()

	var uploadResp wire.ConfigUploadResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&uploadResp); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode config upload response")
		return
	}
	if !uploadResp.Accepted {
		s.logger.Info().Str("reason", uploadResp.Reason).Msg("server declined uploaded tasks.toml")
	}
}
