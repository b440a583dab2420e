// Package sender owns the agent's outbound half of spec.md §4.2: draining
// the durable metric_send_queue over HTTP, reacting to server-reported
// config staleness, and negotiating bandwidth-test targets on the
// scheduler's behalf. Its refreshed-client HTTP pattern is grounded on the
// teacher's pkg/api/server.go TLS-configuration shape, adapted from
// mTLS+gRPC to plain HTTPS with X-API-Key/X-Agent-ID header auth.
package sender

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/macwilam/netwatch/pkg/agent/config"
	"github.com/macwilam/netwatch/pkg/agentdb"
	"github.com/macwilam/netwatch/pkg/log"
	promstats "github.com/macwilam/netwatch/pkg/metrics"
	"github.com/macwilam/netwatch/pkg/wire"
)

// Config carries the agent.toml knobs the sender needs.
type Config struct {
	ServerURL                        string
	APIKey                           string
	AgentID                          string
	AgentVersion                     string
	BatchSize                        int
	MaxRetries                       int
	SendIntervalSeconds              int
	HTTPClientTimeoutSeconds         int
	HTTPClientRefreshIntervalSeconds int
	AutoUpdateTasks                  bool
	ConfigDir                        string
}

// Sender drains the agent's durable outbox and reacts to config staleness.
type Sender struct {
	db     *agentdb.DB
	cfg    Config
	logger zerolog.Logger

	mu             sync.Mutex
	client         *http.Client
	clientBuiltAt  time.Time
	tasksHash      string
	taskTypeByName map[string]wire.TaskType

	onConfigUpdated func(*wire.TasksConfig)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Sender seeded with the currently-loaded tasks config.
// onConfigUpdated is invoked (with the new, already-validated tasks config)
// whenever the staleness reaction swaps in a new tasks.toml, so the caller
// can restart the scheduler against the same database handle.
func New(db *agentdb.DB, cfg Config, loaded *config.Loaded, onConfigUpdated func(*wire.TasksConfig)) *Sender {
	s := &Sender{
		db:              db,
		cfg:             cfg,
		logger:          log.WithComponent("sender"),
		onConfigUpdated: onConfigUpdated,
		stopCh:          make(chan struct{}),
	}
	s.UpdateTasks(loaded.TasksContent, loaded.Tasks.Tasks)
	return s
}

// UpdateTasks refreshes the sender's view of the tasks.toml hash and the
// task-name-to-type map used to reconstruct AggregatedMetrics from a queue
// row, called whenever the scheduler reloads its config.
func (s *Sender) UpdateTasks(tasksContent []byte, tasks []wire.TaskConfig) {
	byName := make(map[string]wire.TaskType, len(tasks))
	for _, t := range tasks {
		byName[t.Name] = t.Type
	}
	s.mu.Lock()
	s.tasksHash = wire.ContentHash(tasksContent)
	s.taskTypeByName = byName
	s.mu.Unlock()
}

func (s *Sender) snapshot() (string, map[string]wire.TaskType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasksHash, s.taskTypeByName
}

// Start launches the periodic send loop. It does not check local_only
// itself and launches the loop on every call.
func (s *Sender) Start() {
	s.wg.Add(1)
	go s.runLoop()
}

// Stop signals the send loop to exit and waits for it to drain.
func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) runLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.SendIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SendCycle(context.Background()); err != nil {
				s.logger.Warn().Err(err).Msg("send cycle failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// getClient returns the current HTTP client, rebuilding it if it has aged
// past HTTPClientRefreshIntervalSeconds.
func (s *Sender) getClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	refresh := time.Duration(s.cfg.HTTPClientRefreshIntervalSeconds) * time.Second
	if s.client == nil || time.Since(s.clientBuiltAt) > refresh {
		s.client = &http.Client{
			Timeout: time.Duration(s.cfg.HTTPClientTimeoutSeconds) * time.Second,
		}
		s.clientBuiltAt = time.Now()
	}
	return s.client
}

// SendCycle runs one full pass of spec.md §4.2's send cycle: fetch a
// batch, mark it sending, POST it, then mark sent or failed.
func (s *Sender) SendCycle(ctx context.Context) error {
	now := time.Now().Unix()
	tasksHash, byName := s.snapshot()

	entries, err := s.db.FetchPending(s.cfg.BatchSize, now)
	if err != nil {
		return fmt.Errorf("fetch pending queue entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var ids []int64
	var metrics []wire.AggregatedMetrics
	for _, e := range entries {
		taskType, ok := byName[e.TaskName]
		if !ok {
			// Task was removed from the active config; the aggregate row is
			// still valid history but nothing more can reference it usefully.
			s.logger.Warn().Str("task", e.TaskName).Msg("queue entry references unknown task, dropping")
			_ = s.db.DeleteQueueEntry(e.ID)
			continue
		}

		var m wire.AggregatedMetrics
		loadErr := s.db.Engine().WithReadTx(func(tx *sql.Tx) error {
			var err error
			m, err = agentdb.LoadAggregated(tx, e.MetricType, taskType, e.MetricRowID)
			return err
		})
		if loadErr == sql.ErrNoRows {
			if err := s.db.DeleteQueueEntry(e.ID); err != nil {
				s.logger.Warn().Int64("id", e.ID).Err(err).Msg("failed to delete orphan queue entry")
			}
			continue
		}
		if loadErr != nil {
			s.logger.Warn().Int64("id", e.ID).Err(loadErr).Msg("failed to load aggregate for queue entry")
			continue
		}

		ids = append(ids, e.ID)
		metrics = append(metrics, m)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.db.MarkSending(ids); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	req := wire.MetricsRequest{
		AgentID:        s.cfg.AgentID,
		TimestampUTC:   fmt.Sprintf("%d", now),
		ConfigChecksum: tasksHash,
		Metrics:        metrics,
		AgentVersion:   s.cfg.AgentVersion,
	}

	resp, sendErr := s.postMetrics(ctx, req)
	if sendErr != nil {
		promstats.SendCyclesTotal.WithLabelValues("failed").Inc()
		for _, id := range ids {
			if err := s.db.MarkFailed(id, now, s.cfg.MaxRetries, sendErr); err != nil {
				s.logger.Error().Int64("id", id).Err(err).Msg("failed to record send failure")
			}
		}
		return fmt.Errorf("post metrics: %w", sendErr)
	}
	promstats.SendCyclesTotal.WithLabelValues("delivered").Inc()

	for _, id := range ids {
		if err := s.db.MarkSent(id, now); err != nil {
			s.logger.Error().Int64("id", id).Err(err).Msg("failed to mark queue entry sent")
		}
	}

	if resp.ConfigStatus == wire.ConfigStale {
		s.reactToStaleConfig(ctx)
	}
	return nil
}

func (s *Sender) postMetrics(ctx context.Context, body wire.MetricsRequest) (wire.MetricsResponse, error) {
	var resp wire.MetricsResponse
	payload, err := json.Marshal(body)
	if err != nil {
		return resp, fmt.Errorf("marshal metrics request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL+"/api/v1/metrics", bytes.NewReader(payload))
	if err != nil {
		return resp, fmt.Errorf("build request: %w", err)
	}
	s.setAuthHeaders(httpReq)

	httpResp, err := s.getClient().Do(httpReq)
	if err != nil {
		return resp, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return resp, fmt.Errorf("server returned status %d", httpResp.StatusCode)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode metrics response: %w", err)
	}
	return resp, nil
}

func (s *Sender) setAuthHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-API-Key", s.cfg.APIKey)
	r.Header.Set("X-Agent-ID", s.cfg.AgentID)
}
