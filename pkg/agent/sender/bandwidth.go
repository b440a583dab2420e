package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// BandwidthTarget implements scheduler.BandwidthSource: it negotiates a
// download slot with the server's bandwidth coordinator, waiting out one
// server-suggested delay if the slot isn't immediately available. A second
// delay response gives up for this tick; the task's own schedule_seconds
// (minimum 60 per spec.md §3) provides the next chance.
func (s *Sender) BandwidthTarget(ctx context.Context) (string, int64, error) {
	resp, err := s.postBandwidthTest(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("bandwidth test request: %w", err)
	}

	if resp.Action == wire.BandwidthDelay {
		delay := time.Duration(0)
		if resp.DelaySeconds != nil {
			delay = time.Duration(*resp.DelaySeconds * float64(time.Second))
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}

		resp, err = s.postBandwidthTest(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("bandwidth test retry: %w", err)
		}
	}

	if resp.Action != wire.BandwidthProceed || resp.DataSizeBytes == nil {
		return "", 0, fmt.Errorf("bandwidth slot still unavailable after one retry")
	}

	url := fmt.Sprintf("%s/api/v1/bandwidth/download?agent_id=%s", s.cfg.ServerURL, s.cfg.AgentID)
	return url, *resp.DataSizeBytes, nil
}

func (s *Sender) postBandwidthTest(ctx context.Context) (wire.BandwidthTestResponse, error) {
	var resp wire.BandwidthTestResponse
	body, err := json.Marshal(wire.BandwidthTestRequest{
		AgentID:      s.cfg.AgentID,
		TimestampUTC: fmt.Sprintf("%d", time.Now().Unix()),
	})
	if err != nil {
		return resp, fmt.Errorf("marshal bandwidth test request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServerURL+"/api/v1/bandwidth/test", bytes.NewReader(body))
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
		return resp, fmt.Errorf("decode bandwidth test response: %w", err)
	}
	return resp, nil
}
