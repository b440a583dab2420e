package wire

// ConfigStatus is the agent-config staleness verdict returned by the server.
type ConfigStatus string

const (
	ConfigUpToDate ConfigStatus = "up_to_date"
	ConfigStale    ConfigStatus = "stale"
)

// MetricsRequest is the POST /api/v1/metrics body.
type MetricsRequest struct {
	AgentID        string              `json:"agent_id"`
	TimestampUTC   string              `json:"timestamp_utc"`
	ConfigChecksum string              `json:"config_checksum"`
	Metrics        []AggregatedMetrics `json:"metrics"`
	AgentVersion   string              `json:"agent_version,omitempty"`
}

// MetricsResponse is the POST /api/v1/metrics response.
type MetricsResponse struct {
	ConfigStatus ConfigStatus `json:"config_status"`
}

// ConfigVerifyRequest is the POST /api/v1/config/verify body.
type ConfigVerifyRequest struct {
	AgentID         string `json:"agent_id"`
	TasksConfigHash string `json:"tasks_config_hash"`
}

// ConfigVerifyResponse is the POST /api/v1/config/verify response.
type ConfigVerifyResponse struct {
	ConfigStatus ConfigStatus `json:"config_status"`
	TasksTOML    *string      `json:"tasks_toml"`
}

// ConfigUploadRequest is the POST /api/v1/config/upload body.
type ConfigUploadRequest struct {
	AgentID      string `json:"agent_id"`
	TimestampUTC string `json:"timestamp_utc"`
	TasksTOML    string `json:"tasks_toml"`
}

// ConfigUploadResponse is the POST /api/v1/config/upload response.
type ConfigUploadResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ConfigsResponse is the GET /api/v1/configs response.
type ConfigsResponse struct {
	AgentTOML string `json:"agent_toml"`
	TasksTOML string `json:"tasks_toml"`
}

// ConfigErrorRequest is the POST /api/v1/config/error body.
type ConfigErrorRequest struct {
	AgentID      string `json:"agent_id"`
	TimestampUTC string `json:"timestamp_utc"`
	ErrorMessage string `json:"error_message"`
}

// BandwidthTestRequest is the POST /api/v1/bandwidth/test body.
type BandwidthTestRequest struct {
	AgentID      string `json:"agent_id"`
	TimestampUTC string `json:"timestamp_utc"`
}

// BandwidthAction is what the coordinator tells an agent to do.
type BandwidthAction string

const (
	BandwidthProceed BandwidthAction = "proceed"
	BandwidthDelay   BandwidthAction = "delay"
)

// BandwidthTestResponse is the POST /api/v1/bandwidth/test response.
type BandwidthTestResponse struct {
	Action         BandwidthAction `json:"action"`
	DataSizeBytes  *int64          `json:"data_size_bytes,omitempty"`
	DelaySeconds   *float64        `json:"delay_seconds,omitempty"`
}

// HealthResponse is the GET /health response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
