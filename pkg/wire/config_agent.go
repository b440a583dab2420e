package wire

import "fmt"

// AgentConfig is the content of agent.toml: one per agent process.
type AgentConfig struct {
	AgentID          string `toml:"agent_id"`
	CentralServerURL string `toml:"central_server_url"`
	APIKey           string `toml:"api_key"`

	LocalDataRetentionDays int  `toml:"local_data_retention_days"`
	LocalOnly              bool `toml:"local_only"`
	AutoUpdateTasks        bool `toml:"auto_update_tasks"`

	MetricsFlushIntervalSeconds      int `toml:"metrics_flush_interval_seconds"`
	MetricsSendIntervalSeconds       int `toml:"metrics_send_interval_seconds"`
	MetricsBatchSize                 int `toml:"metrics_batch_size"`
	MetricsMaxRetries                int `toml:"metrics_max_retries"`
	QueueCleanupIntervalSeconds      int `toml:"queue_cleanup_interval_seconds"`
	DataCleanupIntervalSeconds       int `toml:"data_cleanup_interval_seconds"`
	MaxConcurrentTasks               int `toml:"max_concurrent_tasks"`
	HTTPResponseMaxSizeMB            int `toml:"http_response_max_size_mb"`
	HTTPClientTimeoutSeconds         int `toml:"http_client_timeout_seconds"`
	DatabaseBusyTimeoutSeconds       int `toml:"database_busy_timeout_seconds"`
	GracefulShutdownTimeoutSeconds   int `toml:"graceful_shutdown_timeout_seconds"`
	ChannelBufferSize                int `toml:"channel_buffer_size"`
	HTTPClientRefreshIntervalSeconds int `toml:"http_client_refresh_interval_seconds"`
}

// DefaultAgentConfig returns an AgentConfig with the enumerated defaults
// from spec.md §3.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		LocalDataRetentionDays:           7,
		MetricsFlushIntervalSeconds:      10,
		MetricsSendIntervalSeconds:       30,
		MetricsBatchSize:                 50,
		MetricsMaxRetries:                8,
		QueueCleanupIntervalSeconds:      3600,
		DataCleanupIntervalSeconds:       3600,
		MaxConcurrentTasks:               50,
		HTTPResponseMaxSizeMB:            10,
		HTTPClientTimeoutSeconds:         30,
		DatabaseBusyTimeoutSeconds:       5,
		GracefulShutdownTimeoutSeconds:   30,
		ChannelBufferSize:                1000,
		HTTPClientRefreshIntervalSeconds: 300,
	}
}

// Validate enforces spec.md §3's bounds. Returns every violation found,
// joined, so startup failure logs enumerate every problem at once.
func (c *AgentConfig) Validate() error {
	var errs []error
	if !ValidAgentID(c.AgentID) {
		errs = append(errs, fmt.Errorf("agent_id %q is invalid", c.AgentID))
	}
	if !c.LocalOnly {
		if c.CentralServerURL == "" {
			errs = append(errs, fmt.Errorf("central_server_url must be set unless local_only"))
		}
		if c.APIKey == "" {
			errs = append(errs, fmt.Errorf("api_key must be set unless local_only"))
		}
	}
	if c.LocalDataRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("local_data_retention_days must be >= 1"))
	}
	if c.MetricsFlushIntervalSeconds < 1 || c.MetricsFlushIntervalSeconds > 60 {
		errs = append(errs, fmt.Errorf("metrics_flush_interval_seconds must be in [1,60]"))
	}
	if c.MetricsSendIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("metrics_send_interval_seconds must be >= 1"))
	}
	if c.MetricsBatchSize < 1 {
		errs = append(errs, fmt.Errorf("metrics_batch_size must be >= 1"))
	}
	if c.MetricsMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("metrics_max_retries must be >= 1"))
	}
	if c.MaxConcurrentTasks < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_tasks must be >= 1"))
	}
	if c.ChannelBufferSize < 1 {
		errs = append(errs, fmt.Errorf("channel_buffer_size must be >= 1"))
	}
	return joinErrors(errs)
}
