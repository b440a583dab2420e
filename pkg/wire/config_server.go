package wire

import "fmt"

// ServerConfig is the content of the server's config file (server.toml),
// one per central server process.
type ServerConfig struct {
	ListenAddress     string `toml:"listen_address"`
	APIKey            string `toml:"api_key"`
	DataRetentionDays int    `toml:"data_retention_days"`
	AgentConfigsDir   string `toml:"agent_configs_dir"`

	BandwidthTestSizeMB int `toml:"bandwidth_test_size_mb"`

	ReconfigureCheckIntervalSeconds int `toml:"reconfigure_check_interval_seconds"`
	CleanupIntervalSeconds          int `toml:"cleanup_interval_seconds"`
	WALCheckpointIntervalSeconds    int `toml:"wal_checkpoint_interval_seconds"`

	BandwidthTestTimeoutSeconds      int     `toml:"bandwidth_test_timeout_seconds"`
	BandwidthMaxQueueDelaySeconds    int     `toml:"bandwidth_max_queue_delay_seconds"`
	BandwidthBaseQueueDelaySeconds   int     `toml:"bandwidth_base_queue_delay_seconds"`
	BandwidthPositionMultiplierDelay float64 `toml:"bandwidth_position_multiplier_delay_seconds"`

	RateLimitWindowSeconds int `toml:"rate_limit_window_seconds"`
	RateLimitMaxRequests   int `toml:"rate_limit_max_requests"`

	HealthCheckIntervalSeconds    int     `toml:"health_check_interval_seconds"`
	HealthCheckRetentionDays      int     `toml:"health_check_retention_days"`
	HealthSuccessRatioThreshold   float64 `toml:"health_success_ratio_threshold"`
	MinimumAgentVersion           string  `toml:"minimum_agent_version"`

	AgentIDWhitelist    []string `toml:"agent_id_whitelist"`
	MonitorAgentsHealth bool     `toml:"monitor_agents_health"`

	ReconfigureDir string `toml:"reconfigure_dir"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddress:                    "0.0.0.0:8443",
		DataRetentionDays:                30,
		AgentConfigsDir:                  "agent_configs",
		BandwidthTestSizeMB:              10,
		ReconfigureCheckIntervalSeconds:  30,
		CleanupIntervalSeconds:           3600,
		WALCheckpointIntervalSeconds:     300,
		BandwidthTestTimeoutSeconds:      60,
		BandwidthMaxQueueDelaySeconds:    300,
		BandwidthBaseQueueDelaySeconds:   5,
		BandwidthPositionMultiplierDelay: 2.0,
		RateLimitWindowSeconds:           60,
		RateLimitMaxRequests:             120,
		HealthCheckIntervalSeconds:       300,
		HealthCheckRetentionDays:         14,
		HealthSuccessRatioThreshold:      0.8,
		MinimumAgentVersion:              "0.0.0",
		MonitorAgentsHealth:              true,
		ReconfigureDir:                   "reconfigure",
	}
}

// Validate enforces the server-side invariants.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address must be set"))
	}
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api_key must be set"))
	}
	if c.DataRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("data_retention_days must be >= 1"))
	}
	if c.AgentConfigsDir == "" {
		errs = append(errs, fmt.Errorf("agent_configs_dir must be set"))
	}
	if c.BandwidthTestSizeMB < 1 {
		errs = append(errs, fmt.Errorf("bandwidth_test_size_mb must be >= 1"))
	}
	if c.RateLimitWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("rate_limit_window_seconds must be >= 1"))
	}
	if c.RateLimitMaxRequests < 1 {
		errs = append(errs, fmt.Errorf("rate_limit_max_requests must be >= 1"))
	}
	for _, id := range c.AgentIDWhitelist {
		if !ValidAgentID(id) {
			errs = append(errs, fmt.Errorf("agent_id_whitelist entry %q is invalid", id))
		}
	}
	return joinErrors(errs)
}

// WhitelistAllows reports whether agentID is permitted: an empty whitelist
// allows all agents; otherwise the match must be exact.
func (c *ServerConfig) WhitelistAllows(agentID string) bool {
	if len(c.AgentIDWhitelist) == 0 {
		return true
	}
	for _, id := range c.AgentIDWhitelist {
		if id == agentID {
			return true
		}
	}
	return false
}
