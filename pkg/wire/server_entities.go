package wire

// AgentRecord is the server's view of one agent.
type AgentRecord struct {
	AgentID              string
	FirstSeen            int64
	LastSeen             int64
	LastConfigChecksum   string
	TotalMetricsReceived int64
	AgentVersion         string
}

// AgentHealthCheck is one health-monitor run's result for one agent.
type AgentHealthCheck struct {
	AgentID              string
	CheckTimestamp       int64
	PeriodStart          int64
	PeriodEnd            int64
	SecondsSinceLastPush int64
	ExpectedEntries      int
	ReceivedEntries      int
	SuccessRatio         float64
	IsProblematic        bool
}

// CachedAgentConfig is the server's in-memory + on-disk cache of one agent's
// tasks.toml.
type CachedAgentConfig struct {
	Content        []byte
	ContentHash    string
	GzipBase64     string
}

// ConfigError is one row in the server's config_errors table, reported by an
// agent via /api/v1/config/error.
type ConfigError struct {
	ID           int64
	AgentID      string
	Timestamp    int64
	ErrorMessage string
	ReceivedAt   int64
}
