package wire

import "encoding/json"

// StatusCount is one (HTTP status code, occurrence count) pair. Encoded as a
// JSON array of pairs rather than an object so non-string keys survive the
// round trip, per spec.md §4.3.
type StatusCount struct {
	Code  int `json:"code"`
	Count int `json:"count"`
}

// MarshalJSON encodes the pair as [code, count].
func (s StatusCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Code, s.Count})
}

// UnmarshalJSON decodes a [code, count] pair.
func (s *StatusCount) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	s.Code, s.Count = pair[0], pair[1]
	return nil
}

// AggPingData is one minute's ping aggregate.
type AggPingData struct {
	SuccessCount      int      `json:"success_count"`
	FailedCount       int      `json:"failed_count"`
	RTTMinMs          *float64 `json:"rtt_min_ms,omitempty"`
	RTTMaxMs          *float64 `json:"rtt_max_ms,omitempty"`
	RTTAvgMs          *float64 `json:"rtt_avg_ms,omitempty"`
	PacketLossPercent float64  `json:"packet_loss_percent"`
}

// AggTCPData is one minute's tcp aggregate.
type AggTCPData struct {
	SuccessCount    int      `json:"success_count"`
	FailedCount     int      `json:"failed_count"`
	ConnectMinMs    *float64 `json:"connect_min_ms,omitempty"`
	ConnectMaxMs    *float64 `json:"connect_max_ms,omitempty"`
	ConnectAvgMs    *float64 `json:"connect_avg_ms,omitempty"`
	SuccessRatePct  float64  `json:"success_rate_percent"`
}

// AggHTTPData is one minute's http aggregate (shared by http_get/http_content).
type AggHTTPData struct {
	SuccessCount     int           `json:"success_count"`
	FailedCount      int           `json:"failed_count"`
	TotalTimeMinMs   *float64      `json:"total_time_min_ms,omitempty"`
	TotalTimeMaxMs   *float64      `json:"total_time_max_ms,omitempty"`
	TotalTimeAvgMs   *float64      `json:"total_time_avg_ms,omitempty"`
	StatusHistogram  []StatusCount `json:"status_histogram,omitempty"`
	SSLValidPercent  *float64      `json:"ssl_valid_percent,omitempty"`
}

// AggTLSData is one minute's tls_handshake aggregate.
type AggTLSData struct {
	SuccessCount            int      `json:"success_count"`
	FailedCount             int      `json:"failed_count"`
	HandshakeMinMs          *float64 `json:"handshake_min_ms,omitempty"`
	HandshakeMaxMs          *float64 `json:"handshake_max_ms,omitempty"`
	HandshakeAvgMs          *float64 `json:"handshake_avg_ms,omitempty"`
	SSLValidPercent         *float64 `json:"ssl_valid_percent,omitempty"`
	CertMinDaysUntilExpiry  *int     `json:"cert_min_days_until_expiry,omitempty"`
}

// AggDNSData is one minute's dns aggregate (shared by dns_query/dns_query_doh).
type AggDNSData struct {
	SuccessCount            int      `json:"success_count"`
	FailedCount              int      `json:"failed_count"`
	QueryMinMs                *float64 `json:"query_min_ms,omitempty"`
	QueryMaxMs                *float64 `json:"query_max_ms,omitempty"`
	QueryAvgMs                 *float64 `json:"query_avg_ms,omitempty"`
	UniqueResolvedAddresses []string `json:"unique_resolved_addresses,omitempty"`
}

// AggBandwidthData is one minute's bandwidth aggregate.
type AggBandwidthData struct {
	SuccessCount      int      `json:"success_count"`
	FailedCount       int      `json:"failed_count"`
	ThroughputMinMbps *float64 `json:"throughput_min_mbps,omitempty"`
	ThroughputMaxMbps *float64 `json:"throughput_max_mbps,omitempty"`
	ThroughputAvgMbps *float64 `json:"throughput_avg_mbps,omitempty"`
}

// AggSQLData is one minute's sql_query aggregate (feature-gated).
type AggSQLData struct {
	SuccessCount int      `json:"success_count"`
	FailedCount  int      `json:"failed_count"`
	QueryMinMs   *float64 `json:"query_min_ms,omitempty"`
	QueryMaxMs   *float64 `json:"query_max_ms,omitempty"`
	QueryAvgMs   *float64 `json:"query_avg_ms,omitempty"`
}

// AggregatedMetrics is one minute's rollup for one task. Exactly one
// kind-specific field is set, matching TaskType.
type AggregatedMetrics struct {
	TaskName    string   `json:"task_name"`
	TaskType    TaskType `json:"task_type"`
	PeriodStart int64    `json:"period_start"`
	PeriodEnd   int64    `json:"period_end"`
	SampleCount int      `json:"sample_count"`

	Ping      *AggPingData      `json:"ping,omitempty"`
	TCP       *AggTCPData       `json:"tcp,omitempty"`
	HTTP      *AggHTTPData      `json:"http,omitempty"`
	TLS       *AggTLSData       `json:"tls,omitempty"`
	DNS       *AggDNSData       `json:"dns,omitempty"`
	Bandwidth *AggBandwidthData `json:"bandwidth,omitempty"`
	SQL       *AggSQLData       `json:"sql,omitempty"`
}

// Kind returns the storage kind this aggregate belongs to.
func (a *AggregatedMetrics) Kind() (Kind, bool) {
	return KindForTaskType(a.TaskType)
}
