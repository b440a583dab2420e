package wire

// RawPingMetric is one ping probe's result.
type RawPingMetric struct {
	RTTMs    *float64 `json:"rtt_ms,omitempty"`
	Success  bool     `json:"success"`
	Error    *string  `json:"error,omitempty"`
	IPAddress string  `json:"ip_address"`
	Domain   *string  `json:"domain,omitempty"`
	TargetID *string  `json:"target_id,omitempty"`
}

// RawTCPMetric is one tcp-connect probe's result.
type RawTCPMetric struct {
	ConnectTimeMs *float64 `json:"connect_time_ms,omitempty"`
	Success       bool     `json:"success"`
	Error         *string  `json:"error,omitempty"`
	TargetID      *string  `json:"target_id,omitempty"`
}

// RawHTTPMetric is one http_get or http_content probe's result.
type RawHTTPMetric struct {
	StatusCode              *int     `json:"status_code,omitempty"`
	TCPTimingMs              *float64 `json:"tcp_timing_ms,omitempty"`
	TLSTimingMs               *float64 `json:"tls_timing_ms,omitempty"`
	TTFBTimingMs              *float64 `json:"ttfb_timing_ms,omitempty"`
	ContentDownloadTimingMs   *float64 `json:"content_download_timing_ms,omitempty"`
	TotalTimeMs               *float64 `json:"total_time_ms,omitempty"`
	Success                   bool     `json:"success"`
	Error                     *string  `json:"error,omitempty"`
	SSLValid                  *bool    `json:"ssl_valid,omitempty"`
	SSLCertDaysUntilExpiry    *int     `json:"ssl_cert_days_until_expiry,omitempty"`
	ContentMatched            *bool    `json:"content_matched,omitempty"`
	TargetID                  *string  `json:"target_id,omitempty"`
}

// RawTLSMetric is one tls_handshake probe's result.
type RawTLSMetric struct {
	HandshakeTimingMs      *float64 `json:"handshake_timing_ms,omitempty"`
	Success                bool     `json:"success"`
	Error                  *string  `json:"error,omitempty"`
	SSLValid               *bool    `json:"ssl_valid,omitempty"`
	SSLCertDaysUntilExpiry *int     `json:"ssl_cert_days_until_expiry,omitempty"`
	TargetID               *string  `json:"target_id,omitempty"`
}

// RawDNSMetric is one dns_query or dns_query_doh probe's result.
type RawDNSMetric struct {
	QueryTimingMs     *float64 `json:"query_timing_ms,omitempty"`
	Success           bool     `json:"success"`
	Error             *string  `json:"error,omitempty"`
	ResolvedAddresses []string `json:"resolved_addresses,omitempty"`
	TargetID          *string  `json:"target_id,omitempty"`
}

// RawBandwidthMetric is one bandwidth download probe's result.
type RawBandwidthMetric struct {
	DownloadTimingMs *float64 `json:"download_timing_ms,omitempty"`
	BytesDownloaded  int64    `json:"bytes_downloaded"`
	ThroughputMbps   *float64 `json:"throughput_mbps,omitempty"`
	Success          bool     `json:"success"`
	Error            *string  `json:"error,omitempty"`
}

// RawSQLMetric is one sql_query probe's result (feature-gated).
type RawSQLMetric struct {
	QueryTimingMs *float64 `json:"query_timing_ms,omitempty"`
	RowsReturned  *int     `json:"rows_returned,omitempty"`
	Success       bool     `json:"success"`
	Error         *string  `json:"error,omitempty"`
}

// MetricData is one raw probe result as produced by the executor and
// buffered by the scheduler. Exactly one of the kind-specific fields is set,
// selected by TaskType.
type MetricData struct {
	TaskName          string   `json:"task_name"`
	TaskType          TaskType `json:"task_type"`
	TimestampUnixSecs int64    `json:"timestamp_unix_seconds"`

	Ping      *RawPingMetric      `json:"ping,omitempty"`
	TCP       *RawTCPMetric       `json:"tcp,omitempty"`
	HTTP      *RawHTTPMetric      `json:"http,omitempty"`
	TLS       *RawTLSMetric       `json:"tls,omitempty"`
	DNS       *RawDNSMetric       `json:"dns,omitempty"`
	Bandwidth *RawBandwidthMetric `json:"bandwidth,omitempty"`
	SQL       *RawSQLMetric       `json:"sql,omitempty"`
}

// Kind returns the storage kind this MetricData belongs to.
func (m *MetricData) Kind() (Kind, bool) {
	return KindForTaskType(m.TaskType)
}

// IsSuccess reports whether the underlying probe succeeded.
func (m *MetricData) IsSuccess() bool {
	switch {
	case m.Ping != nil:
		return m.Ping.Success
	case m.TCP != nil:
		return m.TCP.Success
	case m.HTTP != nil:
		return m.HTTP.Success
	case m.TLS != nil:
		return m.TLS.Success
	case m.DNS != nil:
		return m.DNS.Success
	case m.Bandwidth != nil:
		return m.Bandwidth.Success
	case m.SQL != nil:
		return m.SQL.Success
	default:
		return false
	}
}
