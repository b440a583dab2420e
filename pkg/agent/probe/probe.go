// Package probe implements the nine task types an agent can schedule:
// ping, tcp, http_get, http_content, tls_handshake, dns_query,
// dns_query_doh, bandwidth, and (feature-gated) sql_query. Each probe is
// grounded on the same Checker shape as pkg/health's HTTPChecker/TCPChecker
// — take a context, run one check, return a result — generalized here to
// return the wire-shaped MetricData the scheduler buffers and aggregates.
package probe

import (
	"fmt"
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// Run executes the probe named by cfg.Type and returns its raw result.
// bandwidthURL and bandwidthSizeBytes carry the server-authoritative
// download endpoint and transfer size for bandwidth tasks; both are
// ignored by every other task type.
func Run(taskType wire.TaskType, cfg wire.TaskConfig, timeout time.Duration, bandwidthURL string, bandwidthSizeBytes int64) (wire.MetricData, error) {
	now := time.Now().Unix()
	base := wire.MetricData{TaskName: cfg.Name, TaskType: taskType, TimestampUnixSecs: now}

	switch taskType {
	case wire.TaskPing:
		if cfg.Ping == nil {
			return base, fmt.Errorf("probe %s: missing ping params", cfg.Name)
		}
		base.Ping = runPing(*cfg.Ping, timeout)
		return base, nil

	case wire.TaskTCP:
		if cfg.TCP == nil {
			return base, fmt.Errorf("probe %s: missing tcp params", cfg.Name)
		}
		base.TCP = runTCP(*cfg.TCP, timeout)
		return base, nil

	case wire.TaskHTTPGet:
		if cfg.HTTP == nil {
			return base, fmt.Errorf("probe %s: missing http params", cfg.Name)
		}
		base.HTTP = runHTTP(*cfg.HTTP, timeout, false)
		return base, nil

	case wire.TaskHTTPContent:
		if cfg.HTTP == nil {
			return base, fmt.Errorf("probe %s: missing http params", cfg.Name)
		}
		base.HTTP = runHTTP(*cfg.HTTP, timeout, true)
		return base, nil

	case wire.TaskTLSHandshake:
		if cfg.TLS == nil {
			return base, fmt.Errorf("probe %s: missing tls params", cfg.Name)
		}
		base.TLS = runTLS(*cfg.TLS, timeout)
		return base, nil

	case wire.TaskDNSQuery:
		if cfg.DNS == nil {
			return base, fmt.Errorf("probe %s: missing dns params", cfg.Name)
		}
		base.DNS = runDNS(*cfg.DNS, timeout)
		return base, nil

	case wire.TaskDNSQueryDoH:
		if cfg.DNSDoH == nil {
			return base, fmt.Errorf("probe %s: missing dns_doh params", cfg.Name)
		}
		base.DNS = runDNSDoH(*cfg.DNSDoH, timeout)
		return base, nil

	case wire.TaskBandwidth:
		base.Bandwidth = runBandwidth(bandwidthURL, bandwidthSizeBytes, timeout)
		return base, nil

	case wire.TaskSQLQuery:
		if cfg.SQL == nil {
			return base, fmt.Errorf("probe %s: missing sql params", cfg.Name)
		}
		base.SQL = runSQL(*cfg.SQL, timeout)
		return base, nil

	default:
		return base, fmt.Errorf("probe %s: unknown task type %q", cfg.Name, taskType)
	}
}

func strPtr(s string) *string { return &s }
func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int { return &v }
func boolPtr(v bool) *bool { return &v }
func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
