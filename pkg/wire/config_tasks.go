package wire

import (
	"fmt"
	"time"
)

// PingParams configures a ping task.
type PingParams struct {
	Target string `toml:"target"`
	Count  int    `toml:"count,omitempty"`
}

// TCPParams configures a tcp-connect task.
type TCPParams struct {
	Target string `toml:"target"`
	Port   int    `toml:"port"`
}

// HTTPParams configures http_get and http_content tasks.
type HTTPParams struct {
	URL            string `toml:"url"`
	ExpectedStatus int    `toml:"expected_status,omitempty"`
	// ContentMatch is required for http_content, ignored for http_get: the
	// response body must contain this substring.
	ContentMatch string `toml:"content_match,omitempty"`
}

// TLSParams configures a tls_handshake task.
type TLSParams struct {
	Target string `toml:"target"`
	Port   int    `toml:"port,omitempty"`
}

// DNSParams configures a dns_query (plain UDP) task.
type DNSParams struct {
	Domain     string `toml:"domain"`
	Server     string `toml:"server"`
	RecordType string `toml:"record_type,omitempty"`
}

// DNSDoHParams configures a dns_query_doh task.
type DNSDoHParams struct {
	Domain     string `toml:"domain"`
	DoHURL     string `toml:"doh_url"`
	RecordType string `toml:"record_type,omitempty"`
}

// BandwidthParams configures a bandwidth download task. The actual transfer
// size is authoritatively set by the server per spec.md §4.5; this struct
// carries nothing the client can use to influence it.
type BandwidthParams struct{}

// SQLParams configures the feature-gated sql_query task.
type SQLParams struct {
	DriverDSN string `toml:"driver_dsn"`
	Query     string `toml:"query"`
}

// TaskConfig is one scheduled probe. Exactly one of the kind-specific
// pointer fields is non-nil, selected by Type — a closed sum, not an
// interface, per the design's dynamic-dispatch note: storage, aggregation
// and wire representation all key off the same Type tag.
type TaskConfig struct {
	Type            TaskType      `toml:"type"`
	Name            string        `toml:"name"`
	ScheduleSeconds int           `toml:"schedule_seconds"`
	TimeoutOverride time.Duration `toml:"-"`
	TimeoutSeconds  int           `toml:"timeout_seconds,omitempty"`

	Ping      *PingParams      `toml:"-"`
	TCP       *TCPParams       `toml:"-"`
	HTTP      *HTTPParams      `toml:"-"`
	TLS       *TLSParams       `toml:"-"`
	DNS       *DNSParams       `toml:"-"`
	DNSDoH    *DNSDoHParams    `toml:"-"`
	Bandwidth *BandwidthParams `toml:"-"`
	SQL       *SQLParams       `toml:"-"`
}

// rawTaskConfig is the flattened TOML shape: every possible field lives at
// the top level of a [[tasks]] table, keyed off `type`.
type rawTaskConfig struct {
	Type            TaskType `toml:"type"`
	Name            string   `toml:"name"`
	ScheduleSeconds int      `toml:"schedule_seconds"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`

	Target         string `toml:"target"`
	Port           int    `toml:"port"`
	Count          int    `toml:"count"`
	URL            string `toml:"url"`
	ExpectedStatus int    `toml:"expected_status"`
	ContentMatch   string `toml:"content_match"`
	Domain         string `toml:"domain"`
	Server         string `toml:"server"`
	DoHURL         string `toml:"doh_url"`
	RecordType     string `toml:"record_type"`
	DriverDSN      string `toml:"driver_dsn"`
	Query          string `toml:"query"`
}

// toTaskConfig keys off r.Type first and rejects mismatched param shapes,
// per the invariant in spec.md §3.
func (r rawTaskConfig) toTaskConfig() (TaskConfig, error) {
	tc := TaskConfig{
		Type:            r.Type,
		Name:            r.Name,
		ScheduleSeconds: r.ScheduleSeconds,
		TimeoutSeconds:  r.TimeoutSeconds,
	}
	if r.TimeoutSeconds > 0 {
		tc.TimeoutOverride = time.Duration(r.TimeoutSeconds) * time.Second
	}

	switch r.Type {
	case TaskPing:
		if r.Target == "" {
			return tc, fmt.Errorf("task %q: ping requires target", r.Name)
		}
		tc.Ping = &PingParams{Target: r.Target, Count: r.Count}
	case TaskTCP:
		if r.Target == "" || r.Port == 0 {
			return tc, fmt.Errorf("task %q: tcp requires target and port", r.Name)
		}
		tc.TCP = &TCPParams{Target: r.Target, Port: r.Port}
	case TaskHTTPGet:
		if r.URL == "" {
			return tc, fmt.Errorf("task %q: http_get requires url", r.Name)
		}
		tc.HTTP = &HTTPParams{URL: r.URL, ExpectedStatus: r.ExpectedStatus}
	case TaskHTTPContent:
		if r.URL == "" || r.ContentMatch == "" {
			return tc, fmt.Errorf("task %q: http_content requires url and content_match", r.Name)
		}
		tc.HTTP = &HTTPParams{URL: r.URL, ExpectedStatus: r.ExpectedStatus, ContentMatch: r.ContentMatch}
	case TaskTLSHandshake:
		if r.Target == "" {
			return tc, fmt.Errorf("task %q: tls_handshake requires target", r.Name)
		}
		port := r.Port
		if port == 0 {
			port = 443
		}
		tc.TLS = &TLSParams{Target: r.Target, Port: port}
	case TaskDNSQuery:
		if r.Domain == "" || r.Server == "" {
			return tc, fmt.Errorf("task %q: dns_query requires domain and server", r.Name)
		}
		tc.DNS = &DNSParams{Domain: r.Domain, Server: r.Server, RecordType: defaultRecordType(r.RecordType)}
	case TaskDNSQueryDoH:
		if r.Domain == "" || r.DoHURL == "" {
			return tc, fmt.Errorf("task %q: dns_query_doh requires domain and doh_url", r.Name)
		}
		tc.DNSDoH = &DNSDoHParams{Domain: r.Domain, DoHURL: r.DoHURL, RecordType: defaultRecordType(r.RecordType)}
	case TaskBandwidth:
		tc.Bandwidth = &BandwidthParams{}
	case TaskSQLQuery:
		if !SQLTaskEnabled {
			return tc, fmt.Errorf("task %q: sql_query is not enabled in this build", r.Name)
		}
		if r.DriverDSN == "" || r.Query == "" {
			return tc, fmt.Errorf("task %q: sql_query requires driver_dsn and query", r.Name)
		}
		tc.SQL = &SQLParams{DriverDSN: r.DriverDSN, Query: r.Query}
	default:
		return tc, fmt.Errorf("task %q: unknown task type %q", r.Name, r.Type)
	}
	return tc, nil
}

func defaultRecordType(v string) string {
	if v == "" {
		return "A"
	}
	return v
}

// TasksConfig is the ordered list of TaskConfig loaded from tasks.toml.
type TasksConfig struct {
	Tasks []TaskConfig `toml:"-"`
}

// tasksFile is the literal on-disk TOML shape.
type tasksFile struct {
	Tasks []rawTaskConfig `toml:"tasks"`
}

// Validate checks schedule bounds and name uniqueness per spec.md §3.
func (tc *TasksConfig) Validate() error {
	seen := make(map[string]bool, len(tc.Tasks))
	for _, t := range tc.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task config: name must not be empty")
		}
		if seen[t.Name] {
			return fmt.Errorf("task config: duplicate task name %q", t.Name)
		}
		seen[t.Name] = true

		min := MinScheduleSeconds(t.Type)
		if t.ScheduleSeconds < min {
			return fmt.Errorf("task %q: schedule_seconds must be >= %d for %s", t.Name, min, t.Type)
		}
		if _, ok := KindForTaskType(t.Type); !ok {
			return fmt.Errorf("task %q: unknown task type %q", t.Name, t.Type)
		}
	}
	return nil
}
