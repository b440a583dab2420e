package wire

// TaskType names one of the nine probe kinds a TaskConfig can schedule.
type TaskType string

const (
	TaskPing         TaskType = "ping"
	TaskTCP          TaskType = "tcp"
	TaskHTTPGet      TaskType = "http_get"
	TaskHTTPContent  TaskType = "http_content"
	TaskTLSHandshake TaskType = "tls_handshake"
	TaskDNSQuery     TaskType = "dns_query"
	TaskDNSQueryDoH  TaskType = "dns_query_doh"
	TaskBandwidth    TaskType = "bandwidth"
	TaskSQLQuery     TaskType = "sql_query"
)

// MinScheduleSeconds returns the minimum legal schedule_seconds for a task
// type: bandwidth and sql tasks are expensive/intrusive enough that spec.md
// §3 requires at least a minute between runs.
func MinScheduleSeconds(t TaskType) int {
	switch t {
	case TaskBandwidth, TaskSQLQuery:
		return 60
	default:
		return 1
	}
}

// Kind is the storage/aggregation grouping a TaskType belongs to. Several
// task types share one kind because they share a raw/aggregate schema (the
// original's db_http.rs covers both http_get and http_content; db_dns.rs
// covers both dns_query and dns_query_doh).
type Kind string

const (
	KindPing      Kind = "ping"
	KindTCP       Kind = "tcp"
	KindHTTP      Kind = "http"
	KindTLS       Kind = "tls"
	KindDNS       Kind = "dns"
	KindBandwidth Kind = "bandwidth"
	KindSQL       Kind = "sql"
)

// KindForTaskType maps a TaskType to its storage Kind.
func KindForTaskType(t TaskType) (Kind, bool) {
	switch t {
	case TaskPing:
		return KindPing, true
	case TaskTCP:
		return KindTCP, true
	case TaskHTTPGet, TaskHTTPContent:
		return KindHTTP, true
	case TaskTLSHandshake:
		return KindTLS, true
	case TaskDNSQuery, TaskDNSQueryDoH:
		return KindDNS, true
	case TaskBandwidth:
		return KindBandwidth, true
	case TaskSQLQuery:
		return KindSQL, true
	default:
		return "", false
	}
}

// Kinds is the single declared registry of storage kinds. Every component
// that needs to enumerate "all the per-kind aggregate tables" — raw/agg
// table creation, minute aggregation dispatch, and the server health
// monitor's received-entries sum — ranges over this slice, resolving the
// open question in spec.md §9 about a future kind being missed in one of
// the three call sites.
//
// KindSQL is appended at init time only when the binary is built with the
// sqltask tag (see registry_sqltask.go / registry_nosqltask.go), mirroring
// the original's Cargo feature flag for the optional SQL probe.
var Kinds = []Kind{KindPing, KindTCP, KindHTTP, KindTLS, KindDNS, KindBandwidth}

// SQLTaskEnabled reports whether the sql_query task type is compiled in.
var SQLTaskEnabled bool
