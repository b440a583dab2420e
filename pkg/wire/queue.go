package wire

// QueueStatus is the lifecycle state of a durable outbox row.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSending QueueStatus = "sending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

// QueueEntry is one metric_send_queue row: the agent's durable outbox. It
// weakly references its aggregate row by (MetricType, MetricRowID) — weak
// because retention cleanup of aggregates must never remove a row still
// referenced by a non-sent queue entry (spec.md §3).
type QueueEntry struct {
	ID          int64
	MetricType  Kind
	MetricRowID int64
	TaskName    string
	PeriodStart int64
	PeriodEnd   int64
	Status      QueueStatus
	CreatedAt   int64
	SentAt      *int64
	RetryCount  int
	LastRetryAt *int64
	LastError   *string
	NextRetryAt int64
}
