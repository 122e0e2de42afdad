package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is one row of the transactional outbox. Topic selects the Kafka
// topic the dispatcher publishes to; an empty Topic uses the dispatcher
// default.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Topic         string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}
