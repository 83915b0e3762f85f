package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts bounds how many times the relay re-dispatches a failed row.
const DefaultMaxAttempts = 5

const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

type Event struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}
