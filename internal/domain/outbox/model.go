package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status of an outbox row. Rows move pending -> processing -> sent, falling
// back to pending on publish failure. Rows are never deleted.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
)

// Event is one durable domain event awaiting delivery.
type Event struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	EventType     string          `json:"event_type" db:"event_type"`
	SubjectType   string          `json:"subject_type" db:"subject_type"`
	SubjectID     string          `json:"subject_id" db:"subject_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	OccurredAt    time.Time       `json:"occurred_at" db:"occurred_at"`
	Status        Status          `json:"status" db:"status"`
	Attempts      int             `json:"attempts" db:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

const maxErrorLen = 2000

// retryDelay returns the backoff before the next attempt, given the number
// of failures so far: 1, 2, 4, 8, 16, 32 then 60 seconds.
func retryDelay(attempts int) time.Duration {
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 6 {
		exp = 6
	}
	secs := 1 << exp
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
