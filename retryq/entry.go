package retryq

import (
	"encoding/json"
	"time"
)

// Entry is a batch awaiting a scheduled delivery attempt. There is at most
// one entry per session id.
type Entry struct {
	SessionID     string          `json:"session_id"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextRetryAt   time.Time       `json:"next_retry_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Exhausted reports whether the entry used up its attempt budget. An
// exhausted entry is never drained automatically.
func (e *Entry) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}
