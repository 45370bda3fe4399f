package batch

import (
	"fmt"

	"github.com/xraph/kegsync"
)

// Status is the lifecycle state of a batch.
type Status string

const (
	// StatusCaptured means the capture was accepted and awaits a worker.
	StatusCaptured Status = "CAPTURED"
	// StatusProcessing means a worker is decoding and preparing the batch.
	StatusProcessing Status = "PROCESSING"
	// StatusAPIPending means the payload is persisted and delivery is in
	// progress or about to be retried.
	StatusAPIPending Status = "API_PENDING"
	// StatusAPISent means the cloud accepted the batch. Terminal.
	StatusAPISent Status = "API_SENT"
	// StatusAPIFailed means delivery failed; a retry entry normally exists.
	StatusAPIFailed Status = "API_FAILED"
	// StatusDuplicate means the batch repeats an un-shipped pallet and was
	// held back from delivery.
	StatusDuplicate Status = "DUPLICATE"
	// StatusManualResolved means an operator closed the batch. Terminal.
	StatusManualResolved Status = "MANUAL_RESOLVED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusCaptured,
	StatusProcessing,
	StatusAPIPending,
	StatusAPISent,
	StatusAPIFailed,
	StatusDuplicate,
	StatusManualResolved,
}

var transitions = map[Status][]Status{
	StatusCaptured:   {StatusProcessing},
	StatusProcessing: {StatusAPIPending, StatusAPIFailed, StatusDuplicate},
	StatusAPIPending: {StatusAPISent, StatusAPIFailed, StatusDuplicate},
	StatusAPIFailed:  {StatusAPIPending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAPISent || s == StatusManualResolved
}

// CanTransition reports whether s may move to next. Every non-terminal
// status may move to MANUAL_RESOLVED.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || s.Terminal() {
		return false
	}
	if next == StatusManualResolved {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate returns kegsync.ErrInvalidTransition when from cannot move to to.
func Validate(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", kegsync.ErrInvalidTransition, from, to)
	}
	return nil
}
