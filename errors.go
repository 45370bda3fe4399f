package kegsync

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("kegsync: no store configured")
	ErrStoreClosed     = errors.New("kegsync: store closed")
	ErrMigrationFailed = errors.New("kegsync: migration failed")

	// Not found errors.
	ErrBatchNotFound  = errors.New("kegsync: batch not found")
	ErrPalletNotFound = errors.New("kegsync: pallet not found")
	ErrRetryNotFound  = errors.New("kegsync: retry entry not found")
	ErrAlertNotFound  = errors.New("kegsync: alert not found")
	ErrEventNotFound  = errors.New("kegsync: event not found")

	// Conflict errors.
	ErrBatchExists      = errors.New("kegsync: batch already exists")
	ErrPalletExists     = errors.New("kegsync: active pallet already exists for fingerprint")
	ErrLabelAlreadySent = errors.New("kegsync: batch label already sent")

	// State errors.
	ErrInvalidTransition   = errors.New("kegsync: invalid status transition")
	ErrInvalidPalletStatus = errors.New("kegsync: invalid pallet status")
	ErrNoPayload           = errors.New("kegsync: batch has no stored payload")
	ErrDeliveryInFlight    = errors.New("kegsync: delivery already in flight")

	// Pipeline errors.
	ErrNoDetector     = errors.New("kegsync: no detector configured")
	ErrDeliveryFailed = errors.New("kegsync: delivery failed")
	ErrAlreadyStarted = errors.New("kegsync: already started")
	ErrNotStarted     = errors.New("kegsync: station not started")
	ErrInvalidCapture = errors.New("kegsync: invalid capture")
)
