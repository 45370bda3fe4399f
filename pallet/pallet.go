// Package pallet is the registry of physical pallets known to the
// station. It maps a fingerprint to one pallet identity and shipment state
// and refuses a second live pallet for the same code set.
package pallet

import (
	"time"

	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
)

// Status is the shipment state of a pallet.
type Status string

const (
	// StatusCreated means the pallet was registered after decoding.
	StatusCreated Status = "CREATED"
	// StatusLoaded means the pallet is staged on a truck.
	StatusLoaded Status = "LOADED"
	// StatusShipped means the pallet left the site. A shipped pallet no
	// longer blocks its fingerprint.
	StatusShipped Status = "SHIPPED"
)

// Statuses is the allowed status set.
var Statuses = []Status{StatusCreated, StatusLoaded, StatusShipped}

// Valid reports whether s belongs to the allowed set.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Pallet is one registry record.
type Pallet struct {
	ID          id.PalletID             `json:"id"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	SessionID   string                  `json:"session_id"`
	KegType     string                  `json:"keg_type"`
	KegCount    int                     `json:"keg_count"`
	Status      Status                  `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	ShippedAt   *time.Time              `json:"shipped_at,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}
