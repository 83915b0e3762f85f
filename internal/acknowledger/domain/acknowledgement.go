// Package domain models the receiving side of a notification callback.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrMissingEventID = errors.New("event id is required")
	ErrDevisNotFound  = errors.New("devis not found")
)

// Acknowledgement is one callback as seen by a target, keyed by
// (EventID, Target). Repeat deliveries only bump the counters.
type Acknowledgement struct {
	ID              int64           `json:"id"`
	EventID         string          `json:"event_id"`
	Target          string          `json:"target"`
	EventType       string          `json:"event_type"`
	NotificationID  string          `json:"notification_id,omitempty"`
	Action          string          `json:"action,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	DeliveryCount   int             `json:"delivery_count"`
	FirstReceivedAt time.Time       `json:"first_received_at"`
	LastReceivedAt  time.Time       `json:"last_received_at"`
	AppliedAt       *time.Time      `json:"applied_at,omitempty"`
}

// Duplicate reports whether the callback had been received before.
func (a Acknowledgement) Duplicate() bool { return a.DeliveryCount > 1 }

// Applied reports whether the callback's effect has completed.
func (a Acknowledgement) Applied() bool { return a.AppliedAt != nil }
