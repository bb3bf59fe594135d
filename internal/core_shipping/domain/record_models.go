package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageStatus defines the dispatch lifecycle state of a shipment record.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// IsTerminal reports whether the status is final for a dispatch run.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether the value is a known status.
func (s MessageStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// displayLabels maps internal statuses to operator-facing labels. Kept apart
// from the enum so the UI wording can change without touching persisted state.
var displayLabels = map[MessageStatus]string{
	StatusPending:   "Waiting",
	StatusSending:   "Sending…",
	StatusSent:      "Sent",
	StatusFailed:    "Failed",
	StatusCancelled: "Cancelled",
}

// DisplayLabel returns the operator-facing label for the status.
func (s MessageStatus) DisplayLabel() string {
	if label, ok := displayLabels[s]; ok {
		return label
	}
	return string(s)
}

// PickupDateLayout is the wire/date format of the eligibility field.
const PickupDateLayout = "2006-01-02"

// ShipmentRecord is one purchased line item awaiting a shipment message.
// ID is the merge key and stable across fetches. Status and ProcessedAt are
// owned by the dispatch engine / reconciler; everything the renderer needs
// beyond the identity fields lives in Attributes.
type ShipmentRecord struct {
	ID          int64
	Recipient   string
	PickupDate  time.Time
	Status      MessageStatus
	ProcessedAt *time.Time
	Attributes  map[string]string
}

// EligibleOn reports whether the record is in scope on the given day:
// pickup date on or before that day, compared by calendar date.
func (r ShipmentRecord) EligibleOn(day time.Time) bool {
	ry, rm, rd := r.PickupDate.Date()
	dy, dm, dd := day.Date()
	pickup := time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC)
	today := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return !pickup.After(today)
}

// Snapshot files carry records as flat JSON objects: identity and dispatch
// fields plus every business attribute at the top level.
var recordCoreKeys = map[string]bool{
	"id":             true,
	"recipient":      true,
	"pickup_date":    true,
	"message_status": true,
	"processed_at":   true,
}

// MarshalJSON flattens Attributes into the top-level object.
func (r ShipmentRecord) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Attributes)+5)
	for k, v := range r.Attributes {
		if !recordCoreKeys[k] {
			flat[k] = v
		}
	}
	flat["id"] = r.ID
	flat["recipient"] = r.Recipient
	flat["pickup_date"] = r.PickupDate.Format(PickupDateLayout)
	flat["message_status"] = r.Status
	if r.ProcessedAt != nil {
		flat["processed_at"] = r.ProcessedAt.UTC().Format(time.RFC3339)
	} else {
		flat["processed_at"] = nil
	}
	return json.Marshal(flat)
}

// UnmarshalJSON restores a flat record object, collecting unknown keys into
// Attributes. Scalar attribute values are kept as their string form.
func (r *ShipmentRecord) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if raw, ok := flat["id"]; ok {
		if err := json.Unmarshal(raw, &r.ID); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
	}
	if raw, ok := flat["recipient"]; ok {
		if err := json.Unmarshal(raw, &r.Recipient); err != nil {
			return fmt.Errorf("record recipient: %w", err)
		}
	}
	if raw, ok := flat["pickup_date"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("record pickup_date: %w", err)
		}
		t, err := time.Parse(PickupDateLayout, s)
		if err != nil {
			return fmt.Errorf("record pickup_date: %w", err)
		}
		r.PickupDate = t
	}
	if raw, ok := flat["message_status"]; ok {
		if err := json.Unmarshal(raw, &r.Status); err != nil {
			return fmt.Errorf("record message_status: %w", err)
		}
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	r.ProcessedAt = nil
	if raw, ok := flat["processed_at"]; ok && string(raw) != "null" {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("record processed_at: %w", err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("record processed_at: %w", err)
		}
		r.ProcessedAt = &t
	}

	r.Attributes = nil
	for k, raw := range flat {
		if recordCoreKeys[k] {
			continue
		}
		if r.Attributes == nil {
			r.Attributes = make(map[string]string)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			r.Attributes[k] = s
		} else {
			// Numbers, booleans: keep the raw JSON text.
			r.Attributes[k] = string(raw)
		}
	}
	return nil
}

// RecipientGroup is a non-empty ordered set of records sharing a recipient,
// built fresh for every render/dispatch cycle. Records are value copies; the
// dispatch engine mutates its own copies and hands them back for persistence.
type RecipientGroup struct {
	Recipient string
	Records   []ShipmentRecord
}
