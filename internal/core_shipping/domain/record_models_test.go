package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusSending.IsTerminal())
	assert.True(t, StatusSent.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestMessageStatus_DisplayLabel(t *testing.T) {
	assert.Equal(t, "Sent", StatusSent.DisplayLabel())
	assert.Equal(t, "Sending…", StatusSending.DisplayLabel())
	// Unknown statuses fall back to the raw value rather than panicking.
	assert.Equal(t, "weird", MessageStatus("weird").DisplayLabel())
}

func TestShipmentRecord_EligibleOn(t *testing.T) {
	today := time.Date(2026, 8, 28, 15, 4, 0, 0, time.Local)

	past := ShipmentRecord{PickupDate: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)}
	sameDay := ShipmentRecord{PickupDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}
	future := ShipmentRecord{PickupDate: time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)}

	assert.True(t, past.EligibleOn(today))
	assert.True(t, sameDay.EligibleOn(today), "pickup date exactly today is in scope")
	assert.False(t, future.EligibleOn(today))
}

func TestShipmentRecord_JSONFlattening(t *testing.T) {
	processed := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	rec := ShipmentRecord{
		ID:          42,
		Recipient:   "Acme Store",
		PickupDate:  time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		Status:      StatusSent,
		ProcessedAt: &processed,
		Attributes:  map[string]string{"order_code": "PO-1881", "quantity": "3"},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	// Business attributes sit at the top level next to the core fields.
	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "PO-1881", flat["order_code"])
	assert.Equal(t, "sent", flat["message_status"])
	assert.Equal(t, "2026-08-28", flat["pickup_date"])
	assert.Equal(t, "2026-08-28T10:30:00Z", flat["processed_at"])

	var back ShipmentRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Recipient, back.Recipient)
	assert.Equal(t, rec.Status, back.Status)
	require.NotNil(t, back.ProcessedAt)
	assert.True(t, back.ProcessedAt.Equal(processed))
	assert.Equal(t, rec.Attributes, back.Attributes)
}

func TestShipmentRecord_UnmarshalDefaults(t *testing.T) {
	var rec ShipmentRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id": 7, "recipient": "Acme", "pickup_date": "2026-08-27", "processed_at": null}`), &rec))

	assert.Equal(t, StatusPending, rec.Status, "missing status defaults to pending")
	assert.Nil(t, rec.ProcessedAt)
}
