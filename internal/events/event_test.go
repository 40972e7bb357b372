package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_TopLevelFields(t *testing.T) {
	// Arrange
	body := []byte(`{"transaction_id":555,"listing_id":42,"buyer_id":7,"seller_id":3,"status":"ESCROW_HELD","amount":100.50,"currency":"usd"}`)

	// Act
	evt, err := Normalize(RoutingEscrowFundsHeld, body)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "escrow.funds_held", evt.RoutingKey)
	assert.Equal(t, "escrow_funds_held", evt.EventType)
	assert.Equal(t, int64(555), *evt.TransactionID)
	assert.Equal(t, int64(42), *evt.ListingID)
	assert.True(t, evt.HasParticipants())
	assert.Nil(t, evt.SaleID)
	assert.Equal(t, "ESCROW_HELD", evt.Status)
	assert.True(t, evt.Amount.Valid)
	assert.True(t, evt.Amount.Decimal.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, "USD", *evt.Currency)
}

func TestNormalize_NestedDataProbedOutermostFirst(t *testing.T) {
	// Arrange
	body := []byte(`{
		"event_type": "transaction_updated",
		"data": {
			"transaction_id": "555",
			"status": "",
			"data": {"status": "TransactionStatus.PAID", "listing_id": 42, "transaction_id": 999}
		}
	}`)

	// Act
	evt, err := Normalize(RoutingTransactionUpdated, body)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "transaction_updated", evt.EventType)
	assert.Equal(t, int64(555), *evt.TransactionID)
	assert.Equal(t, int64(42), *evt.ListingID)
	assert.Equal(t, "TransactionStatus.PAID", evt.Status)
	assert.False(t, evt.HasParticipants())
}

func TestNormalize_ParsesTimestamps(t *testing.T) {
	// Arrange
	body := []byte(`{"data":{"completed_at":"2025-03-01T10:00:00Z","created_at":"2025-03-01 09:00:00"}}`)

	// Act
	evt, err := Normalize(RoutingTransactionCompleted, body)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, evt.CompletedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), *evt.CompletedAt)
	require.NotNil(t, evt.CreatedAt)
	assert.Equal(t, 9, evt.CreatedAt.Hour())
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `not-json`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"fractional id", `{"transaction_id": 1.5}`},
		{"id above int64", `{"transaction_id": 1e20}`},
		{"id below int64", `{"sale_id": -1e20}`},
		{"id at 2^63 as string", `{"listing_id": "9.223372036854775808e18"}`},
		{"bad amount", `{"amount": "ten"}`},
		{"bad time", `{"completed_at": "yesterday"}`},
		{"object id", `{"sale_id": {"id": 1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(RoutingTransactionUpdated, []byte(tt.body))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestNormalize_IntegralExponentID(t *testing.T) {
	// Act
	evt, err := Normalize(RoutingTransactionUpdated, []byte(`{"transaction_id": 5.55e2}`))

	// Assert
	require.NoError(t, err)
	require.NotNil(t, evt.TransactionID)
	assert.Equal(t, int64(555), *evt.TransactionID)
}

func TestEventTypeFromRoutingKey(t *testing.T) {
	assert.Equal(t, "escrow_funds_released", EventTypeFromRoutingKey("escrow.funds_released"))
	assert.Equal(t, "transaction_completed", EventTypeFromRoutingKey(" Transaction.Completed "))
}

func TestEvent_Shadow(t *testing.T) {
	// Arrange
	evt, err := Normalize(RoutingTransactionCreated, []byte(`{"transaction_id":555,"amount":"100","fee_amount":"2.5"}`))
	require.NoError(t, err)

	// Act
	shadow := evt.Shadow()

	// Assert
	assert.Equal(t, int64(555), shadow.ID)
	assert.True(t, shadow.Amount.Valid)
	assert.True(t, shadow.FeeAmount.Decimal.Equal(decimal.RequireFromString("2.5")))
	assert.Nil(t, shadow.Status)
}
