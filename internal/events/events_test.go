package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ticketing-saga/internal/logging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_StampsEnvelope(t *testing.T) {
	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	paid := OrderPaid{
		OrderID: "order-1",
		UserID:  "user-1",
		Lines:   []OrderLine{{EventID: "E1", SessionID: "S1", TierID: "T1", Quantity: 2, UnitPrice: 1500}},
		PaidAt:  time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}

	msg, err := NewMessage(ctx, paid)

	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, TopicOrderPaid, msg.Topic)
	assert.Equal(t, "order-1", msg.Key)
	assert.Equal(t, 1, msg.SchemaVersion)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.False(t, msg.OccurredAt.IsZero())

	decoded, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, paid, decoded)
}

func TestDecodeAs(t *testing.T) {
	msg, err := NewMessage(context.Background(), ReservationFailed{OrderID: "order-1", Reason: "insufficient stock"})
	require.NoError(t, err)

	failed, err := DecodeAs[ReservationFailed](msg)
	require.NoError(t, err)
	assert.Equal(t, "order-1", failed.OrderID)

	_, err = DecodeAs[OrderPaid](msg)
	assert.ErrorIs(t, err, sagaerr.ErrMalformedEvent)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{
			name:    "unknown topic",
			msg:     Message{Topic: "orders.shipped", SchemaVersion: 1, Payload: []byte(`{}`)},
			wantErr: ErrUnknownEvent,
		},
		{
			name:    "newer schema",
			msg:     Message{Topic: TopicOrderPaid, SchemaVersion: 2, Payload: []byte(`{}`)},
			wantErr: sagaerr.ErrUnsupportedSchema,
		},
		{
			name:    "broken payload",
			msg:     Message{Topic: TopicOrderPaid, SchemaVersion: 1, Payload: []byte(`{"order_id":`)},
			wantErr: sagaerr.ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.msg)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDecode_OlderSchemaAccepted(t *testing.T) {
	msg := Message{Topic: TopicOrderCancelled, SchemaVersion: 0, Payload: []byte(`{"order_id":"order-9"}`)}

	e, err := Decode(msg)

	require.NoError(t, err)
	assert.Equal(t, OrderCancelled{OrderID: "order-9"}, e)
}

func TestRegistry_CoversEveryTopic(t *testing.T) {
	for _, topic := range []string{
		TopicOrderCreated, TopicOrderPaid, TopicOrderCancelled,
		TopicPaymentInitiated, TopicPaymentCaptured, TopicPaymentFailed,
		TopicPaymentRefunded, TopicPaymentRefundFailed,
		TopicReservationConfirmed, TopicReservationFailed, TopicReservationReleased,
		TopicTicketIssued, TopicTicketCancelled,
		TopicRefundDecision, TopicSessionPublished, TopicSessionRemoved,
	} {
		_, ok := SchemaVersion(topic)
		assert.True(t, ok, topic)
	}
	assert.Len(t, Topics(), 16)
}

func TestNormalizeLines_MergesSameTier(t *testing.T) {
	lines := []OrderLine{
		{EventID: "e1", SessionID: "s1", TierID: "vip", Quantity: 1, UnitPrice: 300},
		{EventID: "e1", SessionID: "s1", TierID: "ga", Quantity: 2, UnitPrice: 100},
		{EventID: "e1", SessionID: "s1", TierID: "vip", Quantity: 2, UnitPrice: 300},
	}

	merged, err := NormalizeLines(lines)

	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "ga", merged[0].TierID)
	assert.Equal(t, 2, merged[0].Quantity)
	assert.Equal(t, "vip", merged[1].TierID)
	assert.Equal(t, 3, merged[1].Quantity)
	assert.Equal(t, int64(1100), Total(merged))
}

func TestNormalizeLines_Invalid(t *testing.T) {
	valid := OrderLine{EventID: "e1", SessionID: "s1", TierID: "ga", Quantity: 1, UnitPrice: 100}

	tests := []struct {
		name  string
		lines []OrderLine
	}{
		{"no lines", nil},
		{"missing tier", []OrderLine{{EventID: "e1", SessionID: "s1", Quantity: 1}}},
		{"missing session", []OrderLine{{EventID: "e1", TierID: "ga", Quantity: 1}}},
		{"zero quantity", []OrderLine{{EventID: "e1", SessionID: "s1", TierID: "ga"}}},
		{"negative price", []OrderLine{{EventID: "e1", SessionID: "s1", TierID: "ga", Quantity: 1, UnitPrice: -1}}},
		{"conflicting duplicate", []OrderLine{valid, {EventID: "e1", SessionID: "s1", TierID: "ga", Quantity: 1, UnitPrice: 200}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeLines(tt.lines)
			assert.ErrorIs(t, err, sagaerr.ErrValidation)
		})
	}
}
