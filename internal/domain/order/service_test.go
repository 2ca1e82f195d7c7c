package order

import (
	"context"
	"testing"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrderService() (*Service, *messaging.MemoryOutbox) {
	outbox := messaging.NewMemoryOutbox()
	service := NewService(NewMemoryRepository(outbox), clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	return service, outbox
}

func testLines() []events.OrderLine {
	return []events.OrderLine{
		{EventID: "E1", SessionID: "S1", TierID: "VIP", Quantity: 1, UnitPrice: 5000},
		{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 2, UnitPrice: 1000},
	}
}

func createTestOrder(t *testing.T, s *Service) Order {
	t.Helper()
	o, err := s.Create(context.Background(), "user-123", testLines())
	require.NoError(t, err)
	return o
}

func assertStatus(t *testing.T, s *Service, id string, want Status) Order {
	t.Helper()
	o, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, o.Status)
	return o
}

// ============================================
// Create Tests
// ============================================

func TestService_Create_Success(t *testing.T) {
	service, outbox := newTestOrderService()

	o, err := service.Create(context.Background(), "user-123", testLines())

	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int64(7000), o.Total) // 1*5000 + 2*1000
	assert.Equal(t, "GA", o.Lines[0].TierID)
	assert.Equal(t, []string{events.TopicOrderCreated}, outbox.PendingTopics())

	created, err := events.DecodeAs[events.OrderCreated](outbox.Pending()[0])
	require.NoError(t, err)
	assert.Equal(t, o.ID, created.OrderID)
	assert.Equal(t, o.ID, outbox.Pending()[0].Key)
	assert.Equal(t, int64(7000), created.Total)
}

func TestService_Create_MergesDuplicateTiers(t *testing.T) {
	service, _ := newTestOrderService()
	lines := []events.OrderLine{
		{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 2, UnitPrice: 1000},
		{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 1, UnitPrice: 1000},
	}

	o, err := service.Create(context.Background(), "user-123", lines)

	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 3, o.Lines[0].Quantity)
	assert.Equal(t, int64(3000), o.Total)
}

func TestService_Create_Validation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		lines  []events.OrderLine
	}{
		{"no user", "", testLines()},
		{"no lines", "user-123", nil},
		{"zero quantity", "user-123", []events.OrderLine{{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 0}}},
		{"missing session", "user-123", []events.OrderLine{{EventID: "E1", TierID: "GA", Quantity: 1}}},
		{"negative price", "user-123", []events.OrderLine{{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 1, UnitPrice: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, outbox := newTestOrderService()

			_, err := service.Create(context.Background(), tt.userID, tt.lines)

			assert.ErrorIs(t, err, sagaerr.ErrValidation)
			assert.Empty(t, outbox.Pending())
		})
	}
}

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestOrderService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, sagaerr.ErrNotFound)
}

// ============================================
// Payment Tests
// ============================================

func TestService_OnPaymentCaptured_PublishesOrderPaidOnce(t *testing.T) {
	service, outbox := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	captured := events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID, Amount: o.Total}

	for i := 0; i < 3; i++ {
		require.NoError(t, service.OnPaymentCaptured(ctx, captured))
	}

	paid := assertStatus(t, service, o.ID, StatusPaid)
	assert.Equal(t, "pay-1", paid.PaymentID)
	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPaid}, outbox.PendingTopics())

	orderPaid, err := events.DecodeAs[events.OrderPaid](outbox.Pending()[1])
	require.NoError(t, err)
	assert.Equal(t, o.Lines, orderPaid.Lines)
	assert.Equal(t, "pay-1", orderPaid.PaymentID)
}

func TestService_OnPaymentInitiated(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)

	require.NoError(t, service.OnPaymentInitiated(ctx, events.PaymentInitiated{PaymentID: "pay-1", OrderID: o.ID}))
	assertStatus(t, service, o.ID, StatusPaymentPending)

	require.NoError(t, service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID}))
	assertStatus(t, service, o.ID, StatusPaid)
}

func TestService_OnPaymentInitiated_AfterCaptureIsNoop(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	require.NoError(t, service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID}))

	err := service.OnPaymentInitiated(ctx, events.PaymentInitiated{PaymentID: "pay-1", OrderID: o.ID})

	require.NoError(t, err)
	assertStatus(t, service, o.ID, StatusPaid)
}

func TestService_OnPaymentFailed(t *testing.T) {
	service, outbox := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)

	require.NoError(t, service.OnPaymentFailed(ctx, events.PaymentFailed{PaymentID: "pay-1", OrderID: o.ID, Reason: "card declined"}))
	require.NoError(t, service.OnPaymentFailed(ctx, events.PaymentFailed{PaymentID: "pay-1", OrderID: o.ID, Reason: "card declined"}))

	failed := assertStatus(t, service, o.ID, StatusPaymentFailed)
	assert.Equal(t, "card declined", failed.Reason)
	assert.Equal(t, []string{events.TopicOrderCreated}, outbox.PendingTopics())
}

func TestService_OnPaymentCaptured_AfterFailureIsInvalid(t *testing.T) {
	service, outbox := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	require.NoError(t, service.OnPaymentFailed(ctx, events.PaymentFailed{PaymentID: "pay-1", OrderID: o.ID}))

	err := service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID})

	assert.ErrorIs(t, err, sagaerr.ErrInvalidTransition)
	assertStatus(t, service, o.ID, StatusPaymentFailed)
	assert.Equal(t, []string{events.TopicOrderCreated}, outbox.PendingTopics())
}

// ============================================
// Cancellation Tests
// ============================================

func TestService_OnReservationFailed_CancelsPaidOrder(t *testing.T) {
	service, outbox := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	require.NoError(t, service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID}))

	failed := events.ReservationFailed{OrderID: o.ID, TierID: "VIP", Reason: "insufficient stock"}
	require.NoError(t, service.OnReservationFailed(ctx, failed))
	require.NoError(t, service.OnReservationFailed(ctx, failed))

	cancelled := assertStatus(t, service, o.ID, StatusCancelled)
	assert.Equal(t, "reservation failed: insufficient stock", cancelled.Reason)
	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderPaid, events.TopicOrderCancelled}, outbox.PendingTopics())
}

func TestService_OnRefundDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision events.DecisionType
		want     Status
	}{
		{"approve cancels", events.DecisionApprove, StatusCancelled},
		{"reject keeps paid", events.DecisionReject, StatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestOrderService()
			ctx := context.Background()
			o := createTestOrder(t, service)
			require.NoError(t, service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID}))

			err := service.OnRefundDecision(ctx, events.RefundDecisionRegistered{
				RequestID: "req-1", OrderID: o.ID, PaymentID: "pay-1", DecisionType: tt.decision,
			})

			require.NoError(t, err)
			assertStatus(t, service, o.ID, tt.want)
		})
	}
}

func TestService_Cancel(t *testing.T) {
	service, outbox := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)

	cancelled, err := service.Cancel(ctx, o.ID, "")

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by user", cancelled.Reason)
	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderCancelled}, outbox.PendingTopics())
}

func TestService_Cancel_PaidOrderIsRejected(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	require.NoError(t, service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID}))

	_, err := service.Cancel(ctx, o.ID, "changed my mind")

	assert.ErrorIs(t, err, sagaerr.ErrInvalidTransition)
	assertStatus(t, service, o.ID, StatusPaid)
}

func TestService_OnPaymentCaptured_AfterCancelIsInvalid(t *testing.T) {
	service, _ := newTestOrderService()
	ctx := context.Background()
	o := createTestOrder(t, service)
	_, err := service.Cancel(ctx, o.ID, "")
	require.NoError(t, err)

	err = service.OnPaymentCaptured(ctx, events.PaymentCaptured{PaymentID: "pay-1", OrderID: o.ID})

	assert.ErrorIs(t, err, sagaerr.ErrInvalidTransition)
	assert.True(t, sagaerr.Rejected(err))
}

// ============================================
// State Machine Tests
// ============================================

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from   Status
		target Status
		want   bool
	}{
		{StatusCreated, StatusPaymentPending, true},
		{StatusCreated, StatusPaid, true},
		{StatusPaymentPending, StatusPaymentFailed, true},
		{StatusPaid, StatusCancelled, true},
		{StatusPaid, StatusPaymentFailed, false},
		{StatusPaymentFailed, StatusPaid, false},
		{StatusCancelled, StatusPaid, false},
		{StatusCancelled, StatusCreated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.target), func(t *testing.T) {
			o := &Order{Status: tt.from}
			assert.Equal(t, tt.want, o.CanTransitionTo(tt.target))
		})
	}
}
