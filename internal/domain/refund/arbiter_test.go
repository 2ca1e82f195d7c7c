package refund

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

func newTestArbiter() (*Arbiter, *messaging.MemoryOutbox) {
	outbox := messaging.NewMemoryOutbox()
	return NewArbiter(NewMemoryRepository(outbox), clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))), outbox
}

func submitTestRequest(t *testing.T, a *Arbiter) Request {
	t.Helper()
	r, err := a.Submit(context.Background(), SubmitInput{OrderID: "order-1", PaymentID: "pay-1", UserID: "user-1", Reason: "cannot attend"})
	require.NoError(t, err)
	return r
}

// ============================================
// Submit Tests
// ============================================

func TestArbiter_Submit(t *testing.T) {
	a, outbox := newTestArbiter()

	r := submitTestRequest(t, a)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StatusOpen, r.Status)
	assert.Nil(t, r.Decision)
	assert.Empty(t, outbox.Pending())
}

func TestArbiter_Submit_ReturnsOpenRequest(t *testing.T) {
	a, _ := newTestArbiter()
	first := submitTestRequest(t, a)

	second := submitTestRequest(t, a)

	assert.Equal(t, first.ID, second.ID)
}

func TestArbiter_Submit_AfterRejection(t *testing.T) {
	a, _ := newTestArbiter()
	first := submitTestRequest(t, a)
	_, err := a.Decide(context.Background(), first.ID, events.DecisionReject, "operator-1", "")
	require.NoError(t, err)

	second := submitTestRequest(t, a)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, StatusOpen, second.Status)
}

func TestArbiter_Submit_Validation(t *testing.T) {
	a, _ := newTestArbiter()

	_, err := a.Submit(context.Background(), SubmitInput{UserID: "user-1"})

	assert.ErrorIs(t, err, sagaerr.ErrValidation)
}

// ============================================
// Decide Tests
// ============================================

func TestArbiter_Decide_ApprovePublishes(t *testing.T) {
	a, outbox := newTestArbiter()
	r := submitTestRequest(t, a)

	decided, err := a.Decide(context.Background(), r.ID, events.DecisionApprove, "operator-1", "event cancelled")

	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	require.NotNil(t, decided.Decision)
	assert.Equal(t, "operator-1", decided.Decision.DecidedBy)
	require.Equal(t, []string{events.TopicRefundDecision}, outbox.PendingTopics())

	msg := outbox.Pending()[0]
	assert.Equal(t, "order-1", msg.Key)
	e, err := events.DecodeAs[events.RefundDecisionRegistered](msg)
	require.NoError(t, err)
	assert.True(t, e.Approved())
	assert.Equal(t, "pay-1", e.PaymentID)
	assert.Equal(t, "user-1", e.UserID)
}

func TestArbiter_Decide_RejectOnlyCloses(t *testing.T) {
	a, outbox := newTestArbiter()
	r := submitTestRequest(t, a)

	decided, err := a.Decide(context.Background(), r.ID, events.DecisionReject, "operator-1", "")

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, decided.Status)
	assert.Empty(t, outbox.Pending())
}

func TestArbiter_Decide_IsOneShot(t *testing.T) {
	tests := []struct {
		name    string
		second  events.DecisionType
		wantErr error
	}{
		{"same decision is a no-op", events.DecisionApprove, nil},
		{"conflicting decision fails", events.DecisionReject, sagaerr.ErrAlreadyDecided},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, outbox := newTestArbiter()
			r := submitTestRequest(t, a)
			_, err := a.Decide(context.Background(), r.ID, events.DecisionApprove, "operator-1", "")
			require.NoError(t, err)

			after, err := a.Decide(context.Background(), r.ID, tt.second, "operator-2", "")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, StatusApproved, after.Status)
			assert.Equal(t, "operator-1", after.Decision.DecidedBy)
			assert.Len(t, outbox.Pending(), 1)
		})
	}
}

func TestArbiter_Decide_Validation(t *testing.T) {
	a, _ := newTestArbiter()
	r := submitTestRequest(t, a)

	_, err := a.Decide(context.Background(), r.ID, "MAYBE", "operator-1", "")
	assert.ErrorIs(t, err, sagaerr.ErrValidation)

	_, err = a.Decide(context.Background(), r.ID, events.DecisionApprove, "", "")
	assert.ErrorIs(t, err, sagaerr.ErrValidation)

	_, err = a.Decide(context.Background(), "missing", events.DecisionApprove, "operator-1", "")
	assert.ErrorIs(t, err, sagaerr.ErrNotFound)
}
