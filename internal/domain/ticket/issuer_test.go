package ticket

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

func newTestIssuer() (*Issuer, *MemoryRepository, *messaging.MemoryOutbox) {
	outbox := messaging.NewMemoryOutbox()
	repo := NewMemoryRepository(outbox)
	return NewIssuer(repo, clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))), repo, outbox
}

func confirmed(orderID, tierID string) events.ReservationConfirmed {
	return events.ReservationConfirmed{
		ReservationID: "res-" + orderID + "-" + tierID,
		OrderID:       orderID,
		UserID:        "user-1",
		EventID:       "E1",
		SessionID:     "S1",
		TierID:        tierID,
		Quantity:      2,
	}
}

// ============================================
// Issue Tests
// ============================================

func TestIssuer_OnReservationConfirmed_IssuesOncePerReservation(t *testing.T) {
	issuer, _, outbox := newTestIssuer()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))
	}
	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "VIP")))

	tickets, err := issuer.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, StatusIssued, tickets[0].Status)
	assert.Equal(t, "res-order-1-GA", tickets[0].ReservationID)
	assert.Equal(t, 2, tickets[0].Quantity)
	assert.Equal(t, []string{events.TopicTicketIssued, events.TopicTicketIssued}, outbox.PendingTopics())
}

func TestIssuer_OnReservationConfirmed_AfterCancellation(t *testing.T) {
	issuer, _, outbox := newTestIssuer()
	ctx := context.Background()
	require.NoError(t, issuer.OnOrderCancelled(ctx, events.OrderCancelled{OrderID: "order-1"}))

	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))

	tickets, err := issuer.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Empty(t, outbox.PendingTopics())
}

// racingRepository commits a cancellation tombstone right after the ticket is
// written, the window a concurrent CancelForOrder can hit.
type racingRepository struct {
	*MemoryRepository
}

func (r racingRepository) Issue(ctx context.Context, t Ticket, evs ...events.Event) (Ticket, bool, error) {
	issued, created, err := r.MemoryRepository.Issue(ctx, t, evs...)
	if err != nil {
		return issued, created, err
	}
	return issued, created, r.MarkOrderCancelled(ctx, t.OrderID, t.IssuedAt)
}

func TestIssuer_OnReservationConfirmed_CancellationDuringIssue(t *testing.T) {
	_, repo, outbox := newTestIssuer()
	issuer := NewIssuer(racingRepository{repo}, clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))

	tickets, err := issuer.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, StatusCancelled, tickets[0].Status)
	assert.Equal(t, []string{events.TopicTicketIssued, events.TopicTicketCancelled}, outbox.PendingTopics())
}

// ============================================
// Cancel Tests
// ============================================

func TestIssuer_OnOrderCancelled_CancelsEveryTicketOnce(t *testing.T) {
	issuer, _, outbox := newTestIssuer()
	ctx := context.Background()
	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))
	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "VIP")))
	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-2", "GA")))

	cancelled := events.OrderCancelled{OrderID: "order-1", Reason: "reservation failed"}
	require.NoError(t, issuer.OnOrderCancelled(ctx, cancelled))
	require.NoError(t, issuer.OnOrderCancelled(ctx, cancelled))

	tickets, err := issuer.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	for _, tk := range tickets {
		assert.Equal(t, StatusCancelled, tk.Status)
		assert.NotNil(t, tk.CancelledAt)
	}
	other, err := issuer.ByOrder(ctx, "order-2")
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, other[0].Status)

	topics := outbox.PendingTopics()
	assert.Equal(t, []string{events.TopicTicketCancelled, events.TopicTicketCancelled}, topics[3:])
}

func TestIssuer_OnRefundDecision(t *testing.T) {
	tests := []struct {
		name     string
		decision events.DecisionType
		want     Status
	}{
		{"approve cancels", events.DecisionApprove, StatusCancelled},
		{"reject keeps ticket", events.DecisionReject, StatusIssued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, _, _ := newTestIssuer()
			ctx := context.Background()
			require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))

			require.NoError(t, issuer.OnRefundDecision(ctx, events.RefundDecisionRegistered{OrderID: "order-1", DecisionType: tt.decision}))

			tickets, err := issuer.ByOrder(ctx, "order-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, tickets[0].Status)
		})
	}
}

// ============================================
// Validate Tests
// ============================================

func TestIssuer_Validate(t *testing.T) {
	issuer, _, _ := newTestIssuer()
	ctx := context.Background()
	require.NoError(t, issuer.OnReservationConfirmed(ctx, confirmed("order-1", "GA")))
	tickets, err := issuer.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	id := tickets[0].ID

	validated, err := issuer.Validate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, validated.Status)
	assert.NotNil(t, validated.ValidatedAt)

	_, err = issuer.Validate(ctx, id)
	assert.ErrorIs(t, err, sagaerr.ErrInvalidTransition)

	require.NoError(t, issuer.CancelForOrder(ctx, "order-1", "refund approved"))
	cancelled, err := issuer.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestIssuer_Validate_NotFound(t *testing.T) {
	issuer, _, _ := newTestIssuer()

	_, err := issuer.Validate(context.Background(), "missing")

	assert.ErrorIs(t, err, sagaerr.ErrNotFound)
}
