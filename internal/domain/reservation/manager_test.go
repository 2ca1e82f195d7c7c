package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testManager struct {
	*Manager
	repo   *MemoryRepository
	ledger *ledger.Ledger
	outbox *messaging.MemoryOutbox
}

// newTestManager stocks session E1/S1 with the given tier quantities.
func newTestManager(t *testing.T, tiers map[string]int) *testManager {
	t.Helper()
	clk := clock.NewFixed(testNow)
	l := ledger.New(ledger.NewMemoryRepository(), clk, ledger.Config{MaxRetries: 3})
	for tier, qty := range tiers {
		_, err := l.Initialize(context.Background(), ledger.Key{EventID: "E1", SessionID: "S1", TierID: tier}, qty)
		require.NoError(t, err)
	}
	repo := NewMemoryRepository()
	outbox := messaging.NewMemoryOutbox()
	return &testManager{
		Manager: NewManager(repo, l, outbox, clk),
		repo:    repo,
		ledger:  l,
		outbox:  outbox,
	}
}

func (tm *testManager) available(t *testing.T, tier string) int {
	t.Helper()
	entry, err := tm.ledger.Get(context.Background(), ledger.Key{EventID: "E1", SessionID: "S1", TierID: tier})
	require.NoError(t, err)
	return entry.AvailableQuantity
}

func line(tier string, qty int) events.OrderLine {
	return events.OrderLine{EventID: "E1", SessionID: "S1", TierID: tier, Quantity: qty, UnitPrice: 1000}
}

func paid(orderID string, lines ...events.OrderLine) events.OrderPaid {
	return events.OrderPaid{OrderID: orderID, UserID: "user-1", PaymentID: "pay-" + orderID, Lines: lines, PaidAt: testNow}
}

// ============================================
// OnOrderPaid Tests
// ============================================

func TestManager_OnOrderPaid_ConfirmsEveryLine(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10, "VIP": 2})
	ctx := context.Background()

	err := tm.OnOrderPaid(ctx, paid("order-1", line("VIP", 2), line("GA", 3)))

	require.NoError(t, err)
	assert.Equal(t, 7, tm.available(t, "GA"))
	assert.Equal(t, 0, tm.available(t, "VIP"))
	assert.Equal(t, []string{events.TopicReservationConfirmed, events.TopicReservationConfirmed}, tm.outbox.PendingTopics())

	confirmed, err := events.DecodeAs[events.ReservationConfirmed](tm.outbox.Pending()[0])
	require.NoError(t, err)
	assert.Equal(t, "GA", confirmed.TierID)
	assert.Equal(t, ID("order-1", "GA"), confirmed.ReservationID)
	assert.Equal(t, 3, confirmed.Quantity)

	reservations, err := tm.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	for _, r := range reservations {
		assert.Equal(t, StatusConfirmed, r.Status)
		assert.NotNil(t, r.ConfirmedAt)
	}
}

func TestManager_OnOrderPaid_MergesDuplicateTiers(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})

	err := tm.OnOrderPaid(context.Background(), paid("order-1", line("GA", 2), line("GA", 3)))

	require.NoError(t, err)
	assert.Equal(t, 5, tm.available(t, "GA"))
	reservations, err := tm.ByOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, 5, reservations[0].Quantity)
}

func TestManager_OnOrderPaid_InsufficientStockReleasesEarlierLines(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10, "VIP": 1})
	ctx := context.Background()

	err := tm.OnOrderPaid(ctx, paid("order-1", line("GA", 4), line("VIP", 2)))

	require.NoError(t, err)
	assert.Equal(t, 10, tm.available(t, "GA"))
	assert.Equal(t, 1, tm.available(t, "VIP"))
	assert.Equal(t, []string{events.TopicReservationReleased, events.TopicReservationFailed}, tm.outbox.PendingTopics())

	failed, err := events.DecodeAs[events.ReservationFailed](tm.outbox.Pending()[1])
	require.NoError(t, err)
	assert.Equal(t, "VIP", failed.TierID)
	assert.Equal(t, "insufficient stock", failed.Reason)

	ga, err := tm.repo.Get(ctx, ID("order-1", "GA"))
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, ga.Status)
	vip, err := tm.repo.Get(ctx, ID("order-1", "VIP"))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, vip.Status)
}

func TestManager_OnOrderPaid_UnknownTierFails(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})

	err := tm.OnOrderPaid(context.Background(), paid("order-1", line("BALCONY", 1)))

	require.NoError(t, err)
	assert.Equal(t, []string{events.TopicReservationFailed}, tm.outbox.PendingTopics())
}

func TestManager_OnOrderPaid_InvalidLinesFail(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})

	err := tm.OnOrderPaid(context.Background(), paid("order-1", line("GA", 0)))

	require.NoError(t, err)
	assert.Equal(t, 10, tm.available(t, "GA"))
	assert.Equal(t, []string{events.TopicReservationFailed}, tm.outbox.PendingTopics())
}

func TestManager_OnOrderPaid_RedeliveryDoesNotTouchStock(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})
	ctx := context.Background()
	e := paid("order-1", line("GA", 2))

	require.NoError(t, tm.OnOrderPaid(ctx, e))
	require.NoError(t, tm.OnOrderPaid(ctx, e))

	assert.Equal(t, 8, tm.available(t, "GA"))
	report, err := tm.ledger.Reconcile(ctx, ledger.Key{EventID: "E1", SessionID: "S1", TierID: "GA"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Reserved)
	assert.True(t, report.Consistent)
	assert.Equal(t, []string{events.TopicReservationConfirmed, events.TopicReservationConfirmed}, tm.outbox.PendingTopics())
}

func TestManager_OnOrderPaid_RedeliveryAfterFailureRepeatsOutcome(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 1})
	ctx := context.Background()
	e := paid("order-1", line("GA", 2))

	require.NoError(t, tm.OnOrderPaid(ctx, e))
	require.NoError(t, tm.OnOrderPaid(ctx, e))

	assert.Equal(t, 1, tm.available(t, "GA"))
	assert.Equal(t, []string{events.TopicReservationFailed, events.TopicReservationFailed}, tm.outbox.PendingTopics())
}

func TestManager_OnOrderPaid_CancelledOrderIsIgnored(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})
	ctx := context.Background()
	require.NoError(t, tm.OnOrderCancelled(ctx, events.OrderCancelled{OrderID: "order-1"}))

	err := tm.OnOrderPaid(ctx, paid("order-1", line("GA", 2)))

	require.NoError(t, err)
	assert.Equal(t, 10, tm.available(t, "GA"))
	assert.Empty(t, tm.outbox.PendingTopics())
	reservations, err := tm.repo.ByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

// cancelDuringReserveRepository lets a cancellation land right after the
// first tombstone check, before any reservation exists.
type cancelDuringReserveRepository struct {
	*MemoryRepository
	cancel func()
}

func (r *cancelDuringReserveRepository) IsOrderCancelled(ctx context.Context, orderID string) (bool, error) {
	cancelled, err := r.MemoryRepository.IsOrderCancelled(ctx, orderID)
	if cancel := r.cancel; cancel != nil {
		r.cancel = nil
		cancel()
	}
	return cancelled, err
}

func TestManager_OnOrderPaid_CancellationDuringReserve(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(ctx context.Context, m *Manager) error
	}{
		{"refund approved", func(ctx context.Context, m *Manager) error {
			return m.OnRefundDecision(ctx, events.RefundDecisionRegistered{
				RequestID:    "req-1",
				OrderID:      "order-1",
				DecisionType: events.DecisionApprove,
			})
		}},
		{"order cancelled", func(ctx context.Context, m *Manager) error {
			return m.OnOrderCancelled(ctx, events.OrderCancelled{OrderID: "order-1"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestManager(t, map[string]int{"GA": 10})
			ctx := context.Background()
			repo := &cancelDuringReserveRepository{MemoryRepository: tm.repo}
			m := NewManager(repo, tm.ledger, tm.outbox, clock.NewFixed(testNow))
			repo.cancel = func() { require.NoError(t, tt.cancel(ctx, m)) }

			err := m.OnOrderPaid(ctx, paid("order-1", line("GA", 2)))

			require.NoError(t, err)
			assert.Equal(t, 10, tm.available(t, "GA"))
			res, err := tm.repo.Get(ctx, ID("order-1", "GA"))
			require.NoError(t, err)
			assert.Equal(t, StatusReleased, res.Status)
			assert.Equal(t, []string{events.TopicReservationReleased}, tm.outbox.PendingTopics())
		})
	}
}

// sweepingStock runs the sweeper between reserving and confirming, the way a
// slow consumer would race an expiring hold.
type sweepingStock struct {
	*ledger.Ledger
	manager *Manager
}

func (s *sweepingStock) TryReserve(ctx context.Context, key ledger.Key, quantity int, causationID string) error {
	if err := s.Ledger.TryReserve(ctx, key, quantity, causationID); err != nil {
		return err
	}
	_, err := s.manager.SweepExpired(ctx, testNow.Add(time.Hour))
	return err
}

func TestManager_OnOrderPaid_HoldExpiredDuringConfirm(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})
	ctx := context.Background()
	stock := &sweepingStock{Ledger: tm.ledger}
	m := NewManager(tm.repo, stock, tm.outbox, clock.NewFixed(testNow))
	stock.manager = m

	err := m.OnOrderPaid(ctx, paid("order-1", line("GA", 2)))

	require.NoError(t, err)
	assert.Equal(t, 10, tm.available(t, "GA"))
	assert.Equal(t, []string{events.TopicReservationFailed}, tm.outbox.PendingTopics())
	res, err := tm.repo.Get(ctx, ID("order-1", "GA"))
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Status)
}

// ============================================
// Release Tests
// ============================================

func TestManager_OnOrderCancelled_ReleasesConfirmedStock(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})
	ctx := context.Background()
	require.NoError(t, tm.OnOrderPaid(ctx, paid("order-1", line("GA", 4))))

	require.NoError(t, tm.OnOrderCancelled(ctx, events.OrderCancelled{OrderID: "order-1"}))
	require.NoError(t, tm.OnOrderCancelled(ctx, events.OrderCancelled{OrderID: "order-1"}))

	assert.Equal(t, 10, tm.available(t, "GA"))
	res, err := tm.repo.Get(ctx, ID("order-1", "GA"))
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, res.Status)
	assert.Equal(t, "order cancelled", res.Reason)
	assert.Equal(t, []string{
		events.TopicReservationConfirmed,
		events.TopicReservationReleased,
		events.TopicReservationReleased,
	}, tm.outbox.PendingTopics())
}

func TestManager_OnRefundDecision(t *testing.T) {
	tests := []struct {
		name      string
		decision  events.DecisionType
		available int
	}{
		{"approve releases stock", events.DecisionApprove, 10},
		{"reject keeps stock reserved", events.DecisionReject, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := newTestManager(t, map[string]int{"GA": 10})
			ctx := context.Background()
			require.NoError(t, tm.OnOrderPaid(ctx, paid("order-1", line("GA", 3))))

			err := tm.OnRefundDecision(ctx, events.RefundDecisionRegistered{
				RequestID:    "req-1",
				OrderID:      "order-1",
				DecisionType: tt.decision,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.available, tm.available(t, "GA"))
		})
	}
}

// ============================================
// Sweeper Tests
// ============================================

func TestManager_SweepExpired(t *testing.T) {
	tm := newTestManager(t, map[string]int{"GA": 10})
	ctx := context.Background()
	key := ledger.Key{EventID: "E1", SessionID: "S1", TierID: "GA"}

	stale := Reservation{
		ID: ID("order-1", "GA"), OrderID: "order-1", UserID: "user-1",
		EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 3,
		Status: StatusPending, ExpiresAt: testNow.Add(-time.Minute), CreatedAt: testNow.Add(-11 * time.Minute),
	}
	fresh := stale
	fresh.ID, fresh.OrderID, fresh.ExpiresAt = ID("order-2", "GA"), "order-2", testNow.Add(time.Minute)
	for _, r := range []Reservation{stale, fresh} {
		tm.repo.Put(r)
		require.NoError(t, tm.ledger.TryReserve(ctx, key, r.Quantity, r.ID))
	}

	n, err := tm.SweepExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = tm.SweepExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 7, tm.available(t, "GA"))
	got, err := tm.repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	got, err = tm.repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusExpiring, true},
		{StatusConfirmed, StatusReleased, true},
		{StatusConfirmed, StatusPending, false},
		{StatusExpiring, StatusExpired, true},
		{StatusReleased, StatusConfirmed, false},
		{StatusRejected, StatusReleased, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestID_IsStablePerLine(t *testing.T) {
	assert.Equal(t, ID("order-1", "GA"), ID("order-1", "GA"))
	assert.NotEqual(t, ID("order-1", "GA"), ID("order-1", "VIP"))
	assert.NotEqual(t, ID("order-1", "GA"), ID("order-2", "GA"))
}
