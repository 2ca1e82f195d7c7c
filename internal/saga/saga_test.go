package saga

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/ticketing-saga/internal/clock"
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/domain/order"
	"github.com/example/ticketing-saga/internal/domain/payment"
	"github.com/example/ticketing-saga/internal/domain/refund"
	"github.com/example/ticketing-saga/internal/domain/reservation"
	"github.com/example/ticketing-saga/internal/domain/ticket"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/projection"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// world runs every participant in process: each service has its own outbox
// and relay, and its own router attached to a shared in-memory bus.
type world struct {
	bus    *messaging.MemoryBus
	relays []*messaging.Relay

	ledgerRepo   *ledger.MemoryRepository
	ledger       *ledger.Ledger
	orders       *order.Service
	payments     *payment.Processor
	reservations *reservation.Manager
	tickets      *ticket.Issuer
	refunds      *refund.Arbiter
	projector    *projection.Projector
}

type worldOption func(*worldConfig)

type worldConfig struct {
	inbox bool
}

// withoutInbox drops the processed-message store so redeliveries reach the
// domain handlers.
func withoutInbox() worldOption {
	return func(c *worldConfig) { c.inbox = false }
}

func newTestWorld(t *testing.T, opts ...worldOption) *world {
	t.Helper()
	cfg := worldConfig{inbox: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := clock.NewSystem()
	bus := messaging.NewMemoryBus()

	newRouter := func(subs []messaging.Subscription) *messaging.Router {
		chain := messaging.ChainConfig{
			Poison: bus,
			Retry:  messaging.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
		}
		if cfg.inbox {
			chain.Processed = messaging.NewMemoryProcessedStore()
		}
		r := messaging.NewRouter(messaging.StandardMiddlewares(chain)...)
		r.Add(subs...)
		return r
	}

	var (
		ordersOutbox      = messaging.NewMemoryOutbox()
		paymentsOutbox    = messaging.NewMemoryOutbox()
		reservationOutbox = messaging.NewMemoryOutbox()
		ticketsOutbox     = messaging.NewMemoryOutbox()
		refundsOutbox     = messaging.NewMemoryOutbox()
	)

	w := &world{bus: bus, ledgerRepo: ledger.NewMemoryRepository()}
	w.ledger = ledger.New(w.ledgerRepo, clk, ledger.DefaultConfig())
	w.orders = order.NewService(order.NewMemoryRepository(ordersOutbox), clk)
	w.payments = payment.NewProcessor(payment.NewMemoryRepository(paymentsOutbox), &payment.SimulatedProvider{}, clk, time.Second)
	w.reservations = reservation.NewManager(reservation.NewMemoryRepository(), w.ledger, reservationOutbox, clk)
	w.tickets = ticket.NewIssuer(ticket.NewMemoryRepository(ticketsOutbox), clk)
	w.refunds = refund.NewArbiter(refund.NewMemoryRepository(refundsOutbox), clk)
	w.projector = projection.NewProjector(projection.NewMemoryRepository(), clk)

	bus.Attach(
		newRouter(OrderSubscriptions(w.orders)),
		newRouter(PaymentSubscriptions(w.payments)),
		newRouter(TicketManagementSubscriptions(w.ledger, w.reservations)),
		newRouter(TicketSubscriptions(w.tickets)),
		newRouter(ProjectorSubscriptions(w.projector)),
	)
	for _, outbox := range []*messaging.MemoryOutbox{ordersOutbox, paymentsOutbox, reservationOutbox, ticketsOutbox, refundsOutbox} {
		w.relays = append(w.relays, messaging.NewRelay(outbox, bus, time.Millisecond, 10))
	}
	return w
}

// settle relays and delivers until no service has anything left to say.
func (w *world) settle(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for round := 0; round < 100; round++ {
		flushed := 0
		for _, r := range w.relays {
			n, err := r.Flush(ctx)
			require.NoError(t, err)
			flushed += n
		}
		delivered, err := w.bus.Deliver(ctx)
		require.NoError(t, err)
		if flushed == 0 && delivered == 0 {
			return
		}
	}
	t.Fatal("saga did not settle")
}

func (w *world) publishSession(t *testing.T, eventID, sessionID string, tiers ...events.TierStock) {
	t.Helper()
	ctx := context.Background()
	msgs, err := messaging.EncodeEvents(ctx, events.SessionPublished{
		EventID:     eventID,
		SessionID:   sessionID,
		Tiers:       tiers,
		PublishedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, w.bus.Publish(ctx, msgs...))
	w.settle(t)
}

func (w *world) placeOrder(t *testing.T, lines ...events.OrderLine) order.Order {
	t.Helper()
	o, err := w.orders.Create(context.Background(), "user-1", lines)
	require.NoError(t, err)
	w.settle(t)

	o, err = w.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	return o
}

func (w *world) available(t *testing.T, key ledger.Key) int {
	t.Helper()
	e, err := w.ledger.Get(context.Background(), key)
	require.NoError(t, err)
	return e.AvailableQuantity
}

func (w *world) assertConsistent(t *testing.T, key ledger.Key) {
	t.Helper()
	report, err := w.ledger.Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "ledger %s: %+v", key, report)
}

func (w *world) assertNoPoison(t *testing.T) {
	t.Helper()
	assert.Empty(t, w.bus.Published(events.TopicPoison))
}

func line(tier string, qty int) events.OrderLine {
	return events.OrderLine{EventID: "E1", SessionID: "S1", TierID: tier, Quantity: qty, UnitPrice: 25}
}

func key(tier string) ledger.Key {
	return ledger.Key{EventID: "E1", SessionID: "S1", TierID: tier}
}

// ============================================
// Scenario A: no oversell
// ============================================

func TestScenarioA_ConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(ledger.NewMemoryRepository(), clock.NewSystem(), ledger.DefaultConfig())
	k := ledger.Key{EventID: "E1", SessionID: "S1", TierID: "T1"}
	_, err := l.Initialize(ctx, k, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = l.TryReserve(ctx, k, 1, "res-"+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	err = l.TryReserve(ctx, k, 1, "res-c")
	assert.ErrorIs(t, err, sagaerr.ErrInsufficientStock)

	entry, err := l.Get(ctx, k)
	require.NoError(t, err)
	assert.Zero(t, entry.AvailableQuantity)
}

func TestScenarioA_ManyContenders(t *testing.T) {
	ctx := context.Background()
	cfg := ledger.DefaultConfig()
	cfg.MaxRetries = 50
	l := ledger.New(ledger.NewMemoryRepository(), clock.NewSystem(), cfg)
	k := ledger.Key{EventID: "E1", SessionID: "S1", TierID: "T1"}
	_, err := l.Initialize(ctx, k, 10)
	require.NoError(t, err)

	const contenders = 25
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		reserved     int
		insufficient int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.TryReserve(ctx, k, 1, "contender-"+strconv.Itoa(i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				reserved++
			case errors.Is(err, sagaerr.ErrInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, reserved)
	assert.Equal(t, contenders-10, insufficient)

	report, err := l.Reconcile(ctx, k)
	require.NoError(t, err)
	assert.Zero(t, report.Available)
	assert.True(t, report.Consistent)
}

// ============================================
// Happy path
// ============================================

func TestSaga_HappyPath(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5}, events.TierStock{TierID: "VIP", Quantity: 2})

	o := w.placeOrder(t, line("GA", 2), line("VIP", 1))

	assert.Equal(t, order.StatusPaid, o.Status)
	p, err := w.payments.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCaptured, p.Status)
	assert.Equal(t, int64(75), p.Amount)

	reservations, err := w.reservations.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 2)
	for _, r := range reservations {
		assert.Equal(t, reservation.StatusConfirmed, r.Status)
	}

	tickets, err := w.tickets.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	for _, tk := range tickets {
		assert.Equal(t, ticket.StatusIssued, tk.Status)
	}

	assert.Equal(t, 3, w.available(t, key("GA")))
	assert.Equal(t, 1, w.available(t, key("VIP")))
	w.assertConsistent(t, key("GA"))
	w.assertConsistent(t, key("VIP"))

	state, err := w.projector.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StepCompleted, state.Step)
	w.assertNoPoison(t)
}

// ============================================
// Scenario B: insufficient stock compensates
// ============================================

func TestScenarioB_InsufficientStockCompensates(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 10}, events.TierStock{TierID: "VIP", Quantity: 0})

	o := w.placeOrder(t, line("GA", 1), line("VIP", 1))

	assert.Equal(t, order.StatusCancelled, o.Status)

	p, err := w.payments.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)

	reservations, err := w.reservations.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	statuses := map[string]reservation.Status{}
	for _, r := range reservations {
		statuses[r.TierID] = r.Status
	}
	assert.Equal(t, reservation.StatusReleased, statuses["GA"])
	assert.Equal(t, reservation.StatusRejected, statuses["VIP"])

	tickets, err := w.tickets.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets)

	assert.Equal(t, 10, w.available(t, key("GA")))
	assert.Equal(t, 0, w.available(t, key("VIP")))
	w.assertConsistent(t, key("GA"))

	assert.Empty(t, w.bus.Published(events.TopicReservationConfirmed))
	require.Len(t, w.bus.Published(events.TopicReservationFailed), 1)

	state, err := w.projector.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StepCompensated, state.Step)
	w.assertNoPoison(t)
}

func TestSaga_DeclinedPaymentReservesNothing(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5})

	o, err := w.orders.Create(ctx, "user-1", []events.OrderLine{{EventID: "E1", SessionID: "S1", TierID: "GA", Quantity: 1, UnitPrice: 0}})
	require.NoError(t, err)
	w.settle(t)

	o, err = w.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaymentFailed, o.Status)

	reservations, err := w.reservations.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)
	assert.Equal(t, 5, w.available(t, key("GA")))

	state, err := w.projector.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StepCompensated, state.Step)
}

// ============================================
// Scenario C: approved refund reverses the saga
// ============================================

func TestScenarioC_ApprovedRefundReversesSaga(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5})

	o := w.placeOrder(t, line("GA", 2))
	require.Equal(t, order.StatusPaid, o.Status)
	require.Equal(t, 3, w.available(t, key("GA")))

	req, err := w.refunds.Submit(ctx, refund.SubmitInput{OrderID: o.ID, PaymentID: o.PaymentID, UserID: o.UserID, Reason: "cannot attend"})
	require.NoError(t, err)
	_, err = w.refunds.Decide(ctx, req.ID, events.DecisionApprove, "operator-1", "")
	require.NoError(t, err)
	w.settle(t)

	tickets, err := w.tickets.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.StatusCancelled, tickets[0].Status)

	reservations, err := w.reservations.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, reservation.StatusReleased, reservations[0].Status)

	assert.Equal(t, 5, w.available(t, key("GA")))
	w.assertConsistent(t, key("GA"))

	o, err = w.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)

	p, err := w.payments.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assert.Len(t, w.bus.Published(events.TopicPaymentRefunded), 1)

	state, err := w.projector.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, projection.StepCompensated, state.Step)
	w.assertNoPoison(t)
}

func TestSaga_RejectedRefundChangesNothing(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5})
	o := w.placeOrder(t, line("GA", 1))

	req, err := w.refunds.Submit(ctx, refund.SubmitInput{OrderID: o.ID, PaymentID: o.PaymentID, UserID: o.UserID})
	require.NoError(t, err)
	_, err = w.refunds.Decide(ctx, req.ID, events.DecisionReject, "operator-1", "too late")
	require.NoError(t, err)
	w.settle(t)

	assert.Empty(t, w.bus.Published(events.TopicRefundDecision))
	o, err = w.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, 4, w.available(t, key("GA")))
}

// ============================================
// Scenario D: redelivery is idempotent
// ============================================

func TestScenarioD_DuplicateOrderPaidMovesNoStock(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5})
	o := w.placeOrder(t, line("GA", 2))

	before, err := w.ledgerRepo.Movements(ctx, key("GA"))
	require.NoError(t, err)

	paid := w.bus.Published(events.TopicOrderPaid)
	require.Len(t, paid, 1)

	// through the inbox
	require.NoError(t, w.bus.Redeliver(ctx, paid[0]))
	// straight into the handler, as if the inbox had lost its record
	e, err := events.DecodeAs[events.OrderPaid](paid[0])
	require.NoError(t, err)
	require.NoError(t, w.reservations.OnOrderPaid(ctx, e))
	w.settle(t)

	after, err := w.ledgerRepo.Movements(ctx, key("GA"))
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, 3, w.available(t, key("GA")))

	tickets, err := w.tickets.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	w.assertNoPoison(t)
}

func TestSaga_RedeliveryOfEveryMessageWithoutInbox(t *testing.T) {
	w := newTestWorld(t, withoutInbox())
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5})
	o := w.placeOrder(t, line("GA", 2))

	movements, err := w.ledgerRepo.Movements(ctx, key("GA"))
	require.NoError(t, err)

	var all []events.Message
	for _, topic := range SagaTopics() {
		all = append(all, w.bus.Published(topic)...)
	}
	for i := 0; i < 3; i++ {
		for _, msg := range all {
			require.NoError(t, w.bus.Redeliver(ctx, msg))
		}
		w.settle(t)
	}

	after, err := w.ledgerRepo.Movements(ctx, key("GA"))
	require.NoError(t, err)
	assert.Len(t, after, len(movements))
	assert.Equal(t, 3, w.available(t, key("GA")))
	w.assertConsistent(t, key("GA"))

	o, err = w.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, o.Status)

	tickets, err := w.tickets.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	p, err := w.payments.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	log, err := w.payments.Log(ctx, p.ID)
	require.NoError(t, err)
	captures := 0
	for _, entry := range log {
		if entry.Type == payment.EntryCaptured {
			captures++
		}
	}
	assert.Equal(t, 1, captures)
	w.assertNoPoison(t)
}

// ============================================
// Catalog
// ============================================

func TestSaga_SessionRemovedTearsDownStock(t *testing.T) {
	w := newTestWorld(t)
	ctx := context.Background()
	w.publishSession(t, "E1", "S1", events.TierStock{TierID: "GA", Quantity: 5}, events.TierStock{TierID: "VIP", Quantity: 1})

	msgs, err := messaging.EncodeEvents(ctx, events.SessionRemoved{EventID: "E1", SessionID: "S1", RemovedAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, w.bus.Publish(ctx, msgs...))
	w.settle(t)

	_, err = w.ledger.Get(ctx, key("GA"))
	assert.ErrorIs(t, err, sagaerr.ErrNotFound)

	o := w.placeOrder(t, line("GA", 1))
	assert.Equal(t, order.StatusCancelled, o.Status)
}
