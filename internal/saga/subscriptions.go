// Package saga wires the participants of the fulfillment choreography to
// the topics they react to. Each function returns the subscriptions of one
// service; a binary adds them to its Router.
package saga

import (
	"github.com/example/ticketing-saga/internal/domain/ledger"
	"github.com/example/ticketing-saga/internal/domain/order"
	"github.com/example/ticketing-saga/internal/domain/payment"
	"github.com/example/ticketing-saga/internal/domain/reservation"
	"github.com/example/ticketing-saga/internal/domain/ticket"
	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/messaging"
	"github.com/example/ticketing-saga/internal/projection"
)

// Consumer group names, one per service.
const (
	GroupOrders           = "orders"
	GroupPayments         = "payments"
	GroupTicketManagement = "ticketmanagement"
	GroupTickets          = "tickets"
	GroupRefunds          = "refunds"
	GroupProjector        = "projector"
)

func OrderSubscriptions(s *order.Service) []messaging.Subscription {
	return []messaging.Subscription{
		messaging.Subscribe("orders.payment_initiated", s.OnPaymentInitiated),
		messaging.Subscribe("orders.payment_captured", s.OnPaymentCaptured),
		messaging.Subscribe("orders.payment_failed", s.OnPaymentFailed),
		messaging.Subscribe("orders.reservation_failed", s.OnReservationFailed),
		messaging.Subscribe("orders.refund_decision", s.OnRefundDecision),
	}
}

// PaymentSubscriptions charges new orders and refunds them on every
// compensation path.
func PaymentSubscriptions(p *payment.Processor) []messaging.Subscription {
	return []messaging.Subscription{
		messaging.Subscribe("payments.order_created", p.OnOrderCreated),
		messaging.Subscribe("payments.reservation_failed", p.OnReservationFailed),
		messaging.Subscribe("payments.order_cancelled", p.OnOrderCancelled),
		messaging.Subscribe("payments.refund_decision", p.OnRefundDecision),
	}
}

// TicketManagementSubscriptions covers both the catalog feed that sizes the
// ledger and the reservation steps of the saga.
func TicketManagementSubscriptions(l *ledger.Ledger, m *reservation.Manager) []messaging.Subscription {
	return []messaging.Subscription{
		messaging.Subscribe("ticketmanagement.session_published", l.OnSessionPublished),
		messaging.Subscribe("ticketmanagement.session_removed", l.OnSessionRemoved),
		messaging.Subscribe("ticketmanagement.order_paid", m.OnOrderPaid),
		messaging.Subscribe("ticketmanagement.order_cancelled", m.OnOrderCancelled),
		messaging.Subscribe("ticketmanagement.refund_decision", m.OnRefundDecision),
	}
}

func TicketSubscriptions(i *ticket.Issuer) []messaging.Subscription {
	return []messaging.Subscription{
		messaging.Subscribe("tickets.reservation_confirmed", i.OnReservationConfirmed),
		messaging.Subscribe("tickets.order_cancelled", i.OnOrderCancelled),
		messaging.Subscribe("tickets.refund_decision", i.OnRefundDecision),
	}
}

// ProjectorSubscriptions listens to every saga topic.
func ProjectorSubscriptions(p *projection.Projector) []messaging.Subscription {
	return []messaging.Subscription{
		messaging.Subscribe("projector.order_created", p.OnOrderCreated),
		messaging.Subscribe("projector.order_paid", p.OnOrderPaid),
		messaging.Subscribe("projector.order_cancelled", p.OnOrderCancelled),
		messaging.Subscribe("projector.payment_initiated", p.OnPaymentInitiated),
		messaging.Subscribe("projector.payment_captured", p.OnPaymentCaptured),
		messaging.Subscribe("projector.payment_failed", p.OnPaymentFailed),
		messaging.Subscribe("projector.payment_refunded", p.OnPaymentRefunded),
		messaging.Subscribe("projector.payment_refund_failed", p.OnPaymentRefundFailed),
		messaging.Subscribe("projector.reservation_confirmed", p.OnReservationConfirmed),
		messaging.Subscribe("projector.reservation_failed", p.OnReservationFailed),
		messaging.Subscribe("projector.reservation_released", p.OnReservationReleased),
		messaging.Subscribe("projector.ticket_issued", p.OnTicketIssued),
		messaging.Subscribe("projector.ticket_cancelled", p.OnTicketCancelled),
		messaging.Subscribe("projector.refund_decision", p.OnRefundDecision),
	}
}

// SagaTopics lists every topic the choreography publishes, for topic
// provisioning.
func SagaTopics() []string {
	return []string{
		events.TopicOrderCreated,
		events.TopicOrderPaid,
		events.TopicOrderCancelled,
		events.TopicPaymentInitiated,
		events.TopicPaymentCaptured,
		events.TopicPaymentFailed,
		events.TopicPaymentRefunded,
		events.TopicPaymentRefundFailed,
		events.TopicReservationConfirmed,
		events.TopicReservationFailed,
		events.TopicReservationReleased,
		events.TopicTicketIssued,
		events.TopicTicketCancelled,
		events.TopicRefundDecision,
		events.TopicSessionPublished,
		events.TopicSessionRemoved,
		events.TopicPoison,
	}
}
