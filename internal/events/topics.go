package events

const (
	TopicOrderCreated   = "orders.created"
	TopicOrderPaid      = "orders.paid"
	TopicOrderCancelled = "orders.cancelled"

	TopicPaymentInitiated    = "payments.initiated"
	TopicPaymentCaptured     = "payments.captured"
	TopicPaymentFailed       = "payments.failed"
	TopicPaymentRefunded     = "payments.refunded"
	TopicPaymentRefundFailed = "payments.refund_failed"

	TopicReservationConfirmed = "ticketmanagement.reservation.confirmed"
	TopicReservationFailed    = "ticketmanagement.reservation.failed"
	TopicReservationReleased  = "ticketmanagement.reservation.released"

	TopicTicketIssued    = "tickets.issued"
	TopicTicketCancelled = "tickets.cancelled"

	TopicRefundDecision = "refunds.decision.registered"

	// Published by the catalog services.
	TopicSessionPublished = "events.published"
	TopicSessionRemoved   = "events.removed"

	// TopicPoison receives messages no handler could process.
	TopicPoison = "saga.poison"
)
