package events

import "time"

type TicketIssued struct {
	TicketID      string    `json:"ticket_id"`
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	SessionID     string    `json:"session_id"`
	TierID        string    `json:"tier_id"`
	Quantity      int       `json:"quantity"`
	IssuedAt      time.Time `json:"issued_at"`
}

type TicketCancelled struct {
	TicketID      string    `json:"ticket_id"`
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	Reason        string    `json:"reason"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

func (TicketIssued) Topic() string    { return TopicTicketIssued }
func (TicketCancelled) Topic() string { return TopicTicketCancelled }

func (e TicketIssued) PartitionKey() string    { return e.OrderID }
func (e TicketCancelled) PartitionKey() string { return e.OrderID }

func (TicketIssued) isEvent()    {}
func (TicketCancelled) isEvent() {}
