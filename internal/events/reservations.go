package events

import "time"

type ReservationConfirmed struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	SessionID     string    `json:"session_id"`
	TierID        string    `json:"tier_id"`
	Quantity      int       `json:"quantity"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// ReservationFailed is the compensation trigger raised when at least one
// line of a paid order could not be reserved.
type ReservationFailed struct {
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	TierID   string    `json:"tier_id,omitempty"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type ReservationReleased struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	TierID        string    `json:"tier_id"`
	Quantity      int       `json:"quantity"`
	Reason        string    `json:"reason"`
	ReleasedAt    time.Time `json:"released_at"`
}

func (ReservationConfirmed) Topic() string { return TopicReservationConfirmed }
func (ReservationFailed) Topic() string    { return TopicReservationFailed }
func (ReservationReleased) Topic() string  { return TopicReservationReleased }

func (e ReservationConfirmed) PartitionKey() string { return e.OrderID }
func (e ReservationFailed) PartitionKey() string    { return e.OrderID }
func (e ReservationReleased) PartitionKey() string  { return e.OrderID }

func (ReservationConfirmed) isEvent() {}
func (ReservationFailed) isEvent()    {}
func (ReservationReleased) isEvent()  {}
