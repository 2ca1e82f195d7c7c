package events

import "time"

type PaymentInitiated struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	InitiatedAt time.Time `json:"initiated_at"`
}

type PaymentCaptured struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref"`
	CapturedAt  time.Time `json:"captured_at"`
}

type PaymentFailed struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

type PaymentRefunded struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	Amount      int64     `json:"amount"`
	ProviderRef string    `json:"provider_ref"`
	RefundedAt  time.Time `json:"refunded_at"`
}

// PaymentRefundFailed needs operator follow-up.
type PaymentRefundFailed struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func (PaymentInitiated) Topic() string    { return TopicPaymentInitiated }
func (PaymentCaptured) Topic() string     { return TopicPaymentCaptured }
func (PaymentFailed) Topic() string       { return TopicPaymentFailed }
func (PaymentRefunded) Topic() string     { return TopicPaymentRefunded }
func (PaymentRefundFailed) Topic() string { return TopicPaymentRefundFailed }

func (e PaymentInitiated) PartitionKey() string    { return e.OrderID }
func (e PaymentCaptured) PartitionKey() string     { return e.OrderID }
func (e PaymentFailed) PartitionKey() string       { return e.OrderID }
func (e PaymentRefunded) PartitionKey() string     { return e.OrderID }
func (e PaymentRefundFailed) PartitionKey() string { return e.OrderID }

func (PaymentInitiated) isEvent()    {}
func (PaymentCaptured) isEvent()     {}
func (PaymentFailed) isEvent()       {}
func (PaymentRefunded) isEvent()     {}
func (PaymentRefundFailed) isEvent() {}
