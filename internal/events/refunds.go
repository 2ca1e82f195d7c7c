package events

import "time"

type DecisionType string

const (
	DecisionApprove DecisionType = "APPROVE"
	DecisionReject  DecisionType = "REJECT"
)

// RefundDecisionRegistered fans out to orders, payments, tickets and
// ticket management. Only approvals are published.
type RefundDecisionRegistered struct {
	RequestID    string       `json:"request_id"`
	OrderID      string       `json:"order_id"`
	PaymentID    string       `json:"payment_id"`
	UserID       string       `json:"user_id"`
	DecisionType DecisionType `json:"decision_type"`
	DecidedBy    string       `json:"decided_by"`
	DecidedAt    time.Time    `json:"decided_at"`
}

func (RefundDecisionRegistered) Topic() string          { return TopicRefundDecision }
func (e RefundDecisionRegistered) PartitionKey() string { return e.OrderID }
func (RefundDecisionRegistered) isEvent()               {}

// Approved reports whether the decision starts compensation.
func (e RefundDecisionRegistered) Approved() bool {
	return e.DecisionType == DecisionApprove
}
