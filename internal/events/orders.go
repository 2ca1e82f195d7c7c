package events

import (
	"fmt"
	"sort"
	"time"

	"github.com/example/ticketing-saga/internal/sagaerr"
)

// OrderLine is one tier of an order. Lines of an order have distinct tiers.
type OrderLine struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	TierID    string `json:"tier_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderCreated struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Lines     []OrderLine `json:"lines"`
	Total     int64       `json:"total"`
	CreatedAt time.Time   `json:"created_at"`
}

type OrderPaid struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	PaymentID string      `json:"payment_id"`
	Lines     []OrderLine `json:"lines"`
	PaidAt    time.Time   `json:"paid_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (OrderCreated) Topic() string   { return TopicOrderCreated }
func (OrderPaid) Topic() string      { return TopicOrderPaid }
func (OrderCancelled) Topic() string { return TopicOrderCancelled }

func (e OrderCreated) PartitionKey() string   { return e.OrderID }
func (e OrderPaid) PartitionKey() string      { return e.OrderID }
func (e OrderCancelled) PartitionKey() string { return e.OrderID }

func (OrderCreated) isEvent()   {}
func (OrderPaid) isEvent()      {}
func (OrderCancelled) isEvent() {}

// NormalizeLines validates lines and folds lines of the same tier together so
// (orderId, tierId) stays unique. The result is sorted by tier.
func NormalizeLines(lines []OrderLine) ([]OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", sagaerr.ErrValidation)
	}

	byTier := make(map[string]OrderLine, len(lines))
	for _, l := range lines {
		if l.TierID == "" || l.EventID == "" || l.SessionID == "" {
			return nil, fmt.Errorf("%w: line for tier %q is missing its event or session", sagaerr.ErrValidation, l.TierID)
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line for tier %q has quantity %d", sagaerr.ErrValidation, l.TierID, l.Quantity)
		}
		if l.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line for tier %q has a negative price", sagaerr.ErrValidation, l.TierID)
		}
		existing, ok := byTier[l.TierID]
		if !ok {
			byTier[l.TierID] = l
			continue
		}
		if existing.EventID != l.EventID || existing.SessionID != l.SessionID || existing.UnitPrice != l.UnitPrice {
			return nil, fmt.Errorf("%w: tier %q appears twice with different details", sagaerr.ErrValidation, l.TierID)
		}
		existing.Quantity += l.Quantity
		byTier[l.TierID] = existing
	}

	merged := make([]OrderLine, 0, len(byTier))
	for _, l := range byTier {
		merged = append(merged, l)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TierID < merged[j].TierID })
	return merged, nil
}

// Total is the sum of quantity times unit price over lines.
func Total(lines []OrderLine) int64 {
	var total int64
	for _, l := range lines {
		total += int64(l.Quantity) * l.UnitPrice
	}
	return total
}
