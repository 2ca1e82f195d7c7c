package events

import "time"

type TierStock struct {
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
}

// SessionPublished announces sellable stock for every tier of a session.
type SessionPublished struct {
	EventID     string      `json:"event_id"`
	SessionID   string      `json:"session_id"`
	Tiers       []TierStock `json:"tiers"`
	PublishedAt time.Time   `json:"published_at"`
}

// SessionRemoved tears down the stock of the listed tiers, or of every tier
// published for the session when Tiers is empty.
type SessionRemoved struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	Tiers     []string  `json:"tiers"`
	RemovedAt time.Time `json:"removed_at"`
}

func (SessionPublished) Topic() string { return TopicSessionPublished }
func (SessionRemoved) Topic() string   { return TopicSessionRemoved }

func (e SessionPublished) PartitionKey() string { return e.EventID + "/" + e.SessionID }
func (e SessionRemoved) PartitionKey() string   { return e.EventID + "/" + e.SessionID }

func (SessionPublished) isEvent() {}
func (SessionRemoved) isEvent()   {}
