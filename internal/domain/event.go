package domain

import "time"

// EventType names a market lifecycle event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventBetPlaced       EventType = "bet_placed"
	EventMarketClosed    EventType = "market_closed"
	EventMarketSettled   EventType = "market_settled"
	EventMarketConfirmed EventType = "market_confirmed"
	EventRewardClaimed   EventType = "reward_claimed"
	EventFeedUpdated     EventType = "feed_updated"
)

// Event is published on the signal bus after a committed transition.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	MarketID string         `json:"market_id,omitempty"`
	Actor    string         `json:"actor,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
