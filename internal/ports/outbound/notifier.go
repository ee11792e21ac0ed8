package outbound

import (
	"context"

	"github.com/google/uuid"
)

// EventType represents the type of a ledger-change event
type EventType string

const (
	EventTypeBidAccepted     EventType = "bid.accepted"
	EventTypeAuctionClosed   EventType = "auction.closed"
	EventTypeAuctionCanceled EventType = "auction.canceled"
)

// Event is one ledger-change notification. Events for a single auction are
// published in strictly increasing Sequence order with no gaps.
type Event struct {
	Type         EventType              `json:"type"`
	AuctionID    uuid.UUID              `json:"auction_id"`
	Sequence     uint64                 `json:"sequence"`
	CurrentPrice float64                `json:"current_price"`
	LeaderID     *uuid.UUID             `json:"leader_id,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
}

// Notifier fans ledger-change events out to per-auction subscribers.
type Notifier interface {
	// Subscribe attaches a client's event channel to an auction. The client
	// receives events from this point onward; no replay.
	Subscribe(ctx context.Context, auctionID uuid.UUID, clientID string, eventChan chan Event) error

	// Unsubscribe detaches a client from one auction. Never affects the ledger.
	Unsubscribe(ctx context.Context, auctionID uuid.UUID, clientID string) error

	// Publish delivers an event to every subscriber of the auction. Delivery
	// to one subscriber never blocks on another.
	Publish(ctx context.Context, auctionID uuid.UUID, event Event) error

	// IsSubscribed checks whether a client is attached to an auction.
	IsSubscribed(ctx context.Context, auctionID uuid.UUID, clientID string) bool
}
