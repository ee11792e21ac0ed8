package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"kestrel-bid-engine/internal/domain/shared"

	"github.com/google/uuid"
)

type MessageType string

const (
	// Client to Server message types
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
	MessageTypePlaceBid      MessageType = "place_bid"
	MessageTypeCreateAuction MessageType = "create_auction"
	MessageTypeGetAuction    MessageType = "get_auction"
	MessageTypeListAuctions  MessageType = "list_auctions"
	MessageTypeGetBidLog     MessageType = "get_bid_log"
	MessageTypeCancelAuction MessageType = "cancel_auction"
	MessageTypePing          MessageType = "ping"

	// Server to Client message types
	MessageTypeBidAccepted     MessageType = "bid_accepted"
	MessageTypeBidRejected     MessageType = "bid_rejected"
	MessageTypeAuctionClosed   MessageType = "auction_closed"
	MessageTypeAuctionCanceled MessageType = "auction_canceled"
	MessageTypeAuctionSnapshot MessageType = "auction_snapshot"
	MessageTypeAuctionCreated  MessageType = "auction_created"
	MessageTypeBidLog          MessageType = "bid_log"
	MessageTypeError           MessageType = "error"
	MessageTypePong            MessageType = "pong"
)

type ClientMessage struct {
	Type      MessageType            `json:"type"`
	AuctionID *uuid.UUID             `json:"auction_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// ServerMessage represents a message sent from server to client
type ServerMessage struct {
	Type      MessageType            `json:"type"`
	AuctionID *uuid.UUID             `json:"auction_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     *string                `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func NewServerMessage(msgType MessageType) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now().Unix(),
	}
}

func NewErrorMessage(err string, auctionID *uuid.UUID) *ServerMessage {
	return &ServerMessage{
		Type:      MessageTypeError,
		AuctionID: auctionID,
		Error:     &err,
		Timestamp: time.Now().Unix(),
	}
}

// NewBidRejectedMessage carries the rejection reason and, when known, the
// authoritative current price so the client can correct without a re-fetch.
func NewBidRejectedMessage(auctionID uuid.UUID, reason shared.RejectReason, currentPrice float64) *ServerMessage {
	msg := NewServerMessage(MessageTypeBidRejected)
	msg.AuctionID = &auctionID
	msg.Data["reason"] = string(reason)
	if currentPrice > 0 {
		msg.Data["current_price"] = currentPrice
	}
	return msg
}

func (m *ClientMessage) validateAuctionID() error {
	if m.AuctionID == nil || *m.AuctionID == uuid.Nil {
		return shared.ErrAuctionIDRequired
	}
	return nil
}

// ParseClientMessage parses a JSON message from client
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse client message: %w", err)
	}

	// Validate required fields
	if msg.Type == "" {
		return nil, shared.ErrMessageTypeRequired
	}

	return &msg, nil
}

// Validate validates a client message
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
	case MessageTypePlaceBid:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
		amount, ok := m.Data["amount"].(float64)
		if !ok || amount <= 0 {
			return shared.ErrInvalidAmount
		}
	case MessageTypeCreateAuction:
		if m.Data["start_time"] == nil {
			return shared.ErrStartTimeRequired
		}
		if m.Data["end_time"] == nil {
			return shared.ErrEndTimeRequired
		}
		if m.Data["starting_price"] == nil {
			return shared.ErrStartingPriceRequired
		}
		if m.Data["min_increment"] == nil {
			return shared.ErrMinIncrementRequired
		}
	case MessageTypeGetAuction, MessageTypeGetBidLog, MessageTypeCancelAuction:
		if err := m.validateAuctionID(); err != nil {
			return err
		}
	case MessageTypeListAuctions:

	case MessageTypePing:

	default:
		return shared.ErrUnknownMessageType
	}

	return nil
}
