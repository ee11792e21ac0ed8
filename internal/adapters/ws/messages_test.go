package ws

import (
	"errors"
	"testing"

	"kestrel-bid-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestParseClientMessage(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{"type":"place_bid","auction_id":"` + id.String() + `","data":{"amount":150.5},"timestamp":1717243200}`)

	msg, err := ParseClientMessage(raw)
	assert.Nil(t, err)
	check.Equal(t, MessageTypePlaceBid, msg.Type)
	check.Equal(t, id, *msg.AuctionID)
	check.Equal(t, 150.5, msg.Data["amount"].(float64))
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`))
	check.Error(t, err)
}

func TestParseClientMessageRequiresType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"data":{"amount":10}}`))
	check.True(t, errors.Is(err, shared.ErrMessageTypeRequired))
}

func TestValidatePlaceBid(t *testing.T) {
	id := uuid.New()

	msg := &ClientMessage{Type: MessageTypePlaceBid, AuctionID: &id, Data: map[string]interface{}{"amount": 25.0}}
	check.Nil(t, msg.Validate())

	missing := &ClientMessage{Type: MessageTypePlaceBid, Data: map[string]interface{}{"amount": 25.0}}
	check.True(t, errors.Is(missing.Validate(), shared.ErrAuctionIDRequired))

	zero := &ClientMessage{Type: MessageTypePlaceBid, AuctionID: &id, Data: map[string]interface{}{"amount": 0.0}}
	check.True(t, errors.Is(zero.Validate(), shared.ErrInvalidAmount))

	negative := &ClientMessage{Type: MessageTypePlaceBid, AuctionID: &id, Data: map[string]interface{}{"amount": -5.0}}
	check.True(t, errors.Is(negative.Validate(), shared.ErrInvalidAmount))
}

func TestValidateCreateAuction(t *testing.T) {
	full := map[string]interface{}{
		"start_time":     "2024-06-01T12:00:00Z",
		"end_time":       "2024-06-01T13:00:00Z",
		"starting_price": 100.0,
		"min_increment":  5.0,
	}

	msg := &ClientMessage{Type: MessageTypeCreateAuction, Data: full}
	check.Nil(t, msg.Validate())

	for field, wantErr := range map[string]error{
		"start_time":     shared.ErrStartTimeRequired,
		"end_time":       shared.ErrEndTimeRequired,
		"starting_price": shared.ErrStartingPriceRequired,
		"min_increment":  shared.ErrMinIncrementRequired,
	} {
		partial := make(map[string]interface{}, len(full))
		for k, v := range full {
			if k != field {
				partial[k] = v
			}
		}
		msg := &ClientMessage{Type: MessageTypeCreateAuction, Data: partial}
		check.True(t, errors.Is(msg.Validate(), wantErr))
	}
}

func TestValidateSubscribeNeedsAuctionID(t *testing.T) {
	msg := &ClientMessage{Type: MessageTypeSubscribe}
	check.True(t, errors.Is(msg.Validate(), shared.ErrAuctionIDRequired))

	nilID := uuid.Nil
	msg = &ClientMessage{Type: MessageTypeSubscribe, AuctionID: &nilID}
	check.True(t, errors.Is(msg.Validate(), shared.ErrAuctionIDRequired))
}

func TestValidateUnknownType(t *testing.T) {
	msg := &ClientMessage{Type: MessageType("upgrade_account")}
	check.True(t, errors.Is(msg.Validate(), shared.ErrUnknownMessageType))
}

func TestBidRejectedMessageCarriesReasonAndPrice(t *testing.T) {
	id := uuid.New()

	msg := NewBidRejectedMessage(id, shared.ReasonTooLow, 110.0)
	check.Equal(t, MessageTypeBidRejected, msg.Type)
	check.Equal(t, id, *msg.AuctionID)
	check.Equal(t, string(shared.ReasonTooLow), msg.Data["reason"].(string))
	check.Equal(t, 110.0, msg.Data["current_price"].(float64))

	// Price unknown: omit the field rather than report zero.
	msg = NewBidRejectedMessage(id, shared.ReasonNotFound, 0)
	_, present := msg.Data["current_price"]
	check.False(t, present)
}
