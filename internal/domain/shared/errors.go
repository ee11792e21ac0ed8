package shared

import "errors"

// Domain-specific errors
var (
	// Ledger / lifecycle errors
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrAuctionNotActive     = errors.New("auction is not open for bidding")
	ErrAuctionAlreadyClosed = errors.New("auction already closed")
	ErrAuctionTerminal      = errors.New("auction is in a terminal state")
	ErrInvalidEndTime       = errors.New("end time must be after start time")
	ErrInvalidStartingPrice = errors.New("starting price must be greater than 0")
	ErrInvalidMinIncrement  = errors.New("minimum increment must be greater than 0")

	// Bid errors
	ErrBidTooLow         = errors.New("bid amount fails the price/increment rule")
	ErrBidAmountInvalid  = errors.New("bid amount must be greater than 0")
	ErrBidderNotEligible = errors.New("bidder is not eligible for this auction")
	ErrArbiterBusy       = errors.New("auction is busy, retry")

	// Validation errors
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// Persistence errors
	ErrDatabaseQuery = errors.New("database query failed")

	// WebSocket message validation errors
	ErrMessageTypeRequired   = errors.New("message type is required")
	ErrAuctionIDRequired     = errors.New("auction_id is required")
	ErrInvalidAmount         = errors.New("valid amount is required")
	ErrStartTimeRequired     = errors.New("start_time is required")
	ErrEndTimeRequired       = errors.New("end_time is required")
	ErrStartingPriceRequired = errors.New("starting_price is required")
	ErrMinIncrementRequired  = errors.New("min_increment is required")
	ErrUnknownMessageType    = errors.New("unknown message type")

	ErrClientEventChannelNotFound = errors.New("client event channel not found")
)

// RejectReason is the wire-level classification of a failed bid attempt.
type RejectReason string

const (
	ReasonNotActive   RejectReason = "not_active"
	ReasonNotEligible RejectReason = "not_eligible"
	ReasonTooLow      RejectReason = "too_low"
	ReasonBusy        RejectReason = "busy"
	ReasonNotFound    RejectReason = "not_found"
	ReasonInternal    RejectReason = "internal"
)

// ReasonFor maps a domain error to its wire-level reject reason.
func ReasonFor(err error) RejectReason {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrAuctionNotActive), errors.Is(err, ErrAuctionTerminal):
		return ReasonNotActive
	case errors.Is(err, ErrBidderNotEligible):
		return ReasonNotEligible
	case errors.Is(err, ErrBidTooLow), errors.Is(err, ErrBidAmountInvalid):
		return ReasonTooLow
	case errors.Is(err, ErrArbiterBusy):
		return ReasonBusy
	default:
		return ReasonInternal
	}
}
