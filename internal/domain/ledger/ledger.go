package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kestrel-bid-engine/internal/domain/shared"
)

// State represents the lifecycle state of an auction ledger
type State string

const (
	StatePending  State = "pending"
	StateActive   State = "active"
	StateClosed   State = "closed"
	StateCanceled State = "canceled"
)

// Terminal returns true once the ledger can no longer change.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateCanceled
}

// Bid is one accepted entry in the append-only bid log.
type Bid struct {
	BidderID   uuid.UUID `json:"bidder_id"`
	Amount     float64   `json:"amount"`
	Sequence   uint64    `json:"sequence"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// Ledger is the authoritative record of one auction: its immutable
// parameters, current price and leader, the append-only bid log, and the
// lifecycle state. A Ledger is not safe for concurrent use; the arbiter
// serializes all access per auction.
type Ledger struct {
	ID            uuid.UUID  `json:"id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	StartingPrice float64    `json:"starting_price"`
	MinIncrement  float64    `json:"min_increment"`
	CurrentPrice  float64    `json:"current_price"`
	LeaderID      *uuid.UUID `json:"leader_id,omitempty"`
	Sequence      uint64     `json:"sequence"`
	State         State      `json:"state"`
	BidLog        []Bid      `json:"bid_log,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Params are the immutable auction parameters supplied by the external
// admin collaborator at creation time.
type Params struct {
	ID            uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	StartingPrice float64
	MinIncrement  float64
}

// New validates the parameters and returns a fresh ledger in StatePending.
func New(params Params, now time.Time) (*Ledger, error) {
	if params.StartingPrice <= 0 {
		return nil, shared.ErrInvalidStartingPrice
	}
	if params.MinIncrement <= 0 {
		return nil, shared.ErrInvalidMinIncrement
	}
	if !params.EndTime.After(params.StartTime) {
		return nil, shared.ErrInvalidEndTime
	}

	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &Ledger{
		ID:            id,
		StartTime:     params.StartTime,
		EndTime:       params.EndTime,
		StartingPrice: params.StartingPrice,
		MinIncrement:  params.MinIncrement,
		CurrentPrice:  params.StartingPrice,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// InWindow returns true if now falls within [StartTime, EndTime).
func (l *Ledger) InWindow(now time.Time) bool {
	return !now.Before(l.StartTime) && now.Before(l.EndTime)
}

// CanBid returns true if a bid can be evaluated against this ledger.
func (l *Ledger) CanBid(now time.Time) bool {
	return l.State == StateActive && l.InWindow(now)
}

// meetsPriceRule applies the increment floor using exact decimal arithmetic:
// the amount must exceed the current price and clear current + minIncrement.
func (l *Ledger) meetsPriceRule(amount float64) bool {
	amt := decimal.NewFromFloat(amount)
	cur := decimal.NewFromFloat(l.CurrentPrice)
	floor := cur.Add(decimal.NewFromFloat(l.MinIncrement))
	return amt.GreaterThan(cur) && amt.GreaterThanOrEqual(floor)
}

// ApplyBid validates a bid attempt against the ledger and, on success,
// commits it: price and leader move forward, the bid is appended to the log,
// and the sequence advances by exactly one. The returned Bid is the committed
// log entry. On failure nothing changes.
func (l *Ledger) ApplyBid(bidderID uuid.UUID, amount float64, now time.Time) (Bid, error) {
	if !l.CanBid(now) {
		return Bid{}, shared.ErrAuctionNotActive
	}
	if amount <= 0 {
		return Bid{}, shared.ErrBidAmountInvalid
	}
	if !l.meetsPriceRule(amount) {
		return Bid{}, shared.ErrBidTooLow
	}

	l.Sequence++
	entry := Bid{
		BidderID:   bidderID,
		Amount:     amount,
		Sequence:   l.Sequence,
		AcceptedAt: now,
	}
	l.CurrentPrice = amount
	leader := bidderID
	l.LeaderID = &leader
	l.BidLog = append(l.BidLog, entry)
	l.UpdatedAt = now

	return entry, nil
}

// Activate transitions Pending -> Active. Activation enables bidding but
// does not consume a sequence number, so accepted-bid sequences stay
// contiguous from 1. Returns false when the ledger is already active, which
// lets the scheduler re-fire the boundary safely.
func (l *Ledger) Activate(now time.Time) (bool, error) {
	switch l.State {
	case StateActive:
		return false, nil
	case StatePending:
		l.State = StateActive
		l.UpdatedAt = now
		return true, nil
	default:
		return false, shared.ErrAuctionTerminal
	}
}

// Close transitions Active -> Closed, freezing the current price and leader
// as final. The state acts as a one-shot latch: a second Close returns
// ErrAuctionAlreadyClosed and must not produce a second terminal result.
func (l *Ledger) Close(now time.Time) (shared.SettlementResult, error) {
	switch l.State {
	case StateClosed:
		return shared.SettlementResult{}, shared.ErrAuctionAlreadyClosed
	case StateCanceled:
		return shared.SettlementResult{}, shared.ErrAuctionTerminal
	case StatePending:
		// An end boundary can only fire after the start boundary; the
		// scheduler activates first, so a pending close is a caller bug.
		return shared.SettlementResult{}, shared.ErrAuctionNotActive
	}

	l.Sequence++
	l.State = StateClosed
	l.UpdatedAt = now

	return shared.SettlementResult{
		AuctionID:  l.ID,
		WinnerID:   l.LeaderID,
		FinalPrice: l.CurrentPrice,
		Sequence:   l.Sequence,
		Status:     string(StateClosed),
	}, nil
}

// Cancel transitions Pending or Active -> Canceled. Administrative only;
// idempotence matches Close.
func (l *Ledger) Cancel(now time.Time) (shared.SettlementResult, error) {
	if l.State.Terminal() {
		return shared.SettlementResult{}, shared.ErrAuctionTerminal
	}

	l.Sequence++
	l.State = StateCanceled
	l.UpdatedAt = now

	return shared.SettlementResult{
		AuctionID:  l.ID,
		FinalPrice: l.CurrentPrice,
		Sequence:   l.Sequence,
		Status:     string(StateCanceled),
	}, nil
}

// Snapshot is a read-only view of the ledger's observable state.
type Snapshot struct {
	ID            uuid.UUID  `json:"id"`
	State         State      `json:"state"`
	CurrentPrice  float64    `json:"current_price"`
	LeaderID      *uuid.UUID `json:"leader_id,omitempty"`
	Sequence      uint64     `json:"sequence"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	StartingPrice float64    `json:"starting_price"`
	MinIncrement  float64    `json:"min_increment"`
}

// Snapshot copies the ledger's observable state.
func (l *Ledger) Snapshot() Snapshot {
	var leader *uuid.UUID
	if l.LeaderID != nil {
		id := *l.LeaderID
		leader = &id
	}
	return Snapshot{
		ID:            l.ID,
		State:         l.State,
		CurrentPrice:  l.CurrentPrice,
		LeaderID:      leader,
		Sequence:      l.Sequence,
		StartTime:     l.StartTime,
		EndTime:       l.EndTime,
		StartingPrice: l.StartingPrice,
		MinIncrement:  l.MinIncrement,
	}
}

// Bids returns a copy of the append-only bid log.
func (l *Ledger) Bids() []Bid {
	out := make([]Bid, len(l.BidLog))
	copy(out, l.BidLog)
	return out
}
