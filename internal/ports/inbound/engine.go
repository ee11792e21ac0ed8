package inbound

import (
	"context"

	"github.com/google/uuid"

	"kestrel-bid-engine/internal/domain/ledger"
)

// Engine defines the bid-acceptance and lifecycle operations exposed to
// transports and to the lifecycle scheduler.
type Engine interface {
	// CreateAuction registers a new ledger in pending state from immutable
	// parameters supplied by the external admin collaborator.
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (ledger.Snapshot, error)

	// TryBid serializes a bid attempt against one auction and either commits
	// it or rejects it. The receipt always carries the authoritative current
	// price when it is known, including on rejection.
	TryBid(ctx context.Context, req PlaceBidRequest) (BidReceipt, error)

	// GetAuction returns a read-only snapshot without blocking on bidders.
	GetAuction(ctx context.Context, auctionID uuid.UUID) (ledger.Snapshot, error)

	// ListAuctions returns snapshots of all known ledgers.
	ListAuctions(ctx context.Context) []ledger.Snapshot

	// GetBidLog returns a copy of the append-only accepted-bid log.
	GetBidLog(ctx context.Context, auctionID uuid.UUID) ([]ledger.Bid, error)

	// ActivateAuction drives pending -> active once the start boundary is
	// reached. Re-firing is safe.
	ActivateAuction(ctx context.Context, auctionID uuid.UUID) error

	// CloseAuction drives active -> closed once the end boundary is reached,
	// emitting exactly one terminal event and one settlement handoff.
	CloseAuction(ctx context.Context, auctionID uuid.UUID) error

	// CancelAuction is the administrative terminal transition.
	CancelAuction(ctx context.Context, auctionID uuid.UUID) error
}

// CreateAuctionRequest carries immutable auction parameters. Times are
// RFC3339 strings as received on the wire.
type CreateAuctionRequest struct {
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	StartingPrice float64 `json:"starting_price"`
	MinIncrement  float64 `json:"min_increment"`
}

// PlaceBidRequest is one bid attempt.
type PlaceBidRequest struct {
	AuctionID uuid.UUID `json:"auction_id"`
	BidderID  uuid.UUID `json:"bidder_id"`
	Amount    float64   `json:"amount"`
}

// BidReceipt reports the outcome of an accepted bid; on rejection it still
// carries the current price so the client can correct without a re-fetch.
type BidReceipt struct {
	Sequence     uint64  `json:"sequence"`
	CurrentPrice float64 `json:"current_price"`
}
