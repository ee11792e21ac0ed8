package shared

import "github.com/google/uuid"

// SettlementResult is the terminal outcome handed to the external
// settlement collaborator when an auction leaves the bidding path.
type SettlementResult struct {
	AuctionID  uuid.UUID
	WinnerID   *uuid.UUID
	FinalPrice float64
	Sequence   uint64
	Status     string
}
