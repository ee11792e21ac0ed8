package outbound

import (
	"context"

	"github.com/google/uuid"

	"kestrel-bid-engine/internal/domain/ledger"
	"kestrel-bid-engine/internal/domain/shared"
)

// CommitRecord is one durable unit of work produced by an in-memory commit:
// the ledger snapshot after the mutation, plus the accepted bid when the
// mutation was a bid. Records for one auction are persisted in sequence
// order; the store must treat replays (same or lower sequence) as no-ops.
type CommitRecord struct {
	Snapshot ledger.Snapshot
	Bid      *ledger.Bid
}

// LedgerStore is the durable record of ledgers, keyed by auction ID and
// versioned by sequence, with append-only bid log rows.
type LedgerStore interface {
	// Save persists a commit record. Must be idempotent under replay.
	Save(ctx context.Context, rec CommitRecord) error

	// LoadAll reconstructs every ledger from its last durable sequence,
	// bid log included.
	LoadAll(ctx context.Context) ([]*ledger.Ledger, error)
}

// CommitSink accepts commit records for asynchronous durable persistence.
// Enqueue never performs I/O; it is called while the per-ledger exclusive
// access is still held, which fixes the persistence order per auction.
type CommitSink interface {
	Enqueue(rec CommitRecord)
}

// EligibilityGate is the external registration collaborator: a synchronous,
// side-effect-free yes/no check consulted before a bid is evaluated.
type EligibilityGate interface {
	IsEligible(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error)
}

// SettlementQueue hands terminal auction results to the external settlement
// collaborator.
type SettlementQueue interface {
	Enqueue(ctx context.Context, result shared.SettlementResult) error
}
