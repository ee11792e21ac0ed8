package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kestrel-bid-engine/internal/clock"
	"kestrel-bid-engine/internal/domain/ledger"
	"kestrel-bid-engine/internal/domain/shared"
	"kestrel-bid-engine/internal/ports/inbound"
	"kestrel-bid-engine/internal/ports/outbound"
)

const defaultLockWait = 250 * time.Millisecond

// BoundaryScheduler is notified of auction start/end boundaries so it can
// drive lifecycle transitions independently of bidding traffic.
type BoundaryScheduler interface {
	ScheduleStart(auctionID uuid.UUID, startTime time.Time) error
	ScheduleEnd(auctionID uuid.UUID, endTime time.Time) error
}

// Engine implements the bid arbiter and the lifecycle operations. One
// guarded ledger per auction; per-auction serialization, cross-auction
// parallelism.
type Engine struct {
	registry   *ledgerRegistry
	gate       outbound.EligibilityGate
	notifier   outbound.Notifier
	commits    outbound.CommitSink
	settlement outbound.SettlementQueue
	boundaries BoundaryScheduler
	clk        clock.Clock
	lockWait   time.Duration
	logger     zerolog.Logger
}

type EngineParams struct {
	Gate       outbound.EligibilityGate
	Notifier   outbound.Notifier
	Commits    outbound.CommitSink
	Settlement outbound.SettlementQueue
	Clock      clock.Clock
	LockWait   time.Duration
	Logger     zerolog.Logger
}

// NewEngine creates a new bid engine
func NewEngine(params EngineParams) *Engine {
	clk := params.Clock
	if clk == nil {
		clk = clock.System()
	}
	lockWait := params.LockWait
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}

	return &Engine{
		registry:   newLedgerRegistry(),
		gate:       params.Gate,
		notifier:   params.Notifier,
		commits:    params.Commits,
		settlement: params.Settlement,
		clk:        clk,
		lockWait:   lockWait,
		logger:     params.Logger.With().Str("component", "bid_engine").Logger(),
	}
}

// SetBoundaryScheduler wires the lifecycle scheduler after construction.
func (e *Engine) SetBoundaryScheduler(s BoundaryScheduler) {
	e.boundaries = s
}

// Restore seeds the registry from ledgers recovered out of the durable store
// and re-registers their boundaries with the scheduler.
func (e *Engine) Restore(ledgers []*ledger.Ledger) {
	for _, led := range ledgers {
		e.registry.add(led)
		if led.State.Terminal() {
			continue
		}
		e.scheduleBoundaries(led.ID, led.StartTime, led.EndTime)
		e.logger.Info().
			Str("auction_id", led.ID.String()).
			Str("state", string(led.State)).
			Uint64("sequence", led.Sequence).
			Msg("Ledger restored")
	}
}

// CreateAuction registers a new ledger in pending state.
func (e *Engine) CreateAuction(ctx context.Context, req inbound.CreateAuctionRequest) (ledger.Snapshot, error) {
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		e.logger.Warn().Str("start_time", req.StartTime).Msg("Invalid start time format")
		return ledger.Snapshot{}, shared.ErrInvalidTimeFormat
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		e.logger.Warn().Str("end_time", req.EndTime).Msg("Invalid end time format")
		return ledger.Snapshot{}, shared.ErrInvalidTimeFormat
	}

	now := e.clk.Now()
	led, err := ledger.New(ledger.Params{
		StartTime:     startTime,
		EndTime:       endTime,
		StartingPrice: req.StartingPrice,
		MinIncrement:  req.MinIncrement,
	}, now)
	if err != nil {
		return ledger.Snapshot{}, err
	}

	entry := e.registry.add(led)
	snap := entry.snapshot()

	if e.commits != nil {
		e.commits.Enqueue(outbound.CommitRecord{Snapshot: snap})
	}
	e.scheduleBoundaries(led.ID, led.StartTime, led.EndTime)

	e.logger.Info().
		Str("auction_id", led.ID.String()).
		Time("start_time", led.StartTime).
		Time("end_time", led.EndTime).
		Float64("starting_price", led.StartingPrice).
		Float64("min_increment", led.MinIncrement).
		Msg("Auction created")

	return snap, nil
}

func (e *Engine) scheduleBoundaries(auctionID uuid.UUID, startTime, endTime time.Time) {
	if e.boundaries == nil {
		return
	}
	if err := e.boundaries.ScheduleStart(auctionID, startTime); err != nil {
		e.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to schedule start boundary")
	}
	if err := e.boundaries.ScheduleEnd(auctionID, endTime); err != nil {
		e.logger.Error().Err(err).Str("auction_id", auctionID.String()).Msg("Failed to schedule end boundary")
	}
}

// TryBid serializes one bid attempt against its auction. The ledger
// semaphore is held from validation through commit and notification, so no
// other attempt or lifecycle transition observes an intermediate state. The
// eligibility gate is consulted before the semaphore is taken: it may touch
// the network, and exclusive access must never wait on I/O.
func (e *Engine) TryBid(ctx context.Context, req inbound.PlaceBidRequest) (inbound.BidReceipt, error) {
	entry, ok := e.registry.get(req.AuctionID)
	if !ok {
		return inbound.BidReceipt{}, shared.ErrAuctionNotFound
	}

	// Fast pre-checks on the lock-free snapshot. Both are re-validated under
	// the semaphore; this only keeps doomed attempts off the gate and the lock.
	snap := entry.snapshot()
	if snap.State != ledger.StateActive || !inWindow(snap, e.clk.Now()) {
		return inbound.BidReceipt{CurrentPrice: snap.CurrentPrice}, shared.ErrAuctionNotActive
	}

	eligible, err := e.gate.IsEligible(ctx, req.AuctionID, req.BidderID)
	if err != nil {
		e.logger.Error().Err(err).
			Str("auction_id", req.AuctionID.String()).
			Str("bidder_id", req.BidderID.String()).
			Msg("Eligibility check failed")
		return inbound.BidReceipt{CurrentPrice: snap.CurrentPrice}, err
	}
	if !eligible {
		return inbound.BidReceipt{CurrentPrice: snap.CurrentPrice}, shared.ErrBidderNotEligible
	}

	// Amount sanity comes after eligibility: an ineligible bidder is told so
	// regardless of what they bid.
	if req.Amount <= 0 {
		return inbound.BidReceipt{CurrentPrice: snap.CurrentPrice}, shared.ErrBidAmountInvalid
	}

	if err := entry.tryAcquire(ctx, e.lockWait); err != nil {
		// No state changed; the caller may retry the same amount.
		return inbound.BidReceipt{CurrentPrice: entry.snapshot().CurrentPrice}, err
	}
	defer entry.release()

	now := e.clk.Now()
	accepted, err := entry.led.ApplyBid(req.BidderID, req.Amount, now)
	if err != nil {
		return inbound.BidReceipt{CurrentPrice: entry.led.CurrentPrice}, err
	}

	entry.refresh()
	e.publish(ctx, outbound.Event{
		Type:         outbound.EventTypeBidAccepted,
		AuctionID:    req.AuctionID,
		Sequence:     accepted.Sequence,
		CurrentPrice: accepted.Amount,
		LeaderID:     entry.led.LeaderID,
		Data: map[string]interface{}{
			"bidder_id": accepted.BidderID.String(),
			"amount":    accepted.Amount,
		},
		Timestamp: now.Unix(),
	})
	if e.commits != nil {
		e.commits.Enqueue(outbound.CommitRecord{Snapshot: entry.snapshot(), Bid: &accepted})
	}

	e.logger.Info().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderID.String()).
		Float64("amount", accepted.Amount).
		Uint64("sequence", accepted.Sequence).
		Msg("Bid accepted")

	return inbound.BidReceipt{Sequence: accepted.Sequence, CurrentPrice: accepted.Amount}, nil
}

func inWindow(snap ledger.Snapshot, now time.Time) bool {
	return !now.Before(snap.StartTime) && now.Before(snap.EndTime)
}

// GetAuction returns a read-only snapshot without contending with bidders.
func (e *Engine) GetAuction(ctx context.Context, auctionID uuid.UUID) (ledger.Snapshot, error) {
	entry, ok := e.registry.get(auctionID)
	if !ok {
		return ledger.Snapshot{}, shared.ErrAuctionNotFound
	}
	return entry.snapshot(), nil
}

// ListAuctions returns snapshots of all known ledgers.
func (e *Engine) ListAuctions(ctx context.Context) []ledger.Snapshot {
	entries := e.registry.all()
	out := make([]ledger.Snapshot, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot())
	}
	return out
}

// GetBidLog returns a copy of the accepted-bid log.
func (e *Engine) GetBidLog(ctx context.Context, auctionID uuid.UUID) ([]ledger.Bid, error) {
	entry, ok := e.registry.get(auctionID)
	if !ok {
		return nil, shared.ErrAuctionNotFound
	}
	if err := entry.acquire(ctx); err != nil {
		return nil, err
	}
	defer entry.release()
	return entry.led.Bids(), nil
}

// ActivateAuction drives pending -> active. Re-firing is harmless.
func (e *Engine) ActivateAuction(ctx context.Context, auctionID uuid.UUID) error {
	entry, ok := e.registry.get(auctionID)
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if err := entry.acquire(ctx); err != nil {
		return err
	}
	defer entry.release()

	changed, err := entry.led.Activate(e.clk.Now())
	if err != nil {
		// Terminal ledgers stay terminal; a late start boundary is a no-op.
		return nil
	}
	if !changed {
		return nil
	}

	entry.refresh()
	if e.commits != nil {
		e.commits.Enqueue(outbound.CommitRecord{Snapshot: entry.snapshot()})
	}

	e.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction activated")
	return nil
}

// CloseAuction drives active -> closed. The ledger's one-shot latch makes
// concurrent timer re-fires and timer/cancel races emit at most one terminal
// event and one settlement handoff.
func (e *Engine) CloseAuction(ctx context.Context, auctionID uuid.UUID) error {
	entry, ok := e.registry.get(auctionID)
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if err := entry.acquire(ctx); err != nil {
		return err
	}
	defer entry.release()

	now := e.clk.Now()

	// Recovery edge: the end boundary can fire on a ledger the scheduler never
	// activated (process restart past the whole window). Run the missed
	// activation first so the state machine stays monotonic.
	if entry.led.State == ledger.StatePending && !now.Before(entry.led.StartTime) {
		if _, err := entry.led.Activate(now); err != nil {
			return nil
		}
	}

	result, err := entry.led.Close(now)
	if err != nil {
		// Already closed or canceled: idempotent re-trigger, nothing to emit.
		return nil
	}

	entry.refresh()
	event := outbound.Event{
		Type:         outbound.EventTypeAuctionClosed,
		AuctionID:    auctionID,
		Sequence:     result.Sequence,
		CurrentPrice: result.FinalPrice,
		LeaderID:     result.WinnerID,
		Data: map[string]interface{}{
			"final_price": result.FinalPrice,
		},
		Timestamp: now.Unix(),
	}
	if result.WinnerID != nil {
		event.Data["winner_id"] = result.WinnerID.String()
	}
	e.publish(ctx, event)
	e.handoff(ctx, entry, result)

	logger := e.logger.Info().Str("auction_id", auctionID.String()).Float64("final_price", result.FinalPrice)
	if result.WinnerID != nil {
		logger = logger.Str("winner_id", result.WinnerID.String())
	}
	logger.Msg("Auction closed")
	return nil
}

// CancelAuction is the administrative terminal transition; it bypasses the
// bidding path entirely.
func (e *Engine) CancelAuction(ctx context.Context, auctionID uuid.UUID) error {
	entry, ok := e.registry.get(auctionID)
	if !ok {
		return shared.ErrAuctionNotFound
	}
	if err := entry.acquire(ctx); err != nil {
		return err
	}
	defer entry.release()

	now := e.clk.Now()
	result, err := entry.led.Cancel(now)
	if err != nil {
		return err
	}

	entry.refresh()
	e.publish(ctx, outbound.Event{
		Type:         outbound.EventTypeAuctionCanceled,
		AuctionID:    auctionID,
		Sequence:     result.Sequence,
		CurrentPrice: result.FinalPrice,
		Timestamp:    now.Unix(),
	})
	e.handoff(ctx, entry, result)

	e.logger.Info().Str("auction_id", auctionID.String()).Msg("Auction canceled")
	return nil
}

// publish fans an event out while exclusive access is still held, which is
// what pins the per-auction event order to the sequence order. Broadcast
// failure never rolls back a committed mutation.
func (e *Engine) publish(ctx context.Context, event outbound.Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, event.AuctionID, event); err != nil {
		e.logger.Error().Err(err).
			Str("auction_id", event.AuctionID.String()).
			Str("event_type", string(event.Type)).
			Msg("Failed to broadcast event")
	}
}

func (e *Engine) handoff(ctx context.Context, entry *ledgerEntry, result shared.SettlementResult) {
	if e.commits != nil {
		e.commits.Enqueue(outbound.CommitRecord{Snapshot: entry.snapshot()})
	}
	if e.settlement == nil {
		return
	}
	if err := e.settlement.Enqueue(ctx, result); err != nil {
		e.logger.Error().Err(err).
			Str("auction_id", result.AuctionID.String()).
			Msg("Failed to hand off settlement result")
	}
}
