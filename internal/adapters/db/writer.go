package db

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kestrel-bid-engine/internal/ports/outbound"
)

const (
	defaultWriteQueueSize = 4096
	defaultRetryBackoff   = 200 * time.Millisecond
	maxRetryBackoff       = 5 * time.Second
)

// Writer is the write-behind persister. The arbiter commits in memory,
// enqueues a commit record, and moves on; the writer drains the queue in
// order and retries each record until it is durable. A persistence outage
// therefore never rolls back an accepted bid, and the bounded queue caps how
// far in-memory state can run ahead of the crash-recovery point.
type Writer struct {
	store   outbound.LedgerStore
	queue   chan outbound.CommitRecord
	backoff time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

type WriterParams struct {
	Store        outbound.LedgerStore
	QueueSize    int
	RetryBackoff time.Duration
	Logger       zerolog.Logger
}

// NewWriter creates a write-behind persister.
func NewWriter(params WriterParams) *Writer {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = defaultWriteQueueSize
	}
	backoff := params.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &Writer{
		store:   params.Store,
		queue:   make(chan outbound.CommitRecord, queueSize),
		backoff: backoff,
		ctx:     ctx,
		cancel:  cancel,
		logger:  params.Logger.With().Str("component", "ledger_writer").Logger(),
	}
}

// Enqueue hands a commit record to the persister. It is called with the
// per-ledger exclusive access held, which fixes per-auction ordering in the
// queue; it therefore never performs I/O. When the queue is full the send
// blocks, which stalls further commits on the contending auctions rather
// than losing durability.
func (w *Writer) Enqueue(rec outbound.CommitRecord) {
	select {
	case w.queue <- rec:
		return
	default:
	}

	w.logger.Warn().
		Str("auction_id", rec.Snapshot.ID.String()).
		Uint64("sequence", rec.Snapshot.Sequence).
		Msg("Write queue full, applying backpressure")

	select {
	case w.queue <- rec:
	case <-w.ctx.Done():
	}
}

// Start begins draining the queue.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.drainLoop()
}

// Stop drains what it can and shuts the worker down.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Writer) drainLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.queue:
			w.persist(rec)
		case <-w.ctx.Done():
			// Best-effort final drain; records still failing are recovered
			// from the last durable sequence on restart.
			for {
				select {
				case rec := <-w.queue:
					w.persist(rec)
				default:
					return
				}
			}
		}
	}
}

// persist retries one record until it is durable or the writer stops.
// Records are strictly ordered per auction, so a stuck record blocks its
// successors rather than letting them leapfrog the sequence.
func (w *Writer) persist(rec outbound.CommitRecord) {
	backoff := w.backoff

	for attempt := 1; ; attempt++ {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := w.store.Save(saveCtx, rec)
		cancel()
		if err == nil {
			if attempt > 1 {
				w.logger.Info().
					Str("auction_id", rec.Snapshot.ID.String()).
					Uint64("sequence", rec.Snapshot.Sequence).
					Int("attempts", attempt).
					Msg("Commit record persisted after retries")
			}
			return
		}

		w.logger.Error().Err(err).
			Str("auction_id", rec.Snapshot.ID.String()).
			Uint64("sequence", rec.Snapshot.Sequence).
			Int("attempt", attempt).
			Msg("Failed to persist commit record, retrying")

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			if attempt > 1 {
				return
			}
			// One last try during shutdown.
			finalCtx, finalCancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := w.store.Save(finalCtx, rec); err != nil {
				w.logger.Error().Err(err).
					Str("auction_id", rec.Snapshot.ID.String()).
					Uint64("sequence", rec.Snapshot.Sequence).
					Msg("Commit record lost at shutdown, will recover from durable sequence")
			}
			finalCancel()
			return
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}
