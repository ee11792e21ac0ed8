package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kestrel-bid-engine/internal/domain/ledger"
	"kestrel-bid-engine/internal/domain/shared"
)

// ledgerEntry pairs one ledger with its exclusive-access unit. Writers hold
// the semaphore for the whole validate-commit-notify step; readers never take
// it, they observe the atomically swapped snapshot instead. Entries for
// different auctions share nothing, so unrelated auctions never contend.
type ledgerEntry struct {
	sem  chan struct{}
	led  *ledger.Ledger
	snap atomic.Pointer[ledger.Snapshot]
}

func newLedgerEntry(led *ledger.Ledger) *ledgerEntry {
	entry := &ledgerEntry{
		sem: make(chan struct{}, 1),
		led: led,
	}
	snap := led.Snapshot()
	entry.snap.Store(&snap)
	return entry
}

// tryAcquire takes exclusive access, waiting at most wait. A caller that
// cannot get in within the bound is turned away with ErrArbiterBusy rather
// than queued indefinitely.
func (entry *ledgerEntry) tryAcquire(ctx context.Context, wait time.Duration) error {
	select {
	case entry.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return shared.ErrArbiterBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire takes exclusive access with no bound other than the context.
// Lifecycle transitions use it: a close is ordered after every bid that got
// in before it, however long that takes.
func (entry *ledgerEntry) acquire(ctx context.Context) error {
	select {
	case entry.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (entry *ledgerEntry) release() {
	<-entry.sem
}

// refresh republishes the read snapshot. Called after every mutation while
// the semaphore is still held.
func (entry *ledgerEntry) refresh() {
	snap := entry.led.Snapshot()
	entry.snap.Store(&snap)
}

// snapshot is the lock-free read path.
func (entry *ledgerEntry) snapshot() ledger.Snapshot {
	return *entry.snap.Load()
}

// ledgerRegistry maps auction IDs to their guarded ledgers.
type ledgerRegistry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*ledgerEntry
}

func newLedgerRegistry() *ledgerRegistry {
	return &ledgerRegistry{
		entries: make(map[uuid.UUID]*ledgerEntry),
	}
}

func (r *ledgerRegistry) add(led *ledger.Ledger) *ledgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[led.ID]; ok {
		return existing
	}
	entry := newLedgerEntry(led)
	r.entries[led.ID] = entry
	return entry
}

func (r *ledgerRegistry) get(auctionID uuid.UUID) (*ledgerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[auctionID]
	return entry, ok
}

func (r *ledgerRegistry) all() []*ledgerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ledgerEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}
