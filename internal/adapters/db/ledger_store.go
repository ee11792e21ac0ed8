package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kestrel-bid-engine/internal/domain/ledger"
	"kestrel-bid-engine/internal/ports/outbound"
)

// LedgerStore is the durable record of ledgers: one row per auction keyed by
// ID and versioned by sequence, plus append-only bid log rows.
//
// Expected schema:
//
//	CREATE TABLE ledgers (
//	    id             UUID PRIMARY KEY,
//	    start_time     TIMESTAMPTZ NOT NULL,
//	    end_time       TIMESTAMPTZ NOT NULL,
//	    starting_price DOUBLE PRECISION NOT NULL,
//	    min_increment  DOUBLE PRECISION NOT NULL,
//	    current_price  DOUBLE PRECISION NOT NULL,
//	    leader_id      UUID,
//	    sequence       BIGINT NOT NULL,
//	    state          TEXT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE bid_log (
//	    auction_id  UUID NOT NULL REFERENCES ledgers(id),
//	    sequence    BIGINT NOT NULL,
//	    bidder_id   UUID NOT NULL,
//	    amount      DOUBLE PRECISION NOT NULL,
//	    accepted_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (auction_id, sequence)
//	);
type LedgerStore struct {
	conn *Connection
}

// NewLedgerStore creates a new ledger store
func NewLedgerStore(conn *Connection) *LedgerStore {
	return &LedgerStore{conn: conn}
}

// Save persists one commit record inside a transaction. The sequence guard
// on the ledger row and the primary key on bid_log make replays no-ops, so
// the write-behind worker can retry records freely.
func (s *LedgerStore) Save(ctx context.Context, rec outbound.CommitRecord) error {
	return s.conn.ExecuteTransaction(func(tx *sql.Tx) error {
		snap := rec.Snapshot
		now := time.Now()

		ledgerQuery := `
			INSERT INTO ledgers (id, start_time, end_time, starting_price, min_increment, current_price, leader_id, sequence, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			ON CONFLICT (id) DO UPDATE
			SET current_price = EXCLUDED.current_price,
			    leader_id     = EXCLUDED.leader_id,
			    sequence      = EXCLUDED.sequence,
			    state         = EXCLUDED.state,
			    updated_at    = EXCLUDED.updated_at
			WHERE ledgers.sequence <= EXCLUDED.sequence
		`

		var leaderID interface{}
		if snap.LeaderID != nil {
			leaderID = *snap.LeaderID
		}

		if _, err := tx.ExecContext(ctx, ledgerQuery,
			snap.ID,
			snap.StartTime,
			snap.EndTime,
			snap.StartingPrice,
			snap.MinIncrement,
			snap.CurrentPrice,
			leaderID,
			snap.Sequence,
			snap.State,
			now,
		); err != nil {
			return fmt.Errorf("failed to save ledger: %w", err)
		}

		if rec.Bid == nil {
			return nil
		}

		bidQuery := `
			INSERT INTO bid_log (auction_id, sequence, bidder_id, amount, accepted_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (auction_id, sequence) DO NOTHING
		`

		if _, err := tx.ExecContext(ctx, bidQuery,
			snap.ID,
			rec.Bid.Sequence,
			rec.Bid.BidderID,
			rec.Bid.Amount,
			rec.Bid.AcceptedAt,
		); err != nil {
			return fmt.Errorf("failed to append bid log row: %w", err)
		}

		return nil
	})
}

// LoadAll reconstructs every ledger from its last durable sequence.
func (s *LedgerStore) LoadAll(ctx context.Context) ([]*ledger.Ledger, error) {
	ledgerQuery := `
		SELECT id, start_time, end_time, starting_price, min_increment, current_price, leader_id, sequence, state, created_at, updated_at
		FROM ledgers
	`

	rows, err := s.conn.GetDB().QueryContext(ctx, ledgerQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledgers: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*ledger.Ledger)
	var ledgers []*ledger.Ledger
	for rows.Next() {
		var led ledger.Ledger
		var leaderID uuid.NullUUID
		if err := rows.Scan(
			&led.ID,
			&led.StartTime,
			&led.EndTime,
			&led.StartingPrice,
			&led.MinIncrement,
			&led.CurrentPrice,
			&leaderID,
			&led.Sequence,
			&led.State,
			&led.CreatedAt,
			&led.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger: %w", err)
		}
		if leaderID.Valid {
			id := leaderID.UUID
			led.LeaderID = &id
		}
		byID[led.ID] = &led
		ledgers = append(ledgers, &led)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledgers: %w", err)
	}

	bidQuery := `
		SELECT auction_id, sequence, bidder_id, amount, accepted_at
		FROM bid_log
		ORDER BY auction_id, sequence ASC
	`

	bidRows, err := s.conn.GetDB().QueryContext(ctx, bidQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to load bid log: %w", err)
	}
	defer bidRows.Close()

	for bidRows.Next() {
		var auctionID uuid.UUID
		var entry ledger.Bid
		if err := bidRows.Scan(&auctionID, &entry.Sequence, &entry.BidderID, &entry.Amount, &entry.AcceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid log row: %w", err)
		}
		if led, ok := byID[auctionID]; ok {
			led.BidLog = append(led.BidLog, entry)
		}
	}
	if err := bidRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bid log: %w", err)
	}

	return ledgers, nil
}
