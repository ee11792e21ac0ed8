package gate

import (
	"context"
	"fmt"
	"time"

	"kestrel-bid-engine/internal/adapters/db"
	"kestrel-bid-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PostgresGate answers bidder eligibility from the auction_registrations
// table. Verdicts are cached in Redis for a short TTL and concurrent lookups
// for the same pair are collapsed into a single query.
//
// Table schema:
//
//	CREATE TABLE auction_registrations (
//	    auction_id UUID NOT NULL,
//	    bidder_id  UUID NOT NULL,
//	    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (auction_id, bidder_id)
//	);
type PostgresGate struct {
	conn     *db.Connection
	redis    *redis.Client
	cacheTTL time.Duration
	group    singleflight.Group
	logger   zerolog.Logger
}

type PostgresGateParams struct {
	Conn        *db.Connection
	RedisClient *redis.Client
	CacheTTL    time.Duration
	Logger      zerolog.Logger
}

func NewPostgresGate(params PostgresGateParams) *PostgresGate {
	cacheTTL := params.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &PostgresGate{
		conn:     params.Conn,
		redis:    params.RedisClient,
		cacheTTL: cacheTTL,
		logger:   params.Logger.With().Str("component", "eligibility_gate").Logger(),
	}
}

// IsEligible reports whether the bidder is registered for the auction
func (g *PostgresGate) IsEligible(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	cacheKey := fmt.Sprintf("eligibility:%s:%s", auctionID.String(), bidderID.String())

	if cached, err := g.redis.Get(ctx, cacheKey).Result(); err == nil {
		return cached == "1", nil
	} else if err != redis.Nil {
		g.logger.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("Eligibility cache read failed")
	}

	v, err, _ := g.group.Do(cacheKey, func() (interface{}, error) {
		eligible, err := g.queryRegistration(ctx, auctionID, bidderID)
		if err != nil {
			return false, err
		}

		value := "0"
		if eligible {
			value = "1"
		}
		if err := g.redis.Set(ctx, cacheKey, value, g.cacheTTL).Err(); err != nil {
			g.logger.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("Eligibility cache write failed")
		}

		return eligible, nil
	})

	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

func (g *PostgresGate) queryRegistration(ctx context.Context, auctionID, bidderID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM auction_registrations
			WHERE auction_id = $1 AND bidder_id = $2
		)`

	var eligible bool
	err := g.conn.GetDB().QueryRowContext(ctx, query, auctionID, bidderID).Scan(&eligible)
	if err != nil {
		g.logger.Error().Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID.String()).
			Msg("Failed to query bidder registration")
		return false, fmt.Errorf("%w: %v", shared.ErrDatabaseQuery, err)
	}

	return eligible, nil
}

// Register records a bidder as eligible for an auction and drops any
// stale cached verdict.
func (g *PostgresGate) Register(ctx context.Context, auctionID, bidderID uuid.UUID) error {
	query := `
		INSERT INTO auction_registrations (auction_id, bidder_id)
		VALUES ($1, $2)
		ON CONFLICT (auction_id, bidder_id) DO NOTHING`

	if _, err := g.conn.GetDB().ExecContext(ctx, query, auctionID, bidderID); err != nil {
		g.logger.Error().Err(err).
			Str("auction_id", auctionID.String()).
			Str("bidder_id", bidderID.String()).
			Msg("Failed to register bidder")
		return fmt.Errorf("%w: %v", shared.ErrDatabaseQuery, err)
	}

	cacheKey := fmt.Sprintf("eligibility:%s:%s", auctionID.String(), bidderID.String())
	if err := g.redis.Del(ctx, cacheKey).Err(); err != nil {
		g.logger.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("Eligibility cache invalidation failed")
	}

	g.logger.Info().
		Str("auction_id", auctionID.String()).
		Str("bidder_id", bidderID.String()).
		Msg("Bidder registered for auction")

	return nil
}
