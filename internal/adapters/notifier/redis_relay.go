package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kestrel-bid-engine/internal/ports/outbound"
)

// RedisRelay mirrors ledger-change events onto per-auction Redis pub/sub
// channels so external collaborators (dashboards, settlement watchers) can
// observe auctions without holding a WebSocket connection.
type RedisRelay struct {
	client *redis.Client
	logger zerolog.Logger
}

type RedisRelayParams struct {
	RedisClient *redis.Client
	Logger      zerolog.Logger
}

func NewRedisRelay(params RedisRelayParams) *RedisRelay {
	return &RedisRelay{
		client: params.RedisClient,
		logger: params.Logger.With().Str("component", "redis_relay").Logger(),
	}
}

// Relay publishes one event to the auction's channel.
func (r *RedisRelay) Relay(ctx context.Context, event outbound.Event) error {
	channelName := fmt.Sprintf("auction:%s", event.AuctionID.String())

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.Publish(ctx, channelName, payload)
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	r.logger.Debug().
		Str("channel", channelName).
		Str("event_type", string(event.Type)).
		Uint64("sequence", event.Sequence).
		Int64("receivers", result.Val()).
		Msg("Event relayed")
	return nil
}
