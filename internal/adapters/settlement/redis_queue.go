package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"kestrel-bid-engine/internal/domain/shared"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultQueueSize = 256

// RedisQueue hands finished auctions off to downstream settlement workers
// through a Redis list. Results are buffered in process and pushed by a
// single worker so the engine's close path never blocks on Redis.
type RedisQueue struct {
	redis   *redis.Client
	listKey string
	results chan shared.SettlementResult
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueParams struct {
	RedisClient *redis.Client
	ListKey     string
	QueueSize   int
	Logger      zerolog.Logger
}

func NewRedisQueue(params RedisQueueParams) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())

	listKey := params.ListKey
	if listKey == "" {
		listKey = "settlement:results"
	}
	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &RedisQueue{
		redis:   params.RedisClient,
		listKey: listKey,
		results: make(chan shared.SettlementResult, queueSize),
		logger:  params.Logger.With().Str("component", "settlement_queue").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue accepts a settlement result for delivery. It never blocks the
// caller; if the buffer is full the result is dropped and logged, and the
// persisted ledger remains the source of truth for recovery.
func (q *RedisQueue) Enqueue(ctx context.Context, result shared.SettlementResult) error {
	select {
	case q.results <- result:
		return nil
	default:
		q.logger.Error().
			Str("auction_id", result.AuctionID.String()).
			Msg("Settlement buffer full, dropping result")
		return fmt.Errorf("settlement buffer full")
	}
}

// Start begins the delivery worker
func (q *RedisQueue) Start() {
	q.logger.Info().Str("list_key", q.listKey).Msg("Starting settlement queue")

	q.wg.Add(1)
	go q.deliverLoop()
}

// Stop drains buffered results and stops the worker
func (q *RedisQueue) Stop() {
	q.logger.Info().Msg("Stopping settlement queue")
	q.cancel()
	q.wg.Wait()
}

func (q *RedisQueue) deliverLoop() {
	defer q.wg.Done()

	for {
		select {
		case result := <-q.results:
			q.deliver(result)
		case <-q.ctx.Done():
			// Best-effort drain of anything already buffered.
			for {
				select {
				case result := <-q.results:
					q.deliver(result)
				default:
					q.logger.Info().Msg("Settlement delivery stopped")
					return
				}
			}
		}
	}
}

// deliver pushes one result onto the Redis list, retrying with backoff
// until it lands or shutdown wins.
func (q *RedisQueue) deliver(result shared.SettlementResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		q.logger.Error().Err(err).Str("auction_id", result.AuctionID.String()).Msg("Failed to marshal settlement result")
		return
	}

	backoff := 200 * time.Millisecond
	for {
		err := q.redis.RPush(q.ctx, q.listKey, payload).Err()
		if err == nil {
			q.logger.Info().
				Str("auction_id", result.AuctionID.String()).
				Uint64("sequence", result.Sequence).
				Msg("Settlement result delivered")
			return
		}

		q.logger.Error().Err(err).
			Str("auction_id", result.AuctionID.String()).
			Dur("retry_in", backoff).
			Msg("Failed to deliver settlement result")

		select {
		case <-time.After(backoff):
		case <-q.ctx.Done():
			// One last immediate attempt before giving up.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := q.redis.RPush(shutdownCtx, q.listKey, payload).Err(); err != nil {
				q.logger.Error().Err(err).Str("auction_id", result.AuctionID.String()).Msg("Dropping settlement result at shutdown")
			}
			return
		}

		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}
