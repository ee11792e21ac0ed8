package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"kestrel-bid-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	startScheduleKey = "auction:starts"
	endScheduleKey   = "auction:ends"
)

// LifecycleDriver is the slice of the engine the scheduler drives.
type LifecycleDriver interface {
	ActivateAuction(ctx context.Context, auctionID uuid.UUID) error
	CloseAuction(ctx context.Context, auctionID uuid.UUID) error
}

// LifecycleScheduler fires auction boundary transitions from wall-clock
// deadlines kept in Redis sorted sets. Deadlines survive restarts; entries
// are only removed once the corresponding transition has been applied.
type LifecycleScheduler struct {
	redis  *redis.Client
	driver LifecycleDriver
	sweep  time.Duration
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type LifecycleSchedulerParams struct {
	RedisClient *redis.Client
	Driver      LifecycleDriver
	Sweep       time.Duration
	Logger      zerolog.Logger
}

func NewLifecycleScheduler(params LifecycleSchedulerParams) *LifecycleScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	sweep := params.Sweep
	if sweep <= 0 {
		sweep = 1 * time.Second
	}

	return &LifecycleScheduler{
		redis:  params.RedisClient,
		driver: params.Driver,
		sweep:  sweep,
		logger: params.Logger.With().Str("component", "lifecycle_scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ScheduleStart registers an auction's activation deadline
func (s *LifecycleScheduler) ScheduleStart(auctionID uuid.UUID, startTime time.Time) error {
	return s.schedule(startScheduleKey, auctionID, startTime)
}

// ScheduleEnd registers an auction's closing deadline
func (s *LifecycleScheduler) ScheduleEnd(auctionID uuid.UUID, endTime time.Time) error {
	return s.schedule(endScheduleKey, auctionID, endTime)
}

func (s *LifecycleScheduler) schedule(key string, auctionID uuid.UUID, at time.Time) error {
	err := s.redis.ZAdd(s.ctx, key, redis.Z{
		Score:  float64(at.Unix()),
		Member: auctionID.String(),
	}).Err()

	if err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Str("schedule", key).Msg("Failed to schedule auction boundary")
		return fmt.Errorf("failed to schedule auction boundary: %w", err)
	}

	s.logger.Info().
		Str("auction_id", auctionID.String()).
		Str("schedule", key).
		Time("due_at", at).
		Msg("Auction boundary scheduled")

	return nil
}

// Start begins the scheduler loop
func (s *LifecycleScheduler) Start() {
	s.logger.Info().Dur("sweep", s.sweep).Msg("Starting lifecycle scheduler")

	s.wg.Add(1)
	go s.schedulerLoop()
}

// Stop gracefully stops the scheduler
func (s *LifecycleScheduler) Stop() {
	s.logger.Info().Msg("Stopping lifecycle scheduler")
	s.cancel()
	s.wg.Wait()
}

func (s *LifecycleScheduler) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkDueBoundaries(startScheduleKey, s.driver.ActivateAuction)
			s.checkDueBoundaries(endScheduleKey, s.driver.CloseAuction)
		case <-s.ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped")
			return
		}
	}
}

// checkDueBoundaries finds due entries in one schedule and applies the transition
func (s *LifecycleScheduler) checkDueBoundaries(key string, transition func(context.Context, uuid.UUID) error) {
	now := time.Now().Unix()

	dueAuctions, err := s.redis.ZRangeByScore(s.ctx, key, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now, 10),
		Count: 10, // Process max 10 at a time
	}).Result()

	if err != nil {
		s.logger.Error().Err(err).Str("schedule", key).Msg("Failed to get due auctions")
		return
	}

	if len(dueAuctions) > 0 {
		s.logger.Debug().Int("count", len(dueAuctions)).Str("schedule", key).Msg("Found due auction boundaries")
	}

	for _, auctionIDStr := range dueAuctions {
		auctionID, err := uuid.Parse(auctionIDStr)
		if err != nil {
			s.logger.Error().Err(err).Str("auction_id", auctionIDStr).Msg("Invalid auction ID")
			s.redis.ZRem(s.ctx, key, auctionIDStr)
			continue
		}

		s.wg.Add(1)
		go s.fireBoundary(key, auctionID, transition)
	}
}

// fireBoundary applies one due transition. The schedule entry stays in place
// on transient failure so the next sweep retries it. Runs on its own
// goroutine, tracked by the scheduler's WaitGroup so Stop waits for it.
func (s *LifecycleScheduler) fireBoundary(key string, auctionID uuid.UUID, transition func(context.Context, uuid.UUID) error) {
	defer s.wg.Done()

	s.logger.Info().Str("auction_id", auctionID.String()).Str("schedule", key).Msg("Firing auction boundary")

	err := transition(s.ctx, auctionID)
	if err != nil {
		if errors.Is(err, shared.ErrAuctionNotFound) {
			// Nothing left to transition; drop the entry so it cannot
			// poison every future sweep.
			s.redis.ZRem(s.ctx, key, auctionID.String())
			return
		}

		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Str("schedule", key).Msg("Failed to apply auction boundary")
		return
	}

	s.redis.ZRem(s.ctx, key, auctionID.String())

	s.logger.Info().
		Str("auction_id", auctionID.String()).
		Str("schedule", key).
		Msg("Auction boundary applied")
}
