package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kestrel-bid-engine/internal/adapters/db"
	"kestrel-bid-engine/internal/adapters/gate"
	"kestrel-bid-engine/internal/adapters/notifier"
	"kestrel-bid-engine/internal/adapters/redis"
	"kestrel-bid-engine/internal/adapters/scheduler"
	"kestrel-bid-engine/internal/adapters/settlement"
	"kestrel-bid-engine/internal/adapters/ws"
	"kestrel-bid-engine/internal/app"
	"kestrel-bid-engine/internal/config"
)

func main() {

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	initLogging(cfg)

	log.Info().Msg("Starting Kestrel Bid Engine...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection
	dbConn, err := db.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	log.Info().Msg("Database connection established")

	ledgerStore := db.NewLedgerStore(dbConn)

	// Write-behind persister: commits are durable soon after they are
	// visible, never before.
	writer := db.NewWriter(db.WriterParams{
		Store:        ledgerStore,
		QueueSize:    cfg.Engine.PersistQueueSize,
		RetryBackoff: cfg.Engine.PersistRetry,
		Logger:       log.Logger,
	})
	writer.Start()
	log.Info().Msg("Write-behind persister started")

	// Create Redis client
	redisClient := redis.NewClient(cfg)
	if err := redis.PingRedis(ctx, redisClient); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	log.Info().Msg("Redis connection established")

	// Fan-out hub with Redis pub/sub mirroring for external consumers
	relay := notifier.NewRedisRelay(notifier.RedisRelayParams{
		RedisClient: redisClient,
		Logger:      log.Logger,
	})
	hub := notifier.NewFanoutHub(notifier.FanoutHubParams{
		Relay:          relay,
		RelayQueueSize: cfg.Engine.RelayQueueSize,
		Logger:         log.Logger,
	})
	log.Info().Msg("Fan-out hub initialized")

	eligibilityGate := gate.NewPostgresGate(gate.PostgresGateParams{
		Conn:        dbConn,
		RedisClient: redisClient,
		CacheTTL:    cfg.Engine.EligibilityTTL,
		Logger:      log.Logger,
	})

	settlementQueue := settlement.NewRedisQueue(settlement.RedisQueueParams{
		RedisClient: redisClient,
		Logger:      log.Logger,
	})
	settlementQueue.Start()
	log.Info().Msg("Settlement queue started")

	// Create the bid engine
	engine := app.NewEngine(app.EngineParams{
		Gate:       eligibilityGate,
		Notifier:   hub,
		Commits:    writer,
		Settlement: settlementQueue,
		LockWait:   cfg.Engine.BidLockWait,
		Logger:     log.Logger,
	})
	log.Info().Msg("Bid engine initialized")

	// Create lifecycle scheduler
	lifecycleScheduler := scheduler.NewLifecycleScheduler(scheduler.LifecycleSchedulerParams{
		RedisClient: redisClient,
		Driver:      engine,
		Sweep:       cfg.Engine.SchedulerSweep,
		Logger:      log.Logger,
	})

	// Wire the scheduler before restoring so recovered ledgers get their
	// boundaries re-registered.
	engine.SetBoundaryScheduler(lifecycleScheduler)

	// Recover persisted ledgers
	ledgers, err := ledgerStore.LoadAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load persisted ledgers")
	}
	engine.Restore(ledgers)
	log.Info().Int("ledgers", len(ledgers)).Msg("Persisted ledgers restored")

	lifecycleScheduler.Start()
	log.Info().Msg("Lifecycle scheduler started")

	wsServer := ws.NewServer(ws.ServerParams{
		Config:   cfg,
		Engine:   engine,
		Notifier: hub,
		Detacher: hub,
		Logger:   log.Logger,
	})

	log.Info().Msg("WebSocket server initialized")

	// Start WebSocket server
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting WebSocket server")
		if err := wsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start WebSocket server")
			cancel()
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop lifecycle scheduler first so no new transitions fire
	lifecycleScheduler.Stop()
	log.Info().Msg("Lifecycle scheduler stopped")

	// Stop WebSocket server
	if err := wsServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping WebSocket server")
	}

	hub.Close()
	log.Info().Msg("Fan-out hub stopped")

	settlementQueue.Stop()
	log.Info().Msg("Settlement queue stopped")

	// Drain pending commits last so everything published above lands
	writer.Stop()
	log.Info().Msg("Write-behind persister stopped")

	log.Info().Msg("Graceful shutdown completed")
}

func initLogging(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.Logging.Format == "json" {
		// JSON format (default)
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		// Console format for development
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global logger
	zerolog.DefaultContextLogger = &log.Logger
}
