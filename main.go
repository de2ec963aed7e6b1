package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tournament-orchestrator/clients"
	"tournament-orchestrator/config"
	"tournament-orchestrator/events"
	"tournament-orchestrator/handlers"
	"tournament-orchestrator/logger"
	"tournament-orchestrator/middleware"
	"tournament-orchestrator/services"
	"tournament-orchestrator/store"
	"tournament-orchestrator/utils"
	"tournament-orchestrator/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	settings := services.Settings{
		MatchDuration:      cfg.MatchDuration,
		MaxParallelMatches: cfg.MaxParallelMatches,
		GroupSize:          cfg.GroupSize,
		QualifiersPerGroup: cfg.QualifiersPerGroup,
		FinalizeDebounce:   cfg.FinalizeDebounce,
		MonitorInterval:    cfg.MonitorInterval,
		ScheduledGrace:     cfg.ScheduledGrace,
		TokenTTL:           cfg.TokenTTL,
		ProvisionTimeout:   cfg.ProvisionTimeout,
	}

	st := openStore(cfg)
	brackets := services.NewBracketService(st)

	// --- Event sinks ---
	publishers := events.Fanout{}
	var registry services.TimerRegistry
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddress).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		publishers = append(publishers, events.NewRedisPublisher(rdb, events.DefaultRedisChannel))
		registry = services.NewRedisTimerRegistry(rdb, services.DefaultTimerRegistryKey)
		log.Info().Str("addr", cfg.RedisAddress).Msg("✅ Redis connected, finalize timers survive restarts")
	} else {
		log.Warn().Msg("⚠️  REDIS_ADDRESS not set, pending finalize timers are lost on restart")
	}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize AMQP publisher")
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
	}
	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize R2 client")
		}
		publishers = append(publishers, events.NewBracketArchiver(r2, brackets))
	}

	// --- Platform clients ---
	var sessions services.SessionProvisioner
	if cfg.SessionServiceURL != "" {
		sessions = clients.NewSessionClient(cfg.SessionServiceURL, cfg.ServiceToken)
	}
	var payments services.PaymentClient
	if cfg.WalletServiceURL != "" {
		payments = clients.NewWalletClient(cfg.WalletServiceURL, cfg.ServiceToken)
	} else {
		log.Warn().Msg("⚠️  WALLET_SERVICE_URL not set, entry fees will not be refunded")
	}

	// --- Tournament engine ---
	gen := services.NewGenerator(st, publishers, sessions, clock, settings)
	detector := services.NewCompletionDetector(ctx, st, publishers, registry, clock, settings.FinalizeDebounce)
	if n, err := detector.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("failed to re-arm finalize timers")
	} else if n > 0 {
		log.Info().Int("timers", n).Msg("⏱️  finalize timers re-armed")
	}
	engine := services.NewEngine(st, gen, detector, publishers, clock, settings)
	seasons := services.NewSeasonService(st, gen, publishers, payments, clock, settings)
	verifier := services.NewVerificationManager(st, clock, settings.TokenTTL)

	monitor := services.NewTimeoutMonitor(st, engine, clock, settings.MonitorInterval, settings.ScheduledGrace)
	if err := monitor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start timeout monitor")
	}
	defer monitor.Stop()

	workers.NewSeasonStartWorker(seasons, clock, cfg.SeasonPollInterval).Start(ctx)

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		// Ids from params and headers end up in stored state.
		Immutable:    true,
		ErrorHandler: handlers.ErrorHandler,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed, no exceptions
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupSeasonRoutes(app, seasons, brackets)
	handlers.SetupMatchRoutes(app, engine, brackets, verifier)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("✅ Server running")
	log.Info().Strs("origins", cfg.AllowedOrigins).Msg("✅ CORS configured")
	log.Info().Dur("interval", settings.MonitorInterval).Msg("✅ Match timeout monitor running")

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func openStore(cfg *config.Config) store.Store {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("⚠️  using in-memory store, nothing survives a restart")
		return store.NewMemoryStore()
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	gs := store.NewGormStore(db)
	if err := gs.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	return gs
}
