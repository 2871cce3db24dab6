package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"soulseer/internal/clock"
	"soulseer/internal/config"
	"soulseer/internal/db"
	"soulseer/internal/logger"
	"soulseer/internal/notify"
	"soulseer/internal/payment"
	"soulseer/internal/reader"
	"soulseer/internal/realtime"
	"soulseer/internal/server"
	"soulseer/internal/session"
	"soulseer/internal/settlement"
	"soulseer/internal/store"
	"soulseer/internal/wallet"
	"soulseer/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init()
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("Starting SoulSeer session engine", "store", cfg.Store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}
	health := make(map[string]server.Pinger)

	var (
		st         store.Store
		readerRepo reader.Repository
	)
	switch cfg.Store {
	case "memory":
		logger.Warn("Using in-memory store; balances and sessions are lost on restart")
		st = store.NewMemory(clk)
		readerRepo = reader.NewMemoryRepository(clk)
	default:
		logger.Info("Connecting to database...")
		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		database, err := db.Connect(connectCtx, cfg.DatabaseURL)
		connectCancel()
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		logger.Info("Migrations completed")

		st = store.NewPostgres(database)
		readerRepo = reader.NewRepository(database)
		health["database"] = database
	}

	var publishers []notify.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		publishers = append(publishers, notify.NewRedisPublisher(rdb))
		health["redis"] = server.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer kp.Close()
		publishers = append(publishers, kp)
	}
	if len(publishers) == 0 {
		logger.Warn("No notification transport configured; notifications are disabled")
	}
	notifier := notify.NewDispatcher(clk, publishers...)

	if cfg.RealtimeAppSecret == "" {
		logger.Warn("REALTIME_APP_SECRET is empty; session credentials will be rejected by the transport")
	}
	issuer := realtime.NewJWTIssuer(cfg.RealtimeAppID, cfg.RealtimeAppSecret, clk)

	ledger := wallet.NewLedger(clk)
	gateway := payment.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	walletSvc := wallet.NewService(st, ledger, gateway, notifier, clk, cfg.PlatformAccountID)
	engine := settlement.NewEngine(ledger, notifier, cfg.FeeRate, cfg.PlatformAccountID)
	readerSvc := reader.NewService(readerRepo)

	sessionSvc := session.NewService(st, readerSvc, issuer, engine, notifier, clk, session.Options{
		MinimumMinutes:  cfg.MinimumMinutes,
		AccrualInterval: cfg.AccrualInterval,
		TokenTTL:        cfg.RealtimeTokenTTL,
	})

	watchdog := session.NewWatchdog(sessionSvc, cfg.LowBalanceMinutes)
	watchdog.Start(ctx)
	logger.Info("Accrual watchdog started", "interval", cfg.AccrualInterval)

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty; gateway callbacks will be refused")
	}
	reconciler := webhook.NewReconciler(st, ledger, walletSvc, clk)

	limiter := server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 3*time.Minute, clk)
	limiter.Start(ctx, time.Minute)

	srv := server.New(cfg, server.Handlers{
		Sessions: session.NewHandler(sessionSvc),
		Wallet:   wallet.NewHandler(walletSvc),
		Readers:  reader.NewHandler(readerSvc),
		Webhooks: webhook.NewHandler(reconciler, cfg.WebhookSecret, cfg.WebhookTolerance, clk),
	}, limiter, health)

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	// Active sessions stay active in the store; the next process resumes
	// metering them on its first sweep.
	watchdog.Stop()
	limiter.Stop()
	cancel()

	logger.Info("Server stopped")
}
