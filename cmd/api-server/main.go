package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/api"
	"github.com/vetlink/teleconsult/internal/availability"
	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/config"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/db"
	"github.com/vetlink/teleconsult/internal/matching"
	"github.com/vetlink/teleconsult/internal/notify"
	"github.com/vetlink/teleconsult/internal/payment"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/sweep"
	"github.com/vetlink/teleconsult/internal/video"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.PostgresDSN); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	var guard redisclient.OverlapGuard = redisclient.NoopGuard{}
	redisClient, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		// Redis only backs the best-effort guard and dedup fast path; the
		// service stays up without it.
		logger.Warn("redis unavailable, overlap guard disabled", zap.Error(err))
		redisClient = nil
	} else {
		guard = redisclient.NewOverlapGuard(redisClient, cfg.LockTTL)
		defer func() { _ = redisClient.Close() }()
	}

	clk := clock.Real()
	repo := consultation.NewPgRepository(pool)

	var mailer notify.Mailer = notify.NoopMailer{}
	if cfg.SMTPHost != "" {
		mailer = notify.NewGomailMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.EmailFrom)
	}
	notifier := notify.NewService(notify.NewPgStore(pool), mailer, logger)

	resolver := availability.NewResolver(availability.NewPgSource(pool), clk, cfg.BookingLeadTime, cfg.BookingHorizon, cfg.SlotMinutes)

	svc := consultation.NewService(
		repo,
		clk,
		video.NewHTTPClient(cfg.VideoAPIURL, cfg.VideoAPIKey),
		payment.New(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentBypass),
		notifier,
		resolver,
		guard,
		consultation.ServiceConfig{
			BookingLeadTime: cfg.BookingLeadTime,
			BookingHorizon:  cfg.BookingHorizon,
			SlotMinutes:     cfg.SlotMinutes,
			FollowUpTTL:     cfg.FollowUpTTL,
		},
		logger,
	)

	engine := matching.NewEngine(repo, notifier, clk, cfg.VetBusyWindow, logger)

	sweeper := sweep.NewSweeper(repo, engine, notifier, guard, clk, sweep.Config{
		MatchStaleAfter:     cfg.MatchStaleAfter,
		PendingAbandonAfter: cfg.PendingAbandonAfter,
	}, logger)

	router := api.NewRouter(api.RouterDeps{
		Service:     svc,
		Engine:      engine,
		Sweeper:     sweeper,
		Resolver:    resolver,
		Guard:       guard,
		Clock:       clk,
		Pool:        pool,
		Redis:       redisClient,
		VideoSecret: cfg.VideoWebhookSecret,
		SweepSecret: cfg.SweepSharedSecret,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		logger.Info("api server listening", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
