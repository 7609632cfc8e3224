package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vetlink/teleconsult/internal/clock"
	"github.com/vetlink/teleconsult/internal/config"
	"github.com/vetlink/teleconsult/internal/consultation"
	"github.com/vetlink/teleconsult/internal/db"
	"github.com/vetlink/teleconsult/internal/matching"
	"github.com/vetlink/teleconsult/internal/notify"
	"github.com/vetlink/teleconsult/internal/redisclient"
	"github.com/vetlink/teleconsult/internal/sweep"
)

// The sweep worker runs the four reconciliation jobs on their own schedules.
// It can run alongside any number of replicas: overlap is suppressed by the
// redis guard, and correctness never depends on the guard because every row
// mutation is a conditional update.
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

	var guard redisclient.OverlapGuard = redisclient.NoopGuard{}
	redisClient, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, overlap guard disabled", zap.Error(err))
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

	engine := matching.NewEngine(repo, notifier, clk, cfg.VetBusyWindow, logger)

	sweeper := sweep.NewSweeper(repo, engine, notifier, guard, clk, sweep.Config{
		MatchStaleAfter:     cfg.MatchStaleAfter,
		PendingAbandonAfter: cfg.PendingAbandonAfter,
	}, logger)

	c := cron.New()
	schedules := map[string]string{
		sweep.NameStaleMatches:     cfg.StaleMatchCron,
		sweep.NameMissed:           cfg.MissedCron,
		sweep.NameAbandonedPending: cfg.AbandonedCron,
		sweep.NameThreadExpiry:     cfg.ExpiryCron,
	}
	for name, spec := range schedules {
		name := name
		_, err := c.AddFunc(spec, func() {
			if _, err := sweeper.Run(ctx, name); err != nil {
				logger.Error("sweep failed", zap.String("sweep", name), zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("register sweep schedule",
				zap.String("sweep", name),
				zap.String("spec", spec),
				zap.Error(err))
		}
		logger.Info("sweep scheduled", zap.String("sweep", name), zap.String("spec", spec))
	}

	c.Start()
	<-ctx.Done()

	logger.Info("shutting down, waiting for running sweeps")
	<-c.Stop().Done()
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
