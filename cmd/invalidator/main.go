package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"news-aggregator/internal/adapters/mongostore"
	"news-aggregator/internal/adapters/repo"
	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/cache"
	"news-aggregator/internal/infra/config"
	"news-aggregator/internal/infra/db"
	applog "news-aggregator/internal/infra/log"
	"news-aggregator/internal/infra/metrics"
	"news-aggregator/internal/usecase/invalidator"
	"news-aggregator/internal/usecase/reports"
	"news-aggregator/internal/usecase/rollup"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "invalidator")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	mongoClient, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalidator: нет подключения к MongoDB")
	}
	store := mongostore.New(mongoClient, cfg.Mongo.Database, cfg.Mongo.TxTimeout)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()
	if err := store.EnsureIndexes(ctx, cfg.Reports.CacheTTL); err != nil {
		logger.Fatal().Err(err).Msg("invalidator: не удалось создать индексы кэша отчётов")
	}

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("invalidator: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalidator: нет подключения к Redis")
	}
	defer redisClient.Close()
	tokens := cache.NewResumeTokens(redisClient, cache.DefaultResumeTokenKey, cfg.Invalidator.ResumeTokenTTL)

	var analytics domain.BusinessMetricRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalidator: нет подключения к PostgreSQL")
		}
		defer pool.Close()
		analytics = repo.NewPostgres(pool)
	}

	kv := cache.NewRedis(redisClient)
	builder := rollup.NewBuilder(store, store, kv, analytics, cfg.Reports.WeeklyTTL, logger.With().Str("component", "rollup").Logger())
	inv := invalidator.New(store, tokens, builder, invalidator.Config{
		Debounce:         cfg.Invalidator.Debounce,
		ReconnectInitial: cfg.Invalidator.ReconnectInitial,
		ReconnectMax:     cfg.Invalidator.ReconnectMax,
		RefreshInterval:  cfg.Reports.RefreshInterval,
	}, logger.With().Str("component", "invalidator").Logger())

	sweeper := reports.NewSweeper(store, kv, analytics, cfg.Reports.CacheTTL, cfg.Reports.SweepInterval, logger.With().Str("component", "sweeper").Logger())
	go sweeper.Run(ctx)

	logger.Info().Msg("invalidator: запуск подписки на изменения постов")
	inv.Run(ctx)
}
