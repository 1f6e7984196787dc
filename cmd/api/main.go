package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"news-aggregator/internal/adapters/httpapi"
	"news-aggregator/internal/adapters/mongostore"
	"news-aggregator/internal/adapters/repo"
	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/cache"
	"news-aggregator/internal/infra/config"
	"news-aggregator/internal/infra/db"
	httpinfra "news-aggregator/internal/infra/http"
	applog "news-aggregator/internal/infra/log"
	"news-aggregator/internal/infra/metrics"
	"news-aggregator/internal/infra/queue"
	"news-aggregator/internal/usecase/batch"
	"news-aggregator/internal/usecase/posts"
	"news-aggregator/internal/usecase/reports"
	"news-aggregator/internal/usecase/rollup"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к MongoDB")
	}
	store := mongostore.New(mongoClient, cfg.Mongo.Database, cfg.Mongo.TxTimeout)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()
	if err := store.EnsureIndexes(ctx, cfg.Reports.CacheTTL); err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать индексы кэша отчётов")
	}

	var analytics domain.BusinessMetricRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к PostgreSQL")
		}
		defer pool.Close()
		analytics = repo.NewPostgres(pool)
	} else {
		logger.Warn().Msg("api: PG_DSN не задан, бизнес-метрики не сохраняются")
	}

	var kv domain.Cache
	var batchQueue domain.BatchQueue
	if cfg.RedisAddr != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		defer redisClient.Close()
		kv = cache.NewRedis(redisClient)
		batchQueue = queue.NewRedisBatchQueue(redisClient, cfg.Queues.Batch)
	}
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitBatchQueue(cfg.RabbitURL, cfg.Queues.Batch)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		batchQueue = rabbit
	}

	component := func(name string) zerolog.Logger { return logger.With().Str("component", name).Logger() }

	builder := rollup.NewBuilder(store, store, kv, analytics, cfg.Reports.WeeklyTTL, component("rollup"))
	reportService := reports.NewService(store, builder, cfg.Reports.CacheTTL, component("reports"))
	postService := posts.NewService(store, analytics, component("posts"))
	executor := batch.NewExecutor(store, analytics, component("batch"))
	sweeper := reports.NewSweeper(store, kv, analytics, cfg.Reports.CacheTTL, cfg.Reports.SweepInterval, component("sweeper"))

	server := httpinfra.NewServer(component("http"), 30*time.Second)
	httpapi.NewHandler(postService, executor, reportService, builder, batchQueue, component("api")).Mount(server.Router)

	go sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api: HTTP сервер остановлен с ошибкой")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки HTTP сервера")
	}
	logger.Info().Msg("api: остановлен")
}
