package main

import (
	"context"
	"os/signal"
	"sync"
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
	"news-aggregator/internal/infra/queue"
	"news-aggregator/internal/usecase/batch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "batcher")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	mongoClient, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		logger.Fatal().Err(err).Msg("batcher: нет подключения к MongoDB")
	}
	store := mongostore.New(mongoClient, cfg.Mongo.Database, cfg.Mongo.TxTimeout)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("batcher: не указан адрес PostgreSQL (PG_DSN)")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("batcher: нет подключения к PostgreSQL")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var batchQueue domain.BatchQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitBatchQueue(cfg.RabbitURL, cfg.Queues.Batch)
		if err != nil {
			logger.Fatal().Err(err).Msg("batcher: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		batchQueue = rabbit
	case cfg.RedisAddr != "":
		redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("batcher: нет подключения к Redis")
		}
		defer redisClient.Close()
		batchQueue = queue.NewRedisBatchQueue(redisClient, cfg.Queues.Batch)
	default:
		logger.Fatal().Msg("batcher: не задана очередь (RABBITMQ_URL или REDIS_ADDR)")
	}

	executor := batch.NewExecutor(store, repoAdapter, logger.With().Str("component", "batch").Logger())
	worker := batch.NewWorker(batchQueue, repoAdapter, executor, cfg.Queues.MaxAttempts, logger.With().Str("component", "worker").Logger())
	retention := batch.NewRetention(executor, batchQueue, cfg.RetentionWindow(), cfg.Retention.ViewsFloor, logger.With().Str("component", "retention").Logger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		retention.Run(ctx, cfg.Retention.Interval)
	}()

	logger.Info().Str("queue", cfg.Queues.Batch).Msg("batcher: запуск обработки очереди")
	worker.Run(ctx)
	wg.Wait()
	logger.Info().Msg("batcher: остановлен")
}
