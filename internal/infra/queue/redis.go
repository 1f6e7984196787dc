package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// RedisBatchQueue реализует очередь пакетных задач на базе Redis lists.
type RedisBatchQueue struct {
	client *redis.Client
	key    string
}

// NewRedisBatchQueue создаёт очередь по указанному ключу.
func NewRedisBatchQueue(client *redis.Client, key string) *RedisBatchQueue {
	return &RedisBatchQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisBatchQueue) Enqueue(ctx context.Context, job domain.BatchJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
// Неуспешное подтверждение возвращает задачу в конец очереди.
func (q *RedisBatchQueue) Receive(ctx context.Context) (domain.BatchJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.BatchJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.BatchJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.BatchJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.BatchJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		job, err := decodeJob(payload)
		if err != nil {
			return domain.BatchJob{}, nil, err
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			start := time.Now()
			err := q.client.LPush(context.WithoutCancel(ctx), q.key, payload).Err()
			metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
			if err != nil {
				return fmt.Errorf("requeue job: %w", err)
			}
			return nil
		}
		return job, ack, nil
	}
}
