package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

const defaultPrefetch = 1

// RabbitBatchQueue реализует очередь пакетных задач через AMQP.
type RabbitBatchQueue struct {
	conn  *amqp.Connection
	queue string

	pubMu sync.Mutex
	pub   *amqp.Channel

	consMu     sync.Mutex
	cons       *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewRabbitBatchQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitBatchQueue(amqpURL, queue string) (*RabbitBatchQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": "news-aggregator",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitBatchQueue{conn: conn, queue: queue, pub: pub}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitBatchQueue) Enqueue(ctx context.Context, job domain.BatchJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	start := time.Now()
	err = q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
// Неуспешное подтверждение возвращает сообщение брокеру для повторной доставки.
func (q *RabbitBatchQueue) Receive(ctx context.Context) (domain.BatchJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.BatchJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.BatchJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			q.resetConsumer()
			return domain.BatchJob{}, nil, fmt.Errorf("%w: канал доставки закрыт", domain.ErrUnavailable)
		}
		job, err := decodeJob(d.Body)
		if err != nil {
			_ = d.Reject(false)
			return domain.BatchJob{}, nil, err
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

func (q *RabbitBatchQueue) consume() (<-chan amqp.Delivery, error) {
	q.consMu.Lock()
	defer q.consMu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", domain.ErrUnavailable, err)
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.cons = ch
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitBatchQueue) resetConsumer() {
	q.consMu.Lock()
	defer q.consMu.Unlock()
	if q.cons != nil {
		_ = q.cons.Close()
	}
	q.cons = nil
	q.deliveries = nil
}

// Close закрывает соединение с брокером.
func (q *RabbitBatchQueue) Close() error {
	q.resetConsumer()
	return q.conn.Close()
}
