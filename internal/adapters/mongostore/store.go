// Package mongostore реализует порты хранилища поверх MongoDB:
// транзакции создания постов, bulkWrite, конвейер агрегации,
// коллекцию кэша отчётов и подписку на журнал изменений.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"news-aggregator/internal/domain"
)

const (
	collPosts    = "posts"
	collChannels = "channels"
	collTags     = "tags"
	collReports  = "cached_channel_reports"
	collMeta     = "cached_channel_reports_meta"
)

// Store — клиент хранилища новостного агрегатора.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	posts     *mongo.Collection
	channels  *mongo.Collection
	tags      *mongo.Collection
	reports   *mongo.Collection
	meta      *mongo.Collection
	txTimeout time.Duration
	now       func() time.Time
}

var (
	_ domain.Transactor   = (*Store)(nil)
	_ domain.BulkWriter   = (*Store)(nil)
	_ domain.RollupSource = (*Store)(nil)
	_ domain.ReportCache  = (*Store)(nil)
	_ domain.ChangeFeed   = (*Store)(nil)
)

// New создаёт хранилище поверх подключённого клиента.
// txTimeout ограничивает полное время транзакции, ноль отключает ограничение.
func New(client *mongo.Client, database string, txTimeout time.Duration) *Store {
	db := client.Database(database)
	return &Store{
		client:    client,
		db:        db,
		posts:     db.Collection(collPosts),
		channels:  db.Collection(collChannels),
		tags:      db.Collection(collTags),
		reports:   db.Collection(collReports),
		meta:      db.Collection(collMeta),
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes создаёт индексы коллекции отчётов: уникальность channel_id,
// вторичные порядки рейтинга и TTL по cached_at.
func (s *Store) EnsureIndexes(ctx context.Context, cacheTTL time.Duration) error {
	models := reportIndexes(cacheTTL)
	if _, err := s.reports.Indexes().CreateMany(ctx, models); err != nil {
		return classify("create report indexes", err)
	}
	return nil
}

func reportIndexes(cacheTTL time.Duration) []mongo.IndexModel {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("channel_id_unique"),
		},
		{
			Keys:    bson.D{{Key: "total_posts", Value: -1}},
			Options: options.Index().SetName("total_posts_desc"),
		},
		{
			Keys:    bson.D{{Key: "engagement_rate", Value: -1}},
			Options: options.Index().SetName("engagement_rate_desc"),
		},
	}
	if cacheTTL > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "cached_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cacheTTL / time.Second)).SetName("cached_at_ttl"),
		})
	}
	return models
}

// Ping проверяет доступность первичного узла.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close отключает клиента.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
