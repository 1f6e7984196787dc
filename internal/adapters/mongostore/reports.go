package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// Get возвращает отчёт канала или domain.ErrCacheMiss.
func (s *Store) Get(ctx context.Context, channelID int64) (domain.CacheRecord, error) {
	start := time.Now()
	var rec domain.CacheRecord
	err := s.reports.FindOne(ctx, bson.D{{Key: "channel_id", Value: channelID}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.ObserveNetworkRequest("mongo", "find_one", collReports, start, nil)
		return domain.CacheRecord{}, domain.ErrCacheMiss
	}
	metrics.ObserveNetworkRequest("mongo", "find_one", collReports, start, err)
	if err != nil {
		return domain.CacheRecord{}, classify("get report", err)
	}
	return rec, nil
}

// List возвращает рейтинг каналов по убыванию sortKey.
func (s *Store) List(ctx context.Context, limit int, sortKey domain.ReportSortKey) ([]domain.CacheRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: string(sortKey), Value: -1}, {Key: "channel_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	start := time.Now()
	cursor, err := s.reports.Find(ctx, bson.D{}, opts)
	metrics.ObserveNetworkRequest("mongo", "find", collReports, start, err)
	if err != nil {
		return nil, classify("list reports", err)
	}
	records := make([]domain.CacheRecord, 0, limit)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, classify("decode reports", err)
	}
	return records, nil
}

// fullRebuildID — идентификатор документа с отметкой полного пересчёта.
const fullRebuildID = "full_rebuild"

type rebuildMark struct {
	ID        string    `bson:"_id"`
	RebuiltAt time.Time `bson:"rebuilt_at"`
}

// ReplaceAll заменяет содержимое коллекции отчётов и отметку пересчёта в одной транзакции.
func (s *Store) ReplaceAll(ctx context.Context, records []domain.CacheRecord, rebuiltAt time.Time) error {
	start := time.Now()
	err := s.runTx(ctx, func(sctx context.Context) error {
		_, err := s.reports.BulkWrite(sctx, replaceAllModels(records), options.BulkWrite().SetOrdered(true))
		if err != nil {
			return classify("replace reports", err)
		}
		_, err = s.meta.ReplaceOne(sctx,
			bson.D{{Key: "_id", Value: fullRebuildID}},
			rebuildMark{ID: fullRebuildID, RebuiltAt: rebuiltAt},
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return classify("mark full rebuild", err)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("mongo", "replace_all", collReports, start, err)
	return err
}

func replaceAllModels(records []domain.CacheRecord) []mongo.WriteModel {
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ChannelID)
	}
	models := make([]mongo.WriteModel, 0, len(records)+1)
	models = append(models, mongo.NewDeleteManyModel().SetFilter(
		bson.D{{Key: "channel_id", Value: bson.D{{Key: "$nin", Value: ids}}}},
	))
	for _, rec := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "channel_id", Value: rec.ChannelID}}).
			SetReplacement(normalizeRecord(rec)).
			SetUpsert(true))
	}
	return models
}

// RebuiltAt возвращает время последнего полного пересчёта.
func (s *Store) RebuiltAt(ctx context.Context) (time.Time, error) {
	start := time.Now()
	var mark rebuildMark
	err := s.meta.FindOne(ctx, bson.D{{Key: "_id", Value: fullRebuildID}}).Decode(&mark)
	if errors.Is(err, mongo.ErrNoDocuments) {
		metrics.ObserveNetworkRequest("mongo", "find_one", collMeta, start, nil)
		return time.Time{}, nil
	}
	metrics.ObserveNetworkRequest("mongo", "find_one", collMeta, start, err)
	if err != nil {
		return time.Time{}, classify("get rebuild mark", err)
	}
	return mark.RebuiltAt, nil
}

// Upsert записывает отчёт одного канала.
func (s *Store) Upsert(ctx context.Context, record domain.CacheRecord) error {
	start := time.Now()
	_, err := s.reports.ReplaceOne(ctx,
		bson.D{{Key: "channel_id", Value: record.ChannelID}},
		normalizeRecord(record),
		options.Replace().SetUpsert(true),
	)
	metrics.ObserveNetworkRequest("mongo", "replace_one", collReports, start, err)
	if err != nil {
		return classify("upsert report", err)
	}
	return nil
}

// Delete удаляет отчёт канала.
func (s *Store) Delete(ctx context.Context, channelID int64) error {
	start := time.Now()
	_, err := s.reports.DeleteOne(ctx, bson.D{{Key: "channel_id", Value: channelID}})
	metrics.ObserveNetworkRequest("mongo", "delete_one", collReports, start, err)
	if err != nil {
		return classify("delete report", err)
	}
	return nil
}

// DeleteExpired удаляет отчёты, собранные раньше before.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	res, err := s.reports.DeleteMany(ctx, bson.D{{Key: "cached_at", Value: bson.D{{Key: "$lt", Value: before}}}})
	metrics.ObserveNetworkRequest("mongo", "delete_many", collReports, start, err)
	if err != nil {
		return 0, classify("delete expired reports", err)
	}
	return res.DeletedCount, nil
}

func normalizeRecord(rec domain.CacheRecord) domain.CacheRecord {
	if rec.TopTags == nil {
		rec.TopTags = []string{}
	}
	return rec
}
