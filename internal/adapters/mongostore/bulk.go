package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// BulkWrite отправляет операции одним bulkWrite в коллекцию posts.
// Фильтры сопоставляются с состоянием на момент выполнения каждой операции.
func (s *Store) BulkWrite(ctx context.Context, ops []domain.BatchOp, ordered bool) (domain.BatchResult, error) {
	if len(ops) == 0 {
		return domain.BatchResult{}, nil
	}
	now := s.now()
	models := make([]mongo.WriteModel, 0, len(ops))
	for i, op := range ops {
		model, err := writeModel(op, now)
		if err != nil {
			return domain.BatchResult{}, fmt.Errorf("операция %d: %w", i, err)
		}
		models = append(models, model)
	}

	start := time.Now()
	res, err := s.posts.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(ordered))
	metrics.ObserveNetworkRequest("mongo", "bulk_write", collPosts, start, err)
	return batchResult(ops, res, err, ordered)
}

// batchResult собирает итог пакета из ответа драйвера.
func batchResult(ops []domain.BatchOp, res *mongo.BulkWriteResult, err error, ordered bool) (domain.BatchResult, error) {
	var result domain.BatchResult
	if res != nil {
		result.InsertedCount = res.InsertedCount
		result.MatchedCount = res.MatchedCount
		result.ModifiedCount = res.ModifiedCount
		result.DeletedCount = res.DeletedCount
		result.UpsertedCount = res.UpsertedCount
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
			return result, classify("bulk write", err)
		}
		for _, we := range bwe.WriteErrors {
			if we.Index < 0 || we.Index >= len(ops) {
				continue
			}
			result.Errors = append(result.Errors, domain.NewOperationError(we.Index, ops[we.Index].Kind(), writeErrorCause(we.WriteError)))
		}
		sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Index < result.Errors[j].Index })
	}
	if ordered && len(result.Errors) > 0 {
		first := result.Errors[0].Index
		result.Applied = first
		result.NotAttempted = len(ops) - first - 1
		return result, nil
	}
	result.Applied = len(ops) - len(result.Errors)
	return result, nil
}

func writeModel(op domain.BatchOp, now time.Time) (mongo.WriteModel, error) {
	switch v := op.(type) {
	case domain.InsertOp:
		return mongo.NewInsertOneModel().SetDocument(normalizePost(v.Document)), nil
	case domain.UpdateOneOp:
		return mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "post_id", Value: v.PostID}}).
			SetUpdate(updateDoc(v.Update, now)), nil
	case domain.UpdateManyOp:
		return mongo.NewUpdateManyModel().
			SetFilter(filterDoc(v.Filter)).
			SetUpdate(updateDoc(v.Update, now)), nil
	case domain.DeleteManyOp:
		return mongo.NewDeleteManyModel().SetFilter(bson.D{
			{Key: "created_at", Value: bson.D{{Key: "$lt", Value: v.CreatedBefore}}},
			{Key: "stats.views", Value: bson.D{{Key: "$lt", Value: v.ViewsBelow}}},
		}), nil
	case domain.ReplaceOneOp:
		doc := normalizePost(v.Replacement)
		if doc.UpdatedAt.Before(now) {
			doc.UpdatedAt = now
		}
		return mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "post_id", Value: v.PostID}}).
			SetReplacement(doc).
			SetUpsert(v.Upsert), nil
	}
	return nil, fmt.Errorf("неизвестная операция %T", op)
}

func filterDoc(f domain.PostFilter) bson.D {
	filter := bson.D{}
	if f.ChannelID != nil {
		filter = append(filter, bson.E{Key: "channel_id", Value: *f.ChannelID})
	}
	if f.Tag != "" {
		filter = append(filter, bson.E{Key: "tags", Value: f.Tag})
	}
	return filter
}

func updateDoc(u domain.PostUpdate, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	if u.Set.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *u.Set.Title})
	}
	if u.Set.Content != nil {
		set = append(set, bson.E{Key: "content", Value: *u.Set.Content})
	}
	if u.Set.Trending != nil {
		set = append(set, bson.E{Key: "trending", Value: *u.Set.Trending})
	}
	doc := bson.D{{Key: "$set", Value: set}}

	inc := bson.D{}
	if u.Inc.Views != 0 {
		inc = append(inc, bson.E{Key: "stats.views", Value: u.Inc.Views})
	}
	if u.Inc.Likes != 0 {
		inc = append(inc, bson.E{Key: "stats.likes", Value: u.Inc.Likes})
	}
	if u.Inc.Shares != 0 {
		inc = append(inc, bson.E{Key: "stats.shares", Value: u.Inc.Shares})
	}
	if len(inc) > 0 {
		doc = append(doc, bson.E{Key: "$inc", Value: inc})
	}
	if u.PushComment != nil {
		doc = append(doc, bson.E{Key: "$push", Value: bson.D{{Key: "comments", Value: *u.PushComment}}})
	}
	return doc
}
