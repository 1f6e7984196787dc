package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// InTransaction выполняет fn в одной транзакции. Повторов нет:
// ошибку, включая конфликт записи, получает вызывающий.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.WriteTx) error) error {
	start := time.Now()
	err := s.runTx(ctx, func(sctx context.Context) error {
		return fn(sctx, writeTx{store: s})
	})
	metrics.ObserveNetworkRequest("mongo", "transaction", collPosts, start, err)
	return err
}

func (s *Store) txOptions() *options.TransactionOptions {
	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())
	if s.txTimeout > 0 {
		maxCommit := s.txTimeout
		opts.SetMaxCommitTime(&maxCommit)
	}
	return opts
}

// runTx открывает сессию, запускает транзакцию и фиксирует её после fn.
// Время всей транзакции ограничено txTimeout.
func (s *Store) runTx(ctx context.Context, fn func(sctx context.Context) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return classify("start session", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	if err := sess.StartTransaction(s.txOptions()); err != nil {
		return classify("start transaction", err)
	}
	sctx := mongo.NewSessionContext(ctx, sess)
	if err := fn(sctx); err != nil {
		_ = sess.AbortTransaction(context.WithoutCancel(ctx))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrUnavailable) {
			return fmt.Errorf("transaction: %w: %w", domain.ErrUnavailable, err)
		}
		return err
	}
	if err := sess.CommitTransaction(sctx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

type writeTx struct {
	store *Store
}

func (t writeTx) InsertPost(ctx context.Context, post domain.Post) error {
	if _, err := t.store.posts.InsertOne(ctx, normalizePost(post)); err != nil {
		return classify("insert post", err)
	}
	return nil
}

func (t writeTx) TouchChannel(ctx context.Context, channelID int64, at time.Time) error {
	res, err := t.store.channels.UpdateOne(ctx,
		bson.D{{Key: "channel_id", Value: channelID}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "post_count", Value: 1}}},
			{Key: "$set", Value: bson.D{{Key: "last_post_date", Value: at}}},
		},
	)
	if err != nil {
		return classify("update channel", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: канал %d не найден", domain.ErrValidation, channelID)
	}
	return nil
}

func (t writeTx) BumpTags(ctx context.Context, tags []string) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	res, err := t.store.tags.UpdateMany(ctx,
		bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: tags}}}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "usage_count", Value: 1}}}},
	)
	if err != nil {
		return 0, classify("update tags", err)
	}
	return res.ModifiedCount, nil
}

// normalizePost заменяет nil-срезы пустыми массивами, чтобы документ проходил схему.
func normalizePost(p domain.Post) domain.Post {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Comments == nil {
		p.Comments = []domain.Comment{}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return p
}
