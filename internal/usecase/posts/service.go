package posts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// Service — координатор транзакционной записи постов.
type Service struct {
	tx        domain.Transactor
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт координатор. analytics может быть nil.
func NewService(tx domain.Transactor, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	return &Service{
		tx:        tx,
		analytics: analytics,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePost атомарно вставляет пост, обновляет счётчики канала и
// usage_count существующих тегов. Частичных повторов нет: при ErrConflict
// вызывающий может повторить весь вызов.
func (s *Service) CreatePost(ctx context.Context, draft domain.PostDraft) (int64, error) {
	draft.Tags = domain.NormalizeTags(draft.Tags)
	if err := domain.ValidateDraft(draft); err != nil {
		metrics.IncPostTransaction(domain.Classify(err))
		return 0, err
	}

	now := s.now()
	post := domain.Post{
		PostID:    draft.PostID,
		Title:     draft.Title,
		Content:   draft.Content,
		ChannelID: draft.ChannelID,
		AuthorID:  draft.AuthorID,
		Tags:      draft.Tags,
		Comments:  []domain.Comment{},
		Stats:     domain.Stats{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var tagsBumped int64
	err := s.tx.InTransaction(ctx, func(ctx context.Context, tx domain.WriteTx) error {
		if err := tx.InsertPost(ctx, post); err != nil {
			return fmt.Errorf("вставка поста: %w", err)
		}
		if err := tx.TouchChannel(ctx, post.ChannelID, now); err != nil {
			return fmt.Errorf("обновление канала: %w", err)
		}
		n, err := tx.BumpTags(ctx, post.Tags)
		if err != nil {
			return fmt.Errorf("обновление тегов: %w", err)
		}
		tagsBumped = n
		return nil
	})
	metrics.IncPostTransaction(domain.Classify(err))
	if err != nil {
		s.log.Warn().Err(err).
			Int64("post_id", post.PostID).
			Int64("channel_id", post.ChannelID).
			Str("kind", domain.Classify(err)).
			Msg("posts: транзакция отменена")
		return 0, err
	}

	s.log.Info().
		Int64("post_id", post.PostID).
		Int64("channel_id", post.ChannelID).
		Int64("tags_bumped", tagsBumped).
		Msg("posts: пост создан")
	s.recordCreated(ctx, post, tagsBumped)
	return post.PostID, nil
}

func (s *Service) recordCreated(ctx context.Context, post domain.Post, tagsBumped int64) {
	if s.analytics == nil {
		return
	}
	postID, channelID := post.PostID, post.ChannelID
	metric := domain.BusinessMetric{
		Event:     domain.BusinessMetricEventPostCreated,
		ChannelID: &channelID,
		PostID:    &postID,
		Metadata: map[string]any{
			"tags":        post.Tags,
			"tags_bumped": tagsBumped,
		},
		OccurredAt: post.CreatedAt,
	}
	if err := s.analytics.RecordBusinessMetric(context.WithoutCancel(ctx), metric); err != nil {
		s.log.Error().Err(err).Str("event", metric.Event).Msg("posts: не удалось сохранить бизнес-метрику")
	}
}
