package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

const (
	// DefaultLimit — размер рейтинга каналов по умолчанию.
	DefaultLimit = 10
	// MaxLimit ограничивает размер рейтинга.
	MaxLimit = 100

	readHit   = "hit"
	readMiss  = "miss"
	readStale = "stale"
)

// Rebuilder пересчитывает отчёты синхронно.
type Rebuilder interface {
	Rebuild(ctx context.Context) ([]domain.CacheRecord, error)
	RebuildChannel(ctx context.Context, channelID int64) (domain.CacheRecord, error)
}

// Service отдаёт отчёты из кэша и пересчитывает устаревшие записи при чтении.
type Service struct {
	cache   domain.ReportCache
	rebuild Rebuilder
	ttl     time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// NewService создаёт сервис чтения отчётов.
func NewService(cache domain.ReportCache, rebuild Rebuilder, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		cache:   cache,
		rebuild: rebuild,
		ttl:     ttl,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetChannelReport возвращает свежую запись канала, пересчитывая её при промахе или устаревании.
// ErrNotFound означает, что у канала нет постов.
func (s *Service) GetChannelReport(ctx context.Context, channelID int64) (domain.CacheRecord, error) {
	if channelID <= 0 {
		return domain.CacheRecord{}, fmt.Errorf("%w: channel_id должен быть положительным", domain.ErrValidation)
	}
	record, err := s.cache.Get(ctx, channelID)
	switch {
	case err == nil && !record.Expired(s.now(), s.ttl):
		metrics.IncReportRead(readHit)
		return record, nil
	case err == nil:
		metrics.IncReportRead(readStale)
		s.log.Debug().Int64("channel_id", channelID).Time("cached_at", record.CachedAt).Msg("reports: запись устарела, пересчитываем")
	case errors.Is(err, domain.ErrCacheMiss):
		metrics.IncReportRead(readMiss)
	default:
		return domain.CacheRecord{}, fmt.Errorf("чтение отчёта канала %d: %w", channelID, err)
	}

	record, err = s.rebuild.RebuildChannel(ctx, channelID)
	if err != nil {
		return domain.CacheRecord{}, err
	}
	return record, nil
}

// ListTopChannels возвращает рейтинг каналов. Рейтинг пересчитывается целиком,
// если полного пересчёта не было, он старше ttl или в выдаче есть устаревшая запись.
// Отметка полного пересчёта ловит записи, которые уже удалил сборщик.
func (s *Service) ListTopChannels(ctx context.Context, limit int, sortKey domain.ReportSortKey) ([]domain.CacheRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		return nil, fmt.Errorf("%w: limit больше %d", domain.ErrValidation, MaxLimit)
	}
	if sortKey == "" {
		sortKey = domain.SortByEngagementRate
	}

	rebuiltAt, err := s.cache.RebuiltAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("чтение отметки пересчёта: %w", err)
	}
	records, err := s.cache.List(ctx, limit, sortKey)
	if err != nil {
		return nil, fmt.Errorf("чтение рейтинга каналов: %w", err)
	}
	result := s.classify(rebuiltAt, records)
	metrics.IncReportRead(result)
	if result == readHit {
		return records, nil
	}

	s.log.Debug().Str("result", result).Msg("reports: рейтинг пересчитывается")
	if _, err := s.rebuild.Rebuild(ctx); err != nil {
		return nil, err
	}
	records, err = s.cache.List(ctx, limit, sortKey)
	if err != nil {
		return nil, fmt.Errorf("чтение рейтинга каналов: %w", err)
	}
	return records, nil
}

func (s *Service) classify(rebuiltAt time.Time, records []domain.CacheRecord) string {
	if rebuiltAt.IsZero() {
		return readMiss
	}
	now := s.now()
	if s.ttl > 0 && now.Sub(rebuiltAt) > s.ttl {
		return readStale
	}
	for _, r := range records {
		if r.Expired(now, s.ttl) {
			return readStale
		}
	}
	return readHit
}
