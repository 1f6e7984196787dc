package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

const (
	scopeFull    = "full"
	scopeChannel = "channel"
	scopeWeekly  = "weekly"

	// WeeklyReportKey — ключ недельного отчёта в Redis.
	WeeklyReportKey = "reports:weekly"
	// WeeklyWindow — окно недельного отчёта.
	WeeklyWindow = 7 * 24 * time.Hour
)

// Builder пересчитывает материализованные отчёты по каналам.
type Builder struct {
	rollups   domain.RollupSource
	cache     domain.ReportCache
	kv        domain.Cache
	analytics domain.BusinessMetricRepo
	weeklyTTL time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewBuilder создаёт построитель отчётов. kv и analytics могут быть nil.
func NewBuilder(rollups domain.RollupSource, cache domain.ReportCache, kv domain.Cache, analytics domain.BusinessMetricRepo, weeklyTTL time.Duration, logger zerolog.Logger) *Builder {
	return &Builder{
		rollups:   rollups,
		cache:     cache,
		kv:        kv,
		analytics: analytics,
		weeklyTTL: weeklyTTL,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Rebuild полностью пересчитывает отчёты и заменяет ими кэш.
// Записи каналов, у которых не осталось постов, удаляются.
func (b *Builder) Rebuild(ctx context.Context) (records []domain.CacheRecord, err error) {
	start := time.Now()
	defer func() { metrics.ObserveRebuild(scopeFull, start, err) }()

	cachedAt := b.now()
	records, err = collect(b.rollups.ChannelRollups(ctx, nil), cachedAt)
	if err != nil {
		return nil, fmt.Errorf("агрегация постов: %w", err)
	}
	if err := b.cache.ReplaceAll(ctx, records, cachedAt); err != nil {
		return nil, fmt.Errorf("замена кэша отчётов: %w", err)
	}
	b.log.Info().Int("channels", len(records)).Dur("took", time.Since(start)).Msg("rollup: отчёты пересчитаны")
	b.record(ctx, scopeFull, nil, len(records))
	return records, nil
}

// RebuildChannel пересчитывает отчёт одного канала.
// Если у канала нет постов, его запись удаляется и возвращается ErrNotFound.
func (b *Builder) RebuildChannel(ctx context.Context, channelID int64) (record domain.CacheRecord, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ObserveRebuild(scopeChannel, start, nil)
			return
		}
		metrics.ObserveRebuild(scopeChannel, start, err)
	}()

	records, err := collect(b.rollups.ChannelRollups(ctx, &channelID), b.now())
	if err != nil {
		return domain.CacheRecord{}, fmt.Errorf("агрегация постов канала %d: %w", channelID, err)
	}
	if len(records) == 0 {
		if err := b.cache.Delete(ctx, channelID); err != nil {
			return domain.CacheRecord{}, fmt.Errorf("удаление отчёта канала %d: %w", channelID, err)
		}
		return domain.CacheRecord{}, fmt.Errorf("канал %d: %w", channelID, domain.ErrNotFound)
	}
	record = records[0]
	if err := b.cache.Upsert(ctx, record); err != nil {
		return domain.CacheRecord{}, fmt.Errorf("сохранение отчёта канала %d: %w", channelID, err)
	}
	b.log.Debug().Int64("channel_id", channelID).Msg("rollup: отчёт канала пересчитан")
	b.record(ctx, scopeChannel, &channelID, 1)
	return record, nil
}

// WeeklyReport возвращает отчёт за последние семь дней, используя Redis как кэш.
func (b *Builder) WeeklyReport(ctx context.Context) (domain.WeeklyReport, error) {
	if report, ok := b.cachedWeekly(ctx); ok {
		return report, nil
	}

	start := time.Now()
	now := b.now()
	from := now.Add(-WeeklyWindow)
	report, err := b.rollups.WeeklyFacets(ctx, from)
	metrics.ObserveRebuild(scopeWeekly, start, err)
	if err != nil {
		return domain.WeeklyReport{}, fmt.Errorf("недельный отчёт: %w", err)
	}
	report.From = from
	report.GeneratedAt = now

	if b.kv != nil && b.weeklyTTL > 0 {
		payload, err := json.Marshal(report)
		if err == nil {
			err = b.kv.Set(ctx, WeeklyReportKey, payload, b.weeklyTTL)
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("rollup: не удалось закэшировать недельный отчёт")
		}
	}
	return report, nil
}

func (b *Builder) cachedWeekly(ctx context.Context) (domain.WeeklyReport, bool) {
	if b.kv == nil || b.weeklyTTL <= 0 {
		return domain.WeeklyReport{}, false
	}
	payload, err := b.kv.Get(ctx, WeeklyReportKey)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			b.log.Warn().Err(err).Msg("rollup: кэш недельного отчёта недоступен")
		}
		return domain.WeeklyReport{}, false
	}
	var report domain.WeeklyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		b.log.Warn().Err(err).Msg("rollup: повреждённый недельный отчёт в кэше")
		return domain.WeeklyReport{}, false
	}
	return report, true
}

func (b *Builder) record(ctx context.Context, scope string, channelID *int64, channels int) {
	if b.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{
		Event:     domain.BusinessMetricEventRollupRebuilt,
		ChannelID: channelID,
		Metadata: map[string]any{
			"scope":    scope,
			"channels": channels,
		},
		OccurredAt: b.now(),
	}
	if err := b.analytics.RecordBusinessMetric(context.WithoutCancel(ctx), metric); err != nil {
		b.log.Error().Err(err).Str("event", metric.Event).Msg("rollup: не удалось сохранить бизнес-метрику")
	}
}
