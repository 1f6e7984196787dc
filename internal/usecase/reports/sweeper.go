package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// SweepLockKey — ключ блокировки, под которой одна реплика чистит кэш за интервал.
const SweepLockKey = "reports:sweep:lock"

// Sweeper удаляет записи кэша старше TTL.
type Sweeper struct {
	cache     domain.ReportCache
	locks     domain.Cache
	analytics domain.BusinessMetricRepo
	ttl       time.Duration
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewSweeper создаёт очистку кэша. locks и analytics могут быть nil.
func NewSweeper(cache domain.ReportCache, locks domain.Cache, analytics domain.BusinessMetricRepo, ttl, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		cache:     cache,
		locks:     locks,
		analytics: analytics,
		ttl:       ttl,
		interval:  interval,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce удаляет устаревшие записи. Если блокировку держит другая реплика,
// ничего не делает и возвращает false.
func (s *Sweeper) SweepOnce(ctx context.Context) (bool, int64, error) {
	var removed int64
	sweep := func() error {
		n, err := s.cache.DeleteExpired(ctx, s.now().Add(-s.ttl))
		if err != nil {
			return fmt.Errorf("очистка кэша отчётов: %w", err)
		}
		removed = n
		return nil
	}

	ran := true
	var err error
	if s.locks != nil {
		// Блокировка истекает до следующего тика.
		ran, err = s.locks.Once(ctx, SweepLockKey, s.lockTTL(), sweep)
	} else {
		err = sweep()
	}
	if err != nil || !ran {
		return ran, 0, err
	}

	metrics.AddReportsExpired(removed)
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("sweeper: удалены устаревшие отчёты")
		s.record(ctx, removed)
	}
	return true, removed, nil
}

// Run выполняет очистку каждые interval до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("sweeper: очистка не выполнена")
			}
		}
	}
}

func (s *Sweeper) lockTTL() time.Duration {
	ttl := s.interval - s.interval/10
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func (s *Sweeper) record(ctx context.Context, removed int64) {
	if s.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{
		Event:      domain.BusinessMetricEventReportsExpired,
		Metadata:   map[string]any{"removed": removed, "ttl_seconds": int64(s.ttl / time.Second)},
		OccurredAt: s.now(),
	}
	if err := s.analytics.RecordBusinessMetric(context.WithoutCancel(ctx), metric); err != nil {
		s.log.Error().Err(err).Str("event", metric.Event).Msg("sweeper: не удалось сохранить бизнес-метрику")
	}
}
