package reports

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type stubCache struct {
	records   map[int64]domain.CacheRecord
	getErr    error
	lists     int
	expiredAt []time.Time
	expired   int64
	rebuiltAt time.Time
}

func (c *stubCache) Get(_ context.Context, id int64) (domain.CacheRecord, error) {
	if c.getErr != nil {
		return domain.CacheRecord{}, c.getErr
	}
	r, ok := c.records[id]
	if !ok {
		return domain.CacheRecord{}, domain.ErrCacheMiss
	}
	return r, nil
}

func (c *stubCache) List(_ context.Context, limit int, _ domain.ReportSortKey) ([]domain.CacheRecord, error) {
	c.lists++
	out := make([]domain.CacheRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *stubCache) ReplaceAll(_ context.Context, _ []domain.CacheRecord, at time.Time) error {
	c.rebuiltAt = at
	return nil
}

func (c *stubCache) RebuiltAt(context.Context) (time.Time, error)     { return c.rebuiltAt, nil }
func (c *stubCache) Upsert(context.Context, domain.CacheRecord) error { return nil }
func (c *stubCache) Delete(context.Context, int64) error              { return nil }

func (c *stubCache) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	c.expiredAt = append(c.expiredAt, before)
	return c.expired, nil
}

// stubRebuilder пишет свежие записи прямо в stubCache.
type stubRebuilder struct {
	cache    *stubCache
	full     int
	channels []int64
}

func (r *stubRebuilder) Rebuild(context.Context) ([]domain.CacheRecord, error) {
	r.full++
	records := []domain.CacheRecord{{ChannelID: 7, TotalPosts: 3, CachedAt: now}}
	r.cache.records = map[int64]domain.CacheRecord{7: records[0], 9: {ChannelID: 9, TotalPosts: 1, CachedAt: now}}
	r.cache.rebuiltAt = now
	return append(records, r.cache.records[9]), nil
}

func (r *stubRebuilder) RebuildChannel(_ context.Context, id int64) (domain.CacheRecord, error) {
	r.channels = append(r.channels, id)
	if id != 7 {
		return domain.CacheRecord{}, fmt.Errorf("канал %d: %w", id, domain.ErrNotFound)
	}
	rec := domain.CacheRecord{ChannelID: 7, TotalPosts: 3, CachedAt: now}
	r.cache.records[7] = rec
	return rec, nil
}

func newTestService(records map[int64]domain.CacheRecord) (*Service, *stubCache, *stubRebuilder) {
	cache := &stubCache{records: records}
	rb := &stubRebuilder{cache: cache}
	svc := NewService(cache, rb, time.Hour, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc, cache, rb
}

func TestGetChannelReportFreshHit(t *testing.T) {
	fresh := domain.CacheRecord{ChannelID: 7, TotalPosts: 2, CachedAt: now.Add(-10 * time.Minute)}
	svc, _, rb := newTestService(map[int64]domain.CacheRecord{7: fresh})
	got, err := svc.GetChannelReport(context.Background(), 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got.TotalPosts != 2 || len(rb.channels) != 0 {
		t.Fatalf("свежая запись должна отдаваться без пересчёта")
	}
}

func TestGetChannelReportStaleTriggersRebuild(t *testing.T) {
	stale := domain.CacheRecord{ChannelID: 7, TotalPosts: 2, CachedAt: now.Add(-7200 * time.Second)}
	svc, _, rb := newTestService(map[int64]domain.CacheRecord{7: stale})
	got, err := svc.GetChannelReport(context.Background(), 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rb.channels) != 1 || rb.channels[0] != 7 {
		t.Fatalf("ожидали пересчёт канала 7, получили %v", rb.channels)
	}
	if !got.CachedAt.Equal(now) || got.TotalPosts != 3 {
		t.Fatalf("ожидали свежую запись, получили %+v", got)
	}
}

func TestGetChannelReportMiss(t *testing.T) {
	svc, _, rb := newTestService(map[int64]domain.CacheRecord{})
	if _, err := svc.GetChannelReport(context.Background(), 7); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rb.channels) != 1 {
		t.Fatalf("промах должен пересчитывать канал")
	}
	if _, err := svc.GetChannelReport(context.Background(), 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.GetChannelReport(context.Background(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}

func TestGetChannelReportStoreError(t *testing.T) {
	svc, cache, rb := newTestService(map[int64]domain.CacheRecord{})
	cache.getErr = fmt.Errorf("%w: timeout", domain.ErrUnavailable)
	if _, err := svc.GetChannelReport(context.Background(), 7); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("ожидали ErrUnavailable, получили %v", err)
	}
	if len(rb.channels) != 0 {
		t.Fatalf("ошибка чтения не должна запускать пересчёт")
	}
}

func TestListTopChannels(t *testing.T) {
	tests := []struct {
		name        string
		records     map[int64]domain.CacheRecord
		rebuiltAt   time.Time
		wantRebuild int
		wantIDs     []int64
	}{
		{name: "never rebuilt", records: map[int64]domain.CacheRecord{}, wantRebuild: 1, wantIDs: []int64{7, 9}},
		{
			name: "stale record",
			records: map[int64]domain.CacheRecord{
				7: {ChannelID: 7, CachedAt: now.Add(-7200 * time.Second)},
			},
			rebuiltAt:   now.Add(-7200 * time.Second),
			wantRebuild: 1,
			wantIDs:     []int64{7, 9},
		},
		{
			// Канал 7 обновлён точечно, запись канала 9 уже удалил сборщик.
			name: "swept record behind fresh one",
			records: map[int64]domain.CacheRecord{
				7: {ChannelID: 7, CachedAt: now.Add(-time.Minute)},
			},
			rebuiltAt:   now.Add(-61 * time.Minute),
			wantRebuild: 1,
			wantIDs:     []int64{7, 9},
		},
		{
			name: "fresh",
			records: map[int64]domain.CacheRecord{
				7: {ChannelID: 7, CachedAt: now.Add(-time.Minute)},
			},
			rebuiltAt: now.Add(-time.Minute),
			wantIDs:   []int64{7},
		},
		{name: "fresh and empty", records: map[int64]domain.CacheRecord{}, rebuiltAt: now.Add(-time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, cache, rb := newTestService(tt.records)
			cache.rebuiltAt = tt.rebuiltAt
			got, err := svc.ListTopChannels(context.Background(), 0, "")
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if rb.full != tt.wantRebuild {
				t.Fatalf("пересчётов %d, ожидали %d", rb.full, tt.wantRebuild)
			}
			ids := make([]int64, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ChannelID)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			if !reflect.DeepEqual(ids, append([]int64{}, tt.wantIDs...)) {
				t.Fatalf("каналы %v, ожидали %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestListTopChannelsLimit(t *testing.T) {
	svc, _, _ := newTestService(map[int64]domain.CacheRecord{})
	if _, err := svc.ListTopChannels(context.Background(), MaxLimit+1, domain.SortByTotalPosts); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}
