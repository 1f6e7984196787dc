package rollup

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

func weeklyFixture() domain.WeeklyReport {
	return domain.WeeklyReport{
		BySource: []domain.SourceStats{{SourceID: 70, SourceName: "Канал 7", TotalPosts: 2, TotalViews: 100, TotalLikes: 14, AvgEngagement: 2.1}},
		ByTag:    []domain.TagStats{{Tag: "ai", PostCount: 2, TotalEngagement: 24}},
		ByDay:    []domain.DayBucket{{Bucket: "1", Count: 1, AvgLikes: 10, Posts: []string{"Пост 1"}}},
		Summary:  domain.ReportSummary{TotalPosts: 3, UniqueChannelsCount: 2, UniqueTagsCount: 2, TotalViews: 150, TotalEngagement: 29, AvgViewsPerPost: 50},
	}
}

func TestWeeklyReportWindow(t *testing.T) {
	rollups := &stubRollups{weekly: weeklyFixture()}
	report, err := newTestBuilder(rollups, newMemCache()).WeeklyReport(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rollups.since) != 1 || !rollups.since[0].Equal(now.Add(-WeeklyWindow)) {
		t.Fatalf("неверное начало окна: %v", rollups.since)
	}
	if !report.From.Equal(now.Add(-WeeklyWindow)) || !report.GeneratedAt.Equal(now) {
		t.Fatalf("неверные границы отчёта: from=%v generated=%v", report.From, report.GeneratedAt)
	}
	if !reflect.DeepEqual(report.BySource, weeklyFixture().BySource) || report.Summary != weeklyFixture().Summary {
		t.Fatalf("срезы должны приходить из хранилища без изменений: %+v", report)
	}
}

func TestWeeklyReportCached(t *testing.T) {
	rollups := &stubRollups{weekly: weeklyFixture()}
	kv := &memKV{values: map[string][]byte{}}
	b := NewBuilder(rollups, newMemCache(), kv, nil, 5*time.Minute, zerolog.Nop())
	b.now = func() time.Time { return now }

	first, err := b.WeeklyReport(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := b.WeeklyReport(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(rollups.since) != 1 || kv.sets != 1 {
		t.Fatalf("второй вызов должен читать кэш: запросов %d, записей %d", len(rollups.since), kv.sets)
	}
	if second.Summary != first.Summary || !reflect.DeepEqual(second.ByDay, first.ByDay) {
		t.Fatalf("отчёт из кэша отличается: %+v", second)
	}
}
