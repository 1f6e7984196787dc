package mongostore

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"news-aggregator/internal/domain"
)

func stageNames(p []bson.D) []string {
	names := make([]string, 0, len(p))
	for _, stage := range p {
		names = append(names, stage[0].Key)
	}
	return names
}

func field(t *testing.T, doc bson.D, key string) any {
	t.Helper()
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	t.Fatalf("нет поля %s в %v", key, doc)
	return nil
}

func TestRollupPipelineGroupsInStore(t *testing.T) {
	got := stageNames(rollupPipeline(nil))
	want := []string{"$sort", "$group", "$lookup", "$unwind", "$project", "$sort"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("стадии %v, ожидали %v", got, want)
	}

	p := rollupPipeline(nil)
	group := p[1][0].Value.(bson.D)
	if field(t, group, "_id") != "$channel_id" {
		t.Fatalf("группировка должна идти по channel_id: %v", group)
	}
	push := field(t, group, "tag_lists").(bson.D)
	if push[0].Key != "$push" {
		t.Fatalf("списки тегов должны накапливаться через $push: %v", push)
	}
	if unwind := p[3][0].Value; unwind != "$channel" {
		t.Fatalf("unwind без preserveNullAndEmptyArrays ожидался строкой, получили %#v", unwind)
	}
}

func TestRollupPipelineMatchesChannel(t *testing.T) {
	channel := int64(7)
	p := rollupPipeline(&channel)
	if p[0][0].Key != "$match" {
		t.Fatalf("первая стадия %s, ожидали $match", p[0][0].Key)
	}
	match := p[0][0].Value.(bson.D)
	if len(match) != 1 || match[0].Key != "channel_id" || match[0].Value != channel {
		t.Fatalf("неожиданный $match: %#v", match)
	}
}

func TestRollupPipelineRoundsAndClampsEngagement(t *testing.T) {
	p := rollupPipeline(nil)
	project := p[4][0].Value.(bson.D)

	avg := field(t, project, "avg_likes_per_post").(bson.D)
	if avg[0].Key != "$round" || !reflect.DeepEqual(avg[0].Value, bson.A{"$avg_likes", 2}) {
		t.Fatalf("avg_likes_per_post должен округляться до 2 знаков: %v", avg)
	}

	rate := field(t, project, "engagement_rate").(bson.D)
	if rate[0].Key != "$min" {
		t.Fatalf("engagement_rate должен ограничиваться сверху: %v", rate)
	}
	bounds := rate[0].Value.(bson.A)
	if bounds[0] != 100 {
		t.Fatalf("верхняя граница %v, ожидали 100", bounds[0])
	}
	lower := bounds[1].(bson.D)
	if lower[0].Key != "$max" || lower[0].Value.(bson.A)[0] != 0 {
		t.Fatalf("нижняя граница должна быть 0: %v", lower)
	}
	rounded := lower[0].Value.(bson.A)[1].(bson.D)
	if rounded[0].Key != "$round" {
		t.Fatalf("доля вовлечённости должна округляться: %v", rounded)
	}
	divide := rounded[0].Value.(bson.A)[0].(bson.D)
	denominator := divide[0].Value.(bson.A)[1].(bson.D)
	if !reflect.DeepEqual(denominator, bson.D{{Key: "$max", Value: bson.A{"$total_views", 1}}}) {
		t.Fatalf("знаменатель должен быть max(views, 1): %v", denominator)
	}
}

func TestWeeklyPipelineSingleFacet(t *testing.T) {
	since := time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)
	p := weeklyPipeline(since)
	got := stageNames(p)
	want := []string{"$match", "$sort", "$lookup", "$unwind", "$facet"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("стадии %v, ожидали %v", got, want)
	}
	match := p[0][0].Value.(bson.D)
	window := field(t, match, "created_at").(bson.D)
	if window[0].Key != "$gte" || window[0].Value != since {
		t.Fatalf("неверное окно: %v", window)
	}

	facet := p[4][0].Value.(bson.D)
	var branches []string
	for _, e := range facet {
		branches = append(branches, e.Key)
	}
	if !reflect.DeepEqual(branches, []string{"by_source", "by_tag", "by_day", "summary"}) {
		t.Fatalf("ветки $facet: %v", branches)
	}

	bySource := stageNames(toStages(field(t, facet, "by_source")))
	if !reflect.DeepEqual(bySource, []string{"$group", "$sort", "$limit", "$project"}) {
		t.Fatalf("by_source: %v", bySource)
	}
	if limit := toStages(field(t, facet, "by_source"))[2][0].Value; limit != weeklySources {
		t.Fatalf("by_source ограничен %v, ожидали %d", limit, weeklySources)
	}

	byTag := toStages(field(t, facet, "by_tag"))
	if byTag[0][0].Key != "$unwind" || byTag[0][0].Value != "$tags" {
		t.Fatalf("теги разворачиваются только в ветке by_tag: %v", byTag[0])
	}
	if limit := byTag[3][0].Value; limit != weeklyTags {
		t.Fatalf("by_tag ограничен %v, ожидали %d", limit, weeklyTags)
	}
}

func TestWeeklyDayBucket(t *testing.T) {
	want := bson.D{{Key: "$ifNull", Value: bson.A{
		bson.D{{Key: "$toString", Value: bson.D{{Key: "$dayOfWeek", Value: "$created_at"}}}},
		domain.DayBucketOther,
	}}}
	if got := dayBucket("$created_at"); !reflect.DeepEqual(got, want) {
		t.Fatalf("dayBucket = %v", got)
	}
}

func TestWeeklyDocEmptyResult(t *testing.T) {
	report := weeklyDoc{}.report()
	if report.BySource == nil || report.ByTag == nil || report.ByDay == nil {
		t.Fatalf("пустые срезы должны кодироваться массивами: %+v", report)
	}
	if report.Summary != (domain.ReportSummary{}) {
		t.Fatalf("пустая сводка ожидалась нулевой: %+v", report.Summary)
	}

	summary := domain.ReportSummary{TotalPosts: 3, AvgViewsPerPost: 50}
	report = weeklyDoc{Summary: []domain.ReportSummary{summary}}.report()
	if report.Summary != summary {
		t.Fatalf("сводка берётся из единственного документа ветки summary: %+v", report.Summary)
	}
}

func toStages(v any) []bson.D {
	arr := v.(bson.A)
	stages := make([]bson.D, 0, len(arr))
	for _, s := range arr {
		stages = append(stages, s.(bson.D))
	}
	return stages
}
