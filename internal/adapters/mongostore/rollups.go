package mongostore

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

const (
	rollupBatchSize = 100

	weeklySources = 10
	weeklyTags    = 20
)

// ChannelRollups лениво читает итоги группировки постов по каналам.
func (s *Store) ChannelRollups(ctx context.Context, channelID *int64) iter.Seq2[domain.ChannelRollup, error] {
	return func(yield func(domain.ChannelRollup, error) bool) {
		start := time.Now()
		opts := options.Aggregate().SetAllowDiskUse(true).SetBatchSize(rollupBatchSize)
		cursor, err := s.posts.Aggregate(ctx, rollupPipeline(channelID), opts)
		metrics.ObserveNetworkRequest("mongo", "aggregate_rollup", collPosts, start, err)
		if err != nil {
			yield(domain.ChannelRollup{}, classify("aggregate rollups", err))
			return
		}
		defer cursor.Close(context.WithoutCancel(ctx))

		for cursor.Next(ctx) {
			var rollup domain.ChannelRollup
			if err := cursor.Decode(&rollup); err != nil {
				yield(domain.ChannelRollup{}, fmt.Errorf("decode rollup: %w", err))
				return
			}
			if !yield(rollup, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.ChannelRollup{}, classify("read rollups", err))
		}
	}
}

// rollupPipeline: $match, $sort по (channel_id, post_id), $group по каналу,
// $lookup channels с $unwind (inner join), $project с округлением.
// $push в $group сохраняет порядок после $sort, поэтому tag_lists идут по post_id.
func rollupPipeline(channelID *int64) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if channelID != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{{Key: "channel_id", Value: *channelID}}}})
	}
	return append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{
			{Key: "channel_id", Value: 1},
			{Key: "post_id", Value: 1},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$channel_id"},
			{Key: "total_posts", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "total_views", Value: bson.D{{Key: "$sum", Value: "$stats.views"}}},
			{Key: "total_likes", Value: bson.D{{Key: "$sum", Value: "$stats.likes"}}},
			{Key: "avg_likes", Value: bson.D{{Key: "$avg", Value: "$stats.likes"}}},
			{Key: "tag_lists", Value: bson.D{{Key: "$push", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$tags", bson.A{}}}}}}},
			{Key: "last_post_date", Value: bson.D{{Key: "$max", Value: "$created_at"}}},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: collChannels},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "channel_id"},
			{Key: "as", Value: "channel"},
		}}},
		bson.D{{Key: "$unwind", Value: "$channel"}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "channel_id", Value: "$_id"},
			{Key: "channel_name", Value: "$channel.name"},
			{Key: "total_posts", Value: 1},
			{Key: "total_views", Value: 1},
			{Key: "total_likes", Value: 1},
			{Key: "avg_likes_per_post", Value: round2("$avg_likes")},
			{Key: "engagement_rate", Value: engagementRate("$total_likes", "$total_views")},
			{Key: "tag_lists", Value: 1},
			{Key: "last_post_date", Value: 1},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "channel_id", Value: 1}}}},
	)
}

// round2 округляет выражение до двух знаков. $round в MongoDB округляет половины к чётному.
func round2(expr any) bson.D {
	return bson.D{{Key: "$round", Value: bson.A{expr, 2}}}
}

// engagementRate: round(100 × likes / max(views, 1), 2) в пределах [0, 100].
func engagementRate(likes, views string) bson.D {
	rate := round2(bson.D{{Key: "$divide", Value: bson.A{
		bson.D{{Key: "$multiply", Value: bson.A{100, likes}}},
		bson.D{{Key: "$max", Value: bson.A{views, 1}}},
	}}})
	return bson.D{{Key: "$min", Value: bson.A{100, bson.D{{Key: "$max", Value: bson.A{0, rate}}}}}}
}

// weeklyDoc — единственный документ на выходе $facet.
type weeklyDoc struct {
	BySource []domain.SourceStats   `bson:"by_source"`
	ByTag    []domain.TagStats      `bson:"by_tag"`
	ByDay    []domain.DayBucket     `bson:"by_day"`
	Summary  []domain.ReportSummary `bson:"summary"`
}

// WeeklyFacets строит недельный отчёт одним проходом $facet.
func (s *Store) WeeklyFacets(ctx context.Context, since time.Time) (domain.WeeklyReport, error) {
	start := time.Now()
	cursor, err := s.posts.Aggregate(ctx, weeklyPipeline(since), options.Aggregate().SetAllowDiskUse(true))
	metrics.ObserveNetworkRequest("mongo", "aggregate_weekly", collPosts, start, err)
	if err != nil {
		return domain.WeeklyReport{}, classify("aggregate weekly report", err)
	}
	var docs []weeklyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return domain.WeeklyReport{}, classify("decode weekly report", err)
	}
	var doc weeklyDoc
	if len(docs) > 0 {
		doc = docs[0]
	}
	return doc.report(), nil
}

func (d weeklyDoc) report() domain.WeeklyReport {
	report := domain.WeeklyReport{
		BySource: d.BySource,
		ByTag:    d.ByTag,
		ByDay:    d.ByDay,
	}
	if report.BySource == nil {
		report.BySource = []domain.SourceStats{}
	}
	if report.ByTag == nil {
		report.ByTag = []domain.TagStats{}
	}
	if report.ByDay == nil {
		report.ByDay = []domain.DayBucket{}
	}
	if len(d.Summary) > 0 {
		report.Summary = d.Summary[0]
	}
	return report
}

// weeklyPipeline: $match по окну, $sort, inner join с каналами и четыре ветки $facet
// над одними и теми же строками. Посты считаются по одному разу во всех ветках,
// кроме by_tag, где пост учитывается в каждом своём теге.
func weeklyPipeline(since time.Time) mongo.Pipeline {
	engagement := bson.D{{Key: "$add", Value: bson.A{"$stats.likes", "$stats.shares"}}}
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "channel_id", Value: 1},
			{Key: "post_id", Value: 1},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: collChannels},
			{Key: "localField", Value: "channel_id"},
			{Key: "foreignField", Value: "channel_id"},
			{Key: "as", Value: "channel"},
		}}},
		{{Key: "$unwind", Value: "$channel"}},
		{{Key: "$facet", Value: bson.D{
			{Key: "by_source", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: "$channel.source_id"},
					{Key: "source_name", Value: bson.D{{Key: "$first", Value: "$channel.name"}}},
					{Key: "total_posts", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "total_views", Value: bson.D{{Key: "$sum", Value: "$stats.views"}}},
					{Key: "total_likes", Value: bson.D{{Key: "$sum", Value: "$stats.likes"}}},
					{Key: "avg_engagement", Value: bson.D{{Key: "$avg", Value: bson.D{{Key: "$divide", Value: bson.A{
						engagement,
						bson.D{{Key: "$max", Value: bson.A{"$stats.views", 1}}},
					}}}}}},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "total_posts", Value: -1}, {Key: "_id", Value: 1}}}},
				bson.D{{Key: "$limit", Value: weeklySources}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "source_id", Value: "$_id"},
					{Key: "source_name", Value: 1},
					{Key: "total_posts", Value: 1},
					{Key: "total_views", Value: 1},
					{Key: "total_likes", Value: 1},
					{Key: "avg_engagement", Value: round2("$avg_engagement")},
				}}},
			}},
			{Key: "by_tag", Value: bson.A{
				bson.D{{Key: "$unwind", Value: "$tags"}},
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: "$tags"},
					{Key: "post_count", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "total_engagement", Value: bson.D{{Key: "$sum", Value: engagement}}},
				}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "post_count", Value: -1}, {Key: "_id", Value: 1}}}},
				bson.D{{Key: "$limit", Value: weeklyTags}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "tag", Value: "$_id"},
					{Key: "post_count", Value: 1},
					{Key: "total_engagement", Value: 1},
				}}},
			}},
			{Key: "by_day", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: dayBucket("$created_at")},
					{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "avg_likes", Value: bson.D{{Key: "$avg", Value: "$stats.likes"}}},
					{Key: "posts", Value: bson.D{{Key: "$push", Value: "$title"}}},
				}}},
				// "1" < ... < "7" < "other" в строковом порядке.
				bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "bucket", Value: "$_id"},
					{Key: "count", Value: 1},
					{Key: "avg_likes", Value: round2("$avg_likes")},
					{Key: "posts", Value: 1},
				}}},
			}},
			{Key: "summary", Value: bson.A{
				bson.D{{Key: "$group", Value: bson.D{
					{Key: "_id", Value: nil},
					{Key: "total_posts", Value: bson.D{{Key: "$sum", Value: 1}}},
					{Key: "channels", Value: bson.D{{Key: "$addToSet", Value: "$channel_id"}}},
					{Key: "tag_lists", Value: bson.D{{Key: "$addToSet", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$tags", bson.A{}}}}}}},
					{Key: "total_views", Value: bson.D{{Key: "$sum", Value: "$stats.views"}}},
					{Key: "total_engagement", Value: bson.D{{Key: "$sum", Value: engagement}}},
				}}},
				bson.D{{Key: "$project", Value: bson.D{
					{Key: "_id", Value: 0},
					{Key: "total_posts", Value: 1},
					{Key: "unique_channels_count", Value: bson.D{{Key: "$size", Value: "$channels"}}},
					{Key: "unique_tags_count", Value: bson.D{{Key: "$size", Value: bson.D{{Key: "$reduce", Value: bson.D{
						{Key: "input", Value: "$tag_lists"},
						{Key: "initialValue", Value: bson.A{}},
						{Key: "in", Value: bson.D{{Key: "$setUnion", Value: bson.A{"$$value", "$$this"}}}},
					}}}}}},
					{Key: "total_views", Value: 1},
					{Key: "total_engagement", Value: 1},
					{Key: "avg_views_per_post", Value: round2(bson.D{{Key: "$divide", Value: bson.A{"$total_views", "$total_posts"}}})},
				}}},
			}},
		}}},
	}
}

// dayBucket: "1".."7" по $dayOfWeek в UTC (воскресенье = 1), иначе "other".
func dayBucket(field string) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{
		bson.D{{Key: "$toString", Value: bson.D{{Key: "$dayOfWeek", Value: field}}}},
		domain.DayBucketOther,
	}}}
}
