package domain

import (
	"fmt"
	"time"
)

const (
	// DefaultReportTTL — срок жизни записи кэша отчётов по умолчанию.
	DefaultReportTTL = time.Hour
	// MaxTopTags ограничивает число тегов в записи кэша.
	MaxTopTags = 10
	// DayBucketOther собирает посты без распознанного дня недели.
	DayBucketOther = "other"
)

// CacheRecord — материализованный отчёт по каналу из коллекции cached_channel_reports.
type CacheRecord struct {
	ChannelID       int64     `bson:"channel_id" json:"channel_id"`
	ChannelName     string    `bson:"channel_name" json:"channel_name"`
	TotalPosts      int64     `bson:"total_posts" json:"total_posts"`
	TotalViews      int64     `bson:"total_views" json:"total_views"`
	TotalLikes      int64     `bson:"total_likes" json:"total_likes"`
	AvgLikesPerPost float64   `bson:"avg_likes_per_post" json:"avg_likes_per_post"`
	TopTags         []string  `bson:"top_tags" json:"top_tags"`
	EngagementRate  float64   `bson:"engagement_rate" json:"engagement_rate"`
	LastPostDate    time.Time `bson:"last_post_date" json:"last_post_date"`
	CachedAt        time.Time `bson:"cached_at" json:"cached_at"`
}

// Expired сообщает, превысил ли возраст записи ttl к моменту now.
func (r CacheRecord) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(r.CachedAt) > ttl
}

// ReportSortKey задаёт вторичный порядок выдачи рейтинга каналов.
type ReportSortKey string

const (
	SortByTotalPosts     ReportSortKey = "total_posts"
	SortByEngagementRate ReportSortKey = "engagement_rate"
)

// ParseReportSortKey разбирает ключ сортировки; пустое значение означает engagement_rate.
func ParseReportSortKey(raw string) (ReportSortKey, error) {
	switch ReportSortKey(raw) {
	case "", SortByEngagementRate:
		return SortByEngagementRate, nil
	case SortByTotalPosts:
		return SortByTotalPosts, nil
	}
	return "", fmt.Errorf("%w: неизвестный ключ сортировки %q", ErrValidation, raw)
}

// SourceStats — срез недельного отчёта по источнику.
type SourceStats struct {
	SourceID      int64   `bson:"source_id" json:"source_id"`
	SourceName    string  `bson:"source_name" json:"source_name"`
	TotalPosts    int64   `bson:"total_posts" json:"total_posts"`
	TotalViews    int64   `bson:"total_views" json:"total_views"`
	TotalLikes    int64   `bson:"total_likes" json:"total_likes"`
	AvgEngagement float64 `bson:"avg_engagement" json:"avg_engagement"`
}

// TagStats — срез недельного отчёта по тегу.
type TagStats struct {
	Tag             string `bson:"tag" json:"tag"`
	PostCount       int64  `bson:"post_count" json:"post_count"`
	TotalEngagement int64  `bson:"total_engagement" json:"total_engagement"`
}

// DayBucket — корзина по дню недели: "1".."7" (воскресенье..суббота) или "other".
type DayBucket struct {
	Bucket   string   `bson:"bucket" json:"bucket"`
	Count    int64    `bson:"count" json:"count"`
	AvgLikes float64  `bson:"avg_likes" json:"avg_likes"`
	Posts    []string `bson:"posts" json:"posts"`
}

// ReportSummary — общая сводка недельного отчёта.
type ReportSummary struct {
	TotalPosts          int64   `bson:"total_posts" json:"total_posts"`
	UniqueChannelsCount int     `bson:"unique_channels_count" json:"unique_channels_count"`
	UniqueTagsCount     int     `bson:"unique_tags_count" json:"unique_tags_count"`
	TotalViews          int64   `bson:"total_views" json:"total_views"`
	TotalEngagement     int64   `bson:"total_engagement" json:"total_engagement"`
	AvgViewsPerPost     float64 `bson:"avg_views_per_post" json:"avg_views_per_post"`
}

// WeeklyReport объединяет четыре среза за последние семь дней.
type WeeklyReport struct {
	From        time.Time     `json:"from"`
	GeneratedAt time.Time     `json:"generated_at"`
	BySource    []SourceStats `json:"by_source"`
	ByTag       []TagStats    `json:"by_tag"`
	ByDay       []DayBucket   `json:"by_day"`
	Summary     ReportSummary `json:"summary"`
}
