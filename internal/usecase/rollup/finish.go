package rollup

import (
	"iter"
	"time"

	"news-aggregator/internal/domain"
)

// collect превращает итоги группировки в записи кэша в порядке channel_id.
func collect(rollups iter.Seq2[domain.ChannelRollup, error], cachedAt time.Time) ([]domain.CacheRecord, error) {
	var records []domain.CacheRecord
	for rollup, err := range rollups {
		if err != nil {
			return nil, err
		}
		records = append(records, toRecord(rollup, cachedAt))
	}
	if records == nil {
		records = []domain.CacheRecord{}
	}
	return records, nil
}

func toRecord(r domain.ChannelRollup, cachedAt time.Time) domain.CacheRecord {
	return domain.CacheRecord{
		ChannelID:       r.ChannelID,
		ChannelName:     r.ChannelName,
		TotalPosts:      r.TotalPosts,
		TotalViews:      r.TotalViews,
		TotalLikes:      r.TotalLikes,
		AvgLikesPerPost: r.AvgLikesPerPost,
		TopTags:         unionTags(r.TagLists, domain.MaxTopTags),
		EngagementRate:  r.EngagementRate,
		LastPostDate:    r.LastPostDate,
		CachedAt:        cachedAt,
	}
}

// unionTags объединяет списки тегов без повторов в порядке первого появления
// и останавливается на limit. $setUnion порядок не сохраняет.
func unionTags(lists [][]string, limit int) []string {
	tags := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, list := range lists {
		for _, tag := range list {
			if len(tags) >= limit {
				return tags
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	return tags
}
