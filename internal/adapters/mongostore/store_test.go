package mongostore

import (
	"testing"
	"time"

	"news-aggregator/internal/domain"
)

func TestReplaceAllModelsDropsVanishedChannels(t *testing.T) {
	models := replaceAllModels([]domain.CacheRecord{{ChannelID: 1}, {ChannelID: 2}})
	if len(models) != 3 {
		t.Fatalf("ожидали 3 модели, получили %d", len(models))
	}
	models = replaceAllModels(nil)
	if len(models) != 1 {
		t.Fatalf("пустой набор должен очищать коллекцию")
	}
}

func TestReportIndexes(t *testing.T) {
	if n := len(reportIndexes(time.Hour)); n != 4 {
		t.Fatalf("ожидали 4 индекса, получили %d", n)
	}
	if n := len(reportIndexes(0)); n != 3 {
		t.Fatalf("без ttl ожидали 3 индекса, получили %d", n)
	}
}

func TestChangeDocEvent(t *testing.T) {
	var doc changeDoc
	doc.OperationType = "insert"
	doc.FullDocument = &struct {
		PostID    int64 `bson:"post_id"`
		ChannelID int64 `bson:"channel_id"`
	}{PostID: 3, ChannelID: 9}
	ev := doc.event()
	if ev.Operation != domain.ChangeInsert || ev.PostID != 3 || ev.ChannelID == nil || *ev.ChannelID != 9 {
		t.Fatalf("неожиданное событие: %+v", ev)
	}
	if !ev.Mutation() || ev.Terminal() {
		t.Fatalf("insert должен быть изменением данных")
	}

	del := changeDoc{OperationType: "delete"}.event()
	if del.ChannelID != nil || !del.Mutation() {
		t.Fatalf("delete без документа: %+v", del)
	}
}
