package posts

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

type memState struct {
	posts    map[int64]domain.Post
	channels map[int64]domain.Channel
	tags     map[string]int64
}

func (s memState) clone() memState {
	return memState{
		posts:    maps.Clone(s.posts),
		channels: maps.Clone(s.channels),
		tags:     maps.Clone(s.tags),
	}
}

// memStore применяет изменения транзакции к копии и публикует её только при фиксации.
type memStore struct {
	committed memState
	calls     int
	failTags  error
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{committed: memState{
		posts:    map[int64]domain.Post{},
		channels: map[int64]domain.Channel{7: {ChannelID: 7, Name: "tech"}},
		tags:     map[string]int64{"ai": 3},
	}}
}

func (m *memStore) InTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.WriteTx) error) error {
	m.calls++
	staged := m.committed.clone()
	if err := fn(ctx, &memTx{state: staged, failTags: m.failTags}); err != nil {
		return err
	}
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = staged
	return nil
}

type memTx struct {
	state    memState
	failTags error
}

func (t *memTx) InsertPost(_ context.Context, post domain.Post) error {
	if _, ok := t.state.posts[post.PostID]; ok {
		return fmt.Errorf("%w: дубликат ключа", domain.ErrValidation)
	}
	t.state.posts[post.PostID] = post
	return nil
}

func (t *memTx) TouchChannel(_ context.Context, channelID int64, at time.Time) error {
	ch, ok := t.state.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: канал %d не найден", domain.ErrValidation, channelID)
	}
	ch.PostCount++
	ch.LastPostDate = at
	t.state.channels[channelID] = ch
	return nil
}

func (t *memTx) BumpTags(_ context.Context, tags []string) (int64, error) {
	if t.failTags != nil {
		return 0, t.failTags
	}
	var n int64
	for _, tag := range tags {
		if _, ok := t.state.tags[tag]; ok {
			t.state.tags[tag]++
			n++
		}
	}
	return n, nil
}

type recordingAnalytics struct {
	events []domain.BusinessMetric
}

func (r *recordingAnalytics) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	r.events = append(r.events, m)
	return nil
}

func draft() domain.PostDraft {
	return domain.PostDraft{PostID: 1, Title: "Новый пост", Content: "Текст нового поста", ChannelID: 7, Tags: []string{"ai", "ml", "ai"}}
}

func TestCreatePostAppliesAllStepsTogether(t *testing.T) {
	store := newMemStore()
	analytics := &recordingAnalytics{}
	svc := NewService(store, analytics, zerolog.Nop())

	id, err := svc.CreatePost(context.Background(), draft())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != 1 {
		t.Fatalf("ожидали id 1, получили %d", id)
	}
	post, ok := store.committed.posts[1]
	if !ok {
		t.Fatalf("пост не виден после фиксации")
	}
	if post.Stats != (domain.Stats{}) || len(post.Comments) != 0 || !post.CreatedAt.Equal(post.UpdatedAt) {
		t.Fatalf("пост должен создаваться с нулевой статистикой: %+v", post)
	}
	if len(post.Tags) != 2 {
		t.Fatalf("теги должны быть без повторов: %v", post.Tags)
	}
	if store.committed.channels[7].PostCount != 1 {
		t.Fatalf("post_count канала не увеличен")
	}
	if store.committed.tags["ai"] != 4 {
		t.Fatalf("usage_count тега ai = %d, ожидали 4", store.committed.tags["ai"])
	}
	if _, ok := store.committed.tags["ml"]; ok {
		t.Fatalf("несуществующий тег не должен создаваться")
	}
	if len(analytics.events) != 1 || analytics.events[0].Event != domain.BusinessMetricEventPostCreated {
		t.Fatalf("ожидали событие post_created, получили %+v", analytics.events)
	}
}

func TestCreatePostAbortLeavesNoPartialState(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *memStore, d *domain.PostDraft)
		want    error
	}{
		{
			name:    "unknown channel",
			prepare: func(_ *memStore, d *domain.PostDraft) { d.ChannelID = 99 },
			want:    domain.ErrValidation,
		},
		{
			name: "tag step conflict",
			prepare: func(s *memStore, _ *domain.PostDraft) {
				s.failTags = fmt.Errorf("%w: write conflict", domain.ErrConflict)
			},
			want: domain.ErrConflict,
		},
		{
			name:    "commit timeout",
			prepare: func(s *memStore, _ *domain.PostDraft) { s.commitErr = fmt.Errorf("%w: timeout", domain.ErrUnavailable) },
			want:    domain.ErrUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			d := draft()
			tt.prepare(store, &d)
			analytics := &recordingAnalytics{}
			svc := NewService(store, analytics, zerolog.Nop())

			_, err := svc.CreatePost(context.Background(), d)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ожидали %v, получили %v", tt.want, err)
			}
			if store.calls != 1 {
				t.Fatalf("координатор не должен повторять транзакцию, вызовов: %d", store.calls)
			}
			if len(store.committed.posts) != 0 {
				t.Fatalf("пост виден после отката")
			}
			if store.committed.channels[7].PostCount != 0 {
				t.Fatalf("счётчик канала изменён после отката")
			}
			if store.committed.tags["ai"] != 3 {
				t.Fatalf("usage_count изменён после отката")
			}
			if len(analytics.events) != 0 {
				t.Fatalf("бизнес-метрика записана для отменённой транзакции")
			}
		})
	}
}

func TestCreatePostValidatesBeforeTransaction(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, zerolog.Nop())
	d := draft()
	d.Title = "ab"
	if _, err := svc.CreatePost(context.Background(), d); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("транзакция не должна открываться для невалидного черновика")
	}
}

func TestCreatePostDuplicateID(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil, zerolog.Nop())
	if _, err := svc.CreatePost(context.Background(), draft()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := svc.CreatePost(context.Background(), draft()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if store.committed.channels[7].PostCount != 1 {
		t.Fatalf("повторный пост не должен менять счётчик канала")
	}
}
