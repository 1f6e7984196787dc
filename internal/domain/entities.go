package domain

import "time"

// Stats хранит счётчики вовлечённости поста.
type Stats struct {
	Views  int64 `bson:"views" json:"views"`
	Likes  int64 `bson:"likes" json:"likes"`
	Shares int64 `bson:"shares" json:"shares"`
}

// Comment описывает комментарий, встроенный в пост.
type Comment struct {
	CommentID       int64     `bson:"comment_id" json:"comment_id"`
	Nickname        string    `bson:"nickname" json:"nickname"`
	Text            string    `bson:"text" json:"text"`
	LikesCount      int64     `bson:"likes_count" json:"likes_count"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	ParentCommentID *int64    `bson:"parent_comment_id,omitempty" json:"parent_comment_id,omitempty"`
}

// Post представляет документ коллекции posts.
type Post struct {
	PostID    int64     `bson:"post_id" json:"post_id"`
	Title     string    `bson:"title" json:"title"`
	Content   string    `bson:"content" json:"content"`
	ChannelID int64     `bson:"channel_id" json:"channel_id"`
	AuthorID  int64     `bson:"author_id,omitempty" json:"author_id,omitempty"`
	Tags      []string  `bson:"tags" json:"tags"`
	Comments  []Comment `bson:"comments" json:"comments"`
	Stats     Stats     `bson:"stats" json:"stats"`
	Trending  bool      `bson:"trending,omitempty" json:"trending,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// PostDraft содержит данные для транзакционного создания поста.
type PostDraft struct {
	PostID    int64    `json:"post_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	ChannelID int64    `json:"channel_id"`
	AuthorID  int64    `json:"author_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Channel описывает канал-источник постов. Ядро меняет только производные счётчики.
type Channel struct {
	ChannelID        int64     `bson:"channel_id" json:"channel_id"`
	Name             string    `bson:"name" json:"name"`
	SourceID         int64     `bson:"source_id" json:"source_id"`
	SubscribersCount int64     `bson:"subscribers_count" json:"subscribers_count"`
	Topic            string    `bson:"topic" json:"topic"`
	PostCount        int64     `bson:"post_count,omitempty" json:"post_count,omitempty"`
	LastPostDate     time.Time `bson:"last_post_date,omitempty" json:"last_post_date,omitempty"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
}

// Tag хранит счётчик использования тега.
// UsageCount увеличивается только при создании поста и не пересчитывается.
type Tag struct {
	Name       string    `bson:"name" json:"name"`
	UsageCount int64     `bson:"usage_count" json:"usage_count"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// ChannelRollup — итог группировки постов одного канала на стороне хранилища.
// Средние и доля вовлечённости уже округлены, TagLists идут в порядке post_id.
type ChannelRollup struct {
	ChannelID       int64      `bson:"channel_id"`
	ChannelName     string     `bson:"channel_name"`
	TotalPosts      int64      `bson:"total_posts"`
	TotalViews      int64      `bson:"total_views"`
	TotalLikes      int64      `bson:"total_likes"`
	AvgLikesPerPost float64    `bson:"avg_likes_per_post"`
	EngagementRate  float64    `bson:"engagement_rate"`
	TagLists        [][]string `bson:"tag_lists"`
	LastPostDate    time.Time  `bson:"last_post_date"`
}
