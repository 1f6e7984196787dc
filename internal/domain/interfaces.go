package domain

import (
	"context"
	"iter"
	"time"
)

// WriteTx выполняет шаги создания поста внутри открытой транзакции.
type WriteTx interface {
	// InsertPost вставляет документ поста.
	InsertPost(ctx context.Context, post Post) error
	// TouchChannel увеличивает post_count и выставляет last_post_date.
	// Если канал не найден, возвращает ошибку с ErrValidation.
	TouchChannel(ctx context.Context, channelID int64, at time.Time) error
	// BumpTags увеличивает usage_count у уже существующих тегов и возвращает число обновлённых.
	BumpTags(ctx context.Context, tags []string) (int64, error)
}

// Transactor открывает транзакцию со snapshot-чтением и majority-записью.
// fn выполняется один раз: при ошибке транзакция откатывается, повторов нет.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx WriteTx) error) error
}

// BulkWriter отправляет уже проверенные операции одним bulkWrite.
// Индексы в BatchResult.Errors относятся к переданному срезу.
type BulkWriter interface {
	BulkWrite(ctx context.Context, ops []BatchOp, ordered bool) (BatchResult, error)
}

// RollupSource выполняет конвейеры агрегации на стороне хранилища.
type RollupSource interface {
	// ChannelRollups лениво отдаёт по одному итогу на канал в порядке channel_id.
	// Посты без канала не учитываются. channelID ограничивает выборку одним каналом.
	ChannelRollups(ctx context.Context, channelID *int64) iter.Seq2[ChannelRollup, error]
	// WeeklyFacets строит четыре среза одним $facet по постам с created_at не раньше since.
	WeeklyFacets(ctx context.Context, since time.Time) (WeeklyReport, error)
}

// ReportCache — материализованная коллекция отчётов по каналам.
type ReportCache interface {
	// Get возвращает запись или ErrCacheMiss.
	Get(ctx context.Context, channelID int64) (CacheRecord, error)
	List(ctx context.Context, limit int, sortKey ReportSortKey) ([]CacheRecord, error)
	// ReplaceAll заменяет содержимое целиком: записи отсутствующих каналов удаляются.
	// В той же транзакции фиксирует rebuiltAt как время последнего полного пересчёта.
	ReplaceAll(ctx context.Context, records []CacheRecord, rebuiltAt time.Time) error
	// RebuiltAt возвращает время последнего полного пересчёта или нулевое время.
	RebuiltAt(ctx context.Context) (time.Time, error)
	Upsert(ctx context.Context, record CacheRecord) error
	Delete(ctx context.Context, channelID int64) error
	// DeleteExpired удаляет записи с cached_at раньше before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ChangeStream — бесконечная последовательность событий одной подписки.
type ChangeStream interface {
	// Next блокируется до следующего события. После ошибки поток непригоден.
	Next(ctx context.Context) (ChangeEvent, error)
	Close(ctx context.Context) error
}

// ChangeFeed открывает подписку на изменения коллекции posts.
type ChangeFeed interface {
	// Watch возобновляет поток после resumeToken, если он задан.
	// Если журнал больше не хранит токен, возвращает ErrResumeTokenLost.
	Watch(ctx context.Context, resumeToken []byte) (ChangeStream, error)
}

// ResumeTokenStore хранит последний подтверждённый токен возобновления.
type ResumeTokenStore interface {
	// Load возвращает nil без ошибки, если токена нет.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, token []byte) error
	Clear(ctx context.Context) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get возвращает ErrCacheMiss, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
}
