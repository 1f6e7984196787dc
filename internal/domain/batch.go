package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BatchOpKind различает варианты пакетной операции.
type BatchOpKind string

const (
	OpInsert     BatchOpKind = "insert"
	OpUpdateOne  BatchOpKind = "update_one"
	OpUpdateMany BatchOpKind = "update_many"
	OpDeleteMany BatchOpKind = "delete_many"
	OpReplaceOne BatchOpKind = "replace_one"
)

// BatchOp — закрытое множество операций над коллекцией posts.
// Реализации: InsertOp, UpdateOneOp, UpdateManyOp, DeleteManyOp, ReplaceOneOp.
type BatchOp interface {
	Kind() BatchOpKind
	Validate() error
	batchOp()
}

// StatsDelta задаёт инкременты счётчиков ($inc).
type StatsDelta struct {
	Views  int64 `json:"views,omitempty"`
	Likes  int64 `json:"likes,omitempty"`
	Shares int64 `json:"shares,omitempty"`
}

// IsZero сообщает, что инкрементов нет.
func (d StatsDelta) IsZero() bool {
	return d.Views == 0 && d.Likes == 0 && d.Shares == 0
}

// Validate запрещает отрицательные инкременты и прирост лайков сверх MaxLikes.
// Превышение границы суммой с текущим значением отклоняет валидатор схемы хранилища.
func (d StatsDelta) Validate() error {
	if d.Views < 0 || d.Likes < 0 || d.Shares < 0 {
		return fmt.Errorf("%w: отрицательный инкремент счётчика", ErrValidation)
	}
	if d.Likes > MaxLikes {
		return fmt.Errorf("%w: прирост likes больше %d", ErrValidation, MaxLikes)
	}
	return nil
}

// Replayable сообщает, что повторное применение пакета не меняет итог:
// в нём нет инкрементов и добавления комментариев.
func Replayable(ops []BatchOp) bool {
	for _, op := range ops {
		var update PostUpdate
		switch v := op.(type) {
		case UpdateOneOp:
			update = v.Update
		case UpdateManyOp:
			update = v.Update
		default:
			continue
		}
		if !update.Inc.IsZero() || update.PushComment != nil {
			return false
		}
	}
	return true
}

// PostFields задаёт присваиваемые поля ($set).
type PostFields struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Trending *bool   `json:"trending,omitempty"`
}

// IsZero сообщает, что присваиваний нет.
func (f PostFields) IsZero() bool {
	return f.Title == nil && f.Content == nil && f.Trending == nil
}

// PostUpdate описывает изменение поста. updated_at выставляется всегда.
type PostUpdate struct {
	Inc         StatsDelta `json:"inc,omitempty"`
	Set         PostFields `json:"set,omitempty"`
	PushComment *Comment   `json:"push_comment,omitempty"`
}

// Validate проверяет, что изменение непустое и не нарушает границ схемы.
func (u PostUpdate) Validate() error {
	if u.Inc.IsZero() && u.Set.IsZero() && u.PushComment == nil {
		return fmt.Errorf("%w: пустое изменение", ErrValidation)
	}
	if err := u.Inc.Validate(); err != nil {
		return err
	}
	if u.Set.Title != nil {
		if err := validateText("title", *u.Set.Title, TitleMinLen, TitleMaxLen); err != nil {
			return err
		}
	}
	if u.Set.Content != nil {
		if err := validateText("content", *u.Set.Content, ContentMinLen, ContentMaxLen); err != nil {
			return err
		}
	}
	if u.PushComment != nil {
		if err := ValidateComment(*u.PushComment); err != nil {
			return err
		}
	}
	return nil
}

// PostFilter — предикат для UpdateMany. Хотя бы одно условие обязательно.
type PostFilter struct {
	ChannelID *int64 `json:"channel_id,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// Validate запрещает пустой фильтр, который затронул бы всю коллекцию.
func (f PostFilter) Validate() error {
	if f.ChannelID == nil && f.Tag == "" {
		return fmt.Errorf("%w: пустой фильтр", ErrValidation)
	}
	return nil
}

// InsertOp вставляет новый документ.
type InsertOp struct {
	Document Post
}

// UpdateOneOp изменяет один пост по post_id.
type UpdateOneOp struct {
	PostID int64
	Update PostUpdate
}

// UpdateManyOp изменяет все посты, подходящие под фильтр.
type UpdateManyOp struct {
	Filter PostFilter
	Update PostUpdate
}

// DeleteManyOp удаляет посты старше CreatedBefore и с просмотрами ниже ViewsBelow.
// Оба условия обязательны.
type DeleteManyOp struct {
	CreatedBefore time.Time
	ViewsBelow    int64
}

// ReplaceOneOp заменяет документ целиком, при Upsert создаёт его при отсутствии.
type ReplaceOneOp struct {
	PostID      int64
	Replacement Post
	Upsert      bool
}

func (InsertOp) Kind() BatchOpKind     { return OpInsert }
func (UpdateOneOp) Kind() BatchOpKind  { return OpUpdateOne }
func (UpdateManyOp) Kind() BatchOpKind { return OpUpdateMany }
func (DeleteManyOp) Kind() BatchOpKind { return OpDeleteMany }
func (ReplaceOneOp) Kind() BatchOpKind { return OpReplaceOne }

func (InsertOp) batchOp()     {}
func (UpdateOneOp) batchOp()  {}
func (UpdateManyOp) batchOp() {}
func (DeleteManyOp) batchOp() {}
func (ReplaceOneOp) batchOp() {}

func (op InsertOp) Validate() error {
	return ValidatePost(op.Document)
}

func (op UpdateOneOp) Validate() error {
	if op.PostID <= 0 {
		return fmt.Errorf("%w: update_one требует post_id", ErrValidation)
	}
	return op.Update.Validate()
}

func (op UpdateManyOp) Validate() error {
	if err := op.Filter.Validate(); err != nil {
		return err
	}
	return op.Update.Validate()
}

func (op DeleteManyOp) Validate() error {
	if op.CreatedBefore.IsZero() {
		return fmt.Errorf("%w: delete_many требует created_before", ErrValidation)
	}
	if op.ViewsBelow <= 0 {
		return fmt.Errorf("%w: delete_many требует положительный views_below", ErrValidation)
	}
	return nil
}

func (op ReplaceOneOp) Validate() error {
	if op.PostID <= 0 {
		return fmt.Errorf("%w: replace_one требует post_id", ErrValidation)
	}
	if op.Replacement.PostID != op.PostID {
		return fmt.Errorf("%w: post_id замены %d не совпадает с фильтром %d", ErrValidation, op.Replacement.PostID, op.PostID)
	}
	return ValidatePost(op.Replacement)
}

// ExpireLowEngagement строит удаление старых постов с низкими просмотрами.
func ExpireLowEngagement(now time.Time, retention time.Duration, viewsFloor int64) DeleteManyOp {
	return DeleteManyOp{CreatedBefore: now.Add(-retention), ViewsBelow: viewsFloor}
}

// OperationError описывает сбой одной операции пакета по её индексу.
type OperationError struct {
	Index   int         `json:"index"`
	Op      BatchOpKind `json:"op"`
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

func (e OperationError) Error() string {
	return fmt.Sprintf("операция %d (%s): %s", e.Index, e.Op, e.Message)
}

func (e OperationError) Unwrap() error { return e.Err }

// NewOperationError заполняет вид и текст ошибки операции.
func NewOperationError(index int, op BatchOpKind, err error) OperationError {
	return OperationError{Index: index, Op: op, Kind: Classify(err), Message: err.Error(), Err: err}
}

// BatchResult — итог пакета: счётчики документов и ошибки по операциям.
type BatchResult struct {
	InsertedCount int64            `json:"inserted_count"`
	MatchedCount  int64            `json:"matched_count"`
	ModifiedCount int64            `json:"modified_count"`
	DeletedCount  int64            `json:"deleted_count"`
	UpsertedCount int64            `json:"upserted_count"`
	Applied       int              `json:"applied"`
	NotAttempted  int              `json:"not_attempted"`
	Errors        []OperationError `json:"errors,omitempty"`
}

// Partial сообщает, что часть операций завершилась ошибкой.
func (r BatchResult) Partial() bool {
	return len(r.Errors) > 0
}

// BatchOps — упорядоченный список операций с JSON-представлением {"kind": ...}.
type BatchOps []BatchOp

type batchOpEnvelope struct {
	Kind          BatchOpKind `json:"kind"`
	PostID        int64       `json:"post_id,omitempty"`
	Document      *Post       `json:"document,omitempty"`
	Filter        *PostFilter `json:"filter,omitempty"`
	Update        *PostUpdate `json:"update,omitempty"`
	CreatedBefore *time.Time  `json:"created_before,omitempty"`
	ViewsBelow    int64       `json:"views_below,omitempty"`
	Replacement   *Post       `json:"replacement,omitempty"`
	Upsert        *bool       `json:"upsert,omitempty"`
}

// MarshalJSON кодирует каждую операцию в конверт с полем kind.
func (ops BatchOps) MarshalJSON() ([]byte, error) {
	envs := make([]batchOpEnvelope, 0, len(ops))
	for i, op := range ops {
		env := batchOpEnvelope{Kind: op.Kind()}
		switch v := op.(type) {
		case InsertOp:
			env.Document = &v.Document
		case UpdateOneOp:
			env.PostID = v.PostID
			env.Update = &v.Update
		case UpdateManyOp:
			env.Filter = &v.Filter
			env.Update = &v.Update
		case DeleteManyOp:
			env.CreatedBefore = &v.CreatedBefore
			env.ViewsBelow = v.ViewsBelow
		case ReplaceOneOp:
			env.PostID = v.PostID
			env.Replacement = &v.Replacement
			env.Upsert = &v.Upsert
		default:
			return nil, fmt.Errorf("операция %d: неизвестный тип %T", i, op)
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// UnmarshalJSON разбирает конверты. Обязательные поля проверяет Validate.
func (ops *BatchOps) UnmarshalJSON(data []byte) error {
	var envs []batchOpEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(BatchOps, 0, len(envs))
	for i, env := range envs {
		op, err := env.toOp()
		if err != nil {
			return fmt.Errorf("операция %d: %w", i, err)
		}
		out = append(out, op)
	}
	*ops = out
	return nil
}

func (env batchOpEnvelope) toOp() (BatchOp, error) {
	switch env.Kind {
	case OpInsert:
		var op InsertOp
		if env.Document != nil {
			op.Document = *env.Document
		}
		return op, nil
	case OpUpdateOne:
		op := UpdateOneOp{PostID: env.PostID}
		if env.Update != nil {
			op.Update = *env.Update
		}
		return op, nil
	case OpUpdateMany:
		var op UpdateManyOp
		if env.Filter != nil {
			op.Filter = *env.Filter
		}
		if env.Update != nil {
			op.Update = *env.Update
		}
		return op, nil
	case OpDeleteMany:
		op := DeleteManyOp{ViewsBelow: env.ViewsBelow}
		if env.CreatedBefore != nil {
			op.CreatedBefore = *env.CreatedBefore
		}
		return op, nil
	case OpReplaceOne:
		op := ReplaceOneOp{PostID: env.PostID, Upsert: true}
		if env.Replacement != nil {
			op.Replacement = *env.Replacement
		}
		if env.Upsert != nil {
			op.Upsert = *env.Upsert
		}
		return op, nil
	}
	return nil, fmt.Errorf("%w: неизвестный вид операции %q", ErrValidation, env.Kind)
}
