package domain

import "time"

// ChangeOperation — тип события журнала изменений.
type ChangeOperation string

const (
	ChangeInsert     ChangeOperation = "insert"
	ChangeUpdate     ChangeOperation = "update"
	ChangeReplace    ChangeOperation = "replace"
	ChangeDelete     ChangeOperation = "delete"
	ChangeInvalidate ChangeOperation = "invalidate"
	ChangeDrop       ChangeOperation = "drop"
)

// ChangeEvent — одно событие подписки на коллекцию posts.
type ChangeEvent struct {
	Operation ChangeOperation
	PostID    int64
	// ChannelID известен для insert, update и replace; для delete отсутствует.
	ChannelID   *int64
	ResumeToken []byte
	ObservedAt  time.Time
}

// Mutation сообщает, что событие меняет данные постов.
func (e ChangeEvent) Mutation() bool {
	switch e.Operation {
	case ChangeInsert, ChangeUpdate, ChangeReplace, ChangeDelete:
		return true
	}
	return false
}

// Terminal сообщает, что после события подписка закрывается сервером.
func (e ChangeEvent) Terminal() bool {
	return e.Operation == ChangeInvalidate || e.Operation == ChangeDrop
}
