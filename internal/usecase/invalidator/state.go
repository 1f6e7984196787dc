package invalidator

// State — состояние инвалидатора. Числовое значение публикуется в метрике invalidator_state.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateInvalidating
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateInvalidating:
		return "invalidating"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}
