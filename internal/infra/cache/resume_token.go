package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"news-aggregator/internal/domain"
	"news-aggregator/internal/infra/metrics"
)

// DefaultResumeTokenKey — ключ токена возобновления подписки на posts.
const DefaultResumeTokenKey = "invalidator:posts:resume_token"

// ResumeTokens хранит токен возобновления журнала изменений в Redis.
type ResumeTokens struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewResumeTokens создаёт хранилище. Токен живёт ttl после последнего сохранения.
func NewResumeTokens(client *redis.Client, key string, ttl time.Duration) *ResumeTokens {
	if key == "" {
		key = DefaultResumeTokenKey
	}
	return &ResumeTokens{client: client, key: key, ttl: ttl}
}

// Load возвращает сохранённый токен или nil.
func (s *ResumeTokens) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()
	token, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", s.key, start, nil)
		return nil, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", s.key, start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: загрузка токена: %v", domain.ErrUnavailable, err)
	}
	return token, nil
}

// Save записывает токен.
func (s *ResumeTokens) Save(ctx context.Context, token []byte) error {
	start := time.Now()
	err := s.client.Set(ctx, s.key, token, s.ttl).Err()
	metrics.ObserveNetworkRequest("redis", "set", s.key, start, err)
	if err != nil {
		return fmt.Errorf("%w: сохранение токена: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Clear удаляет токен.
func (s *ResumeTokens) Clear(ctx context.Context) error {
	start := time.Now()
	err := s.client.Del(ctx, s.key).Err()
	metrics.ObserveNetworkRequest("redis", "del", s.key, start, err)
	if err != nil {
		return fmt.Errorf("%w: удаление токена: %v", domain.ErrUnavailable, err)
	}
	return nil
}
