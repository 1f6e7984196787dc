package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Mongo struct {
		URI       string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
		Database  string        `envconfig:"MONGO_DB" default:"news_aggregator"`
		TxTimeout time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Batch       string `envconfig:"BATCH_QUEUE" default:"batch_jobs"`
		MaxAttempts int    `envconfig:"BATCH_MAX_ATTEMPTS" default:"5"`
	} `envconfig:""`

	Reports struct {
		CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"1h"`
		SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
		RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30m"`
		WeeklyTTL       time.Duration `envconfig:"WEEKLY_REPORT_TTL" default:"5m"`
	} `envconfig:""`

	Invalidator struct {
		Debounce         time.Duration `envconfig:"INVALIDATION_DEBOUNCE" default:"500ms"`
		ReconnectInitial time.Duration `envconfig:"RECONNECT_INITIAL" default:"500ms"`
		ReconnectMax     time.Duration `envconfig:"RECONNECT_MAX" default:"30s"`
		ResumeTokenTTL   time.Duration `envconfig:"RESUME_TOKEN_TTL" default:"24h"`
	} `envconfig:""`

	Retention struct {
		Days       int           `envconfig:"RETENTION_DAYS" default:"365"`
		ViewsFloor int64         `envconfig:"RETENTION_VIEWS_FLOOR" default:"100"`
		Interval   time.Duration `envconfig:"RETENTION_INTERVAL" default:"24h"`
	} `envconfig:""`
}

// RetentionWindow возвращает окно хранения постов.
func (c AppConfig) RetentionWindow() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
