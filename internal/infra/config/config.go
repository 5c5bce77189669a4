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

	API struct {
		Key     string `envconfig:"API_KEY"`
		Version string `envconfig:"API_VERSION" default:"v1"`
	} `envconfig:""`

	DB struct {
		Driver   string `envconfig:"DB_DRIVER" default:"pgx"`
		DSN      string `envconfig:"DB_DSN"`
		MaxConns int    `envconfig:"DB_MAX_CONNS" default:"5"`
	} `envconfig:""`

	Cache struct {
		Backend    string        `envconfig:"CACHE_BACKEND" default:"file"`
		Dir        string        `envconfig:"CACHE_DIR" default:"./var/cache"`
		Namespace  string        `envconfig:"CACHE_NAMESPACE" default:"rsywx"`
		DefaultTTL time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"24h"`
		RedisAddr  string        `envconfig:"REDIS_ADDR"`
	} `envconfig:""`

	Related struct {
		PoolSize int `envconfig:"RELATED_POOL_SIZE" default:"800"`
	} `envconfig:""`

	Warmer struct {
		Interval time.Duration `envconfig:"WARM_INTERVAL" default:"1h"`
	} `envconfig:""`
}

// IsDev сообщает, запущен ли сервис в режиме разработки.
func (c AppConfig) IsDev() bool {
	return c.AppEnv == "dev"
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := load()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

func load() (AppConfig, error) {
	var cfg AppConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}
