package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BackendConfig параметры выбора бэкенда.
type BackendConfig struct {
	Kind      string
	Dir       string
	RedisAddr string
	Namespace string
}

// NewBackend создаёт бэкенд по имени: memory, file или redis.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "memory":
		return NewMemory(), nil
	case "", "file":
		return NewFile(cfg.Dir)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR не задан для redis кэша")
		}
		return NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.Namespace), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд кэша %q", cfg.Kind)
	}
}
