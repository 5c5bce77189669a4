package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rsywx-api/internal/infra/metrics"
)

const scanBatch = 200

// Redis хранит записи в Redis внутри пространства имён.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "rsywx"
	}
	return &Redis{client: client, namespace: namespace}
}

func (c *Redis) Name() string { return "redis" }

func (c *Redis) key(key string) string {
	return c.namespace + ":" + key
}

func (c *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "cache", start, nil)
		return Entry{}, false, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", "cache", start, err)
	if err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (c *Redis) Set(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.client.Set(ctx, c.key(entry.Key), data, entry.ExpiresAt.Sub(entry.CreatedAt)).Err()
	metrics.ObserveNetworkRequest("redis", "set", "cache", start, err)
	return err
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.key(key)).Err()
	metrics.ObserveNetworkRequest("redis", "del", "cache", start, err)
	return err
}

func (c *Redis) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		start := time.Now()
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		metrics.ObserveNetworkRequest("redis", "scan", "cache", start, err)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Redis) deleteMatching(ctx context.Context, pattern string) (int, error) {
	n := 0
	err := c.scan(ctx, pattern, func(keys []string) error {
		start := time.Now()
		deleted, err := c.client.Del(ctx, keys...).Result()
		metrics.ObserveNetworkRequest("redis", "del", "cache", start, err)
		n += int(deleted)
		return err
	})
	return n, err
}

// Clear удаляет только ключи своего пространства имён.
func (c *Redis) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, c.key("*"))
	return err
}

func (c *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return c.deleteMatching(ctx, c.key(escapeGlob(prefix))+"*")
}

func (c *Redis) Entries(ctx context.Context) ([]EntryInfo, error) {
	var out []EntryInfo
	err := c.scan(ctx, c.key("*"), func(keys []string) error {
		start := time.Now()
		values, err := c.client.MGet(ctx, keys...).Result()
		metrics.ObserveNetworkRequest("redis", "mget", "cache", start, err)
		if err != nil {
			return err
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			var entry Entry
			if err := json.Unmarshal([]byte(s), &entry); err != nil {
				continue
			}
			out = append(out, EntryInfo{
				Key:       entry.Key,
				Size:      int64(len(s)),
				CreatedAt: entry.CreatedAt,
				ExpiresAt: entry.ExpiresAt,
			})
		}
		return nil
	})
	return out, err
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
