package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	backend := NewRedis(client, "test-"+uuid.NewString())
	s := NewStore(backend)
	defer func() { _ = s.Clear(ctx) }()

	if err := s.SetJSON(ctx, Key("latest_books", 3), []int{1, 2}, time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	_ = s.SetJSON(ctx, Key("latest_books", 5), []int{1}, time.Minute)
	var out []int
	if !s.GetJSON(ctx, Key("latest_books", 3), &out) || len(out) != 2 {
		t.Fatalf("ожидали попадание, получили %v", out)
	}
	n, err := s.DeletePrefix(ctx, Prefix("latest_books"))
	if err != nil || n != 2 {
		t.Fatalf("ожидали удаление 2 ключей, получили %d (%v)", n, err)
	}
	if s.Has(ctx, Key("latest_books", 5)) {
		t.Fatalf("ключ должен быть удалён")
	}
}
