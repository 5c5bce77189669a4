package misc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rsywx-api/internal/adapters/repo"
	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/query"
	"rsywx-api/internal/testutil/librarydb"
)

func TestDailyOffset(t *testing.T) {
	cases := []struct {
		date  time.Time
		count int
		want  int
	}{
		{time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), 5, 0},
		{time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC), 3, 0},
		{time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC), 3, 1},
		{time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), 7, 2},
		{time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), 0, 0},
	}
	for _, c := range cases {
		if got := DailyOffset(c.date, c.count); got != c.want {
			t.Fatalf("%s mod %d: ожидали %d, получили %d", c.date, c.count, c.want, got)
		}
	}
}

func TestQuoteOfTheDayStableWithinDay(t *testing.T) {
	conn := librarydb.Open(t)
	librarydb.InsertQuote(t, conn, "первая", "A")
	librarydb.InsertQuote(t, conn, "вторая", "B")
	librarydb.InsertQuote(t, conn, "третья", "C")

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	svc := NewService(repo.NewLibrary(conn, query.SQLite), cache.NewStore(mem, cache.WithClock(clock)), zerolog.Nop(), clock)
	ctx := context.Background()

	first, err := svc.QuoteOfTheDay(ctx, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.Data.Quote != "первая" || first.Data.Date != "2024-06-01" || first.Data.DayOfYear != 153 {
		t.Fatalf("неожиданная цитата %+v", first.Data)
	}
	now = now.Add(10 * time.Hour)
	second, err := svc.QuoteOfTheDay(ctx, false)
	if err != nil || !second.FromCache || second.Data.ID != first.Data.ID {
		t.Fatalf("в течение дня ожидали ту же цитату из кэша, получили %+v (%v)", second, err)
	}
	now = time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	next, err := svc.QuoteOfTheDay(ctx, false)
	if err != nil || next.FromCache || next.Data.Quote != "вторая" {
		t.Fatalf("на следующий день ожидали вторую цитату, получили %+v (%v)", next, err)
	}
}

func TestWordOfTheDayEmptyTable(t *testing.T) {
	conn := librarydb.Open(t)
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	svc := NewService(repo.NewLibrary(conn, query.SQLite), cache.NewStore(mem), zerolog.Nop(), nil)
	if _, err := svc.WordOfTheDay(context.Background(), false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	librarydb.InsertWord(t, conn, "serendipity", "счастливая случайность", "", "n")
	w, err := svc.WordOfTheDay(context.Background(), false)
	if err != nil || w.Data.Word != "serendipity" || w.Data.Type != "n" {
		t.Fatalf("ожидали единственное слово, получили %+v (%v)", w.Data, err)
	}
}
