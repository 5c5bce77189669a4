package domain

import (
	"context"
	"time"
)

// VisitRepo источник волатильной статистики посещений.
type VisitRepo interface {
	VisitStats(ctx context.Context, ids []int64) (map[int64]VisitStats, error)
	VisitsByDay(ctx context.Context, since time.Time) ([]DayCount, error)
}

// ReadingRepo доступ к рецензиям.
type ReadingRepo interface {
	ReadingSummary(ctx context.Context) (ReadingSummary, error)
	LatestReadings(ctx context.Context, limit int) ([]Reading, error)
	Reviews(ctx context.Context, limit, offset int) ([]Reading, error)
	CountReviews(ctx context.Context) (int, error)
}

// MiscRepo цитаты и слова дня.
type MiscRepo interface {
	CountQuotes(ctx context.Context) (int, error)
	QuoteAt(ctx context.Context, offset int) (Quote, error)
	CountWords(ctx context.Context) (int, error)
	WordAt(ctx context.Context, offset int) (Word, error)
}

// Cache JSON-кэш с TTL, которым пользуются сервисы.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Clear(ctx context.Context) error
}
