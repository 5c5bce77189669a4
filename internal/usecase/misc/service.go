package misc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
)

const (
	OpQuote = "qotd"
	OpWord  = "wotd"

	ttlDaily = 24 * time.Hour
)

// Service цитата и слово дня. Выбор детерминирован по дате: в течение суток
// все запросы получают одну и ту же запись.
type Service struct {
	repo  domain.MiscRepo
	cache domain.Cache
	log   zerolog.Logger
	now   func() time.Time
}

// NewService создаёт сервис.
func NewService(repo domain.MiscRepo, c domain.Cache, logger zerolog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, cache: c, log: logger, now: now}
}

// DailyOffset смещение записи на дату: дни от эпохи по модулю числа записей.
func DailyOffset(date time.Time, count int) int {
	if count <= 0 {
		return 0
	}
	y, m, d := date.Date()
	days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
	off := int(days % int64(count))
	if off < 0 {
		off += count
	}
	return off
}

func (s *Service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if err := s.cache.SetJSON(ctx, key, value, ttlDaily); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("не удалось записать в кэш")
	}
}

// QuoteOfTheDay цитата на сегодня.
func (s *Service) QuoteOfTheDay(ctx context.Context, force bool) (domain.Envelope[domain.Quote], error) {
	var out domain.Envelope[domain.Quote]
	day := s.today()
	key := cache.Key(OpQuote, day.Format(domain.DateLayout))
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
		return out, nil
	}
	n, err := s.repo.CountQuotes(ctx)
	if err != nil {
		return out, fmt.Errorf("подсчёт цитат: %w", err)
	}
	if n == 0 {
		return out, domain.ErrNotFound
	}
	q, err := s.repo.QuoteAt(ctx, DailyOffset(day, n))
	if err != nil {
		return out, fmt.Errorf("цитата дня: %w", err)
	}
	q.Date = day.Format(domain.DateLayout)
	q.DayOfYear = day.YearDay()
	out.Data = q
	s.store(ctx, key, q)
	return out, nil
}

// WordOfTheDay слово на сегодня.
func (s *Service) WordOfTheDay(ctx context.Context, force bool) (domain.Envelope[domain.Word], error) {
	var out domain.Envelope[domain.Word]
	day := s.today()
	key := cache.Key(OpWord, day.Format(domain.DateLayout))
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
		return out, nil
	}
	n, err := s.repo.CountWords(ctx)
	if err != nil {
		return out, fmt.Errorf("подсчёт слов: %w", err)
	}
	if n == 0 {
		return out, domain.ErrNotFound
	}
	w, err := s.repo.WordAt(ctx, DailyOffset(day, n))
	if err != nil {
		return out, fmt.Errorf("слово дня: %w", err)
	}
	w.Date = day.Format(domain.DateLayout)
	w.DayOfYear = day.YearDay()
	out.Data = w
	s.store(ctx, key, w)
	return out, nil
}
