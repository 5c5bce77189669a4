package reading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
)

const (
	OpSummary = "reading_summary"
	OpLatest  = "latest_readings"
	OpReviews = "reviews_page"

	ttlSummary = 24 * time.Hour
	ttlLatest  = 2 * time.Hour
	ttlReviews = time.Hour

	DefaultLatest  = 1
	MaxLatest      = 50
	ReviewsPerPage = 9
	MaxReviewsPage = 100000
)

// Service статистика чтения и рецензии.
type Service struct {
	repo  domain.ReadingRepo
	cache domain.Cache
	log   zerolog.Logger
}

// NewService создаёт сервис чтения.
func NewService(repo domain.ReadingRepo, c domain.Cache, logger zerolog.Logger) *Service {
	return &Service{repo: repo, cache: c, log: logger}
}

func (s *Service) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.SetJSON(ctx, key, value, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("не удалось записать в кэш")
	}
}

// Summary сводка: сколько книг прочитано, сколько рецензий и за какой период.
func (s *Service) Summary(ctx context.Context, force bool) (domain.Envelope[domain.ReadingSummary], error) {
	var out domain.Envelope[domain.ReadingSummary]
	if !force && s.cache.GetJSON(ctx, OpSummary, &out.Data) {
		out.FromCache = true
		return out, nil
	}
	sum, err := s.repo.ReadingSummary(ctx)
	if err != nil {
		return out, fmt.Errorf("%s: %w", OpSummary, err)
	}
	out.Data = sum
	s.store(ctx, OpSummary, sum, ttlSummary)
	return out, nil
}

// Latest последние рецензии, count приводится к 1..50.
func (s *Service) Latest(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.Reading], error) {
	var out domain.Envelope[[]domain.Reading]
	switch {
	case count <= 0:
		count = DefaultLatest
	case count > MaxLatest:
		count = MaxLatest
	}
	key := cache.Key(OpLatest, count)
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
		return out, nil
	}
	items, err := s.repo.LatestReadings(ctx, count)
	if err != nil {
		return out, fmt.Errorf("%s: %w", OpLatest, err)
	}
	out.Data = items
	s.store(ctx, key, items, ttlLatest)
	return out, nil
}

type page struct {
	Items []domain.Reading `json:"items"`
	Total int              `json:"total"`
}

// Reviews страница рецензий по 9 штук.
func (s *Service) Reviews(ctx context.Context, pageNum int, force bool) (domain.Envelope[[]domain.Reading], domain.Pagination, error) {
	var out domain.Envelope[[]domain.Reading]
	switch {
	case pageNum < 1:
		pageNum = 1
	case pageNum > MaxReviewsPage:
		return out, domain.Pagination{}, fmt.Errorf("%w: page %d", domain.ErrValidation, pageNum)
	}
	key := cache.Key(OpReviews, pageNum, ReviewsPerPage)
	var p page
	if !force && s.cache.GetJSON(ctx, key, &p) {
		out.FromCache = true
	} else {
		total, err := s.repo.CountReviews(ctx)
		if err != nil {
			return out, domain.Pagination{}, fmt.Errorf("%s: %w", OpReviews, err)
		}
		items, err := s.repo.Reviews(ctx, ReviewsPerPage, (pageNum-1)*ReviewsPerPage)
		if err != nil {
			return out, domain.Pagination{}, fmt.Errorf("%s: %w", OpReviews, err)
		}
		p = page{Items: items, Total: total}
		s.store(ctx, key, p, ttlReviews)
	}
	out.Data = p.Items
	return out, domain.NewPagination(pageNum, ReviewsPerPage, p.Total), nil
}

// Clear сбрасывает все записи чтения.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.cache.Delete(ctx, OpSummary); err != nil {
		return err
	}
	for _, op := range []string{OpLatest, OpReviews} {
		if _, err := s.cache.DeletePrefix(ctx, cache.Prefix(op)); err != nil {
			return err
		}
	}
	return nil
}
