package books

import (
	"context"
	"errors"
	"fmt"

	"rsywx-api/internal/adapters/ranker"
	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
)

const relatedAlgorithm = "discovery_v1"

// DiscoveryInfo сопровождает выдачу похожих книг.
type DiscoveryInfo struct {
	SourceBook string `json:"source_book"`
	PoolSize   int    `json:"pool_size"`
	Qualified  int    `json:"qualified_candidates"`
	Algorithm  string `json:"algorithm"`
}

// Related похожие книги с распределением по категориям.
type Related struct {
	Books         []ranker.Candidate      `json:"books"`
	Categories    map[ranker.Category]int `json:"categories"`
	DiscoveryInfo DiscoveryInfo           `json:"discovery_info"`
}

// Related подбирает книги, похожие на bookID, с долей неожиданных находок.
func (s *Service) Related(ctx context.Context, bookID string, count int, force bool) (domain.Envelope[Related], error) {
	var out domain.Envelope[Related]
	n := NormalizeCount(count)
	key := cache.Key(OpRelated, bookID, n)
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
	} else {
		rel, err := s.rank(ctx, bookID, n)
		if err != nil {
			return out, err
		}
		out.Data = rel
		s.store(ctx, key, rel, ttlRelated)
	}

	books := make([]domain.BookResult, len(out.Data.Books))
	for i, c := range out.Data.Books {
		books[i] = c.Book
	}
	s.overlay(ctx, OpRelated, books)
	for i := range books {
		out.Data.Books[i].Book = books[i]
	}
	return out, nil
}

func (s *Service) rank(ctx context.Context, bookID string, n int) (Related, error) {
	src, err := s.repo.FindOne(ctx, s.repo.NewQuery().
		IncludeFields(query.GroupPurchase, query.GroupDetails, query.GroupVisitStats, query.GroupTags).
		ByBookID(bookID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Related{}, err
		}
		return Related{}, fmt.Errorf("исходная книга %s: %w", bookID, err)
	}
	pool, err := s.repo.Find(ctx, s.repo.NewQuery().
		IncludeFields(query.GroupPurchase, query.GroupDetails, query.GroupVisitStats, query.GroupTags).
		ExcludeID(src.ID).
		Latest(s.poolSize))
	if err != nil {
		return Related{}, fmt.Errorf("пул кандидатов: %w", err)
	}
	metrics.RelatedPoolSize.Observe(float64(len(pool)))

	res := s.ranker.Rank(src, pool, n)
	s.log.Debug().
		Str("bookid", bookID).
		Int("pool", res.PoolSize).
		Int("qualified", res.Qualified).
		Int("selected", len(res.Books)).
		Msg("подобраны похожие книги")
	return Related{
		Books:      res.Books,
		Categories: res.Categories,
		DiscoveryInfo: DiscoveryInfo{
			SourceBook: bookID,
			PoolSize:   res.PoolSize,
			Qualified:  res.Qualified,
			Algorithm:  relatedAlgorithm,
		},
	}, nil
}
