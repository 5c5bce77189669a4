package reading

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"rsywx-api/internal/adapters/repo"
	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/query"
	"rsywx-api/internal/testutil/librarydb"
)

func newService(t *testing.T) *Service {
	t.Helper()
	conn := librarydb.Open(t)
	first := librarydb.InsertBook(t, conn, librarydb.Book{BookID: "00001", Title: "天龙八部", Author: "金庸"})
	second := librarydb.InsertBook(t, conn, librarydb.Book{BookID: "00002", Title: "活着", Author: "余华"})
	librarydb.InsertReview(t, conn, first, librarydb.Review{Title: "读天龙", DateIn: "2023-01-02", URI: "https://r/1"})
	librarydb.InsertReview(t, conn, first, librarydb.Review{Title: "черновик", DateIn: "2023-02-02", Hidden: true})
	librarydb.InsertReview(t, conn, second, librarydb.Review{Title: "读活着", DateIn: "2023-03-05", URI: "https://r/2"})
	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	return NewService(repo.NewLibrary(conn, query.SQLite), cache.NewStore(mem), zerolog.Nop())
}

func TestSummary(t *testing.T) {
	svc := newService(t)
	res, err := svc.Summary(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	s := res.Data
	if s.BooksRead != 2 || s.ReviewsWritten != 3 {
		t.Fatalf("неожиданная сводка %+v", s)
	}
	p := s.ReadingPeriod
	if p.EarliestDate == nil || *p.EarliestDate != "2023-01-02" || p.LatestDate == nil || *p.LatestDate != "2023-03-05" || p.TotalDays != 62 {
		t.Fatalf("неожиданный период %+v", p)
	}
	again, err := svc.Summary(context.Background(), false)
	if err != nil || !again.FromCache {
		t.Fatalf("ожидали сводку из кэша")
	}
}

func TestLatestClampsCount(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	one, err := svc.Latest(ctx, 0, false)
	if err != nil || len(one.Data) != 1 || one.Data[0].Title != "读活着" {
		t.Fatalf("ожидали одну последнюю рецензию, получили %+v (%v)", one.Data, err)
	}
	if one.Data[0].CoverURI == "" || one.Data[0].BookID != "00002" {
		t.Fatalf("рецензия должна нести книгу и обложку: %+v", one.Data[0])
	}
	all, err := svc.Latest(ctx, 500, false)
	if err != nil || len(all.Data) != 2 {
		t.Fatalf("ожидали 2 видимые рецензии, получили %d (%v)", len(all.Data), err)
	}
}

func TestReviewsPagination(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	res, p, err := svc.Reviews(ctx, 0, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Data) != 2 || p.CurrentPage != 1 || p.PerPage != ReviewsPerPage || p.TotalResults != 2 || p.TotalPages != 1 {
		t.Fatalf("неожиданная страница %d %+v", len(res.Data), p)
	}
	cached, _, err := svc.Reviews(ctx, 1, false)
	if err != nil || !cached.FromCache {
		t.Fatalf("ожидали страницу из кэша")
	}
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	fresh, _, err := svc.Reviews(ctx, 1, false)
	if err != nil || fresh.FromCache {
		t.Fatalf("после очистки ожидали свежую страницу")
	}
}

func TestReviewsRejectsHugePage(t *testing.T) {
	svc := newService(t)
	if _, _, err := svc.Reviews(context.Background(), MaxReviewsPage+1, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}
