package ranker

import (
	"math"
	"testing"
	"time"

	"rsywx-api/internal/domain"
)

func book(id int64, author, region string, tags ...string) domain.BookResult {
	b := domain.BookResult{ID: id, BookID: "x", Title: "t", Author: author, Region: region}
	b.SetTags(tags)
	return b
}

func source() domain.BookResult {
	b := book(1, "A", "CN", "武侠", "t2", "t3")
	b.SetCategory("小说/武侠")
	b.SetPurchDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	return b
}

func TestJaccard(t *testing.T) {
	if got := Jaccard([]string{"a", "b"}, []string{"b", "c"}); math.Abs(got-1.0/3) > 1e-9 {
		t.Fatalf("ожидали 1/3, получили %f", got)
	}
	if got := Jaccard(nil, nil); got != 0 {
		t.Fatalf("пустые множества должны давать 0, получили %f", got)
	}
}

func TestCategorySimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"小说/武侠", "小说/武侠", 1},
		{"小说/武侠", "小说/言情", 0.6},
		{"history-europe", "history-asia", 0.6},
		{"小说", "历史", 0},
		{"", "小说", 0},
	}
	for _, c := range cases {
		if got := CategorySimilarity(c.a, c.b); got != c.want {
			t.Fatalf("%q vs %q: ожидали %v, получили %v", c.a, c.b, c.want, got)
		}
	}
}

func TestQuotasSumToCount(t *testing.T) {
	for n := 1; n <= 10; n++ {
		sum := 0
		for _, q := range Quotas(n) {
			sum += q
		}
		if sum != n {
			t.Fatalf("count=%d: сумма квот %d", n, sum)
		}
	}
	q := Quotas(5)
	if q[CategorySimilar] != 2 || q[CategoryAuthor] != 1 || q[CategoryGenre] != 1 || q[CategorySerendipity] != 0 {
		t.Fatalf("неожиданные квоты для 5: %v", q)
	}
	q = Quotas(3)
	if q[CategorySimilar] != 2 || q[CategoryAuthor] != 1 {
		t.Fatalf("неожиданные квоты для 3: %v", q)
	}
	q = Quotas(7)
	if q[CategorySimilar] != 3 {
		t.Fatalf("остаток должен уходить в similar: %v", q)
	}
}

func TestRankDropsBelowThreshold(t *testing.T) {
	r := NewDiscovery(nil)
	pool := []domain.BookResult{
		book(2, "C", "US", "x"),
		book(3, "B", "CN"),
	}
	res := r.Rank(source(), pool, 5)
	if res.Qualified != 0 || len(res.Books) != 0 {
		t.Fatalf("ожидали пустую выдачу, получили %+v", res)
	}
	if res.PoolSize != 2 {
		t.Fatalf("ожидали размер пула 2, получили %d", res.PoolSize)
	}
}

func TestRankCountFiveDistribution(t *testing.T) {
	src := source()
	var pool []domain.BookResult
	for _, id := range []int64{10, 11, 12} {
		b := book(id, "A", "CN", "武侠", "t2", "t3")
		b.SetCategory("小说/武侠")
		b.SetPurchDate(*src.PurchDate)
		pool = append(pool, b)
	}
	pool = append(pool,
		book(20, "B", "CN", "t2"),
		book(21, "B", "CN", "t2"),
		book(30, "B", "JP", "t2", "t3"),
		book(31, "B", "JP", "t2", "t3"),
		book(40, "A", "CN", "历史"),
		book(41, "A", "CN", "历史"),
		src,
	)

	res := NewDiscovery(nil).Rank(src, pool, 5)
	if len(res.Books) != 5 {
		t.Fatalf("ожидали 5 книг, получили %d", len(res.Books))
	}
	want := map[Category]int{CategorySimilar: 2, CategoryAuthor: 1, CategoryCultural: 1, CategoryGenre: 1}
	for cat, n := range want {
		if res.Categories[cat] != n {
			t.Fatalf("категория %s: ожидали %d, получили %v", cat, n, res.Categories)
		}
	}
	for i, c := range res.Books {
		if c.Book.ID == src.ID {
			t.Fatalf("источник не должен попадать в выдачу")
		}
		if i > 0 && c.Total > res.Books[i-1].Total {
			t.Fatalf("выдача должна быть отсортирована по убыванию итога")
		}
		if c.Total <= AdmissionThreshold {
			t.Fatalf("кандидат %d ниже порога: %f", c.Book.ID, c.Total)
		}
	}
}

func TestRankSerendipity(t *testing.T) {
	cand := book(50, "C", "", "y")
	cand.SetCategory("小说/言情")
	cand.SetTotalVisits(600)

	c := NewDiscovery(nil).Score(source(), cand)
	if math.Abs(c.Similarity-0.12) > 1e-9 {
		t.Fatalf("ожидали сходство 0.12, получили %f", c.Similarity)
	}
	if c.Category != CategorySerendipity {
		t.Fatalf("ожидали serendipity, получили %s", c.Category)
	}
	if math.Abs(c.Discovery-0.45) > 1e-9 {
		t.Fatalf("ожидали бонус 0.45, получили %f", c.Discovery)
	}
	res := NewDiscovery(nil).Rank(source(), []domain.BookResult{cand}, 3)
	if len(res.Books) != 1 || res.Categories[CategorySerendipity] != 1 {
		t.Fatalf("неожиданная выдача %+v", res)
	}
}

func TestLengthIsMinOfCountAndQualified(t *testing.T) {
	src := source()
	var pool []domain.BookResult
	for id := int64(2); id < 6; id++ {
		pool = append(pool, book(id, "A", "CN", "武侠", "t2", "t3"))
	}
	res := NewDiscovery(nil).Rank(src, pool, 10)
	if len(res.Books) != 4 {
		t.Fatalf("ожидали 4 книги, получили %d", len(res.Books))
	}
	res = NewDiscovery(nil).Rank(src, pool, 2)
	if len(res.Books) != 2 {
		t.Fatalf("ожидали 2 книги, получили %d", len(res.Books))
	}
}
