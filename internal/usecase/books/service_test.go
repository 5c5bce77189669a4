package books

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"rsywx-api/internal/adapters/repo"
	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/query"
	"rsywx-api/internal/testutil/librarydb"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type fixture struct {
	db    *sqlx.DB
	lib   *repo.Library
	store *cache.Store
	svc   *Service
	ids   map[string]int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := librarydb.Open(t)
	f := fixture{db: conn, ids: make(map[string]int64)}
	books := []librarydb.Book{
		{BookID: "00666", Title: "百年孤独", Author: "马尔克斯", Region: "哥伦比亚", PurchDate: "2020-02-29", Page: 300},
		{BookID: "00667", Title: "活着", Author: "余华", Region: "中国", PurchDate: "2016-02-29"},
		{BookID: "00668", Title: "许三观卖血记", Author: "余华", Region: "中国", PurchDate: "2024-02-29"},
		{BookID: "00669", Title: "兄弟", Author: "余华", Region: "中国", PurchDate: "2023-05-01"},
	}
	for _, b := range books {
		f.ids[b.BookID] = librarydb.InsertBook(t, conn, b)
	}
	librarydb.InsertTags(t, conn, f.ids["00666"], "魔幻", "文学", "拉美")
	librarydb.InsertVisit(t, conn, f.ids["00666"], testNow.Add(-72*time.Hour), "CN")
	librarydb.InsertVisit(t, conn, f.ids["00666"], testNow.Add(-24*time.Hour), "US")
	librarydb.InsertVisit(t, conn, f.ids["00666"], testNow, "CN")
	librarydb.InsertVisit(t, conn, f.ids["00667"], testNow.Add(-24*time.Hour), "CN")

	mem := cache.NewMemory()
	t.Cleanup(mem.Close)
	f.store = cache.NewStore(mem, cache.WithClock(clock))
	f.lib = repo.NewLibrary(conn, query.SQLite, repo.WithClock(clock))
	f.svc = NewService(f.lib, f.store, WithClock(clock))
	return f
}

func TestBookDetailCachesBaseAndRefreshesVisits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.BookDetail(ctx, "00666", false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.FromCache {
		t.Fatalf("первый запрос не может быть из кэша")
	}
	want := []string{"拉美", "文学", "魔幻"}
	if len(first.Data.Tags) != len(want) {
		t.Fatalf("ожидали теги %v, получили %v", want, first.Data.Tags)
	}
	for i := range want {
		if first.Data.Tags[i] != want[i] {
			t.Fatalf("ожидали теги %v, получили %v", want, first.Data.Tags)
		}
	}
	if first.Data.TotalVisits == nil || *first.Data.TotalVisits != 3 {
		t.Fatalf("ожидали 3 посещения, получили %v", first.Data.TotalVisits)
	}
	if first.Data.CoverURI() != domain.CoverURI("00666") {
		t.Fatalf("неожиданная обложка %s", first.Data.CoverURI())
	}

	librarydb.InsertVisit(t, f.db, f.ids["00666"], testNow.Add(time.Minute), "CN")
	second, err := f.svc.BookDetail(ctx, "00666", false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !second.FromCache {
		t.Fatalf("второй запрос должен прийти из кэша")
	}
	if second.Data.TotalVisits == nil || *second.Data.TotalVisits != 4 {
		t.Fatalf("ожидали свежие 4 посещения, получили %v", second.Data.TotalVisits)
	}
	if len(second.Data.Tags) != 3 || second.Data.Tags[0] != "拉美" {
		t.Fatalf("теги из кэша должны сохранить порядок, получили %v", second.Data.Tags)
	}

	raw, err := json.Marshal(second.Data)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, k := range []string{"id", "bookid", "title", "author", "cover_uri", "translated", "copyrighter", "region", "location", "total_visits", "last_visited", "tags", "reviews"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("в ответе нет поля %s: %s", k, raw)
		}
	}
}

func TestBookDetailNotFoundIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.BookDetail(ctx, "99999", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if f.store.Has(ctx, cache.Key(OpBookDetail, "99999")) {
		t.Fatalf("отсутствие книги не должно кэшироваться")
	}
}

func TestLatestKeysAreIsolatedByCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	three, err := f.svc.Latest(ctx, 3, false)
	if err != nil || len(three.Data) != 3 || three.FromCache {
		t.Fatalf("ожидали 3 свежие книги, получили %d %v (%v)", len(three.Data), three.FromCache, err)
	}
	five, err := f.svc.Latest(ctx, 5, false)
	if err != nil || five.FromCache {
		t.Fatalf("latest(5) не должен читать запись latest(3): %v %v", five.FromCache, err)
	}
	if len(five.Data) != 4 {
		t.Fatalf("ожидали 4 книги, получили %d", len(five.Data))
	}
	again, err := f.svc.Latest(ctx, 3, false)
	if err != nil || !again.FromCache || len(again.Data) != 3 {
		t.Fatalf("ожидали latest(3) из кэша, получили %v %d (%v)", again.FromCache, len(again.Data), err)
	}
	if again.Data[0].BookID != "00668" {
		t.Fatalf("первой должна быть последняя покупка, получили %s", again.Data[0].BookID)
	}
	forced, err := f.svc.Latest(ctx, 3, true)
	if err != nil || forced.FromCache {
		t.Fatalf("refresh должен идти в базу: %v %v", forced.FromCache, err)
	}
}

func TestNormalizeCount(t *testing.T) {
	cases := map[int]int{-5: 1, 0: 1, 1: 1, 7: 7, 10: 10, 11: 10, 100: 10}
	for in, want := range cases {
		if got := NormalizeCount(in); got != want {
			t.Fatalf("NormalizeCount(%d): ожидали %d, получили %d", in, want, got)
		}
	}
}

type failingVisits struct {
	*repo.Library
}

func (failingVisits) VisitStats(context.Context, []int64) (map[int64]domain.VisitStats, error) {
	return nil, errors.New("visit table locked")
}

func TestOverlayFailureDegradesToNull(t *testing.T) {
	f := newFixture(t)
	svc := NewService(failingVisits{f.lib}, f.store, WithClock(clock))
	res, err := svc.BookDetail(context.Background(), "00666", false)
	if err != nil {
		t.Fatalf("сбой статистики не должен ронять запрос: %v", err)
	}
	if res.Data.TotalVisits != nil || !res.Data.Has(domain.FieldTotalVisits) {
		t.Fatalf("ожидали явный null в total_visits")
	}
	raw, _ := json.Marshal(res.Data)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	if v, ok := m["total_visits"]; !ok || v != nil {
		t.Fatalf("ожидали total_visits: null, получили %s", raw)
	}
}

func TestForgottenRecomputesDaysSinceVisit(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Forgotten(context.Background(), 5, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Data) != 2 || res.Data[0].BookID != "00667" {
		t.Fatalf("ожидали 00667 первой из двух, получили %v", res.Data)
	}
	if d := res.Data[0].DaysSinceVisit; d == nil || *d != 1 {
		t.Fatalf("ожидали 1 день с посещения, получили %v", d)
	}
	if v := res.Data[1].TotalVisits; v == nil || *v != 3 {
		t.Fatalf("ожидали 3 посещения у 00666, получили %v", v)
	}
}

func TestTodayLeapDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, info, err := f.svc.Today(ctx, 2, 29, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("ожидали 2 книги, получили %d", len(res.Data))
	}
	if info.MonthDay != "02-29" || info.IsToday || info.RequestedDate != "2024-02-29" {
		t.Fatalf("неожиданная информация о дате %+v", info)
	}
	if res.Data[0].YearsAgo == nil || *res.Data[0].YearsAgo != 4 {
		t.Fatalf("ожидали years_ago=4 для 2020 года, получили %v", res.Data[0].YearsAgo)
	}
	if _, _, err := f.svc.Today(ctx, 13, 1, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку валидации, получили %v", err)
	}
	_, info, err = f.svc.Today(ctx, 0, 0, false)
	if err != nil || !info.IsToday || info.MonthDay != "06-01" {
		t.Fatalf("ожидали сегодняшнюю дату, получили %+v (%v)", info, err)
	}
}

func TestVisitHistoryZeroFilled(t *testing.T) {
	f := newFixture(t)
	res, period, err := f.svc.VisitHistory(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []domain.DayCount{
		{Date: "2024-05-30", Visits: 0},
		{Date: "2024-05-31", Visits: 2},
		{Date: "2024-06-01", Visits: 1},
	}
	if len(res.Data) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, res.Data)
	}
	for i := range want {
		if res.Data[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, res.Data)
		}
	}
	if period.TotalVisits != 3 || period.TotalDays != 3 || period.Start != "2024-05-30" || period.End != "2024-06-01" {
		t.Fatalf("неожиданный период %+v", period)
	}
}

func TestListPaginationAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, p, err := f.svc.List(ctx, ListParams{Type: "author", Value: "余华", Page: 1, PerPage: 2}, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Data) != 2 || p.TotalResults != 3 || p.TotalPages != 2 {
		t.Fatalf("ожидали 2 из 3 на двух страницах, получили %d %+v", len(res.Data), p)
	}
	all, p, err := f.svc.List(ctx, ListParams{Value: "-"}, false)
	if err != nil || len(all.Data) != 4 || p.PerPage != DefaultPerPage {
		t.Fatalf("ожидали все 4 книги, получили %d %+v (%v)", len(all.Data), p, err)
	}
	if _, _, err := f.svc.List(ctx, ListParams{Type: "publisher", Value: "x"}, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ошибку валидации, получили %v", err)
	}
}

func TestAddTagsInvalidatesDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.BookDetail(ctx, "00666", false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, _, err := f.svc.List(ctx, ListParams{Type: "tags", Value: "经典"}, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	res, err := f.svc.AddTags(ctx, "00666", []string{" 经典 ", "文学"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(res.Added) != 1 || res.Added[0] != "经典" || len(res.Duplicates) != 1 {
		t.Fatalf("неожиданный результат %+v", res)
	}
	detail, err := f.svc.BookDetail(ctx, "00666", false)
	if err != nil || detail.FromCache || len(detail.Data.Tags) != 4 {
		t.Fatalf("ожидали свежую карточку с 4 тегами, получили %v %v (%v)", detail.FromCache, detail.Data.Tags, err)
	}
	list, _, err := f.svc.List(ctx, ListParams{Type: "tags", Value: "经典"}, false)
	if err != nil || list.FromCache || len(list.Data) != 1 {
		t.Fatalf("поиск по тегу должен пересчитаться, получили %v %d (%v)", list.FromCache, len(list.Data), err)
	}
}

func TestAddTagsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := [][]string{
		nil,
		{"ok", "  "},
		{"这是一个非常非常非常非常非常非常长的标签名字啊"},
	}
	for _, tags := range bad {
		if _, err := f.svc.AddTags(ctx, "00666", tags); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("ожидали ошибку валидации для %v, получили %v", tags, err)
		}
	}
	if _, err := f.svc.AddTags(ctx, "99999", []string{"x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestCollectionStatusCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CollectionStatus(ctx, false)
	if err != nil || first.FromCache || first.Data.TotalBooks != 4 || first.Data.TotalVisits != 4 {
		t.Fatalf("неожиданный статус %+v (%v)", first, err)
	}
	second, err := f.svc.CollectionStatus(ctx, false)
	if err != nil || !second.FromCache {
		t.Fatalf("ожидали статус из кэша")
	}
}

func TestClearListCacheByCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range []int{1, 2, 3} {
		if _, err := f.svc.Latest(ctx, n, false); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	n, err := f.svc.ClearListCache(ctx, OpLatest, 2)
	if err != nil || n != 1 {
		t.Fatalf("ожидали удаление одной записи, получили %d (%v)", n, err)
	}
	if f.store.Has(ctx, cache.Key(OpLatest, 2)) || !f.store.Has(ctx, cache.Key(OpLatest, 3)) {
		t.Fatalf("должна удалиться только запись latest(2)")
	}
	n, err = f.svc.ClearListCache(ctx, OpLatest, 2)
	if err != nil || n != 0 {
		t.Fatalf("повторный сброс ничего не удаляет, получили %d (%v)", n, err)
	}
	n, err = f.svc.ClearListCache(ctx, OpLatest, 0)
	if err != nil || n != 2 {
		t.Fatalf("ожидали удаление двух вариантов, получили %d (%v)", n, err)
	}
}

func TestClearListCacheHistoryByDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, days := range []int{3, 30} {
		if _, _, err := f.svc.VisitHistory(ctx, days, false); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	n, err := f.svc.ClearListCache(ctx, OpVisitHistory, 30)
	if err != nil || n != 1 {
		t.Fatalf("ожидали удаление истории за 30 дней, получили %d (%v)", n, err)
	}
	res, _, err := f.svc.VisitHistory(ctx, 30, false)
	if err != nil || res.FromCache {
		t.Fatalf("история за 30 дней должна пересчитаться (%v)", err)
	}
	res, _, err = f.svc.VisitHistory(ctx, 3, false)
	if err != nil || !res.FromCache {
		t.Fatalf("история за 3 дня должна остаться в кэше (%v)", err)
	}
}

func TestClearListCacheIgnoresCountForCompositeKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.Today(ctx, 2, 29, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, _, err := f.svc.List(ctx, ListParams{Type: "author", Value: "余华", Page: 1, PerPage: 2}, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := f.svc.Related(ctx, "00667", 3, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := f.svc.CollectionStatus(ctx, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	for _, op := range []string{OpToday, OpList, OpRelated, OpCollectionStatus} {
		n, err := f.svc.ClearListCache(ctx, op, 3)
		if err != nil || n != 1 {
			t.Fatalf("%s: ожидали удаление одной записи, получили %d (%v)", op, n, err)
		}
		n, err = f.svc.ClearListCache(ctx, op, 3)
		if err != nil || n != 0 {
			t.Fatalf("%s: повторный сброс ничего не удаляет, получили %d (%v)", op, n, err)
		}
	}
	if f.store.Has(ctx, cache.Key(OpToday, "02", "29")) {
		t.Fatalf("запись today должна быть удалена")
	}
}

func TestVisitHistoryKeyFollowsDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := testNow
	svc := NewService(f.lib, f.store, WithClock(func() time.Time { return now }))
	if _, _, err := svc.VisitHistory(ctx, 3, false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	now = now.Add(24 * time.Hour)
	res, period, err := svc.VisitHistory(ctx, 3, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.FromCache || period.End != "2024-06-02" || period.Start != "2024-05-31" {
		t.Fatalf("после смены даты ожидали новое окно, получили %+v (cached=%v)", period, res.FromCache)
	}
}

func TestListRejectsHugePage(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.List(context.Background(), ListParams{Type: "title", Page: 922337203685477580}, false)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
}

func TestRelatedUsesRankerAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	librarydb.InsertTags(t, f.db, f.ids["00667"], "文学")
	librarydb.InsertTags(t, f.db, f.ids["00668"], "文学", "中国")

	first, err := f.svc.Related(ctx, "00667", 3, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.FromCache || len(first.Data.Books) == 0 {
		t.Fatalf("ожидали свежую непустую выдачу, получили %+v", first)
	}
	for _, c := range first.Data.Books {
		if c.Book.BookID == "00667" {
			t.Fatalf("исходная книга не должна попадать в выдачу")
		}
	}
	if first.Data.DiscoveryInfo.PoolSize != 3 || first.Data.DiscoveryInfo.SourceBook != "00667" {
		t.Fatalf("неожиданная информация %+v", first.Data.DiscoveryInfo)
	}
	second, err := f.svc.Related(ctx, "00667", 3, false)
	if err != nil || !second.FromCache || len(second.Data.Books) != len(first.Data.Books) {
		t.Fatalf("ожидали выдачу из кэша той же длины")
	}
	if _, err := f.svc.Related(ctx, "99999", 3, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}
