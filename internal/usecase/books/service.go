package books

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"rsywx-api/internal/adapters/ranker"
	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
)

// Имена операций, они же префиксы ключей кэша.
const (
	OpBookDetail       = "book_detail"
	OpLatest           = "latest_books"
	OpRandom           = "random_books"
	OpLastVisited      = "last_visited_books"
	OpForgotten        = "forgotten_books"
	OpToday            = "todays_books"
	OpVisitHistory     = "visit_history"
	OpList             = "book_list"
	OpRelated          = "related_books"
	OpCollectionStatus = "book_collection_status"
)

const (
	ttlDetail       = 24 * time.Hour
	ttlLatest       = 24 * time.Hour
	ttlRandom       = time.Hour
	ttlLastVisited  = 2 * time.Minute
	ttlForgotten    = time.Hour
	ttlToday        = 24 * time.Hour
	ttlVisitHistory = time.Hour
	ttlList         = time.Hour
	ttlRelated      = time.Hour
	ttlStatus       = 24 * time.Hour
)

const (
	MaxCount          = 10
	DefaultPoolSize   = 800
	DefaultPerPage    = 20
	MaxPerPage        = 100
	MaxPage           = 100000
	DefaultDays       = 30
	MaxDays           = 365
	MaxTagLength      = 20
	WildcardValue     = "-"
	defaultSearchType = "title"
)

// Repository доступ к книгам, который нужен сервису.
type Repository interface {
	domain.VisitRepo
	NewQuery() *query.Builder
	Find(ctx context.Context, b *query.Builder) ([]domain.BookResult, error)
	FindOne(ctx context.Context, b *query.Builder) (domain.BookResult, error)
	Count(ctx context.Context, b *query.Builder) (int, error)
	ResolveID(ctx context.Context, bookID string) (int64, error)
	AddTags(ctx context.Context, id int64, tags []string) (domain.TagsResult, error)
	CollectionStatus(ctx context.Context) (domain.CollectionStatus, error)
}

// Ranker отбирает похожие книги из пула.
type Ranker interface {
	Rank(source domain.BookResult, pool []domain.BookResult, count int) ranker.Result
}

// Service отдаёт книги через кэш и досчитывает свежую статистику посещений.
type Service struct {
	repo     Repository
	cache    domain.Cache
	ranker   Ranker
	log      zerolog.Logger
	now      func() time.Time
	poolSize int
}

// Option настраивает Service.
type Option func(*Service)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// WithClock подменяет часы для расчёта дат и days_since_visit.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRanker(r Ranker) Option {
	return func(s *Service) { s.ranker = r }
}

// WithPoolSize ограничивает пул кандидатов для похожих книг.
func WithPoolSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// NewService создаёт сервис книг.
func NewService(repo Repository, c domain.Cache, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		cache:    c,
		ranker:   ranker.NewDiscovery(nil),
		log:      zerolog.Nop(),
		now:      time.Now,
		poolSize: DefaultPoolSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeCount приводит размер выдачи к 1..10.
func NormalizeCount(n int) int {
	if n <= 0 {
		return 1
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

func (s *Service) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.SetJSON(ctx, key, value, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("не удалось записать в кэш")
	}
}

// overlay подставляет свежие total_visits и last_visited одним запросом на всю
// выдачу. При сбое поля обнуляются, а выдача отдаётся без них.
func (s *Service) overlay(ctx context.Context, op string, books []domain.BookResult) {
	if len(books) == 0 {
		return
	}
	ids := make([]int64, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	stats, err := s.repo.VisitStats(ctx, ids)
	if err != nil {
		metrics.IncOverlayFailure(op)
		s.log.Warn().Err(err).Str("operation", op).Msg("статистика посещений недоступна, отдаём без неё")
		for i := range books {
			mask := domain.VisitFields
			if books[i].Has(domain.FieldDaysSinceVisit) {
				mask |= domain.FieldDaysSinceVisit
			}
			books[i].SetNull(mask)
		}
		return
	}
	now := s.now()
	for i := range books {
		st := stats[books[i].ID]
		books[i].SetTotalVisits(st.TotalVisits)
		if st.LastVisited == nil {
			books[i].SetNull(domain.FieldLastVisited)
			if books[i].Has(domain.FieldDaysSinceVisit) {
				books[i].SetNull(domain.FieldDaysSinceVisit)
			}
			continue
		}
		books[i].SetLastVisited(*st.LastVisited)
		if books[i].Has(domain.FieldDaysSinceVisit) {
			books[i].SetDaysSinceVisit(int64(now.Sub(*st.LastVisited).Hours() / 24))
		}
	}
}

// BookDetail карточка книги с тегами и рецензиями.
func (s *Service) BookDetail(ctx context.Context, bookID string, force bool) (domain.Envelope[domain.BookResult], error) {
	var out domain.Envelope[domain.BookResult]
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return out, fmt.Errorf("%w: пустой bookid", domain.ErrValidation)
	}
	key := cache.Key(OpBookDetail, bookID)
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
	} else {
		q := s.repo.NewQuery().
			IncludeFields(query.GroupPurchase, query.GroupDetails, query.GroupRich).
			ByBookID(bookID)
		book, err := s.repo.FindOne(ctx, q)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return out, err
			}
			return out, fmt.Errorf("книга %s: %w", bookID, err)
		}
		out.Data = book
		s.store(ctx, key, book, ttlDetail)
	}
	books := []domain.BookResult{out.Data}
	s.overlay(ctx, OpBookDetail, books)
	out.Data = books[0]
	return out, nil
}

type listSpec struct {
	op    string
	ttl   time.Duration
	build func(b *query.Builder, n int) *query.Builder
}

var listSpecs = map[string]listSpec{
	OpLatest: {OpLatest, ttlLatest, func(b *query.Builder, n int) *query.Builder {
		return b.IncludeFields(query.GroupPurchase).Latest(n)
	}},
	OpRandom: {OpRandom, ttlRandom, func(b *query.Builder, n int) *query.Builder {
		return b.IncludeFields(query.GroupPurchase).Random(n)
	}},
	OpLastVisited: {OpLastVisited, ttlLastVisited, func(b *query.Builder, n int) *query.Builder {
		return b.LastVisited(n)
	}},
	OpForgotten: {OpForgotten, ttlForgotten, func(b *query.Builder, n int) *query.Builder {
		return b.IncludeFields(query.GroupPurchase, query.GroupComputed).Forgotten(n)
	}},
}

func (s *Service) list(ctx context.Context, spec listSpec, count int, force bool) (domain.Envelope[[]domain.BookResult], error) {
	var out domain.Envelope[[]domain.BookResult]
	n := NormalizeCount(count)
	key := cache.Key(spec.op, n)
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
	} else {
		books, err := s.repo.Find(ctx, spec.build(s.repo.NewQuery(), n))
		if err != nil {
			return out, fmt.Errorf("%s: %w", spec.op, err)
		}
		if books == nil {
			books = []domain.BookResult{}
		}
		out.Data = books
		s.store(ctx, key, books, spec.ttl)
	}
	s.overlay(ctx, spec.op, out.Data)
	return out, nil
}

// Latest последние купленные книги.
func (s *Service) Latest(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.BookResult], error) {
	return s.list(ctx, listSpecs[OpLatest], count, force)
}

// Random случайные книги; набор меняется не чаще раза в час.
func (s *Service) Random(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.BookResult], error) {
	return s.list(ctx, listSpecs[OpRandom], count, force)
}

// LastVisited недавно посещённые книги.
func (s *Service) LastVisited(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.BookResult], error) {
	return s.list(ctx, listSpecs[OpLastVisited], count, force)
}

// Forgotten давно не посещавшиеся книги.
func (s *Service) Forgotten(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.BookResult], error) {
	return s.list(ctx, listSpecs[OpForgotten], count, force)
}

// Today книги, купленные в этот день в прошлые годы. Нулевые month и day
// означают сегодняшнюю дату.
func (s *Service) Today(ctx context.Context, month, day int, force bool) (domain.Envelope[[]domain.BookResult], domain.DateInfo, error) {
	var out domain.Envelope[[]domain.BookResult]
	now := s.now()
	if month == 0 && day == 0 {
		month, day = int(now.Month()), now.Day()
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return out, domain.DateInfo{}, fmt.Errorf("%w: некорректная дата %d-%d", domain.ErrValidation, month, day)
	}
	info := domain.DateInfo{
		RequestedDate: fmt.Sprintf("%04d-%02d-%02d", now.Year(), month, day),
		MonthDay:      fmt.Sprintf("%02d-%02d", month, day),
		IsToday:       int(now.Month()) == month && now.Day() == day,
	}
	key := cache.Key(OpToday, fmt.Sprintf("%02d", month), fmt.Sprintf("%02d", day))
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
	} else {
		q := s.repo.NewQuery().IncludeFields(query.GroupPurchase).TodaysBooks(month, day)
		books, err := s.repo.Find(ctx, q)
		if err != nil {
			return out, info, fmt.Errorf("%s: %w", OpToday, err)
		}
		if books == nil {
			books = []domain.BookResult{}
		}
		out.Data = books
		s.store(ctx, key, books, ttlToday)
	}
	s.overlay(ctx, OpToday, out.Data)
	return out, info, nil
}

// normalizeDays приводит окно истории к 1..MaxDays, по умолчанию DefaultDays.
func normalizeDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

type visitHistory struct {
	Days   []domain.DayCount `json:"days"`
	Period domain.PeriodInfo `json:"period"`
}

// VisitHistory посещения по дням за последние days дней, пустые дни с нулём.
func (s *Service) VisitHistory(ctx context.Context, days int, force bool) (domain.Envelope[[]domain.DayCount], domain.PeriodInfo, error) {
	var out domain.Envelope[[]domain.DayCount]
	days = normalizeDays(days)
	now := s.now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	key := cache.Key(OpVisitHistory, days, end.Format(domain.DateLayout))
	var cached visitHistory
	if !force && s.cache.GetJSON(ctx, key, &cached) {
		out.Data, out.FromCache = cached.Days, true
		return out, cached.Period, nil
	}

	start := end.AddDate(0, 0, -(days - 1))
	rows, err := s.repo.VisitsByDay(ctx, start)
	if err != nil {
		return out, domain.PeriodInfo{}, fmt.Errorf("%s: %w", OpVisitHistory, err)
	}
	byDay := make(map[string]int64, len(rows))
	for _, r := range rows {
		byDay[r.Date] = r.Visits
	}
	h := visitHistory{Days: make([]domain.DayCount, 0, days)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(domain.DateLayout)
		h.Days = append(h.Days, domain.DayCount{Date: date, Visits: byDay[date]})
		h.Period.TotalVisits += byDay[date]
	}
	h.Period.Start = start.Format(domain.DateLayout)
	h.Period.End = end.Format(domain.DateLayout)
	h.Period.TotalDays = days
	s.store(ctx, key, h, ttlVisitHistory)
	out.Data = h.Days
	return out, h.Period, nil
}

// ListParams параметры постраничного поиска.
type ListParams struct {
	Type    string
	Value   string
	Page    int
	PerPage int
}

func (p ListParams) normalize() (ListParams, error) {
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.Type == "" {
		p.Type = defaultSearchType
	}
	switch p.Type {
	case "author", "title", "tags", "misc", "id":
	default:
		return p, fmt.Errorf("%w: invalid type %q", domain.ErrValidation, p.Type)
	}
	p.Value = strings.TrimSpace(p.Value)
	if p.Value == "" {
		p.Value = WildcardValue
	}
	switch {
	case p.Page < 1:
		p.Page = 1
	case p.Page > MaxPage:
		return p, fmt.Errorf("%w: page %d", domain.ErrValidation, p.Page)
	}
	switch {
	case p.PerPage <= 0:
		p.PerPage = DefaultPerPage
	case p.PerPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p, nil
}

func (p ListParams) apply(b *query.Builder) *query.Builder {
	if p.Value == WildcardValue {
		return b
	}
	switch p.Type {
	case "author":
		return b.SearchByAuthor(p.Value)
	case "tags":
		return b.SearchByTag(p.Value)
	case "misc":
		return b.SearchMisc(p.Value)
	case "id":
		return b.ByBookID(p.Value)
	default:
		return b.SearchByTitle(p.Value)
	}
}

type page struct {
	Books []domain.BookResult `json:"books"`
	Total int                 `json:"total"`
}

// List постраничный поиск по автору, названию, тегу, подстроке или bookid.
func (s *Service) List(ctx context.Context, params ListParams, force bool) (domain.Envelope[[]domain.BookResult], domain.Pagination, error) {
	var out domain.Envelope[[]domain.BookResult]
	p, err := params.normalize()
	if err != nil {
		return out, domain.Pagination{}, err
	}
	key := cache.Key(OpList, p.Type, p.Value, p.Page, p.PerPage)
	var cached page
	if !force && s.cache.GetJSON(ctx, key, &cached) {
		out.FromCache = true
	} else {
		total, err := s.repo.Count(ctx, p.apply(s.repo.NewQuery()))
		if err != nil {
			return out, domain.Pagination{}, fmt.Errorf("%s: %w", OpList, err)
		}
		q := p.apply(s.repo.NewQuery().IncludeFields(query.GroupPurchase)).
			OrderByIDDesc().
			Page(p.Page, p.PerPage)
		books, err := s.repo.Find(ctx, q)
		if err != nil {
			return out, domain.Pagination{}, fmt.Errorf("%s: %w", OpList, err)
		}
		if books == nil {
			books = []domain.BookResult{}
		}
		cached = page{Books: books, Total: total}
		s.store(ctx, key, cached, ttlList)
	}
	out.Data = cached.Books
	s.overlay(ctx, OpList, out.Data)
	return out, domain.NewPagination(p.Page, p.PerPage, cached.Total), nil
}

// CleanTags обрезает пробелы и проверяет теги перед записью.
func CleanTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: список тегов пуст", domain.ErrValidation)
	}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return nil, fmt.Errorf("%w: пустой тег", domain.ErrValidation)
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, fmt.Errorf("%w: тег %q длиннее %d символов", domain.ErrValidation, tag, MaxTagLength)
		}
		out = append(out, tag)
	}
	return out, nil
}

// AddTags добавляет теги и сбрасывает зависящие от них записи кэша.
func (s *Service) AddTags(ctx context.Context, bookID string, tags []string) (domain.TagsResult, error) {
	cleaned, err := CleanTags(tags)
	if err != nil {
		return domain.TagsResult{}, err
	}
	id, err := s.repo.ResolveID(ctx, bookID)
	if err != nil {
		return domain.TagsResult{}, err
	}
	res, err := s.repo.AddTags(ctx, id, cleaned)
	if err != nil {
		return domain.TagsResult{}, fmt.Errorf("теги книги %s: %w", bookID, err)
	}
	if len(res.Added) == 0 {
		return res, nil
	}
	if err := s.cache.Delete(ctx, cache.Key(OpBookDetail, bookID)); err != nil {
		s.log.Warn().Err(err).Str("bookid", bookID).Msg("не удалось сбросить карточку книги")
	}
	for _, op := range []string{OpList, OpRelated} {
		if _, err := s.cache.DeletePrefix(ctx, cache.Prefix(op)); err != nil {
			s.log.Warn().Err(err).Str("operation", op).Msg("не удалось сбросить кэш")
		}
	}
	return res, nil
}

// CollectionStatus агрегаты по коллекции.
func (s *Service) CollectionStatus(ctx context.Context, force bool) (domain.Envelope[domain.CollectionStatus], error) {
	var out domain.Envelope[domain.CollectionStatus]
	key := OpCollectionStatus
	if !force && s.cache.GetJSON(ctx, key, &out.Data) {
		out.FromCache = true
		return out, nil
	}
	st, err := s.repo.CollectionStatus(ctx)
	if err != nil {
		return out, fmt.Errorf("%s: %w", OpCollectionStatus, err)
	}
	out.Data = st
	s.store(ctx, key, st, ttlStatus)
	return out, nil
}

// ClearBookCache сбрасывает карточку книги и её похожие книги.
func (s *Service) ClearBookCache(ctx context.Context, bookID string) error {
	if err := s.cache.Delete(ctx, cache.Key(OpBookDetail, bookID)); err != nil {
		return err
	}
	_, err := s.cache.DeletePrefix(ctx, cache.Key(OpRelated, bookID)+cache.KeySeparator)
	return err
}

// ClearListCache сбрасывает записи операции. count адресует один вариант
// у выдач по количеству и у истории посещений (число дней); у остальных
// операций count не участвует в ключе и сбрасываются все варианты.
// Возвращает число реально удалённых записей.
func (s *Service) ClearListCache(ctx context.Context, op string, count int) (int, error) {
	switch op {
	case OpLatest, OpRandom, OpLastVisited, OpForgotten:
		if count > 0 {
			return s.deleteKey(ctx, cache.Key(op, NormalizeCount(count)))
		}
	case OpVisitHistory:
		if count > 0 {
			return s.cache.DeletePrefix(ctx, cache.Key(op, normalizeDays(count))+cache.KeySeparator)
		}
	case OpCollectionStatus:
		return s.deleteKey(ctx, cache.Key(op))
	}
	return s.cache.DeletePrefix(ctx, cache.Prefix(op))
}

func (s *Service) deleteKey(ctx context.Context, key string) (int, error) {
	if !s.cache.Has(ctx, key) {
		return 0, nil
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return 0, err
	}
	return 1, nil
}

// ClearAll очищает кэш полностью.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.cache.Clear(ctx)
}
