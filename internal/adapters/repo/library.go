package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
)

// Library реализует репозитории библиотеки поверх sqlx.
type Library struct {
	db      *sqlx.DB
	dialect query.Dialect
	now     func() time.Time
}

var (
	_ domain.VisitRepo   = (*Library)(nil)
	_ domain.ReadingRepo = (*Library)(nil)
	_ domain.MiscRepo    = (*Library)(nil)
)

// Option настраивает Library.
type Option func(*Library)

// WithClock подменяет часы для построителя запросов.
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.now = now }
}

// NewLibrary создаёт адаптер БД.
func NewLibrary(db *sqlx.DB, dialect query.Dialect, opts ...Option) *Library {
	l := &Library{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Library) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// timeArg приводит время к виду, который сравним с колонкой в СУБД.
func (l *Library) timeArg(t time.Time) any {
	if l.dialect.Name == query.SQLite.Name {
		return t.UTC().Format(domain.DateTimeLayout)
	}
	return t
}

// NewQuery создаёт построитель запросов по книгам.
func (l *Library) NewQuery() *query.Builder {
	return query.New(l.dialect, query.WithClock(l.now))
}

// Find выполняет построенный запрос.
func (l *Library) Find(ctx context.Context, b *query.Builder) ([]domain.BookResult, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	return b.Execute(ctx, l.db)
}

// FindOne возвращает первую книгу или ErrNotFound.
func (l *Library) FindOne(ctx context.Context, b *query.Builder) (domain.BookResult, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	book, ok, err := b.First(ctx, l.db)
	if err != nil {
		return domain.BookResult{}, err
	}
	if !ok {
		return domain.BookResult{}, domain.ErrNotFound
	}
	return book, nil
}

// Count считает книги под условия построителя.
func (l *Library) Count(ctx context.Context, b *query.Builder) (int, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	return b.Count(ctx, l.db)
}

// ResolveID возвращает внутренний id книги на полке по внешнему идентификатору.
func (l *Library) ResolveID(ctx context.Context, bookID string) (int64, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var id int64
	start := time.Now()
	err := l.db.GetContext(ctx, &id, l.dialect.Rebind(
		"SELECT id FROM book_book WHERE bookid = ? AND location NOT IN (?, ?)"),
		bookID, query.InvalidLocations[0], query.InvalidLocations[1])
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sql", "resolve_book", "book_book", start, nil)
		return 0, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("sql", "resolve_book", "book_book", start, err)
	if err != nil {
		return 0, fmt.Errorf("поиск книги %s: %w", bookID, err)
	}
	return id, nil
}

// VisitStats считает посещения одним запросом для всех книг.
func (l *Library) VisitStats(ctx context.Context, ids []int64) (map[int64]domain.VisitStats, error) {
	out := make(map[int64]domain.VisitStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(
		"SELECT bookid, COUNT(*) AS total_visits, MAX(visitwhen) AS last_visited FROM book_visit WHERE bookid IN (?) GROUP BY bookid",
		ids)
	if err != nil {
		return nil, err
	}
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := l.db.QueryxContext(ctx, l.dialect.Rebind(q), args...)
	if err != nil {
		metrics.ObserveNetworkRequest("sql", "visit_stats", "book_visit", start, err)
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bookID int64
			total  int64
			last   any
		)
		if err := rows.Scan(&bookID, &total, &last); err != nil {
			return nil, err
		}
		stats := domain.VisitStats{TotalVisits: total}
		if t, ok := query.AsTime(last); ok {
			stats.LastVisited = &t
		}
		out[bookID] = stats
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sql", "visit_stats", "book_visit", start, err)
	return out, err
}

// VisitsByDay группирует посещения по дням начиная с since.
func (l *Library) VisitsByDay(ctx context.Context, since time.Time) ([]domain.DayCount, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	q := fmt.Sprintf(
		"SELECT %s AS day, COUNT(*) AS visits FROM book_visit WHERE visitwhen >= ? GROUP BY 1 ORDER BY 1",
		l.dialect.Day("visitwhen"))
	var out []domain.DayCount
	start := time.Now()
	err := l.db.SelectContext(ctx, &out, l.dialect.Rebind(q), l.timeArg(since))
	metrics.ObserveNetworkRequest("sql", "visits_by_day", "book_visit", start, err)
	return out, err
}

// Tags возвращает теги книги.
func (l *Library) Tags(ctx context.Context, id int64) ([]string, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var tags []string
	start := time.Now()
	err := l.db.SelectContext(ctx, &tags, l.dialect.Rebind("SELECT tag FROM book_taglist WHERE bid = ? ORDER BY tag"), id)
	metrics.ObserveNetworkRequest("sql", "tags", "book_taglist", start, err)
	return tags, err
}

// AddTags добавляет отсутствующие теги в одной транзакции.
func (l *Library) AddTags(ctx context.Context, id int64, tags []string) (domain.TagsResult, error) {
	res := domain.TagsResult{Added: []string{}, Duplicates: []string{}}
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing []string
	if err := tx.SelectContext(ctx, &existing, l.dialect.Rebind("SELECT tag FROM book_taglist WHERE bid = ?"), id); err != nil {
		return res, err
	}
	seen := make(map[string]struct{}, len(existing)+len(tags))
	for _, t := range existing {
		seen[strings.ToLower(t)] = struct{}{}
	}
	insert := l.dialect.Rebind("INSERT INTO book_taglist (bid, tag) VALUES (?, ?)")
	for _, tag := range tags {
		key := strings.ToLower(tag)
		if _, dup := seen[key]; dup {
			res.Duplicates = append(res.Duplicates, tag)
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, id, tag); err != nil {
			return res, err
		}
		seen[key] = struct{}{}
		res.Added = append(res.Added, tag)
	}
	err = tx.Commit()
	metrics.ObserveNetworkRequest("sql", "add_tags", "book_taglist", start, err)
	return res, err
}

// CollectionStatus агрегаты по книгам на полках и посещениям.
func (l *Library) CollectionStatus(ctx context.Context) (domain.CollectionStatus, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var st domain.CollectionStatus
	start := time.Now()
	row := l.db.QueryRowxContext(ctx, l.dialect.Rebind(
		"SELECT COUNT(*), COALESCE(SUM(page), 0), COALESCE(SUM(kword), 0) FROM book_book WHERE location NOT IN (?, ?)"),
		query.InvalidLocations...)
	err := row.Scan(&st.TotalBooks, &st.TotalPages, &st.TotalKWords)
	metrics.ObserveNetworkRequest("sql", "collection_status", "book_book", start, err)
	if err != nil {
		return st, err
	}
	start = time.Now()
	err = l.db.GetContext(ctx, &st.TotalVisits, "SELECT COUNT(*) FROM book_visit")
	metrics.ObserveNetworkRequest("sql", "collection_status", "book_visit", start, err)
	return st, err
}
