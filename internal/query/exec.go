package query

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/metrics"
)

// Querier то, что умеет выполнять запросы: *sqlx.DB или *sqlx.Tx.
type Querier interface {
	sqlx.QueryerContext
}

func (b *Builder) operation() string {
	if b.mode == ModeNone {
		return "books_filter"
	}
	return "books_" + string(b.mode)
}

// Execute выполняет запрос и собирает книги. При подключённых группах
// tags или rich теги и рецензии догружаются отдельными запросами.
func (b *Builder) Execute(ctx context.Context, q Querier) ([]domain.BookResult, error) {
	sql, args, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := q.QueryxContext(ctx, sql, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("sql", b.operation(), baseTable, start, err)
		return nil, errors.Join(ErrExecutingQuery, err)
	}
	defer rows.Close()

	var out []domain.BookResult
	seen := make(map[int64]struct{})
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			metrics.ObserveNetworkRequest("sql", b.operation(), baseTable, start, err)
			return nil, errors.Join(ErrScanningQueryRow, err)
		}
		book := MapBook(row)
		if _, dup := seen[book.ID]; dup {
			continue
		}
		seen[book.ID] = struct{}{}
		out = append(out, book)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sql", b.operation(), baseTable, start, err)
	if err != nil {
		return nil, errors.Join(ErrScanningQueryRow, err)
	}

	if b.Includes(GroupTags) || b.Includes(GroupRich) {
		if err := loadTags(ctx, q, b.dialect, out); err != nil {
			return nil, err
		}
	}
	if b.Includes(GroupRich) {
		if err := loadReviews(ctx, q, b.dialect, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// First выполняет запрос с LIMIT 1.
func (b *Builder) First(ctx context.Context, q Querier) (domain.BookResult, bool, error) {
	books, err := b.Limit(1).Execute(ctx, q)
	if err != nil || len(books) == 0 {
		return domain.BookResult{}, false, err
	}
	return books[0], true, nil
}

// Count считает различные книги, подходящие под условия.
func (b *Builder) Count(ctx context.Context, q Querier) (int, error) {
	sql, args, err := b.CountSQL()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	var total int
	err = q.QueryRowxContext(ctx, sql, args...).Scan(&total)
	metrics.ObserveNetworkRequest("sql", b.operation()+"_count", baseTable, start, err)
	if err != nil {
		return 0, errors.Join(ErrExecutingQuery, err)
	}
	return total, nil
}

func bookIDs(books []domain.BookResult) []int64 {
	ids := make([]int64, 0, len(books))
	for _, book := range books {
		ids = append(ids, book.ID)
	}
	return ids
}

func loadTags(ctx context.Context, q Querier, d Dialect, books []domain.BookResult) error {
	if len(books) == 0 {
		return nil
	}
	sql, args, err := goqu.Dialect(d.Name).
		From("book_taglist").
		Select("bid", "tag").
		Where(goqu.C("bid").In(bookIDs(books))).
		Order(goqu.C("tag").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.Join(ErrBuildingQuery, err)
	}
	start := time.Now()
	rows, err := q.QueryxContext(ctx, sql, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("sql", "tags", "book_taglist", start, err)
		return errors.Join(ErrExecutingQuery, err)
	}
	defer rows.Close()

	tags := make(map[int64][]string, len(books))
	for rows.Next() {
		var bid int64
		var tag string
		if err := rows.Scan(&bid, &tag); err != nil {
			return errors.Join(ErrScanningQueryRow, err)
		}
		tags[bid] = append(tags[bid], tag)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sql", "tags", "book_taglist", start, err)
	if err != nil {
		return errors.Join(ErrScanningQueryRow, err)
	}
	for i := range books {
		books[i].SetTags(tags[books[i].ID])
	}
	return nil
}

func loadReviews(ctx context.Context, q Querier, d Dialect, books []domain.BookResult) error {
	if len(books) == 0 {
		return nil
	}
	sql, args, err := goqu.Dialect(d.Name).
		From(goqu.T("book_review").As("r")).
		InnerJoin(goqu.T("book_headline").As("h"), goqu.On(goqu.L("r.hid = h.hid"))).
		Select(
			goqu.L("h.bid").As("bid"),
			goqu.L("r.title").As("title"),
			goqu.L("r.datein").As("datein"),
			goqu.L("r.uri").As("uri"),
			goqu.L("r.feature").As("feature"),
		).
		Where(goqu.L("h.bid").In(bookIDs(books)), goqu.L("h.display = 1")).
		Order(goqu.L("r.datein").Desc(), goqu.L("r.id").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.Join(ErrBuildingQuery, err)
	}
	start := time.Now()
	rows, err := q.QueryxContext(ctx, sql, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("sql", "reviews", "book_review", start, err)
		return errors.Join(ErrExecutingQuery, err)
	}
	defer rows.Close()

	reviews := make(map[int64][]domain.Review, len(books))
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return errors.Join(ErrScanningQueryRow, err)
		}
		bid, _ := AsInt64(row["bid"])
		datein := ""
		if t, ok := AsTime(row["datein"]); ok {
			datein = t.Format(domain.DateLayout)
		}
		reviews[bid] = append(reviews[bid], domain.Review{
			Title:   AsString(row["title"]),
			DateIn:  datein,
			URI:     AsString(row["uri"]),
			Feature: AsString(row["feature"]),
		})
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sql", "reviews", "book_review", start, err)
	if err != nil {
		return errors.Join(ErrScanningQueryRow, err)
	}
	for i := range books {
		books[i].SetReviews(reviews[books[i].ID])
	}
	return nil
}
