package repo

import (
	"context"
	"time"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
)

const readingsSQL = `
SELECT r.id, r.title, r.datein, r.uri, r.feature, b.bookid, b.title AS book_title
FROM book_review r
INNER JOIN book_headline h ON r.hid = h.hid
INNER JOIN book_book b ON h.bid = b.id
WHERE h.display = 1
ORDER BY r.datein DESC, r.id DESC
LIMIT ? OFFSET ?`

// ReadingSummary сводка по опубликованным рецензиям.
func (l *Library) ReadingSummary(ctx context.Context) (domain.ReadingSummary, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var s domain.ReadingSummary
	start := time.Now()
	err := l.db.GetContext(ctx, &s.BooksRead, "SELECT COUNT(bid) FROM book_headline WHERE display = 1")
	metrics.ObserveNetworkRequest("sql", "reading_summary", "book_headline", start, err)
	if err != nil {
		return s, err
	}
	start = time.Now()
	err = l.db.GetContext(ctx, &s.ReviewsWritten, "SELECT COUNT(*) FROM book_review")
	metrics.ObserveNetworkRequest("sql", "reading_summary", "book_review", start, err)
	if err != nil {
		return s, err
	}
	var earliest, latest any
	start = time.Now()
	err = l.db.QueryRowxContext(ctx, "SELECT MIN(create_at), MAX(create_at) FROM book_headline WHERE display = 1").
		Scan(&earliest, &latest)
	metrics.ObserveNetworkRequest("sql", "reading_summary", "book_headline", start, err)
	if err != nil {
		return s, err
	}
	first, okFirst := query.AsTime(earliest)
	last, okLast := query.AsTime(latest)
	if okFirst {
		v := first.Format(domain.DateLayout)
		s.ReadingPeriod.EarliestDate = &v
	}
	if okLast {
		v := last.Format(domain.DateLayout)
		s.ReadingPeriod.LatestDate = &v
	}
	if okFirst && okLast {
		s.ReadingPeriod.TotalDays = int(last.Sub(first).Hours() / 24)
	}
	return s, nil
}

func (l *Library) readings(ctx context.Context, op string, limit, offset int) ([]domain.Reading, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := l.db.QueryxContext(ctx, l.dialect.Rebind(readingsSQL), limit, offset)
	if err != nil {
		metrics.ObserveNetworkRequest("sql", op, "book_review", start, err)
		return nil, err
	}
	defer rows.Close()
	out := []domain.Reading{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		id, _ := query.AsInt64(row["id"])
		datein := query.AsString(row["datein"])
		if t, ok := query.AsTime(row["datein"]); ok {
			datein = t.Format(domain.DateLayout)
		}
		bookID := query.AsString(row["bookid"])
		out = append(out, domain.Reading{
			ID:        id,
			Title:     query.AsString(row["title"]),
			DateIn:    datein,
			URI:       query.AsString(row["uri"]),
			Feature:   query.AsString(row["feature"]),
			BookID:    bookID,
			BookTitle: query.AsString(row["book_title"]),
			CoverURI:  domain.CoverURI(bookID),
		})
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("sql", op, "book_review", start, err)
	return out, err
}

// LatestReadings последние рецензии.
func (l *Library) LatestReadings(ctx context.Context, limit int) ([]domain.Reading, error) {
	return l.readings(ctx, "latest_readings", limit, 0)
}

// Reviews страница рецензий.
func (l *Library) Reviews(ctx context.Context, limit, offset int) ([]domain.Reading, error) {
	return l.readings(ctx, "reviews", limit, offset)
}

// CountReviews число опубликованных рецензий.
func (l *Library) CountReviews(ctx context.Context) (int, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var n int
	start := time.Now()
	err := l.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM book_review r INNER JOIN book_headline h ON r.hid = h.hid WHERE h.display = 1")
	metrics.ObserveNetworkRequest("sql", "count_reviews", "book_review", start, err)
	return n, err
}
