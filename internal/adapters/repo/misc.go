package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/metrics"
)

func (l *Library) count(ctx context.Context, table string) (int, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var n int
	start := time.Now()
	err := l.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table)
	metrics.ObserveNetworkRequest("sql", "count", table, start, err)
	return n, err
}

// CountQuotes число цитат.
func (l *Library) CountQuotes(ctx context.Context) (int, error) {
	return l.count(ctx, "qotd")
}

// CountWords число слов.
func (l *Library) CountWords(ctx context.Context) (int, error) {
	return l.count(ctx, "wotd")
}

// QuoteAt цитата по смещению в порядке id.
func (l *Library) QuoteAt(ctx context.Context, offset int) (domain.Quote, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var q domain.Quote
	start := time.Now()
	err := l.db.QueryRowxContext(ctx, l.dialect.Rebind("SELECT id, quote, source FROM qotd ORDER BY id LIMIT 1 OFFSET ?"), offset).
		Scan(&q.ID, &q.Quote, &q.Source)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sql", "quote_at", "qotd", start, nil)
		return q, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("sql", "quote_at", "qotd", start, err)
	return q, err
}

// WordAt слово по смещению в порядке id.
func (l *Library) WordAt(ctx context.Context, offset int) (domain.Word, error) {
	ctx, cancel := l.connCtx(ctx)
	defer cancel()
	var w domain.Word
	start := time.Now()
	err := l.db.QueryRowxContext(ctx, l.dialect.Rebind("SELECT id, word, meaning, sentence, type FROM wotd ORDER BY id LIMIT 1 OFFSET ?"), offset).
		Scan(&w.ID, &w.Word, &w.Meaning, &w.Sentence, &w.Type)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sql", "word_at", "wotd", start, nil)
		return w, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("sql", "word_at", "wotd", start, err)
	return w, err
}
