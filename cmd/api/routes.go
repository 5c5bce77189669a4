package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"rsywx-api/internal/domain"
	"rsywx-api/internal/infra/cache"
	httpinfra "rsywx-api/internal/infra/http"
	"rsywx-api/internal/usecase/books"
	"rsywx-api/internal/usecase/misc"
	"rsywx-api/internal/usecase/reading"
)

const defaultRelatedCount = 5

// api держит сервисы, которые обслуживают HTTP маршруты.
type api struct {
	books   *books.Service
	reading *reading.Service
	misc    *misc.Service
	store   *cache.Store
	ping    func(ctx context.Context) error
	log     zerolog.Logger
}

// mount регистрирует маршруты. /health доступен без ключа.
func (a *api) mount(r chi.Router, apiKey, version string) {
	r.Get("/health", a.health)
	r.Route("/api/"+version, func(r chi.Router) {
		r.Use(httpinfra.APIKeyMiddleware(apiKey))
		r.Route("/books", func(r chi.Router) {
			r.Get("/status", a.collectionStatus)
			r.Get("/latest", a.bookList(a.books.Latest))
			r.Get("/latest/{count}", a.bookList(a.books.Latest))
			r.Get("/random", a.bookList(a.books.Random))
			r.Get("/random/{count}", a.bookList(a.books.Random))
			r.Get("/last_visited", a.bookList(a.books.LastVisited))
			r.Get("/last_visited/{count}", a.bookList(a.books.LastVisited))
			r.Get("/forgotten", a.bookList(a.books.Forgotten))
			r.Get("/forgotten/{count}", a.bookList(a.books.Forgotten))
			r.Get("/today", a.today)
			r.Get("/today/{month}/{date}", a.today)
			r.Get("/visit_history", a.visitHistory)
			r.Get("/list", a.list)
			r.Get("/list/{page}", a.list)
			r.Get("/list/{type}/{value}/{page}", a.list)
			r.Get("/{bookid}", a.bookDetail)
			r.Get("/{bookid}/related", a.related)
			r.Get("/{bookid}/related/{count}", a.related)
			r.Post("/{bookid}/tags", a.addTags)
		})
		r.Route("/misc", func(r chi.Router) {
			r.Get("/qotd", a.quote)
			r.Get("/wotd", a.word)
		})
		r.Route("/readings", func(r chi.Router) {
			r.Get("/summary", a.readingSummary)
			r.Get("/latest", a.latestReadings)
			r.Get("/latest/{count}", a.latestReadings)
			r.Get("/reviews", a.reviews)
			r.Get("/reviews/{page}", a.reviews)
		})
		r.Route("/admin/cache", func(r chi.Router) {
			r.Post("/clear", a.clearCache)
			r.Get("/stats", a.cacheStats)
		})
	})
}

func force(r *http.Request) bool {
	return r.URL.Query().Get("refresh") == "true"
}

// intParam читает целый параметр пути, отсутствие даёт def.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		raw = r.URL.Query().Get(name)
	}
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s должен быть числом", domain.ErrValidation, name)
	}
	return n, nil
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrValidation):
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Str("path", r.URL.Path).Msg("api: ошибка обработки")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbState := "ok"
	if a.ping != nil {
		if err := a.ping(r.Context()); err != nil {
			a.log.Warn().Err(err).Msg("health: БД недоступна")
			status, dbState = http.StatusServiceUnavailable, "unavailable"
		}
	}
	httpinfra.WriteJSON(w, status, map[string]any{
		"success": status == http.StatusOK,
		"status":  dbState,
		"cache":   a.store.Backend(),
	})
}

type listFunc func(ctx context.Context, count int, force bool) (domain.Envelope[[]domain.BookResult], error)

func (a *api) bookList(fn listFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := intParam(r, "count", 1)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		res, err := fn(r.Context(), count, force(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
	}
}

func (a *api) collectionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := a.books.CollectionStatus(r.Context(), force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) today(w http.ResponseWriter, r *http.Request) {
	month, err := intParam(r, "month", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	day, err := intParam(r, "date", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, info, err := a.books.Today(r.Context(), month, day, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache).With("date_info", info))
}

func (a *api) visitHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", books.DefaultDays)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, period, err := a.books.VisitHistory(r.Context(), days, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache).With("period_info", period))
}

func (a *api) list(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	perPage, err := intParam(r, "per_page", books.DefaultPerPage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	params := books.ListParams{
		Type:    chi.URLParam(r, "type"),
		Value:   chi.URLParam(r, "value"),
		Page:    page,
		PerPage: perPage,
	}
	res, p, err := a.books.List(r.Context(), params, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache).With("pagination", p))
}

func (a *api) bookDetail(w http.ResponseWriter, r *http.Request) {
	res, err := a.books.BookDetail(r.Context(), chi.URLParam(r, "bookid"), force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) related(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", defaultRelatedCount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.books.Related(r.Context(), chi.URLParam(r, "bookid"), count, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data.Books, res.FromCache).
		With("categories", res.Data.Categories).
		With("discovery_info", res.Data.DiscoveryInfo))
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (a *api) addTags(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := a.books.AddTags(r.Context(), chi.URLParam(r, "bookid"), req.Tags)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res, false))
}

func (a *api) quote(w http.ResponseWriter, r *http.Request) {
	res, err := a.misc.QuoteOfTheDay(r.Context(), force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) word(w http.ResponseWriter, r *http.Request) {
	res, err := a.misc.WordOfTheDay(r.Context(), force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) readingSummary(w http.ResponseWriter, r *http.Request) {
	res, err := a.reading.Summary(r.Context(), force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) latestReadings(w http.ResponseWriter, r *http.Request) {
	count, err := intParam(r, "count", reading.DefaultLatest)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.reading.Latest(r.Context(), count, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache))
}

func (a *api) reviews(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, p, err := a.reading.Reviews(r.Context(), page, force(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(res.Data, res.FromCache).With("pagination", p))
}

var clearScopes = map[string]string{
	"latest":       books.OpLatest,
	"random":       books.OpRandom,
	"last_visited": books.OpLastVisited,
	"forgotten":    books.OpForgotten,
	"today":        books.OpToday,
	"list":         books.OpList,
	"related":      books.OpRelated,
	"history":      books.OpVisitHistory,
	"status":       books.OpCollectionStatus,
}

func (a *api) clearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "all"
	}
	var (
		removed int
		err     error
	)
	switch scope {
	case "all":
		err = a.books.ClearAll(ctx)
		removed = -1
	case "book":
		bookID := r.URL.Query().Get("bookid")
		if bookID == "" {
			httpinfra.WriteError(w, http.StatusBadRequest, "bookid is required")
			return
		}
		err = a.books.ClearBookCache(ctx, bookID)
	case "readings":
		err = a.reading.Clear(ctx)
	default:
		op, ok := clearScopes[scope]
		if !ok {
			httpinfra.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown scope %q", scope))
			return
		}
		count, perr := intParam(r, "count", 0)
		if perr != nil {
			a.fail(w, r, perr)
			return
		}
		removed, err = a.books.ClearListCache(ctx, op, count)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info().Str("scope", scope).Int("removed", removed).Msg("api: кэш очищен")
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(map[string]any{"scope": scope, "removed": removed}, false))
}

func (a *api) cacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, httpinfra.Success(st, false))
}
