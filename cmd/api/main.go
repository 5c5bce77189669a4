package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"rsywx-api/internal/adapters/ranker"
	"rsywx-api/internal/adapters/repo"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/infra/config"
	"rsywx-api/internal/infra/db"
	httpinfra "rsywx-api/internal/infra/http"
	applog "rsywx-api/internal/infra/log"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
	"rsywx-api/internal/usecase/books"
	"rsywx-api/internal/usecase/misc"
	"rsywx-api/internal/usecase/reading"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer conn.Close()
	dialect, err := query.DialectFor(cfg.DB.Driver)
	if err != nil {
		log.Fatal().Err(err).Msg("api: диалект БД")
	}

	backend, err := cache.NewBackend(cache.BackendConfig{
		Kind:      cfg.Cache.Backend,
		Dir:       cfg.Cache.Dir,
		RedisAddr: cfg.Cache.RedisAddr,
		Namespace: cfg.Cache.Namespace,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("api: кэш")
	}
	store := cache.NewStore(backend,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithLogger(applog.Component(logger, "cache")))

	library := repo.NewLibrary(conn, dialect)
	a := &api{
		books: books.NewService(library, store,
			books.WithLogger(applog.Component(logger, "books")),
			books.WithRanker(ranker.NewDiscovery(nil)),
			books.WithPoolSize(cfg.Related.PoolSize)),
		reading: reading.NewService(library, store, applog.Component(logger, "reading")),
		misc:    misc.NewService(library, store, applog.Component(logger, "misc"), time.Now),
		store:   store,
		ping:    conn.PingContext,
		log:     applog.Component(logger, "api"),
	}
	if cfg.API.Key == "" {
		logger.Warn().Msg("api: API_KEY не задан, проверка ключа отключена")
	}

	srv := httpinfra.NewServer(applog.Component(logger, "http"), httpinfra.Options{Dev: cfg.IsDev()})
	a.mount(srv.Router, cfg.API.Key, cfg.API.Version)

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
