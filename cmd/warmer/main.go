package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"rsywx-api/internal/adapters/repo"
	"rsywx-api/internal/infra/cache"
	"rsywx-api/internal/infra/config"
	"rsywx-api/internal/infra/db"
	applog "rsywx-api/internal/infra/log"
	"rsywx-api/internal/infra/metrics"
	"rsywx-api/internal/query"
	"rsywx-api/internal/usecase/books"
	"rsywx-api/internal/usecase/misc"
	"rsywx-api/internal/usecase/reading"
	"rsywx-api/internal/usecase/warm"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("warmer: нет подключения к БД")
	}
	defer conn.Close()
	dialect, err := query.DialectFor(cfg.DB.Driver)
	if err != nil {
		log.Fatal().Err(err).Msg("warmer: диалект БД")
	}
	if cfg.Cache.Backend == "memory" {
		log.Fatal().Msg("warmer: memory кэш не разделяется с api, нужен file или redis")
	}
	backend, err := cache.NewBackend(cache.BackendConfig{
		Kind:      cfg.Cache.Backend,
		Dir:       cfg.Cache.Dir,
		RedisAddr: cfg.Cache.RedisAddr,
		Namespace: cfg.Cache.Namespace,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("warmer: кэш")
	}
	store := cache.NewStore(backend,
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithLogger(applog.Component(logger, "cache")))

	library := repo.NewLibrary(conn, dialect)
	svc := warm.NewService(applog.Component(logger, "warmer"), warm.DefaultTasks(
		books.NewService(library, store, books.WithLogger(applog.Component(logger, "books"))),
		reading.NewService(library, store, applog.Component(logger, "reading")),
		misc.NewService(library, store, applog.Component(logger, "misc"), nil),
	)...)

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
	logger.Info().Dur("interval", cfg.Warmer.Interval).Msg("warmer: старт")
	svc.Loop(ctx, cfg.Warmer.Interval)
	logger.Info().Msg("warmer: остановка")
}
