package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"weekplan/internal/api"
	"weekplan/internal/autorun"
	"weekplan/internal/config"
	"weekplan/internal/engine"
	"weekplan/internal/lock"
	"weekplan/internal/notify"
	"weekplan/internal/observability"
	"weekplan/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	shutdownTracing, err := observability.InitTracing("weekplan", cfg.OtelExporter)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DB)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	repo := store.NewSQLiteRepo(db)

	ctx, cancel := context.WithCancel(context.Background())

	opts := engine.Options{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		opts.Locker = lock.NewRedis(rdb, lock.RedisConfig{Key: cfg.LockKey, TTL: cfg.LockTTL})
		log.Info().Str("addr", cfg.RedisAddr).Str("key", cfg.LockKey).Msg("using redis run lock")
	}
	if cfg.WebhookURL != "" {
		d := notify.NewDispatcher(notify.Webhook{URL: cfg.WebhookURL}, 2, 5)
		go d.Run(ctx)
		opts.Reporter = d
	}
	sched := engine.NewScheduler(repo, opts)

	if cfg.AutoCron != "" {
		svc, err := autorun.NewService(sched, cfg.AutoCron, cfg.Horizon)
		if err != nil {
			log.Fatal().Err(err).Str("cron_expr", cfg.AutoCron).Msg("auto scheduling")
		}
		go func() {
			if err := svc.Start(ctx); err != nil {
				log.Error().Err(err).Msg("auto scheduling stopped")
			}
		}()
	}

	// HTTP server
	handler := api.NewServer(repo, sched, api.Options{Horizon: cfg.Horizon, EnableDebug: cfg.Debug})
	srv := &http.Server{Addr: cfg.Addr, Handler: handler}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("db", cfg.DB).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	if err := shutdownTracing(ctxTimeout); err != nil {
		log.Warn().Err(err).Msg("flush traces")
	}
}
