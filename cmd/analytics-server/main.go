// Command analytics-server exposes a standalone analytics store over HTTP
// (POST /record, GET /aggregates, GET /health, GET /metrics) so several relay
// clients can report completion runs to one place.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klejdi94/relay/analytics"
	"github.com/klejdi94/relay/logging"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	storeKind := flag.String("store", "memory", "Store: memory, postgres, redis")
	maxRecords := flag.Int("max", 100000, "Max in-memory records when store=memory (0 = unbounded)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN when store=postgres (or RELAY_ANALYTICS_DSN env)")
	redisAddr := flag.String("redis", "", "Redis address when store=redis (or RELAY_REDIS_ADDR env)")
	redisKey := flag.String("redis-key", "", "Redis key for runs (default: relay:analytics:runs)")
	pgTable := flag.String("table", "", "Postgres table when store=postgres (default: completion_runs)")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if v := os.Getenv("RELAY_ANALYTICS_DSN"); v != "" && *dsn == "" {
		*dsn = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" && *redisAddr == "" {
		*redisAddr = v
	}

	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(*level)
	log := logging.New(lc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, *storeKind, *maxRecords, *dsn, *redisAddr, *redisKey, *pgTable)
	if err != nil {
		log.Fatal().Err(err).Str("store", *storeKind).Msg("open analytics store")
	}
	defer closeStore()

	srv := analytics.NewServer(store, *addr, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Info().Str("addr", *addr).Str("store", *storeKind).Msg("analytics server listening")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("serve")
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}

func openStore(ctx context.Context, kind string, max int, dsn, redisAddr, redisKey, table string) (analytics.Store, func(), error) {
	switch kind {
	case "memory":
		return analytics.NewMemoryStore(max), func() {}, nil
	case "postgres":
		if dsn == "" {
			return nil, nil, errors.New("postgres store requires -dsn or RELAY_ANALYTICS_DSN")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
		pg, err := analytics.NewPostgresStore(ctx, db, table)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, func() { _ = db.Close() }, nil
	case "redis":
		if redisAddr == "" {
			return nil, nil, errors.New("redis store requires -redis or RELAY_REDIS_ADDR")
		}
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		return analytics.NewRedisStore(rdb, redisKey), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store: " + kind)
	}
}

