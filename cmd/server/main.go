package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/grandtour/internal/config"
	"github.com/playperu/grandtour/internal/database"
	"github.com/playperu/grandtour/internal/engine"
	"github.com/playperu/grandtour/internal/handler/health"
	"github.com/playperu/grandtour/internal/metrics"
	"github.com/playperu/grandtour/internal/migrations"
	"github.com/playperu/grandtour/internal/realtime"
	"github.com/playperu/grandtour/internal/server"
	"github.com/playperu/grandtour/internal/service"
	"github.com/playperu/grandtour/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	version, err := migrations.Version(ctx, db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath, "schema_version", version)

	checks := map[string]health.Checker{"sqlite": health.SQL(db)}

	// --- Events ---
	broker := realtime.NewBroker()
	var (
		events realtime.Publisher = broker
		relay  *realtime.RedisRelay
	)
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", "channel", cfg.RedisChannel)

		relay = realtime.NewRedisRelay(rdb, cfg.RedisChannel, broker, logger)
		events = relay
		checks["redis"] = health.Redis(rdb)
	}

	// --- Race engine ---
	st := store.New(db)
	if cfg.RandomSeed != 0 {
		logger.Info("opponent simulator seeded", "seed", cfg.RandomSeed)
	}
	resolver := engine.NewResolver(st, engine.NewSimulator(cfg.RandomSeed), logger)
	m := metrics.New()
	svc := service.New(st, resolver, events, m, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, server.Deps{
		Logger:  logger,
		Service: svc,
		Broker:  broker,
		Metrics: m,
		SPADir:  cfg.SPADir,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
