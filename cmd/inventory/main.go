package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-stock-orders/internal/config"
	"github.com/ariefcatur/go-stock-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/logx"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/postgres"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/ariefcatur/go-stock-orders/internal/sqlite"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}
	service := cfg.ServiceName + "-inventory"
	log := logx.New(os.Stdout, service, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store open")
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: low stock
	bus := kafkax.NewBus(cfg.KafkaBrokers, []string{orders.TopicLowStock}, 1024, log)
	bus.Start()
	defer bus.Close()

	w := &inventory.Watcher{
		Store:       store,
		Dedup:       redisx.NewDeduper(rdb, "inventory"),
		Throttle:    redisx.NewThrottle(rdb, cfg.LowStockDedupTTL),
		Bus:         bus,
		ServiceName: service,
		Log:         log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicOrderCreated, cfg.InventoryWorkers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("group", cfg.InventoryGroup).
			Str("topic", orders.TopicOrderCreated).
			Int("workers", cfg.InventoryWorkers).
			Msg("inventory consumer started")
		return cons.Start(gctx, w.HandleOrderCreated)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
	log.Info().Msg("shutting down consumer...")
}

func openStore(ctx context.Context, cfg config.Config) (inventory.LowStockReader, func(), error) {
	if cfg.StoreDriver == "sqlite" {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewStore(db), func() { _ = db.Close() }, nil
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewStore(pool), pool.Close, nil
}
