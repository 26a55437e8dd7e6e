package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-orders/internal/checkout"
	"github.com/ariefcatur/go-stock-orders/internal/config"
	"github.com/ariefcatur/go-stock-orders/internal/httpx"
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
	log := logx.New(os.Stdout, cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store open")
	}
	defer closeStore()

	prices, err := checkout.ParsePriceSource(cfg.PriceSource)
	if err != nil {
		log.Fatal().Err(err).Msg("PRICE_SOURCE")
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	bus := kafkax.NewBus(cfg.KafkaBrokers, []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged}, 1024, log)
	bus.Start()

	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Checkout:  checkout.NewCoordinator(store, prices, log),
		Lifecycle: checkout.NewLifecycle(store, log),
		Store:     store,
		Bus:       bus,
		Cache:     redisx.NewCache(rdb),
		Service:   cfg.ServiceName,
		Log:       log,
	}
	oh.Register(router)
	ph := &httpx.ProductsHandler{Store: store, Log: log}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	bus.Close() // flush & close writers
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if cfg.SeedDemo {
			if err := sqlite.SeedDemo(db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			log.Info().Msg("demo catalog seeded")
		}
		return sqlite.NewStore(db), func() { _ = db.Close() }, nil
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	}
}
