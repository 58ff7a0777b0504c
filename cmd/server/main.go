package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"liquidity/internal/platform/config"
	"liquidity/internal/platform/httpserver"
	"liquidity/internal/platform/kafka"
	"liquidity/internal/platform/logger"
	"liquidity/internal/platform/metrics"
	platformredis "liquidity/internal/platform/redis"
	httptransport "liquidity/internal/transport/http"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/monitor"
	"liquidity/internal/zone/sharding"
	"liquidity/internal/zone/status"
	"liquidity/internal/zone/validator"
)

const version = "1.0.0"

// main wires the dependencies and keeps the lifecycle small. Ledger logic
// lives under internal/zone.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Journal: Postgres when configured, in-memory otherwise (development and
	// tests; events do not survive a restart).
	var (
		eventJournal  journal.Journal
		snapshotStore journal.SnapshotStore
		ready         = func() error { return nil }
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := journal.NewPostgresJournal(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure journal schema", "error", err)
			os.Exit(1)
		}
		eventJournal = pg
		snapshotStore = journal.NewPostgresSnapshotStore(db)
		ready = func() error { return pg.Ping(context.Background()) }
	} else {
		log.Warn("no postgres configured, using in-memory journal")
		eventJournal = journal.NewInMemoryJournal()
		snapshotStore = journal.NewInMemorySnapshotStore()
	}

	// Status publishing and the cluster-wide monitor ride on Kafka; without
	// brokers both degrade to process-local behaviour.
	var publisher status.Publisher = status.NopPublisher{}
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, log)
		if err != nil {
			log.Error("create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = status.NewKafkaPublisher(producer, config.ZoneStatusTopic, log)
	} else {
		log.Warn("no kafka brokers configured, zone status publishing disabled")
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	zoneMonitor := monitor.New(log, redisClient)

	hostname, _ := os.Hostname()
	router := sharding.NewRouter(validator.Config{
		Origin:        hostname,
		SnapshotEvery: cfg.SnapshotEvery,
	}, eventJournal, snapshotStore, publisher, log, m)

	if cfg.AdminToken == "" {
		log.Info("admin token not configured, admin and diagnostics routes are disabled")
	}
	handler := httptransport.NewHandler(log, router, zoneMonitor, eventJournal, ready, version, cfg.AdminToken)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, registry))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting liquidity server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if len(cfg.KafkaBrokers) > 0 {
		group.Go(func() error {
			consumer, err := kafka.NewConsumer(
				cfg.KafkaBrokers, "liquidity-monitor-"+hostname,
				[]string{config.ZoneStatusTopic}, zoneMonitor, log)
			if err != nil {
				return err
			}
			return consumer.Run(groupCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := router.StopAll(shutdownCtx); err != nil {
			log.Warn("validator shutdown incomplete", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
