package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/med-el-mrabet/InterConnect/internal/config"
	"github.com/med-el-mrabet/InterConnect/internal/notification/application"
	"github.com/med-el-mrabet/InterConnect/internal/notification/domain"
	notificationhttp "github.com/med-el-mrabet/InterConnect/internal/notification/infrastructure/http"
	notificationkafka "github.com/med-el-mrabet/InterConnect/internal/notification/infrastructure/kafka"
	notificationpg "github.com/med-el-mrabet/InterConnect/internal/notification/infrastructure/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/notification/infrastructure/webhook"
	"github.com/med-el-mrabet/InterConnect/internal/platform/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/platform/server"
	"github.com/med-el-mrabet/InterConnect/pkg/consumer"
	"github.com/med-el-mrabet/InterConnect/pkg/idempotency"
	"github.com/med-el-mrabet/InterConnect/pkg/logging"
	"github.com/med-el-mrabet/InterConnect/pkg/metrics"
	"github.com/med-el-mrabet/InterConnect/pkg/shutdown"
	"github.com/med-el-mrabet/InterConnect/pkg/supervisor"
	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

func main() {
	cfg, err := config.LoadNotification()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Service, cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := postgres.Connect(ctx, log, cfg.PGURL, time.Minute)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(log, cfg.PGURL, postgres.SetNotification); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL).WithPrefix("idem:" + cfg.ConsumerGroup)

	m := metrics.New(cfg.Service)

	client := webhook.New(log, webhook.Config{
		Bases: map[domain.Target]string{
			domain.TargetWagl:  cfg.WaglURL,
			domain.TargetDemat: cfg.DematURL,
		},
		Timeout:         cfg.DeliveryTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerOpenFor:  cfg.BreakerOpenFor,
	})
	svc := application.NewService(log, notificationpg.NewRepository(log, pool), client, application.Options{
		MaxRetries:        cfg.MaxRetries,
		RetryPendingLimit: cfg.RetryPendingLimit,
		Metrics:           m,
	})

	events := notificationkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ConsumerGroup, svc,
		consumer.WithDedupe(idem),
		consumer.WithConsumedCounter(m.EventsConsumed))

	r := server.NewRouter(log, cfg.Service, m, map[string]server.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	notificationhttp.NewHandler(log, svc).Routes(r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, log, cfg.HTTPAddr, r) })
	g.Go(func() error { return supervisor.New(log, "event-consumer", events.Run).Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("notification-service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("notification-service shutdown complete")
}
