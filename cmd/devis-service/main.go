package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	catalogapp "github.com/med-el-mrabet/InterConnect/internal/catalog/application"
	cataloghttp "github.com/med-el-mrabet/InterConnect/internal/catalog/infrastructure/http"
	catalogpg "github.com/med-el-mrabet/InterConnect/internal/catalog/infrastructure/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/config"
	"github.com/med-el-mrabet/InterConnect/internal/devis/application"
	devishttp "github.com/med-el-mrabet/InterConnect/internal/devis/infrastructure/http"
	deviskafka "github.com/med-el-mrabet/InterConnect/internal/devis/infrastructure/kafka"
	devispg "github.com/med-el-mrabet/InterConnect/internal/devis/infrastructure/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/events"
	platformkafka "github.com/med-el-mrabet/InterConnect/internal/platform/kafka"
	"github.com/med-el-mrabet/InterConnect/internal/platform/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/platform/server"
	"github.com/med-el-mrabet/InterConnect/pkg/consumer"
	"github.com/med-el-mrabet/InterConnect/pkg/idempotency"
	"github.com/med-el-mrabet/InterConnect/pkg/logging"
	"github.com/med-el-mrabet/InterConnect/pkg/metrics"
	"github.com/med-el-mrabet/InterConnect/pkg/outbox"
	"github.com/med-el-mrabet/InterConnect/pkg/shutdown"
	"github.com/med-el-mrabet/InterConnect/pkg/supervisor"
	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

func main() {
	cfg, err := config.LoadDevis()
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
	if err := postgres.Migrate(log, cfg.PGURL, postgres.SetDevis); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL).WithPrefix("idem:" + cfg.ConsumerGroup)

	if err := platformkafka.EnsureTopics(ctx, cfg.KafkaBrokers, 3, events.Topics()...); err != nil {
		log.Warn("topic setup failed, relying on auto-creation", "err", err)
	}
	writer := platformkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	m := metrics.New(cfg.Service)

	parts := catalogpg.NewRepository(log, pool)
	arbiter := catalogapp.NewArbiter(parts, time.Now, m.StockLines)
	catalogSvc := catalogapp.NewService(log, parts)

	devisSvc := application.NewService(log, devispg.NewRepository(log, pool), arbiter, application.Options{
		Pricing: application.Pricing{
			HourlyRate:        cfg.HourlyRate,
			InspectionForfait: cfg.InspectionForfait,
		},
		PartialReservation: cfg.StockConflictPolicy == config.ConflictPartial,
		Transitions:        m.DevisTransitions,
	})

	relay := outbox.NewRelay(log, outbox.NewPgStore(log, pool),
		outbox.NewDispatcher(log, writer, outbox.WithPublishedCounter(m.EventsPublished)),
		cfg.Service+"-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithMaxAttempts(cfg.RelayMaxAttempts))

	inspections := deviskafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ConsumerGroup, devisSvc,
		consumer.WithDedupe(idem),
		consumer.WithConsumedCounter(m.EventsConsumed))

	r := server.NewRouter(log, cfg.Service, m, map[string]server.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	cataloghttp.NewHandler(log, catalogSvc, arbiter).Routes(r)
	devishttp.NewHandler(log, devisSvc).Routes(r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, log, cfg.HTTPAddr, r) })
	g.Go(func() error { return supervisor.New(log, "outbox-relay", relay.Run).Run(gctx) })
	g.Go(func() error { return supervisor.New(log, "inspection-consumer", inspections.Run).Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error("devis-service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("devis-service shutdown complete")
}
