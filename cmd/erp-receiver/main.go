package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/med-el-mrabet/InterConnect/internal/acknowledger/application"
	ackhttp "github.com/med-el-mrabet/InterConnect/internal/acknowledger/infrastructure/http"
	ackpg "github.com/med-el-mrabet/InterConnect/internal/acknowledger/infrastructure/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/config"
	"github.com/med-el-mrabet/InterConnect/internal/platform/postgres"
	"github.com/med-el-mrabet/InterConnect/internal/platform/server"
	"github.com/med-el-mrabet/InterConnect/pkg/logging"
	"github.com/med-el-mrabet/InterConnect/pkg/metrics"
	"github.com/med-el-mrabet/InterConnect/pkg/shutdown"
	"github.com/med-el-mrabet/InterConnect/pkg/tracing"
)

func main() {
	cfg, err := config.LoadReceiver()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel).With("target", cfg.Target)

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
	if err := postgres.Migrate(log, cfg.PGURL, postgres.SetReceiver); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	m := metrics.New(cfg.Service)
	repo := ackpg.NewRepository(pool)
	records := application.NewDevisRecorder(log, repo, cfg.Target)
	svc := application.NewService(log, repo, cfg.Target,
		application.WithEffect(records.Apply),
		application.WithCounter(m.Acknowledgements))

	r := server.NewRouter(log, cfg.Service, m, map[string]server.Check{"postgres": pool.Ping})
	ackhttp.NewHandler(log, svc).WithRecords(records).Routes(r)

	if err := server.Run(ctx, log, cfg.HTTPAddr, r); err != nil {
		log.Error("http server error", "err", err)
		os.Exit(1)
	}
	log.Info("erp-receiver shutdown complete")
}
