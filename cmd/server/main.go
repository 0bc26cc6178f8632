package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"anchorage/internal/app"
	"anchorage/internal/platform/config"
	"anchorage/internal/platform/httpserver"
	"anchorage/internal/platform/kafka"
	"anchorage/internal/platform/logger"
	"anchorage/internal/platform/metrics"
	"anchorage/internal/platform/middleware"
	"anchorage/pkg/platform/audit/outbox"
	"anchorage/pkg/platform/audit/worker"
)

var version = "dev"

// main wires the anchoring stack, the background workers and the ops HTTP
// surface. Business logic lives in internal/anchoring.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel, logger.FormatJSON)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := metrics.New(version)
	a, err := app.Build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("closing connections", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	checks := map[string]httpserver.Check{}
	if a.DB != nil {
		checks["postgres"] = a.DB.PingContext
	}
	if a.Redis != nil {
		checks["redis"] = a.Redis.Health
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if a.DB == nil {
			return errors.New("the audit relay needs DATABASE_URL")
		}
		producer, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, kafka.TopicSpec{Name: cfg.Kafka.AuditTopic, Partitions: 3}, log); err != nil {
			return err
		}
		checks["kafka"] = producer.Ping

		relay := outbox.NewRelay(a.DB, producer, cfg.Kafka.AuditTopic,
			outbox.WithBatchSize(cfg.Kafka.RelayBatch),
			outbox.WithLogger(log),
		)
		w := worker.NewWorker(relay, cfg.Kafka.RelayInterval, log,
			worker.WithBreaker(worker.NewBreaker(5, 30*time.Second)),
			worker.WithMetrics(worker.NewMetrics(reg.Registry)),
		)
		g.Go(func() error { return ignoreCancel(w.Run(ctx)) })
		log.Info("audit outbox relay started", "topic", cfg.Kafka.AuditTopic, "brokers", cfg.Kafka.Brokers)
	}

	loop := app.NewReconcileLoop(a.Service, cfg.Reconcile.Interval, log, reg)
	g.Go(func() error { return ignoreCancel(loop.Run(ctx)) })

	opsCfg := httpserver.OpsConfig{Gatherer: reg, Checks: checks, Logger: log}
	if cfg.Ops.TokenKey != "" {
		tokens, err := middleware.NewOperatorTokens(cfg.Ops.TokenKey)
		if err != nil {
			return err
		}
		opsCfg.Tokens = tokens
		opsCfg.Reconciler = a.Service
	}
	srv := httpserver.New(cfg.Ops.Addr, httpserver.NewOpsRouter(opsCfg))

	g.Go(func() error {
		log.Info("starting ops server", "addr", cfg.Ops.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
