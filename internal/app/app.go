// Package app assembles the anchoring service from configuration. The server
// and the operator CLI share it so both run exactly the same stack.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"anchorage/internal/anchoring/metrics"
	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/policy"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/anchoring/service"
	"anchorage/internal/anchoring/store"
	"anchorage/internal/ledger/ethereum"
	ledgermem "anchorage/internal/ledger/memory"
	"anchorage/internal/platform/config"
	platformmetrics "anchorage/internal/platform/metrics"
	"anchorage/internal/platform/postgres"
	"anchorage/internal/platform/redis"
	"anchorage/internal/trust"
	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/platform/audit/publishers/compliance"
	auditmem "anchorage/pkg/platform/audit/store/memory"
	auditpg "anchorage/pkg/platform/audit/store/postgres"
)

// App owns the anchoring service and the connections behind it.
type App struct {
	Service *service.Service
	Ledger  ports.Ledger
	DB      *sql.DB
	Redis   *redis.Client
	Metrics *platformmetrics.Registry

	cached  *trust.CachedOracle
	closers []func() error
}

// Build connects every dependency cfg names. Without a database URL the
// store, audit trail and trust oracle live in memory.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *platformmetrics.Registry) (built *App, err error) {
	a := &App{Metrics: reg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var (
		anchoringStore interface {
			ports.Store
			ports.StoreTx
		}
		auditStore audit.Store
		oracle     trust.Oracle
	)

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		anchoringStore = store.NewPostgres(db)
		auditStore = auditpg.New(db)
		if cfg.Trust.AttestationKey != "" {
			oracle = trust.NewAttestationOracle(trust.NewPostgresAttestationSource(db), cfg.Trust.AttestationKey)
		} else {
			oracle = trust.NewPostgresOracle(db)
		}
	} else {
		logger.WarnContext(ctx, "no database configured, anchoring state is kept in memory")
		anchoringStore = store.NewInMemoryStore()
		auditStore = auditmem.NewInMemoryStore()
		oracle = trust.NewStaticOracle()
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		a.cached = trust.NewCachedOracle(oracle, rdb.Client, cfg.Trust.CacheTTL, trust.WithLogger(logger))
		oracle = a.cached
	}

	engine, err := policy.New(oracle, cfg.PolicyConfig())
	if err != nil {
		return nil, fmt.Errorf("build policy engine: %w", err)
	}

	switch cfg.Ledger.Mode {
	case config.LedgerModeEthereum:
		client, err := ethereum.Dial(ctx, ethereum.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			ChainID:         cfg.Ledger.ChainID,
			ContractAddress: cfg.Ledger.ContractAddress,
			PrivateKeyHex:   cfg.Ledger.PrivateKey,
			FromBlock:       cfg.Ledger.FromBlock,
			PollInterval:    cfg.Ledger.PollInterval,
		}, ethereum.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "anchoring on ethereum",
			"chain_id", cfg.Ledger.ChainID,
			"contract", client.ContractAddress(),
			"sender", client.Sender(),
		)
		a.Ledger = client
	default:
		logger.WarnContext(ctx, "using the simulated in-memory ledger")
		a.Ledger = ledgermem.New()
	}

	auditor := compliance.New(auditStore,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(reg.Registry)),
	)

	svc, err := service.New(anchoringStore, anchoringStore, engine, a.Ledger, auditor,
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(reg.Registry)),
		service.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		service.WithStaleAfter(cfg.Reconcile.StaleAfter),
		service.WithReconcileLimits(cfg.Reconcile.Batch, cfg.Reconcile.Concurrency),
	)
	if err != nil {
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// InvalidateTrust drops a cached trust level so the next gate re-reads it.
// It is a no-op without the Redis cache.
func (a *App) InvalidateTrust(ctx context.Context, identityID string) error {
	if a.cached == nil {
		return nil
	}
	return a.cached.Invalidate(ctx, identityID, models.EntityTypeIdentity)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
