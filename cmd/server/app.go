package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"receiv3/internal/access"
	accessstore "receiv3/internal/access/store"
	"receiv3/internal/asset"
	invoicemetrics "receiv3/internal/invoice/metrics"
	invoiceservice "receiv3/internal/invoice/service"
	invoicestore "receiv3/internal/invoice/store"
	jwttoken "receiv3/internal/jwt_token"
	"receiv3/internal/platform/config"
	"receiv3/internal/platform/kafka"
	"receiv3/internal/platform/metrics"
	"receiv3/internal/platform/postgres"
	redisclient "receiv3/internal/platform/redis"
	poolmetrics "receiv3/internal/pool/metrics"
	poolservice "receiv3/internal/pool/service"
	poolstore "receiv3/internal/pool/store"
	ratelimitmw "receiv3/internal/ratelimit/middleware"
	ratelimitmodels "receiv3/internal/ratelimit/models"
	"receiv3/internal/ratelimit/store/bucket"
	httptransport "receiv3/internal/transport/http"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/audit/outbox"
	"receiv3/pkg/platform/audit/publisher"
	auditmemory "receiv3/pkg/platform/audit/store/memory"
	auditpostgres "receiv3/pkg/platform/audit/store/postgres"
)

const (
	auditBufferSize  = 1024
	auditPartitions  = 3
	auditReplication = 1
	outboxBatchSize  = 100

	ledgerNamespace    = "usdc"
	rateLimitNamespace = "ratelimit"
)

// app holds the assembled process. close releases resources in reverse
// order of acquisition.
type app struct {
	handler http.Handler
	relay   *outbox.Relay
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type stores struct {
	invoices invoiceservice.Store
	pools    poolservice.Store
	roles    access.Store
	audit    audit.Store
	outbox   *auditpostgres.Store
}

func buildApp(ctx context.Context, cfg config.Server, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	deployer := domain.MustAddress(cfg.Deployer)
	engineAddr := domain.MustAddress(cfg.EngineAddress)
	health := map[string]httptransport.HealthCheck{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := openStores(ctx, cfg, logger, a, health)
	if err != nil {
		return nil, err
	}
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		health["redis"] = rc.Health
	}
	ledger, err := openLedger(ctx, cfg, rc, deployer, logger)
	if err != nil {
		return nil, err
	}

	events := publisher.NewPublisher(st.audit,
		publisher.WithAsyncBuffer(auditBufferSize), publisher.WithLogger(logger))
	a.closers = append(a.closers, events.Close)

	registryRoles := access.NewController(access.ComponentRegistry, st.roles,
		access.WithLogger(logger), access.WithAuditPublisher(events))
	engineRoles := access.NewController(access.ComponentEngine, st.roles,
		access.WithLogger(logger), access.WithAuditPublisher(events))
	if err := registryRoles.Bootstrap(ctx, deployer, access.RoleAdmin, access.RoleOperator, access.RoleMinter); err != nil {
		return nil, fmt.Errorf("bootstrap registry roles: %w", err)
	}
	// The engine advances invoice status after disbursement and repayment.
	if err := registryRoles.Bootstrap(ctx, engineAddr, access.RoleOperator); err != nil {
		return nil, fmt.Errorf("bootstrap engine operator: %w", err)
	}
	if err := engineRoles.Bootstrap(ctx, deployer, access.RoleAdmin, access.RoleOperator); err != nil {
		return nil, fmt.Errorf("bootstrap engine roles: %w", err)
	}

	invoices := invoiceservice.New(st.invoices, registryRoles,
		invoiceservice.WithLogger(logger),
		invoiceservice.WithAuditPublisher(events),
		invoiceservice.WithMetrics(invoicemetrics.New(reg)),
	)
	engine := poolservice.New(st.pools, ledger, invoices, engineRoles,
		poolservice.Config{
			Address:        engineAddr,
			PlatformWallet: domain.MustAddress(cfg.PlatformWallet),
			PlatformFeeBps: domain.BasisPoints(cfg.PlatformFeeBps),
		},
		poolservice.WithLogger(logger),
		poolservice.WithAuditPublisher(events),
		poolservice.WithMetrics(poolmetrics.New(reg)),
		poolservice.WithInvoiceStatusSync(),
	)
	if err := engine.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap engine: %w", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, producer.Close)
		if err := producer.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
			return nil, fmt.Errorf("ensure audit topic: %w", err)
		}
		a.relay = outbox.NewRelay(st.outbox, producer,
			outbox.WithInterval(cfg.Kafka.OutboxInterval),
			outbox.WithBatchSize(outboxBatchSize),
			outbox.WithLogger(logger),
		)
	}

	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	a.handler = httptransport.NewRouter(httptransport.Dependencies{
		Logger:        logger,
		Validator:     jwttoken.NewJWTServiceAdapter(tokens),
		Registry:      invoices,
		Engine:        engine,
		RegistryRoles: registryRoles,
		EngineRoles:   engineRoles,
		Ledger:        ledger,
		Events:        events,
		Metrics:       metrics.New(reg),
		Gatherer:      reg,
		Health:        health,
		RateLimiter:   newRateLimiter(cfg, rc, logger, reg),
	})
	return a, nil
}

func openStores(ctx context.Context, cfg config.Server, logger *slog.Logger, a *app, health map[string]httptransport.HealthCheck) (*stores, error) {
	if cfg.Store == config.BackendMemory {
		return &stores{
			invoices: invoicestore.NewInMemory(),
			pools:    poolstore.NewInMemory(),
			roles:    accessstore.NewInMemory(),
			audit:    auditmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	applied, err := postgres.Migrate(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "postgres ready", "migrations_applied", applied)
	health["postgres"] = db.PingContext

	auditStore := auditpostgres.New(db)
	return &stores{
		invoices: invoicestore.NewPostgres(db),
		pools:    poolstore.NewPostgres(db),
		roles:    accessstore.NewPostgres(db),
		audit:    auditStore,
		outbox:   auditStore,
	}, nil
}

func openLedger(ctx context.Context, cfg config.Server, rc *redisclient.Client, owner domain.Address, logger *slog.Logger) (asset.Ledger, error) {
	if cfg.Ledger == config.BackendMemory {
		return asset.NewMemoryLedger(owner), nil
	}

	ledger := asset.NewRedisLedger(rc, rc.Namespace(ledgerNamespace), owner)
	seeded, err := ledger.Seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed ledger: %w", err)
	}
	if seeded {
		logger.InfoContext(ctx, "ledger seeded", "owner", owner.String(), "supply", asset.InitialSupply.String())
	}
	return ledger, nil
}

// newRateLimiter shares budgets through Redis when it is configured so every
// replica sees the same windows.
func newRateLimiter(cfg config.Server, rc *redisclient.Client, logger *slog.Logger, reg prometheus.Registerer) *ratelimitmw.Middleware {
	var store ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if rc != nil {
		store = bucket.NewRedisBucketStore(rc, rc.Namespace(rateLimitNamespace))
	}
	return ratelimitmw.New(store, map[ratelimitmodels.EndpointClass]ratelimitmodels.Limit{
		ratelimitmodels.ClassWrite:  {Requests: cfg.RateLimitWrites, Window: time.Minute},
		ratelimitmodels.ClassFaucet: {Requests: cfg.RateLimitFaucet, Window: time.Hour},
	}, logger, ratelimitmw.WithMetrics(reg))
}
