package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/failsafe/pkg/archive"
	"github.com/Mindburn-Labs/failsafe/pkg/audit"
	"github.com/Mindburn-Labs/failsafe/pkg/config"
	"github.com/Mindburn-Labs/failsafe/pkg/contractloader"
	"github.com/Mindburn-Labs/failsafe/pkg/governance"
	"github.com/Mindburn-Labs/failsafe/pkg/interceptor"
	"github.com/Mindburn-Labs/failsafe/pkg/observability"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack/finance"
	"github.com/Mindburn-Labs/failsafe/pkg/registry"

	_ "github.com/lib/pq" // Postgres driver
)

const streamMaxLen = 10000

// app holds the subsystems one command run needs.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	registry    *registry.Registry
	engine      *governance.Engine
	audit       *audit.Logger
	recorder    audit.Recorder
	interceptor *interceptor.Interceptor
	metrics     *prometheus.Registry

	closers []func(context.Context) error
}

// newApp wires registry, engine, audit trail and telemetry from cfg.
// Contracts are loaded from contractsDir when it is not empty.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, contractsDir string) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(registry.WithLogger(logger.With("component", "registry"))),
		metrics:  prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.close(ctx)
		}
	}()

	if contractsDir != "" {
		loader, err := contractloader.New(contractloader.WithLogger(logger.With("component", "contractloader")))
		if err != nil {
			return nil, err
		}
		if _, err := loader.LoadDirInto(a.registry, contractsDir); err != nil {
			return nil, err
		}
	}
	if cfg.RegistryDSN != "" {
		db, err := sql.Open("postgres", cfg.RegistryDSN)
		if err != nil {
			return nil, fmt.Errorf("open registry database: %w", err)
		}
		a.onClose(func(context.Context) error { return db.Close() })
		if err := registry.NewPostgresStore(db).Load(ctx, a.registry); err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
	}

	store, err := a.openAuditStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []audit.LoggerOption{
		audit.WithLogger(logger.With("component", "audit")),
		audit.WithSink(audit.NewMetrics(a.metrics)),
	}
	if cfg.Audit.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Audit.RedisAddr})
		a.onClose(func(context.Context) error { return client.Close() })
		opts = append(opts, audit.WithSink(audit.NewRedisStreamSink(client, cfg.Audit.Stream, streamMaxLen)))
	}
	a.audit = audit.NewLogger(store, opts...)
	if err := audit.RegisterAppendErrors(a.metrics, a.audit); err != nil {
		return nil, err
	}
	a.recorder = a.audit
	if cfg.Audit.Async {
		async := audit.NewAsyncLogger(a.audit, cfg.Audit.QueueSize)
		a.onClose(async.Close)
		a.recorder = async
	}

	packs, err := buildPacks(cfg, logger)
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	a.onClose(obs.Shutdown)

	a.engine = governance.NewEngine(a.registry,
		governance.WithLogger(logger.With("component", "governance")),
		governance.WithPolicyPacks(packs...),
		governance.WithTracerProvider(obs.TracerProvider()),
	)
	a.interceptor = interceptor.New(a.engine, a.recorder,
		interceptor.WithLogger(logger.With("component", "interceptor")),
		interceptor.WithValidationCallback(obs.ValidationCallback()),
	)
	return a, nil
}

func (a *app) openAuditStore(ctx context.Context) (audit.Store, error) {
	switch a.cfg.Audit.Driver {
	case config.DriverSQLite:
		s, err := audit.OpenSQLite(a.cfg.Audit.DSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.DriverPostgres:
		db, err := sql.Open("postgres", a.cfg.Audit.DSN)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		a.onClose(func(context.Context) error { return db.Close() })
		s := audit.NewPostgresStore(db)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("init audit schema: %w", err)
		}
		return s, nil
	default:
		return audit.NewMemoryStore(), nil
	}
}

func buildPacks(cfg *config.Config, logger *slog.Logger) ([]policypack.PolicyPack, error) {
	var packs []policypack.PolicyPack
	for _, name := range cfg.PolicyPacks {
		switch name {
		case "finance", finance.PackName:
			packs = append(packs, finance.New(
				finance.WithApprovalThreshold(cfg.ApprovalThreshold),
				finance.WithLogger(logger.With("component", "policypack", "pack", finance.PackName)),
			))
		default:
			return nil, fmt.Errorf("unknown policy pack %q", name)
		}
	}
	return packs, nil
}

func (a *app) archive(ctx context.Context, dir string) (archive.Store, error) {
	cfg := archive.Config{
		Backend:  archive.Backend(a.cfg.Archive.Type),
		Dir:      a.cfg.Archive.Dir,
		Bucket:   a.cfg.Archive.Bucket,
		Prefix:   a.cfg.Archive.Prefix,
		Region:   a.cfg.Archive.Region,
		Endpoint: a.cfg.Archive.Endpoint,
	}
	if dir != "" {
		cfg.Backend, cfg.Dir = archive.BackendFS, dir
	}
	return archive.Open(ctx, cfg)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
