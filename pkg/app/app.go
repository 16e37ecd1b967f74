// Package app wires configuration into the running flock services. Both the
// HTTP server and the admin CLI build their dependencies through New.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/platinummonkey/flock/pkg/async"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/cache"
	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/communitysync"
	"github.com/platinummonkey/flock/pkg/config"
	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/membership"
	"github.com/platinummonkey/flock/pkg/notify"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
	"github.com/platinummonkey/flock/pkg/scheduler"
)

// PermissionCachePrefix namespaces effective-permission entries in Redis
const PermissionCachePrefix = "flock:perms"

// App holds every wired component. Redis, PermCache and Metrics are nil
// when disabled.
type App struct {
	Config *config.Config
	Logger *observability.Logger

	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB        *database.ConnectionManager
	Redis     *redis.Client
	PermCache *rbac.PermissionCache

	AuditStore *audit.DBLogger
	Audit      audit.Logger
	Notifier   notify.Notifier

	Communities  *community.Resolver
	Analytics    *community.Analytics
	Engine       *membership.Engine
	Members      *members.Service
	Orchestrator *communitysync.Orchestrator
	Permissions  *rbac.Resolver
	RBAC         *rbac.Manager
	Scheduler    *scheduler.Scheduler

	notifyPool *async.WorkerPool
}

// New opens the database (migrating it when configured), connects Redis and
// builds the services. Jobs are registered on the scheduler but it is not
// started.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg, logger := a.Config, a.Logger
	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	a.DB, err = database.NewConnectionManager(database.ConnectionConfig{
		Driver:      cfg.Database.Driver,
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: database.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(a.DB.Primary(), a.DB.Driver(), logger); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled() {
		if a.Redis, err = connectRedis(ctx, cfg.Redis, logger); err != nil {
			return err
		}
	}

	primary := a.DB.Primary()
	if a.AuditStore, err = audit.NewDBLogger(primary); err != nil {
		return err
	}
	a.Audit = audit.NewMultiLogger(a.AuditStore, audit.NewSlogLogger(logger))

	a.Notifier = a.buildNotifier(ctx)

	if cfg.Cache.Enabled {
		var shared redis.UniversalClient
		if a.Redis != nil {
			shared = a.Redis
		}
		a.PermCache = cache.New[[]rbac.EffectivePermission](shared, cache.Config{
			L1Size: cfg.Cache.L1Size,
			L1TTL:  cfg.Cache.L1TTL,
			L2TTL:  cfg.Cache.L2TTL,
			Prefix: PermissionCachePrefix,
		}, a.Metrics, logger)
		if shared != nil {
			// Runs until PermCache.Close
			if werr := a.PermCache.WatchInvalidations(context.Background()); werr != nil {
				logger.WithError(werr).Warn("Permission cache invalidations from other instances will not be seen")
			}
		}
	}

	a.Engine = membership.NewEngine(primary, membership.Config{
		Notifier: a.Notifier,
		Audit:    a.Audit,
		Metrics:  a.Metrics,
		Logger:   logger,
	})
	a.Communities = community.NewResolver(primary, a.Engine, a.Audit, logger)
	a.Analytics = community.NewAnalytics(a.DB.Replica())
	a.Members = members.NewService(primary, nil, logger)
	a.Orchestrator = communitysync.NewOrchestrator(a.Communities, a.Engine, a.Members.Store(), a.Metrics, logger)
	a.Members.SetSyncer(a.Orchestrator)

	a.Permissions = rbac.NewResolver(primary, a.PermCache, a.Metrics, logger)
	a.RBAC = rbac.NewManager(primary, a.Permissions, a.Audit, logger)

	a.Scheduler = scheduler.New(logger, a.Metrics)
	return a.registerJobs()
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("Redis is unreachable; continuing without it until it recovers")
	}
	return client, nil
}

func (a *App) buildNotifier(ctx context.Context) notify.Notifier {
	cfg := a.Config.Notify
	var next notify.Notifier
	switch cfg.Mode {
	case config.NotifyModeNone:
		return notify.Nop{}
	case config.NotifyModeRedis:
		if a.Redis == nil {
			a.Logger.Warn("Redis notifications requested without a Redis URL; logging instead")
			next = notify.NewLogNotifier(a.Logger, a.Metrics)
			break
		}
		next = notify.NewRedisNotifier(a.Redis, cfg.Channel, a.Logger, a.Metrics)
	case config.NotifyModeWebhook:
		next = notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         cfg.WebhookURL,
			Secret:      cfg.WebhookSecret,
			MaxAttempts: cfg.WebhookMaxAttempts,
		}, a.Logger, a.Metrics)
	default:
		next = notify.NewLogNotifier(a.Logger, a.Metrics)
	}

	a.notifyPool = async.NewWorkerPool(ctx, a.Logger, cfg.Workers, "membership-notify", cfg.Timeout,
		async.WithQueueSize(cfg.Workers*64))
	return notify.NewAsyncNotifier(next, a.notifyPool, a.Logger)
}

func (a *App) registerJobs() error {
	cfg := a.Config.Scheduler
	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{scheduler.JobExpirySweep, cfg.ExpirySweepCron, scheduler.ExpirySweep(a.RBAC)},
		{scheduler.JobAnalyticsSnapshot, cfg.AnalyticsSnapshot, scheduler.AnalyticsSnapshot(a.Analytics, a.Logger)},
		{scheduler.JobAuditPurge, cfg.AuditPurgeCron, scheduler.AuditPurge(a.AuditStore, cfg.AuditRetention, a.Logger)},
	}
	for _, job := range jobs {
		spec := job.spec
		if !cfg.Enabled {
			spec = ""
		}
		if err := a.Scheduler.Add(job.name, spec, job.fn); err != nil {
			return err
		}
	}
	return nil
}

// HealthChecker probes the primary database and Redis
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	return observability.NewHealthChecker(a.DB.Primary(), a.Redis, version)
}

// Close releases everything New opened, in reverse order
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Scheduler != nil {
		err = multierr.Append(err, a.Scheduler.Stop(ctx))
	}
	if a.notifyPool != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		err = multierr.Append(err, a.notifyPool.Shutdown(timeout))
	}
	if a.PermCache != nil {
		err = multierr.Append(err, a.PermCache.Close())
	}
	if a.Audit != nil {
		err = multierr.Append(err, a.Audit.Close())
	}
	if a.Redis != nil {
		err = multierr.Append(err, a.Redis.Close())
	}
	if a.DB != nil {
		err = multierr.Append(err, a.DB.Close())
	}
	return err
}
