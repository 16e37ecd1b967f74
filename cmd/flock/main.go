package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/flock/pkg/api"
	"github.com/platinummonkey/flock/pkg/app"
	"github.com/platinummonkey/flock/pkg/audit"
	"github.com/platinummonkey/flock/pkg/config"
	"github.com/platinummonkey/flock/pkg/middleware"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("FLOCK_CONFIG_FILE"), "Path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "flock: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), nil).WithField("service", "flock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.DB.StartHealthCheckRoutine(ctx, cfg.Database.HealthCheckInterval, a.Metrics)

	deps := api.Deps{
		Communities:  a.Communities,
		Analytics:    a.Analytics,
		Engine:       a.Engine,
		Members:      a.Members,
		Orchestrator: a.Orchestrator,
		RBAC:         a.RBAC,
		Logger:       logger,
	}
	if cfg.Server.EnforcePermissions {
		deps.Guard = rbac.NewPermissionMiddleware(a.Permissions, a.Audit)
	}
	if cfg.Server.RateLimitPerMinute > 0 && a.Redis != nil {
		deps.RateLimiter = middleware.NewTenantRateLimiter(a.Redis, cfg.Server.RateLimitPerMinute, time.Minute, logger)
	}
	server := api.NewServer(deps, audit.NewHandlers(a.AuditStore))
	if a.Metrics != nil {
		server.Router().Use(observability.HTTPMetricsMiddleware(a.Metrics))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(server, "flock"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics are served on the health port, outside the tenant
	// middleware
	health := a.HealthChecker(version)
	opsMux := http.NewServeMux()
	opsMux.HandleFunc("/health/live", health.Liveness)
	opsMux.HandleFunc("/health/ready", health.Readiness)
	if a.Registry != nil {
		opsMux.Handle("/metrics", observability.MetricsHandler(a.Registry))
	}
	opsServer := &http.Server{
		Addr:        cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:     opsMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("ops-server", opsServer.Shutdown)
	shutdown.RegisterShutdownFunc("app", a.Close)
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})

	if cfg.Scheduler.Enabled {
		a.Scheduler.Start()
	}

	if configPath != "" {
		go func() {
			defer observability.RecoverPanic(logger, "config watcher")
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				if level := next.Observability.Level(); level != logger.Level() {
					logger.SetLevel(level)
					logger.Infof("Log level changed to %s", level)
				}
			})
			if err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, opsServer} {
		go func() {
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
				cancel()
			}
		}()
	}

	shutdownErr := shutdown.WaitForShutdown(ctx)
	select {
	case err := <-serveErr:
		return err
	default:
		return shutdownErr
	}
}
