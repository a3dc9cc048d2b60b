package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/taskguard/pkg/api"
	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/config"
	"github.com/platinummonkey/taskguard/pkg/middleware"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/orgs"
	"github.com/platinummonkey/taskguard/pkg/rbac"
	"github.com/platinummonkey/taskguard/pkg/storage/postgres"
	"github.com/platinummonkey/taskguard/pkg/tasks"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides TASKGUARD_CONFIG_FILE)")
	flag.Parse()
	if *configFile != "" {
		os.Setenv("TASKGUARD_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "taskguard")
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("taskguard exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
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

	cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.ConnectTimeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
		MaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	db := cm.Primary()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			cm.Close()
			return err
		}
		logger.Info("database schema up to date")
	}
	registerPoolGauges(cm, logger)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cm.Close()
			return err
		}
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	viewerFields, err := cfg.Policy.ViewerFields()
	if err != nil {
		return err
	}

	// Policy core.
	orgStore := orgs.NewCachedStore(orgs.NewPostgresStore(db), redisClient, orgs.CacheConfig{
		MaxEntries: cfg.Cache.MaxEntries,
		LocalTTL:   cfg.Cache.LocalTTL,
		RedisTTL:   cfg.Cache.RedisTTL,
		KeyPrefix:  cfg.Cache.KeyPrefix,
	}, logger, metrics)
	resolver := orgs.NewScopeResolver(orgStore, logger, metrics)
	engine := rbac.NewEngine(resolver, rbac.Options{
		StrictOrgScope:       cfg.Policy.StrictOrgScope,
		ViewerEditableFields: viewerFields,
	}, logger, metrics)

	auditStore := audit.NewDBStore(db)
	recorder := audit.NewRecorder(auditStore, audit.Options{
		DefaultLimit:       cfg.Audit.DefaultLimit,
		SummaryWindow:      cfg.Audit.SummaryWindow,
		SummaryRecentLimit: cfg.Audit.SummaryRecentLimit,
		RecordAccessDenied: cfg.Audit.RecordAccessDenied,
	}, logger, metrics)

	taskStore := tasks.NewPostgresStore(db)
	scoper := tasks.NewScoper(resolver, tasks.NewPostgresStore(cm.Replica()), tasks.PageOptions{
		DefaultLimit: cfg.Policy.DefaultPageSize,
		MaxLimit:     cfg.Policy.MaxPageSize,
	}, logger, metrics)
	taskService := tasks.NewService(taskStore, orgStore, scoper, engine, recorder, logger, metrics)

	users := auth.NewPostgresUserStore(db)
	var tokens api.TokenIssuer
	var authenticators []auth.Authenticator
	if cfg.Auth.JWTSecret != "" {
		issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		tokens = issuer
		authenticators = append(authenticators, issuer)
	}
	authn, err := newAuthMiddleware(ctx, cfg, users, authenticators, logger)
	if err != nil {
		return err
	}

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limitCfg := middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if redisClient != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient, limitCfg, cfg.Cache.KeyPrefix+":ratelimit")
		} else {
			local := middleware.NewRateLimiter(limitCfg)
			local.StartCleanup(ctx)
			limiter = local
		}
	}

	apiServer := api.NewServer(api.Config{
		Authn:       authn,
		Limiter:     limiter,
		CORSOrigins: cfg.Server.CORSOrigins,
		Metrics:     metrics,
		Logger:      logger,
		Registrars: []api.RouteRegistrar{
			api.NewTaskHandlers(taskService, logger),
			api.NewOrgHandlers(orgs.NewDirectory(resolver, orgStore), logger),
			api.NewAuthHandlers(users, tokens, engine, recorder, logger),
			api.NewUserHandlers(users, engine, recorder, logger),
			api.RoleGated(auth.RoleAdmin,
				audit.NewHandlers(recorder, engine, resolver, cfg.Audit.MaxLimit, logger),
				api.RecordRoleDenial(recorder, audit.ResourceOrganization, rbac.CheckReadAudit)),
		},
	})

	healthRouter := mux.NewRouter()
	probes := []observability.Probe{
		observability.DatabaseProbe("database", db),
		{Name: "replicas", Check: cm.HealthCheck},
	}
	if redisClient != nil {
		probes = append(probes, observability.RedisProbe(redisClient))
	}
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(version, probes...))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthRouter,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)

	if cfg.Archive.Enabled {
		archiver, err := newArchiver(ctx, cfg, auditStore, logger, metrics)
		if err != nil {
			return err
		}
		if err := archiver.Start(); err != nil {
			return err
		}
		shutdown.Register(archiver.Stop)
	}

	shutdown.Register(func(context.Context) error { return cm.Close() })
	if redisClient != nil {
		shutdown.Register(func(context.Context) error { return redisClient.Close() })
	}
	if otel != nil {
		shutdown.Register(otel.Shutdown)
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			defer observability.RecoverPanic(logger, "http server")
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}()
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-errCh; err != nil {
			logger.WithError(err).Error("server stopped unexpectedly")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func newAuthMiddleware(ctx context.Context, cfg *config.Config, users auth.UserStore, authenticators []auth.Authenticator, logger *observability.Logger) (*middleware.AuthMiddleware, error) {
	if cfg.Auth.OIDCEnabled {
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL: cfg.Auth.OIDCIssuerURL,
			ClientID:  cfg.Auth.OIDCClientID,
			RoleClaim: cfg.Auth.OIDCRoleClaim,
			OrgClaim:  cfg.Auth.OIDCOrgClaim,
		})
		if err != nil {
			return nil, err
		}
		authenticators = append(authenticators, oidcAuth)
	}
	return middleware.NewAuthMiddleware(users, logger, authenticators...), nil
}

func newArchiver(ctx context.Context, cfg *config.Config, store audit.Store, logger *observability.Logger, metrics *observability.Metrics) (*audit.Archiver, error) {
	client, err := audit.NewS3Client(ctx, audit.S3Config{
		Region:       cfg.Archive.Region,
		Endpoint:     cfg.Archive.Endpoint,
		AccessKey:    cfg.Archive.AccessKey,
		SecretKey:    cfg.Archive.SecretKey,
		UsePathStyle: cfg.Archive.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return audit.NewArchiver(store, client, audit.ArchiverConfig{
		Bucket:   cfg.Archive.Bucket,
		Prefix:   cfg.Archive.Prefix,
		Schedule: cfg.Archive.Schedule,
	}, logger, metrics), nil
}

func registerPoolGauges(cm *postgres.ConnectionManager, logger *observability.Logger) {
	gauges := map[string]func() int64{
		"taskguard.db.primary.in_use": func() int64 { return int64(cm.Stats().Primary.InUse) },
		"taskguard.db.primary.idle":   func() int64 { return int64(cm.Stats().Primary.Idle) },
		"taskguard.db.replicas":       func() int64 { return int64(len(cm.Stats().Replicas)) },
	}
	for name, fn := range gauges {
		if err := observability.RegisterGauge(name, "database pool state", fn); err != nil {
			logger.WithError(err).Warn("failed to register pool gauge")
		}
	}
}
