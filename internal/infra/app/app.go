package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/infra/config"
	"github.com/arklim/bizhub-authz/internal/infra/database"
	kafkainfra "github.com/arklim/bizhub-authz/internal/infra/kafka"
	"github.com/arklim/bizhub-authz/internal/infra/logger"
	redisinfra "github.com/arklim/bizhub-authz/internal/infra/redis"
	"github.com/arklim/bizhub-authz/internal/infra/security"
	"github.com/arklim/bizhub-authz/internal/infra/telemetry"
	"github.com/arklim/bizhub-authz/internal/repository/memory"
	postgresrepo "github.com/arklim/bizhub-authz/internal/repository/postgres"
	transportgrpc "github.com/arklim/bizhub-authz/internal/transport/grpc"
	"github.com/arklim/bizhub-authz/internal/transport/grpc/interceptors"
	"github.com/arklim/bizhub-authz/internal/transport/http/middleware"
	"github.com/arklim/bizhub-authz/internal/transport/http/routes"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	tracer     *telemetry.TracerProvider
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	consumer   *kafkainfra.RoleMembershipConsumer
	group      sarama.ConsumerGroup
	reaper     *usecase.ExpiryReaper
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

// storage holds the repositories selected by authz.storage_driver.
type storage struct {
	permissions port.PermissionRepository
	grants      port.DirectPermissionRepository
	roles       port.RoleGrantSource
	invalidator kafkainfra.RoleCacheInvalidator
	pool        *pgxpool.Pool
	redis       *redisinfra.Client
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	authzMetrics, err := telemetry.NewAuthzMetrics(telemetry.AuthzMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init authz metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := interceptors.NewGRPCMetrics(interceptors.GRPCMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init grpc metrics: %w", err)
	}

	verifier, err := security.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:      cfg,
		logger:   log,
		tracer:   tracerProvider,
		pool:     store.pool,
		redis:    store.redis,
		grpcAddr: fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}

	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			a.producer = kafkaProducer
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	catalog := usecase.NewCatalogService(store.permissions, store.grants, eventPublisher, usecase.CatalogOptions{
		CacheSize: cfg.Authz.CatalogCacheSize,
		CacheTTL:  cfg.Authz.CatalogCacheTTL,
	}, log)
	grants := usecase.NewDirectPermissionService(store.grants, store.permissions, eventPublisher, log)

	created, err := catalog.EnsureSystem(ctx, routes.ManagementPermissions)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("register management permissions: %w", err)
	}
	if created > 0 {
		log.Info("management permissions registered", zap.Int("created", created))
	}

	resolver, err := usecase.NewResolver(catalog, grants, store.roles, usecase.ResolverOptions{
		FailurePolicy: domain.NewFailurePolicy(domain.ParseFailurePolicyMode(cfg.Authz.FailurePolicy)),
		Timeout:       cfg.Authz.DecisionTimeout,
		Metrics:       authzMetrics,
		Tracer:        tracerProvider.Tracer("github.com/arklim/bizhub-authz/usecase"),
		Logger:        log,
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("init resolver: %w", err)
	}

	if cfg.Reaper.Enabled {
		a.reaper = usecase.NewExpiryReaper(grants, usecase.ExpiryReaperOptions{
			Interval: cfg.Reaper.Interval,
			Timeout:  cfg.Reaper.Timeout,
			Metrics:  authzMetrics,
		}, log)
	}

	if store.invalidator != nil && len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.RoleEventsTopic != "" {
		group, err := kafkainfra.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			log.Warn("failed to init role membership consumer, role cache relies on ttl", zap.Error(err))
		} else {
			a.group = group
			a.consumer = kafkainfra.NewRoleMembershipConsumer(store.invalidator, log)
		}
	}

	a.grpcServer, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Resolver:   resolver,
		Verifier:   verifier,
		Metrics:    grpcMetrics,
		Tracing:    interceptors.NewTracing(interceptors.TracingOptions{}),
		Logger:     log,
		CallerCode: routes.DecisionQueryCode,
	})
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("init grpc server: %w", err)
	}

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Verifier: verifier,
		Catalog:  catalog,
		Grants:   grants,
		Resolver: resolver,
		Metrics:  httpMetrics,
	}
	if store.pool != nil {
		deps.Database = store.pool
	}
	if store.redis != nil {
		deps.Cache = store.redis
	}
	a.engine = routes.Register(deps)

	return a, nil
}

func newStorage(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*storage, error) {
	if cfg.Authz.StorageDriver == config.StorageDriverMemory {
		seed := make(map[string][]string, len(cfg.Authz.BootstrapAdmins))
		codes := make([]string, 0, len(routes.ManagementPermissions))
		for code := range routes.ManagementPermissions {
			codes = append(codes, code)
		}
		for _, userID := range cfg.Authz.BootstrapAdmins {
			seed[userID] = codes
		}

		mem := memory.NewStore()
		log.Warn("using in-memory storage; state is lost on restart")
		return &storage{
			permissions: mem.Permissions(),
			grants:      mem.DirectPermissions(),
			roles:       memory.NewRoleGrantSource(seed),
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)
	roles := usecase.NewCachedRoleGrantSource(repos.RoleGrants, redisClient.RolePermissionCache(), cfg.Redis.RoleCacheTTL, log).
		WithLoadTimeout(cfg.Authz.DecisionTimeout)

	return &storage{
		permissions: repos.Permissions,
		grants:      repos.DirectPermissions,
		roles:       roles,
		invalidator: roles,
		pool:        pool,
		redis:       redisClient,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeResources()

	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if a.reaper != nil {
		if err := a.reaper.Start(); err != nil {
			_ = lis.Close()
			return fmt.Errorf("start expiry reaper: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("run grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting authorization API",
			zap.String("env", a.cfg.App.Env),
			zap.String("address", srv.Addr),
			zap.String("storage_driver", a.cfg.Authz.StorageDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx, a.group, a.cfg.Kafka.RoleEventsTopic)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.grpcServer.Shutdown()
		if a.reaper != nil {
			if err := a.reaper.Stop(shutdownCtx); err != nil {
				a.logger.Warn("expiry reaper did not stop in time", zap.Error(err))
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *Application) closeResources() {
	if a.group != nil {
		if err := a.group.Close(); err != nil {
			a.logger.Warn("close kafka consumer group", zap.Error(err))
		}
		a.group = nil
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
		a.tracer = nil
	}
}
