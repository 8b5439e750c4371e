package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sundew/config"
	orgrepo "github.com/Ramsey-B/sundew/internal/repositories/organization"
	sirepo "github.com/Ramsey-B/sundew/internal/repositories/serviceintegration"
	subrepo "github.com/Ramsey-B/sundew/internal/repositories/subscription"
	targetrepo "github.com/Ramsey-B/sundew/internal/repositories/synctarget"
	"github.com/Ramsey-B/sundew/pkg/connectors/bankitem"
	"github.com/Ramsey-B/sundew/pkg/connectors/ledgeraccount"
	"github.com/Ramsey-B/sundew/pkg/connectors/podcastepisode"
	"github.com/Ramsey-B/sundew/pkg/database"
	"github.com/Ramsey-B/sundew/pkg/httpclient"
	"github.com/Ramsey-B/sundew/pkg/idempotency"
	"github.com/Ramsey-B/sundew/pkg/integration"
	"github.com/Ramsey-B/sundew/pkg/kafka"
	"github.com/Ramsey-B/sundew/pkg/middleware"
	"github.com/Ramsey-B/sundew/pkg/redis"
	"github.com/Ramsey-B/sundew/pkg/replicator"
	"github.com/Ramsey-B/sundew/pkg/routes/health"
	orgroutes "github.com/Ramsey-B/sundew/pkg/routes/organization"
	siroutes "github.com/Ramsey-B/sundew/pkg/routes/serviceintegration"
	subroutes "github.com/Ramsey-B/sundew/pkg/routes/subscription"
	syncroutes "github.com/Ramsey-B/sundew/pkg/routes/synctarget"
	webhookroutes "github.com/Ramsey-B/sundew/pkg/routes/webhook"
	"github.com/Ramsey-B/sundew/pkg/startup"
	"github.com/Ramsey-B/sundew/pkg/subscription"
	"github.com/Ramsey-B/sundew/pkg/synctarget"
	"github.com/Ramsey-B/sundew/pkg/tracing"
	"github.com/Ramsey-B/sundew/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		log.Fatalf("failed to bind environment config: %v", err)
	}

	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initTracing(ctx, cfg, logger)
	defer shutdownTracing()

	app := &application{cfg: cfg, logger: logger}

	orchestrator := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	orchestrator.AddDependency(&dependency{name: "database", start: app.startDatabase, stop: app.stopDatabase})
	orchestrator.AddDependency(&dependency{name: "redis", start: app.startRedis, stop: app.stopRedis})
	orchestrator.AddDependency(&dependency{name: "kafka", start: app.startKafka, stop: app.stopKafka})
	orchestrator.AddDependency(&dependency{
		name:  "services",
		needs: []string{"database", "redis", "kafka"},
		start: app.startServices,
	})
	orchestrator.AddDependency(&dependency{
		name:  "workers",
		needs: []string{"services"},
		start: app.startWorkers,
		stop:  app.stopWorkers,
	})
	orchestrator.AddDependency(&dependency{
		name:  "http-server",
		needs: []string{"services"},
		start: app.startHTTPServer,
		stop:  app.stopHTTPServer,
	})

	if err := orchestrator.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	app.health.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	app.health.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orchestrator.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
	}
}

// dependency adapts a pair of closures to the startup contract
type dependency struct {
	name  string
	needs []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (d *dependency) GetName() string     { return d.name }
func (d *dependency) DependsOn() []string { return d.needs }
func (d *dependency) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}
func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

// application holds everything built during startup so stop closures can
// reach it
type application struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlxDB      *sqlx.DB
	db          database.DB
	cache       *database.ConnectionCache
	redisClient *redis.Client
	producer    *kafka.Producer
	consumer    *kafka.Consumer

	scheduler  *synctarget.Scheduler
	runner     *synctarget.Runner
	dispatcher *subscription.Dispatcher

	health *health.Checker
	echo   *echo.Echo
}

func (a *application) startDatabase(ctx context.Context) error {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		a.cfg.DatabaseHost,
		a.cfg.DatabasePort,
		a.cfg.DatabaseUserName,
		a.cfg.DatabasePassword,
		a.cfg.DatabaseName,
		a.cfg.DatabaseSSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, a.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to the control database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
	})
	if err := migrations.Migrate(a.cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.sqlxDB = db
	a.db = database.NewDatabaseInstance(db, a.logger)
	a.cache = database.NewConnectionCache(a.logger, a.cfg.MirrorMaxOpenConns, a.cfg.MirrorMaxIdleConns)
	return nil
}

func (a *application) stopDatabase(ctx context.Context) error {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("failed to close mirror connection cache")
		}
	}
	if a.sqlxDB == nil {
		return nil
	}
	return a.sqlxDB.Close()
}

func (a *application) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redisClient = client
	return nil
}

func (a *application) stopRedis(ctx context.Context) error {
	if a.redisClient == nil {
		return nil
	}
	return a.redisClient.Close()
}

func (a *application) startKafka(ctx context.Context) error {
	kafkaCfg := kafka.Config{
		Brokers:        a.cfg.KafkaBrokers,
		RowEventsTopic: a.cfg.KafkaRowEventsTopic,
	}
	a.producer = kafka.NewProducer(kafkaCfg, a.logger)
	a.consumer = kafka.NewConsumer(kafkaCfg, a.cfg.KafkaSubscriptionConsumerGroup, a.logger)
	return nil
}

func (a *application) stopKafka(ctx context.Context) error {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("failed to close kafka consumer")
		}
	}
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

// startServices wires repositories, connectors, and domain services, then
// registers the request-scoped collaborators with the DI container.
func (a *application) startServices(ctx context.Context) error {
	organizations := orgrepo.NewRepository(a.db, a.logger)
	integrations := sirepo.NewRepository(a.db, a.logger)
	subscriptions := subrepo.NewRepository(a.db, a.logger)
	targets := targetrepo.NewRepository(a.db, a.logger)

	webhookClient := httpclient.NewClient(httpclient.DefaultConfig(), a.logger)

	registry := replicator.NewRegistry()
	registry.Register(ledgeraccount.New(webhookClient))
	registry.Register(bankitem.New(webhookClient))
	registry.Register(podcastepisode.New(webhookClient))

	store := replicator.NewPGStore(a.cache, a.logger)
	idem := idempotency.New(a.db, a.logger)
	backfillLocker := database.NewAdvisoryLocker(a.db, a.logger, database.LockKeyspaceBackfill)
	syncLocker := database.NewAdvisoryLocker(a.db, a.logger, database.LockKeyspaceSyncTarget)

	integrationService := integration.NewService(integration.Params{
		Registry:            registry,
		Organizations:       organizations,
		Integrations:        integrations,
		Store:               store,
		Publisher:           a.producer,
		Idempotency:         idem,
		Locker:              backfillLocker,
		Logger:              a.logger,
		MaxBackfillAttempts: a.cfg.BackfillMaxAttempts,
		BackfillBaseBackoff: a.cfg.BackfillBaseBackoff,
	})

	syncService := synctarget.NewService(targets, a.cfg.SyncPeriodMin, a.cfg.SyncPeriodMax, a.cfg.SyncPageSize, a.logger)

	syncClient := httpclient.NewClient(httpclient.Config{
		Timeout:         time.Duration(a.cfg.SyncHTTPTimeoutSeconds) * time.Second,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}, a.logger)
	exporter := synctarget.NewExporter(a.cache, syncClient, a.logger)

	streams := redis.NewStreams(a.redisClient)
	enqueueLocker := redis.NewLocker(a.redisClient, synctarget.LockKeyPrefix)

	a.scheduler = synctarget.NewScheduler(targets, streams, enqueueLocker, synctarget.SchedulerConfig{
		PollInterval: a.cfg.SyncPollInterval,
	}, a.logger)
	a.runner = synctarget.NewRunner(targets, integrations, organizations, registry, exporter, syncLocker, streams, synctarget.SyncTaskStream, a.logger)

	deliveryClient := httpclient.NewClient(httpclient.Config{
		Timeout:           time.Duration(a.cfg.DeliveryTimeoutSeconds) * time.Second,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
		DisableKeepAlives: true,
	}, a.logger)
	a.dispatcher = subscription.NewDispatcher(
		subscriptions,
		a.consumer,
		deliveryClient,
		time.Duration(a.cfg.DeliveryTimeoutSeconds)*time.Second,
		a.cfg.DeliveryWorkerCount,
		a.logger,
	)

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, a.logger); err != nil {
		return fmt.Errorf("failed to register logger: %w", err)
	}
	if err := ectoinject.RegisterInstance[*orgrepo.Repository](container, organizations); err != nil {
		return fmt.Errorf("failed to register organization repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*sirepo.Repository](container, integrations); err != nil {
		return fmt.Errorf("failed to register service integration repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*subrepo.Repository](container, subscriptions); err != nil {
		return fmt.Errorf("failed to register subscription repository: %w", err)
	}
	if err := ectoinject.RegisterInstance[*replicator.Registry](container, registry); err != nil {
		return fmt.Errorf("failed to register connector registry: %w", err)
	}
	if err := ectoinject.RegisterInstance[*integration.Service](container, integrationService); err != nil {
		return fmt.Errorf("failed to register integration service: %w", err)
	}
	if err := ectoinject.RegisterInstance[*synctarget.Service](container, syncService); err != nil {
		return fmt.Errorf("failed to register sync target service: %w", err)
	}
	if err := ectoinject.RegisterInstance[*subscription.Dispatcher](container, a.dispatcher); err != nil {
		return fmt.Errorf("failed to register subscription dispatcher: %w", err)
	}
	return nil
}

func (a *application) startWorkers(ctx context.Context) error {
	if a.cfg.SyncSchedulerEnabled {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync scheduler: %w", err)
		}
		if err := a.runner.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sync runner: %w", err)
		}
	}
	if a.cfg.KafkaConsumerEnabled {
		if err := a.dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start subscription dispatcher: %w", err)
		}
	}
	return nil
}

func (a *application) stopWorkers(ctx context.Context) error {
	if a.cfg.KafkaConsumerEnabled {
		if err := a.dispatcher.Stop(ctx); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("failed to stop subscription dispatcher")
		}
	}
	if a.cfg.SyncSchedulerEnabled {
		if err := a.runner.Stop(ctx); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("failed to stop sync runner")
		}
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("failed to stop sync scheduler")
		}
	}
	return nil
}

func (a *application) startHTTPServer(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes

	a.health = health.NewChecker(a.db, a.redisClient, a.cfg.AppVersion)
	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	orgroutes.Register(api.Group("/organizations"))
	siroutes.Register(api.Group("/service_integrations"))
	api.GET("/services", siroutes.Services)
	webhookroutes.Register(api.Group("/webhooks"))
	syncroutes.Register(api.Group("/sync_targets"))
	subroutes.Register(api.Group("/webhook_subscriptions"))

	a.echo = e
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", a.cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("http server exited")
		}
	}()
	return nil
}

func (a *application) stopHTTPServer(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}

// initTracing configures the global tracer provider. Without a collector the
// console exporter keeps span creation cheap and silent.
func initTracing(ctx context.Context, cfg *config.Config, logger ectologger.Logger) func() {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.OTLPEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			logger.WithError(err).Warnf("failed to create OTLP exporter, traces will not be exported")
		} else {
			exporter = otlp
		}
	}

	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.AppName),
		semconv.ServiceVersion(cfg.AppVersion),
	))
	if err != nil {
		res = sdkresource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}
}
