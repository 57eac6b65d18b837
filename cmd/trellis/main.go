package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/trellis/config"
	"github.com/Ramsey-B/trellis/internal/auth"
	"github.com/Ramsey-B/trellis/internal/hydrate"
	"github.com/Ramsey-B/trellis/internal/relay"
	"github.com/Ramsey-B/trellis/internal/store"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/health"
	"github.com/Ramsey-B/trellis/pkg/kafka"
	"github.com/Ramsey-B/trellis/pkg/logging"
	"github.com/Ramsey-B/trellis/pkg/middleware"
	"github.com/Ramsey-B/trellis/pkg/redis"
	"github.com/Ramsey-B/trellis/pkg/startup"
	"github.com/Ramsey-B/trellis/pkg/tracing"
	"github.com/Ramsey-B/trellis/pkg/tracing/exporters"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; in deployed environments the env is
	// injected by the platform and no .env file exists.
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		AppName:    cfg.AppName,
		Level:      cfg.LogLevel,
		PrettyLogs: cfg.PrettyLogs,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEnabled {
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}
	shutdownTracing, err := tracing.Init(cfg.AppName, exporter)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces on shutdown")
		}
	}()

	boot := startup.New(logger, cfg.StartupMaxAttempts)

	var (
		updateLog   store.UpdateLog
		db          database.DB
		redisClient *redis.Client
	)
	if cfg.RedisUpdateLog {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		updateLog = store.NewRedisLog(redisClient, logger)
		boot.AddDependency(&component{
			name: "update-log",
			start: func(ctx context.Context) error {
				return redisClient.Ping(ctx)
			},
			stop: func(context.Context) error {
				return redisClient.Close()
			},
		})
	} else {
		db, err = database.Connect(ctx, database.ConnectConfig{
			Driver:          cfg.DatabaseDriver,
			Host:            cfg.DatabaseHost,
			Port:            cfg.DatabasePort,
			UserName:        cfg.DatabaseUserName,
			Password:        cfg.DatabasePassword,
			Name:            cfg.DatabaseName,
			SSLMode:         cfg.DatabaseSSLMode,
			MaxOpenConns:    cfg.DatabaseMaxOpenConns,
			MaxIdleConns:    cfg.DatabaseMaxIdleConns,
			ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		updateLog = store.NewPostgresLog(db, logger)
		boot.AddDependency(&component{
			name: "update-log",
			start: func(context.Context) error {
				return migrateDatabase(cfg, db, logger)
			},
			stop: func(context.Context) error {
				return db.Close()
			},
		})
	}

	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producerConfig := kafka.DefaultProducerConfig()
		producerConfig.Brokers = strings.Split(cfg.KafkaBrokers, ",")
		producerConfig.Topic = cfg.KafkaActivityTopic
		producer, err = kafka.NewProducer(producerConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		boot.AddDependency(&component{
			name: "kafka",
			stop: func(context.Context) error {
				return producer.Close()
			},
		})
	}

	var hydrator *hydrate.Client
	if cfg.HydrationBaseURL != "" {
		hydrator = hydrate.NewClient(cfg.HydrationBaseURL, cfg.HydrationTimeout, logger)
	}

	hub := relay.NewHub(relay.HubConfig{
		Log:             updateLog,
		Hydrator:        hydrator,
		Producer:        producer,
		Logger:          logger,
		PresenceTimeout: cfg.PresenceTimeout,
		SweepInterval:   cfg.PresenceSweepInterval,
	})
	boot.AddDependency(hub)

	authenticator, err := buildAuthenticator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Context())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.HTTPErrorHandler = middleware.Error(logger)

	checker := health.NewChecker(db, redisClient, version)
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	relay.NewHandler(hub, authenticator, logger).RegisterRoutes(e)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	serverErr := make(chan error, 1)
	boot.AddDependency(&component{
		name:      "http-server",
		dependsOn: []string{"hub"},
		start: func(context.Context) error {
			go func() {
				if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
					serverErr <- err
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	checker.SetReady(true)
	logger.WithFields(map[string]any{
		"port":    cfg.Port,
		"version": version,
	}).Info("trellis is ready")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("http server failed")
	}

	checker.SetReady(false)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("shutdown did not complete cleanly")
		return err
	}
	logger.Info("trellis stopped")
	return nil
}

// buildAuthenticator wires the OIDC token path, or the query-parameter dev
// path when auth is disabled.
func buildAuthenticator(ctx context.Context, cfg config.Config, logger ectologger.Logger) (auth.Authenticator, error) {
	resolver := auth.NewCommunityResolver(cfg.CommunityGroupMappings, cfg.AdminEmails)
	if !cfg.AuthEnabled {
		logger.Warn("authentication is disabled; accepting testUser query parameters")
		return &auth.DevAuthenticator{
			Next: &auth.TokenAuthenticator{Verifier: &auth.StaticVerifier{}},
		}, nil
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID, resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create oidc verifier: %w", err)
	}
	return &auth.TokenAuthenticator{Verifier: verifier}, nil
}

func migrateDatabase(cfg config.Config, db database.DB, logger ectologger.Logger) error {
	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("database does not expose a raw connection for migrations")
	}
	driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return migrations.Migrate(cfg.DatabaseName, driver)
}

// component adapts a pair of closures to the startup dependency graph.
type component struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (c *component) GetName() string { return c.name }

func (c *component) DependsOn() []string { return c.dependsOn }

func (c *component) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c *component) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
