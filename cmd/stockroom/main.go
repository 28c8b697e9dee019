package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/stockroom-labs/stockroom/internal/cache"
	"github.com/stockroom-labs/stockroom/internal/config"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/events"
	"github.com/stockroom-labs/stockroom/internal/httpapi"
	"github.com/stockroom-labs/stockroom/internal/logging"
	"github.com/stockroom-labs/stockroom/internal/telemetry"
	"github.com/stockroom-labs/stockroom/services/clients"
	"github.com/stockroom-labs/stockroom/services/inventory"
	"github.com/stockroom-labs/stockroom/services/orders"
	"github.com/stockroom-labs/stockroom/services/users"
)

func main() {
	cfg, err := config.Load(os.Getenv("STOCKROOM_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.Setup(cfg.Log, cfg.Service.Name)
	ctx := logger.WithContext(context.Background())

	providers, err := telemetry.Init(ctx, cfg.Service, cfg.Telemetry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	registry := telemetry.NewRegistry()

	pool, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, cfg.Database.DSN(), logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}
	transactor := database.NewPostgresTransactor(pool, database.LockTimeout(cfg.Database.LockTimeout))

	productCache, closeCache := cache.New(cfg.Redis, "stockroom")
	publisher := events.New(cfg.Kafka)

	// Inventory
	productRepository := inventory.NewPostgresRepository(pool)
	ledger := inventory.NewLedger(
		productRepository,
		transactor,
		productCache,
		otel.Tracer("inventory"),
		otel.Meter("inventory"),
	)
	catalog := inventory.NewCatalogService(productRepository, ledger, transactor, productCache)

	// Clients
	clientRepository := clients.NewPostgresRepository(pool)
	clientService := clients.NewService(clientRepository)

	// Orders
	coordinator := orders.NewCoordinator(
		orders.NewPostgresRepository(pool),
		ledger,
		clientRepository,
		transactor,
		publisher,
		orders.NewMetrics(registry),
		otel.Tracer("orders"),
	)

	// Users
	accounts := users.NewService(
		users.NewPostgresRepository(pool),
		users.NewPasswordHasher(users.DefaultBcryptCost),
		users.NewJWTManager(cfg.Auth),
	)
	if err := accounts.Bootstrap(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap superuser")
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		ServiceName:   cfg.Service.Name,
		Logger:        logger,
		Registry:      registry,
		Authenticator: accounts,
		Health: map[string]httpapi.HealthCheck{
			"postgres": pool.Ping,
		},
	}, httpapi.Handlers{
		Users:    users.NewUserHandler(accounts),
		Products: inventory.NewProductHandler(catalog, ledger),
		Clients:  clients.NewClientHandler(clientService),
		Orders:   orders.NewOrderHandler(coordinator),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Service.Port).Msg("stockroom listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Service.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// Drain requests before closing what they use.
			"http-server": func(ctx context.Context) error {
				err := srv.Shutdown(ctx)
				closeQuietly(logger, "kafka publisher", publisher.Close)
				closeQuietly(logger, "redis", closeCache)
				pool.Close()
				return err
			},
			"telemetry": func(ctx context.Context) error {
				return providers.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.Info().Int("exit_code", exitCode).Msg("stockroom stopped")
	os.Exit(exitCode)
}

func closeQuietly(logger zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn().Err(err).Str("resource", name).Msg("close failed")
	}
}
