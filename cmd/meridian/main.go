package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridianhq/meridian/internal/access"
	"github.com/meridianhq/meridian/internal/app"
	"github.com/meridianhq/meridian/internal/billing"
	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/handover"
	"github.com/meridianhq/meridian/internal/observability"
	"github.com/meridianhq/meridian/internal/overrides"
	"github.com/meridianhq/meridian/internal/platform/cache"
	"github.com/meridianhq/meridian/internal/platform/db"
	"github.com/meridianhq/meridian/internal/roles"
	"github.com/meridianhq/meridian/internal/shared"
	"github.com/meridianhq/meridian/internal/users"
	"github.com/meridianhq/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo)

	billingRepo := billing.NewRepository(pool)
	snapshotCache := billing.NewSnapshotCache(redisClient, cfg.EntitlementCacheTTL)
	resolver := billing.NewResolver(billingRepo, catalogService, snapshotCache)
	billingService := billing.NewService(logger, billingRepo, resolver)

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, rolesService)

	overridesRepo := overrides.NewRepository(pool)
	overridesService := overrides.NewService(logger, overridesRepo, usersService, catalogService, rolesService)

	engine := access.NewEngine(logger, usersService, catalogService, resolver, overridesService, rolesService)
	guard := access.NewGuard(logger, engine, metrics)

	timeline := shared.NewTimelineRecorder(pool)
	handoverRepo := handover.NewRepository(pool)
	handoverService := handover.NewService(logger, handoverRepo, usersService, timeline)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalog.NewHandler(logger, catalogService, guard),
		BillingHandler:   billing.NewHandler(logger, billingService, guard),
		RolesHandler:     roles.NewHandler(logger, rolesService, guard),
		UsersHandler:     users.NewHandler(logger, usersService, guard),
		OverridesHandler: overrides.NewHandler(logger, overridesService, guard),
		AccessHandler:    access.NewHandler(logger, engine, guard),
		HandoverHandler:  handover.NewHandler(logger, handoverService, guard),
		JobsHandler:      jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
