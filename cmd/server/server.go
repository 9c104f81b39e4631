package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/infrastructure/auth"
	"jan-server/services/attachments-api/internal/infrastructure/database"
	"jan-server/services/attachments-api/internal/infrastructure/lock"
	"jan-server/services/attachments-api/internal/infrastructure/logger"
	"jan-server/services/attachments-api/internal/infrastructure/metrics"
	"jan-server/services/attachments-api/internal/infrastructure/observability"
	"jan-server/services/attachments-api/internal/infrastructure/repository/instancefile"
	"jan-server/services/attachments-api/internal/infrastructure/storage"
	"jan-server/services/attachments-api/internal/interfaces/httpserver"
)

// @title Attachments API
// @version 1.0
// @description Row attachment synchronization for ODK tables
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
type Application struct {
	httpServer *httpserver.HttpServer
	transfer   *rowfiles.Transfer
	cfg        *config.Config
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, transfer *rowfiles.Transfer, cfg *config.Config, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		transfer:   transfer,
		cfg:        cfg,
		log:        log,
	}
}

// Start serves until ctx is done, then deletes blobs still awaiting retirement.
func (a *Application) Start(ctx context.Context) error {
	err := a.httpServer.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	a.transfer.Close(closeCtx)
	return err
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := newGormDB(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	blobs, err := storage.NewBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	locker, err := lock.NewBackend(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize row locks")
	}

	validator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth")
	}
	defer validator.Close()

	recorder := metrics.NewRecorder()
	repository := instancefile.NewRepository(db)
	transfer := newTransfer(cfg, repository, blobs, log)
	service := rowfiles.NewService(
		repository,
		blobs,
		transfer,
		newLockCoordinator(cfg, locker, recorder, log),
		auth.NewScopePermissions(cfg),
		recorder,
		log,
	)

	httpServer := httpserver.New(cfg, log, service, validator, newReadinessChecks(db, blobs, locker))
	app := NewApplication(httpServer, transfer, cfg, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func newGormDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func newTransfer(cfg *config.Config, repo rowfiles.Repository, blobs rowfiles.Storage, log zerolog.Logger) *rowfiles.Transfer {
	return rowfiles.NewTransfer(repo, blobs, rowfiles.TransferOptions{
		MaxFileBytes: cfg.MaxFileBytes,
		MaxParts:     cfg.MaxUploadParts,
		RetireAfter:  cfg.BlobRetention,
	}, log)
}

func newLockCoordinator(cfg *config.Config, locker rowfiles.Locker, recorder rowfiles.Recorder, log zerolog.Logger) *rowfiles.LockCoordinator {
	return rowfiles.NewLockCoordinator(locker, rowfiles.LockGranularity(cfg.LockGranularity), cfg.LockTimeout, recorder, log)
}

func newReadinessChecks(db *gorm.DB, blobs storage.Backend, locker lock.Backend) httpserver.ReadinessChecks {
	return httpserver.ReadinessChecks{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"storage":  blobs.Health,
		"locks":    locker.HealthCheck,
	}
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
