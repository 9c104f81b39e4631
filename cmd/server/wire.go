//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/infrastructure/auth"
	"jan-server/services/attachments-api/internal/infrastructure/lock"
	"jan-server/services/attachments-api/internal/infrastructure/logger"
	"jan-server/services/attachments-api/internal/infrastructure/metrics"
	"jan-server/services/attachments-api/internal/infrastructure/repository/instancefile"
	"jan-server/services/attachments-api/internal/infrastructure/storage"
	"jan-server/services/attachments-api/internal/interfaces/httpserver"
)

var rowFilesSet = wire.NewSet(
	instancefile.NewRepository,
	wire.Bind(new(rowfiles.Repository), new(*instancefile.Repository)),
	storage.NewBackend,
	wire.Bind(new(rowfiles.Storage), new(storage.Backend)),
	lock.NewBackend,
	wire.Bind(new(rowfiles.Locker), new(lock.Backend)),
	metrics.NewRecorder,
	wire.Bind(new(rowfiles.Recorder), new(*metrics.Recorder)),
	auth.NewScopePermissions,
	wire.Bind(new(rowfiles.PermissionEvaluator), new(*auth.ScopePermissions)),
	newTransfer,
	newLockCoordinator,
	rowfiles.NewService,
)

// BuildApplication assembles the attachments API with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		auth.NewValidator,
		newGormDB,
		rowFilesSet,
		newReadinessChecks,
		httpserver.New,
		NewApplication,
	)
	return nil, nil
}
