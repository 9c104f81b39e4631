package storage

import (
	"context"

	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Backend is a blob store with a readiness probe.
type Backend interface {
	rowfiles.Storage
	Health(ctx context.Context) error
}

// NewBackend selects the backend named by ROWFILES_STORAGE_BACKEND.
func NewBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Backend, error) {
	if cfg.IsLocalStorage() {
		log.Info().Msg("using local filesystem storage")
		return NewLocalStorage(cfg, log)
	}
	log.Info().Msg("using S3 storage")
	return NewS3Storage(ctx, cfg, log)
}
