package lock

import (
	"context"

	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Backend is a Locker with a readiness probe.
type Backend interface {
	rowfiles.Locker
	HealthCheck(ctx context.Context) error
}

// NewBackend selects the lock service named by ROWFILES_LOCK_BACKEND.
func NewBackend(cfg *config.Config, log zerolog.Logger) (Backend, error) {
	logger := log.With().Str("component", "row-locks").Logger()
	if cfg.IsRedisLock() {
		return NewRedisLocker(cfg.RedisURL, cfg.LockTTL, cfg.LockRetryDelay, logger)
	}
	logger.Warn().Msg("using in-process row locks; run a single replica or set ROWFILES_LOCK_BACKEND=redis")
	return NewLocalLocker(), nil
}
