package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"jan-server/services/attachments-api/internal/infrastructure/database/entities"
)

// AutoMigrate applies the instance file schema.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(&entities.InstanceFile{}); err != nil {
		return err
	}
	log.Info().Msg("applied instance file migrations")
	return nil
}
