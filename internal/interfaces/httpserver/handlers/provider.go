package handlers

import (
	"github.com/rs/zerolog"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Provider wires HTTP handlers.
type Provider struct {
	RowFiles *RowFilesHandler
}

func NewProvider(cfg *config.Config, service *rowfiles.Service, log zerolog.Logger) *Provider {
	return &Provider{
		RowFiles: NewRowFilesHandler(cfg, service, log),
	}
}
