package v1

import (
	"github.com/gin-gonic/gin"

	"jan-server/services/attachments-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches the row attachment routes under /v1.
func (r *Routes) Register(router gin.IRouter) {
	rows := router.Group("/v1/odktables/:appId/tables/:tableId/attachments/:schemaETag/:rowId")
	rows.GET("/manifest", r.handlers.RowFiles.GetManifest)
	rows.POST("/diff", r.handlers.RowFiles.Diff)
	rows.POST("/download", r.handlers.RowFiles.Download)
	rows.POST("/upload", r.handlers.RowFiles.Upload)
	rows.GET("/file/*filePath", r.handlers.RowFiles.GetFile)
	rows.POST("/file/*filePath", r.handlers.RowFiles.PutFile)
}
