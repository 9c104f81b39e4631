package auth

import (
	"context"
	"slices"

	"jan-server/services/attachments-api/internal/config"
	"jan-server/services/attachments-api/internal/domain/rowfiles"
)

// Realm roles that may modify row attachments.
const (
	RoleSynchronizeTables = "synchronize_tables"
	RoleAdministerTables  = "administer_tables"
)

// ScopePermissions grants access from token claims. A token without an apps
// claim may reach every app.
type ScopePermissions struct {
	enabled bool
}

func NewScopePermissions(cfg *config.Config) *ScopePermissions {
	return &ScopePermissions{enabled: cfg.AuthEnabled}
}

func (p *ScopePermissions) CheckReadAccess(ctx context.Context, scope rowfiles.RowScope, caller rowfiles.Caller) error {
	if !p.enabled {
		return nil
	}
	if !appAllowed(caller, scope.AppID) {
		return rowfiles.PermissionDeniedError(ctx, scope, "read")
	}
	return nil
}

func (p *ScopePermissions) CheckWriteAccess(ctx context.Context, scope rowfiles.RowScope, caller rowfiles.Caller) error {
	if !p.enabled {
		return nil
	}
	if !appAllowed(caller, scope.AppID) {
		return rowfiles.PermissionDeniedError(ctx, scope, "write")
	}
	if !caller.HasRole(RoleSynchronizeTables) && !caller.HasRole(RoleAdministerTables) {
		return rowfiles.PermissionDeniedError(ctx, scope, "write")
	}
	return nil
}

func appAllowed(caller rowfiles.Caller, appID string) bool {
	return len(caller.Apps) == 0 || slices.Contains(caller.Apps, appID)
}
