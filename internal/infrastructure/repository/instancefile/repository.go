package instancefile

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jan-server/services/attachments-api/internal/domain/rowfiles"
	"jan-server/services/attachments-api/internal/infrastructure/database/entities"
	"jan-server/services/attachments-api/internal/utils/platformerrors"
)

// Repository persists row file metadata in postgres.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func scoped(db *gorm.DB, scope rowfiles.RowScope) *gorm.DB {
	return db.Where("app_id = ? AND table_id = ? AND schema_etag = ? AND row_id = ?",
		scope.AppID, scope.TableID, scope.SchemaETag, scope.RowID)
}

func (r *Repository) ListByScope(ctx context.Context, scope rowfiles.RowScope) ([]rowfiles.FileEntry, error) {
	var rows []entities.InstanceFile
	err := scoped(r.db.WithContext(ctx), scope).Order("path ASC").Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list row files",
			err,
			"3a6e1f08-92c4-4b7d-8e15-d0f2a9c47b63",
		)
	}

	out := make([]rowfiles.FileEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapEntity(row))
	}
	return out, nil
}

func (r *Repository) FindByPath(ctx context.Context, scope rowfiles.RowScope, path string) (*rowfiles.FileEntry, error) {
	var row entities.InstanceFile
	err := scoped(r.db.WithContext(ctx), scope).Where("path = ?", path).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find row file",
			err,
			"c81d47a2-5e3f-4096-b2a8-7f14e6d09c35",
		)
	}
	entry := mapEntity(row)
	return &entry, nil
}

// UpsertBatch inserts or replaces every entry inside one transaction.
func (r *Repository) UpsertBatch(ctx context.Context, scope rowfiles.RowScope, entries []rowfiles.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]entities.InstanceFile, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toEntity(scope, e))
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "app_id"}, {Name: "table_id"}, {Name: "schema_etag"}, {Name: "row_id"}, {Name: "path"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"storage_key", "content_type", "content_length", "content_hash", "last_modified", "updated_at",
			}),
		}).Create(&rows).Error
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to commit row files",
			err,
			"e4b09f6d-1a73-4c28-95e0-8b3d2f61a7c4",
		)
	}
	return nil
}

func toEntity(scope rowfiles.RowScope, e rowfiles.FileEntry) entities.InstanceFile {
	return entities.InstanceFile{
		AppID:         scope.AppID,
		TableID:       scope.TableID,
		SchemaETag:    scope.SchemaETag,
		RowID:         scope.RowID,
		Path:          e.Path,
		StorageKey:    e.StorageKey,
		ContentType:   e.ContentType,
		ContentLength: e.ContentLength,
		ContentHash:   e.ContentHash,
		LastModified:  e.LastModified,
	}
}

func mapEntity(row entities.InstanceFile) rowfiles.FileEntry {
	return rowfiles.FileEntry{
		Path:          row.Path,
		ContentLength: row.ContentLength,
		ContentHash:   row.ContentHash,
		ContentType:   row.ContentType,
		LastModified:  row.LastModified.UTC(),
		StorageKey:    row.StorageKey,
	}
}
