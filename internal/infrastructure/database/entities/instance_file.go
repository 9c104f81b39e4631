package entities

import "time"

// InstanceFile is the metadata of one file attached to a row.
type InstanceFile struct {
	ID            uint   `gorm:"primaryKey"`
	AppID         string `gorm:"type:varchar(64);not null;uniqueIndex:idx_instance_file_path,priority:1"`
	TableID       string `gorm:"type:varchar(128);not null;uniqueIndex:idx_instance_file_path,priority:2"`
	SchemaETag    string `gorm:"column:schema_etag;type:varchar(128);not null;uniqueIndex:idx_instance_file_path,priority:3"`
	RowID         string `gorm:"type:varchar(128);not null;uniqueIndex:idx_instance_file_path,priority:4"`
	Path          string `gorm:"type:varchar(1024);not null;uniqueIndex:idx_instance_file_path,priority:5"`
	StorageKey    string `gorm:"type:varchar(512);not null"`
	ContentType   string `gorm:"type:varchar(128);not null"`
	ContentLength int64  `gorm:"not null"`
	ContentHash   string `gorm:"type:varchar(64);not null"`
	LastModified  time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (InstanceFile) TableName() string {
	return "instance_files"
}
