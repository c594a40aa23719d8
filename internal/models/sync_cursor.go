package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncCursor tracks the last successfully synced record timestamp for
// one (org, provider, resource) triple. LastTimestamp never decreases.
type SyncCursor struct {
	OrgID         string         `gorm:"primaryKey;type:text"`
	Provider      string         `gorm:"primaryKey;type:varchar(20)"`
	Resource      string         `gorm:"primaryKey;type:varchar(30)"`
	LastTimestamp int64          `gorm:"not null;default:0"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	LastError     *string        `gorm:"type:text"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb"`
}

func (SyncCursor) TableName() string {
	return "sync_cursors"
}
