package models

import (
	"time"

	"gorm.io/datatypes"
)

// SessionCredential is a captured portal cookie set. Rows are never
// deleted: a failed probe sets InvalidatedAt and the next successful
// login inserts a fresh row.
type SessionCredential struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement"`
	OrgID         string         `gorm:"type:text;not null;index:idx_session_org_phone"`
	PhoneNumber   string         `gorm:"type:text;not null;index:idx_session_org_phone"`
	Cookies       datatypes.JSON `gorm:"type:jsonb;not null"`
	ExpiresAt     time.Time      `gorm:"type:timestamptz;not null;index"`
	InvalidatedAt *time.Time     `gorm:"type:timestamptz"`
	CreatedAt     time.Time      `gorm:"type:timestamptz;not null"`
}

func (SessionCredential) TableName() string {
	return "session_credentials"
}
