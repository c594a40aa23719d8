package models

import (
	"time"

	"gorm.io/datatypes"
)

// StateLog records a driver availability transition. The partner gives
// these no stable id, so the key is driver_uuid plus the event
// timestamp.
type StateLog struct {
	ID               string         `gorm:"primaryKey;type:text"`
	OrgID            string         `gorm:"primaryKey;type:text;index"`
	Provider         string         `gorm:"type:varchar(20);not null;index"`
	DriverUUID       string         `gorm:"type:text;not null;index"`
	VehicleUUID      *string        `gorm:"type:text;index"`
	Created          int64          `gorm:"index;not null"`
	State            string         `gorm:"type:text;not null"`
	Lat              *float64       `gorm:""`
	Lng              *float64       `gorm:""`
	ActiveCategories datatypes.JSON `gorm:"type:jsonb"`
	LastSeenAt       time.Time      `gorm:"type:timestamptz;not null"`
}

func (StateLog) TableName() string {
	return "fleet_state_logs"
}
