package models

import (
	"time"

	"gorm.io/datatypes"
)

type Vehicle struct {
	ID         string         `gorm:"primaryKey;type:text"`
	OrgID      string         `gorm:"primaryKey;type:text;index"`
	Provider   string         `gorm:"primaryKey;type:varchar(20)"`
	Plate      string         `gorm:"type:text;index"`
	Model      *string        `gorm:"type:text"`
	Year       *int           `gorm:""`
	Active     bool           `gorm:"not null;default:true"`
	LastSeenAt time.Time      `gorm:"type:timestamptz;not null"`
	RawJSON    datatypes.JSON `gorm:"type:jsonb"`
}

func (Vehicle) TableName() string {
	return "fleet_vehicles"
}
